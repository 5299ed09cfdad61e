package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/backend/supabase"
	"github.com/vbonduro/wohnmap/internal/caption"
	claudecaption "github.com/vbonduro/wohnmap/internal/caption/claude"
	"github.com/vbonduro/wohnmap/internal/config"
	"github.com/vbonduro/wohnmap/internal/db"
	"github.com/vbonduro/wohnmap/internal/logging"
	"github.com/vbonduro/wohnmap/internal/photostore/local"
	"github.com/vbonduro/wohnmap/internal/service"
	"github.com/vbonduro/wohnmap/internal/store"
	"github.com/vbonduro/wohnmap/internal/web"
	"github.com/vbonduro/wohnmap/internal/web/templates"
)

const sessionSweepInterval = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	version, err := db.SchemaVersion(database)
	if err != nil {
		logger.Error("failed to read schema version", "error", err)
		return err
	}
	logger.Info("database ready", "path", cfg.DBPath, "schema_version", version)

	if cfg.BackendMissing() {
		logger.Warn("BACKEND_URL or BACKEND_ANON_KEY is not set; login is disabled")
	}
	client := supabase.New(backend.Config{
		URL:            cfg.BackendURL,
		AnonKey:        cfg.BackendAnonKey,
		StreetsTable:   cfg.StreetsTable,
		AddressesTable: cfg.AddressesTable,
		PhotosTable:    cfg.PhotosTable,
		PhotoBucket:    cfg.PhotoBucket,
	}, logger)

	deps := web.Deps{
		Captioner: newCaptioner(cfg, logger),
	}
	backendFor := func(token string) service.Backend {
		c := client.As(token)
		return service.Backend{Tables: c, Identity: c, Photos: c}
	}
	if cfg.PhotoBackend == "local" {
		photos, err := newLocalPhotos(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize photo store", "error", err)
			return err
		}
		deps.LocalPhotos = photos
		backendFor = func(token string) service.Backend {
			c := client.As(token)
			return service.Backend{Tables: c, Identity: c, Photos: photos}
		}
	}
	deps.BackendFor = backendFor

	sessions := store.NewSessionStore(database)
	identity := func(token string) backend.Identity { return client.As(token) }
	deps.Auth = service.NewAuthService(sessions, identity, cfg.SessionTTL, !cfg.BackendMissing(), logger)
	deps.Favorites = service.NewFavoritesService(logger)

	server := web.NewServer(deps, templates.FS, web.Options{
		AppName:         cfg.AppName,
		TileURL:         cfg.TileURL,
		TileFallbackURL: cfg.TileFallbackURL,
		TileAttribution: cfg.TileAttribution,
		CenterLat:       cfg.DefaultCenterLat,
		CenterLon:       cfg.DefaultCenterLon,
		Zoom:            cfg.DefaultZoom,
		BackendURL:      cfg.BackendURL,
		SecureCookies:   cfg.SecureCookies,
		SessionTTL:      cfg.SessionTTL,
		ViewCacheSize:   cfg.ViewCacheSize,
		ViewCacheTTL:    cfg.ViewCacheTTL,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, sessions, logger)

	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

func newCaptioner(cfg *config.Config, logger *slog.Logger) caption.Captioner {
	switch cfg.CaptionBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			logger.Error("CLAUDE_API_KEY is required when CAPTION_BACKEND=claude")
			return nil
		}
		logger.Info("using Claude caption suggestions", "model", cfg.ClaudeModel)
		return claudecaption.NewClaudeCaptioner(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	default:
		logger.Info("caption suggestions disabled")
		return nil
	}
}

func newLocalPhotos(cfg *config.Config, logger *slog.Logger) (*local.LocalPhotoStore, error) {
	key := []byte(cfg.PhotoSigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate photo signing key: %w", err)
		}
		logger.Warn("PHOTO_SIGNING_KEY is not set; photo links will not survive a restart")
	}
	logger.Info("using local photo storage", "path", cfg.PhotoPath)
	return local.NewLocalPhotoStore(cfg.PhotoPath, key)
}

func sweepSessions(ctx context.Context, sessions *store.SessionStore, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Error("delete expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("deleted expired sessions", "count", n)
			}
		}
	}
}
