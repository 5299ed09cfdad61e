package web

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vbonduro/wohnmap/internal/caption"
	"github.com/vbonduro/wohnmap/internal/domain"
	"github.com/vbonduro/wohnmap/internal/service"
)

const (
	sessionCookie = "wohnmap_session"
	viewCookie    = "wohnmap_view"
)

// BackendFactory returns the backend collaborators acting with accessToken,
// or anonymously for an empty token.
type BackendFactory func(accessToken string) service.Backend

// LocalPhotos serves photos kept on the local filesystem behind signed URLs.
type LocalPhotos interface {
	Verify(path, token string) error
	Get(ctx context.Context, path string) (io.ReadCloser, string, error)
}

type Deps struct {
	Auth       *service.AuthService
	Favorites  *service.FavoritesService
	BackendFor BackendFactory
	// Captioner and LocalPhotos are optional.
	Captioner   caption.Captioner
	LocalPhotos LocalPhotos
}

// Options are the presentation settings of the web UI.
type Options struct {
	AppName         string
	TileURL         string
	TileFallbackURL string
	TileAttribution string
	CenterLat       float64
	CenterLon       float64
	Zoom            int
	BackendURL      string
	SecureCookies   bool
	SessionTTL      time.Duration
	ViewCacheSize   int
	ViewCacheTTL    time.Duration
}

type Server struct {
	deps      Deps
	opts      Options
	templates fs.FS
	pages     *expirable.LRU[string, *service.MapPage]
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	csp       string
	logger    *slog.Logger
}

func NewServer(deps Deps, tmpl fs.FS, opts Options, logger *slog.Logger) *Server {
	if opts.ViewCacheSize <= 0 {
		opts.ViewCacheSize = 512
	}
	s := &Server{
		deps:      deps,
		opts:      opts,
		templates: tmpl,
		pages:     expirable.NewLRU[string, *service.MapPage](opts.ViewCacheSize, nil, opts.ViewCacheTTL),
		mux:       http.NewServeMux(),
		csp:       contentSecurityPolicy(opts),
		logger:    logger,
		tmplFuncs: template.FuncMap{
			"deref":         deref,
			"derefInt":      derefInt,
			"trafficLabel":  trafficLabel,
			"buildingLabel": buildingLabel,
			"markersJSON":   markersJSON,
			"coord":         formatCoord,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/map", http.StatusSeeOther)
	})
	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /logout", s.handleLogout)

	s.mux.HandleFunc("GET /map", s.handleMap)
	s.mux.HandleFunc("POST /map/filter", s.handleFilter)
	s.mux.HandleFunc("POST /map/click", s.handleMapClick)
	s.mux.HandleFunc("POST /map/create/close", s.handleCloseCreate)
	s.mux.HandleFunc("POST /map/close", s.handleCloseDrawer)

	s.mux.HandleFunc("POST /addresses", s.handleCreateAddress)
	s.mux.HandleFunc("GET /addresses/{id}", s.handleOpenAddress)
	s.mux.HandleFunc("POST /addresses/{id}", s.handleSaveAddress)
	s.mux.HandleFunc("POST /addresses/{id}/photos", s.handleUploadPhotos)
	s.mux.HandleFunc("POST /photos/{id}/delete", s.handleDeletePhoto)

	s.mux.HandleFunc("GET /favorites", s.handleFavorites)

	if s.deps.LocalPhotos != nil {
		s.mux.HandleFunc("GET /photos/local/{path...}", s.handleLocalPhoto)
	}
}

// contentSecurityPolicy allows the tile servers and the backend's signed
// photo URLs as image sources.
func contentSecurityPolicy(opts Options) string {
	imgSrc := []string{"'self'", "data:", "https://unpkg.com"}
	for _, u := range []string{opts.TileURL, opts.TileFallbackURL, opts.BackendURL} {
		if o := origin(u); o != "" && !contains(imgSrc, o) {
			imgSrc = append(imgSrc, o)
		}
	}
	return "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"style-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"img-src " + strings.Join(imgSrc, " ") + "; " +
		"connect-src 'self'"
}

// origin returns scheme://host of a URL or tile template. The Leaflet
// subdomain placeholder becomes a wildcard.
func origin(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	host = strings.ReplaceAll(host, "{s}", "*")
	return scheme + "://" + host
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func securityHeaders(csp string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.csp, s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderPartial parses the given files and executes the named template.
func (s *Server) renderPartial(w http.ResponseWriter, name string, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, name, data)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// session returns the signed-in session of the request, or nil.
func (s *Server) session(r *http.Request) *domain.Session {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	sess, err := s.deps.Auth.Session(r.Context(), c.Value)
	if err != nil {
		s.logger.Error("load session failed", "error", err)
		return nil
	}
	return sess
}

func (s *Server) backendFor(sess *domain.Session) service.Backend {
	if sess == nil {
		return s.deps.BackendFor("")
	}
	return s.deps.BackendFor(sess.AccessToken)
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// mapPage returns the browser's map controller bound to the request's
// backend. fresh replaces any existing page, as a full page load does. A
// page that has never loaded its data is loaded before it is returned.
func (s *Server) mapPage(w http.ResponseWriter, r *http.Request, fresh bool) *service.MapPage {
	be := s.backendFor(s.session(r))

	key := ""
	if c, err := r.Cookie(viewCookie); err == nil {
		key = c.Value
	}
	if key == "" {
		key = uuid.NewString()
		s.setCookie(w, viewCookie, key, 0)
	}

	page, ok := s.pages.Get(key)
	if !ok || fresh {
		page = service.NewMapPage(be, s.deps.Captioner, s.logger.With("view", shortID(key)))
		s.pages.Add(key, page)
	}
	page.Use(be)

	if !page.Loaded() {
		// Failures are recorded on the page and rendered inline.
		_ = page.Load(r.Context())
	}
	return page
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 5, 64)
}

func trafficLabel(t domain.Traffic) string {
	return strings.ToUpper(string(t))
}

var buildingLabels = map[domain.BuildingType]string{
	domain.BuildingUnknown: "Unbekannt",
	domain.BuildingEFH:     "EFH",
	domain.BuildingMFH:     "MFH",
}

func buildingLabel(b domain.BuildingType) string {
	if l, ok := buildingLabels[b]; ok {
		return l
	}
	return string(b)
}

type marker struct {
	ID      int64          `json:"id"`
	Lat     float64        `json:"lat"`
	Lon     float64        `json:"lon"`
	Label   string         `json:"label"`
	Traffic domain.Traffic `json:"traffic"`
}

// markersJSON encodes the plottable addresses for the map script. Addresses
// without finite coordinates are left out.
func markersJSON(addresses []domain.Address, streets map[int64]domain.Street) (template.JS, error) {
	markers := make([]marker, 0, len(addresses))
	for _, a := range addresses {
		if !a.HasPosition() {
			continue
		}
		label := a.HouseNumber
		if st, ok := streets[a.StreetID]; ok {
			label = st.Name + " " + a.HouseNumber
		}
		markers = append(markers, marker{ID: a.ID, Lat: a.Lat, Lon: a.Lon, Label: label, Traffic: a.Traffic})
	}
	data, err := json.Marshal(markers)
	if err != nil {
		return "", err
	}
	return template.JS(data), nil
}
