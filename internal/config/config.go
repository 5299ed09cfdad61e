package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// envFiles are read in order before the environment is consulted. Earlier
// files win, and real environment variables win over both.
var envFiles = []string{".env.local", ".env"}

type Config struct {
	AppName    string
	ListenAddr string
	DBPath     string

	BackendURL     string
	BackendAnonKey string
	StreetsTable   string
	AddressesTable string
	PhotosTable    string
	PhotoBucket    string

	PhotoBackend    string
	PhotoPath       string
	PhotoSigningKey string

	TileURL          string
	TileFallbackURL  string
	TileAttribution  string
	DefaultCenterLat float64
	DefaultCenterLon float64
	DefaultZoom      int

	CaptionBackend string
	ClaudeAPIKey   string
	ClaudeModel    string

	SessionTTL    time.Duration
	ViewCacheSize int
	ViewCacheTTL  time.Duration
	SecureCookies bool

	LogLevel string
	LogFile  string
}

// Load reads the optional env files and then the environment.
func Load() (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	return fromEnv(), nil
}

func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func fromEnv() *Config {
	return &Config{
		AppName:    getEnv("APP_NAME", "Duisburg Wohn-Straßen"),
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		DBPath:     getEnv("DB_PATH", "/data/wohnmap.db"),

		BackendURL:     getEnv("BACKEND_URL", ""),
		BackendAnonKey: getEnv("BACKEND_ANON_KEY", ""),
		StreetsTable:   getEnv("STREETS_TABLE", "streets"),
		AddressesTable: getEnv("ADDRESSES_TABLE", "addresses"),
		PhotosTable:    getEnv("PHOTOS_TABLE", "address_photos"),
		PhotoBucket:    getEnv("PHOTO_BUCKET", "address-photos"),

		PhotoBackend:    getEnv("PHOTO_BACKEND", "supabase"),
		PhotoPath:       getEnv("PHOTO_LOCAL_PATH", "/data/photos"),
		PhotoSigningKey: getEnv("PHOTO_SIGNING_KEY", ""),

		TileURL:          getEnv("TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
		TileFallbackURL:  getEnv("TILE_FALLBACK_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
		TileAttribution:  getEnv("TILE_ATTRIBUTION", "&copy; OpenStreetMap contributors"),
		DefaultCenterLat: getFloat("DEFAULT_CENTER_LAT", 51.4344),
		DefaultCenterLon: getFloat("DEFAULT_CENTER_LON", 6.7623),
		DefaultZoom:      getInt("DEFAULT_ZOOM", 13),

		CaptionBackend: getEnv("CAPTION_BACKEND", "none"),
		ClaudeAPIKey:   getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:    getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),

		SessionTTL:    getDuration("SESSION_TTL", 7*24*time.Hour),
		ViewCacheSize: getInt("VIEW_CACHE_SIZE", 512),
		ViewCacheTTL:  getDuration("VIEW_CACHE_TTL", 12*time.Hour),
		SecureCookies: getEnv("SECURE_COOKIES", "false") == "true",

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// BackendMissing reports whether the backend cannot be reached for lack of
// configuration. Sign-in is disabled in that case.
func (c *Config) BackendMissing() bool {
	return c.BackendURL == "" || c.BackendAnonKey == ""
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return d
}
