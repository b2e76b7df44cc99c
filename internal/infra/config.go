package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// DatabaseURL is optional; scene persistence is disabled without it.
	DatabaseURL string

	// Provider credentials are checked per request, not at startup, so the
	// service boots with a partial configuration and fails closed on the
	// endpoints that need the missing key.
	MeshyAPIKey   string
	MeshyBaseURL  string
	SkyboxAPIKey  string
	SkyboxBaseURL string

	RateLimitMaxConcurrent int
	RateLimitResetInterval time.Duration

	// GenerationDisabled short-circuits every generation endpoint before any
	// provider call or quota mutation.
	GenerationDisabled bool

	GeoIPDBPath        string
	ProxyAllowedHosts  []string
	CORSAllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// defaultProxyHosts are the asset hosts the content proxy always allows.
var defaultProxyHosts = []string{
	"assets.meshy.ai",
	"backend.blockadelabs.com",
	"blockade-platform-production.s3.amazonaws.com",
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                 getEnv("APP_ENV", "development"),
		Port:                   getEnv("PORT", "8080"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		MeshyAPIKey:            os.Getenv("MESHY_API_KEY"),
		MeshyBaseURL:           getEnv("MESHY_BASE_URL", "https://api.meshy.ai"),
		SkyboxAPIKey:           os.Getenv("SKYBOX_API_KEY"),
		SkyboxBaseURL:          getEnv("SKYBOX_BASE_URL", "https://backend.blockadelabs.com"),
		RateLimitMaxConcurrent: getEnvInt("RATE_LIMIT_MAX_CONCURRENT", 2),
		RateLimitResetInterval: time.Minute * time.Duration(getEnvInt("RATE_LIMIT_RESET_INTERVAL_MINUTES", 10)),
		GenerationDisabled:     getEnvBool("GENERATION_DISABLED", false),
		GeoIPDBPath:            os.Getenv("GEOIP_DB_PATH"),
		ProxyAllowedHosts:      append(defaultProxyHosts, getEnvList("PROXY_ALLOWED_HOSTS")...),
		CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:        time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// The skybox flow holds its request for up to five minutes, so the
		// write timeout must sit above that ceiling.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 305)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
