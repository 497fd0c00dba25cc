package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
// Embed or extend it in your app's own AppConfig.
type Config struct {
	App  AppConfig
	Boot BootConfig
}

type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool
	URL   string
	Port  string
}

// BootConfig is the core-facing surface the container and scanner consume.
type BootConfig struct {
	// AutoScan enables module discovery at boot. When false, only modules
	// named in ExplicitModules load — no filesystem traversal happens.
	AutoScan        bool
	ExplicitModules []string

	// UserPackages / ExcludePackages scope-limit the scan by module id
	// prefix.
	UserPackages    []string
	ExcludePackages []string

	// StartupErrorPolicy: strict | warn | ignore.
	StartupErrorPolicy string

	// ShutdownTimeout bounds each OnShutdown hook.
	ShutdownTimeout time.Duration

	// Probing hints for frozen-image layouts.
	ModuleArchive string
	ModuleDir     string
	SourceRoot    string
}

// Load reads .env (if present) and populates a Config from environment
// variables. Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	return &Config{
		App: AppConfig{
			Name:  env("APP_NAME", "Loom"),
			Env:   env("APP_ENV", "local"),
			Debug: envBool("APP_DEBUG", true),
			URL:   env("APP_URL", "http://localhost"),
			Port:  env("APP_PORT", "8000"),
		},
		Boot: BootConfig{
			AutoScan:           envBool("LOOM_AUTO_SCAN", true),
			ExplicitModules:    envList("LOOM_EXPLICIT_MODULES"),
			UserPackages:       envList("LOOM_USER_PACKAGES"),
			ExcludePackages:    envList("LOOM_EXCLUDE_PACKAGES"),
			StartupErrorPolicy: env("LOOM_STARTUP_ERROR_POLICY", "strict"),
			ShutdownTimeout:    envDuration("LOOM_SHUTDOWN_TIMEOUT", 5*time.Second),
			ModuleArchive:      env("LOOM_MODULE_ARCHIVE", ""),
			ModuleDir:          env("LOOM_MODULE_DIR", ""),
			SourceRoot:         env("LOOM_SOURCE_ROOT", ""),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
