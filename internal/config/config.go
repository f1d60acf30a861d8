// Package config loads relay configuration from environment variables
// (optionally seeded from a .env file), following the getEnv*-helper
// idiom the reference server uses for the same purpose.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// RestoreFallbackMode controls remote-worker behavior when a resume's
// restore-from-backup step fails (spec §9 Open Questions).
type RestoreFallbackMode string

const (
	RestoreFallbackError RestoreFallbackMode = "error"
	RestoreFallbackFresh RestoreFallbackMode = "fresh"
)

// Config holds every tunable the relay reads at startup.
type Config struct {
	Port int
	Host string

	DataDir string

	DatabaseDriver string
	DatabaseDSN    string

	EncryptionKey        []byte
	EncryptionKeyVersion int

	SandboxProvider      string // mock | docker | cloudflare
	SandboxImage         string
	RemoteWorkerURL      string
	RemoteWorkerToken    string
	RestoreFallbackMode  RestoreFallbackMode

	IdleTimeout        time.Duration
	IdleCheckInterval  time.Duration
	EventRetention     time.Duration
	EventPruneInterval time.Duration

	ActivationTimeout time.Duration

	CORSOrigins []string
}

// Load reads RELAY_* environment variables into a Config, after first
// loading an optional .env file (ignored if absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnvInt("RELAY_PORT", 8088),
		Host:                 getEnv("RELAY_HOST", "0.0.0.0"),
		DataDir:              getEnv("RELAY_DATA_DIR", defaultDataDir()),
		DatabaseDriver:       getEnv("RELAY_DATABASE_DRIVER", "sqlite"),
		SandboxProvider:      getEnv("SANDBOX_PROVIDER", "mock"),
		SandboxImage:         getEnv("RELAY_SANDBOX_IMAGE", ""),
		RemoteWorkerURL:      getEnv("RELAY_REMOTE_WORKER_URL", ""),
		RemoteWorkerToken:    getEnv("RELAY_REMOTE_WORKER_TOKEN", ""),
		RestoreFallbackMode:  RestoreFallbackMode(getEnv("RELAY_RESTORE_FALLBACK_MODE", string(RestoreFallbackError))),
		IdleTimeout:          getEnvDuration("RELAY_IDLE_TIMEOUT", 5*time.Minute),
		IdleCheckInterval:    getEnvDuration("RELAY_IDLE_CHECK_INTERVAL", 10*time.Second),
		EventRetention:       getEnvDuration("RELAY_EVENT_RETENTION", 30*24*time.Hour),
		EventPruneInterval:   getEnvDuration("RELAY_EVENT_PRUNE_INTERVAL", time.Hour),
		ActivationTimeout:    getEnvDuration("RELAY_ACTIVATION_TIMEOUT", 30*time.Second),
		CORSOrigins:          getEnvList("RELAY_CORS_ORIGINS", []string{"*"}),
		EncryptionKeyVersion: getEnvInt("RELAY_ENCRYPTION_KEY_VERSION", 1),
	}

	if cfg.DatabaseDriver == "sqlite" {
		cfg.DatabaseDSN = filepath.Join(cfg.DataDir, "state.db")
	} else {
		cfg.DatabaseDSN = getEnv("RELAY_DATABASE_DSN", "")
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("RELAY_DATABASE_DSN is required when RELAY_DATABASE_DRIVER=postgres")
		}
	}

	keyB64 := getEnv("RELAY_ENCRYPTION_KEY", "")
	if keyB64 == "" {
		return nil, fmt.Errorf("RELAY_ENCRYPTION_KEY is required (base64-encoded 32 bytes)")
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("RELAY_ENCRYPTION_KEY: invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("RELAY_ENCRYPTION_KEY: must decode to 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	switch cfg.RestoreFallbackMode {
	case RestoreFallbackError, RestoreFallbackFresh:
	default:
		return nil, fmt.Errorf("RELAY_RESTORE_FALLBACK_MODE: must be %q or %q", RestoreFallbackError, RestoreFallbackFresh)
	}

	switch cfg.SandboxProvider {
	case "mock", "docker", "cloudflare":
	default:
		return nil, fmt.Errorf("SANDBOX_PROVIDER: must be one of mock, docker, cloudflare, got %q", cfg.SandboxProvider)
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir, err := xdg.DataFile("relay")
	if err != nil {
		return filepath.Join(os.TempDir(), "relay")
	}
	return dir
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
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

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
