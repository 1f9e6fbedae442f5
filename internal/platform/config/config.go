// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend modes.
const (
	BackendRemote = "remote"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig
	Backend        BackendConfig
	Database       DatabaseConfig
	Cache          CacheConfig
	Session        SessionConfig
	Realtime       RealtimeConfig
	Log            LogConfig
	CurriculumPath string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig selects the authoritative chapter service.
type BackendConfig struct {
	Mode    string // "remote" or "memory"
	URL     string
	Timeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings for the progress event log.
// An empty URL keeps events in memory only.
type DatabaseConfig struct {
	URL          string
	MaxConns     int
	MinConns     int
	EnsureSchema bool
}

// CacheConfig holds Dragonfly/Redis settings for the session cache.
// An empty URL caches sessions in process.
type CacheConfig struct {
	URL    string
	Prefix string
}

// SessionConfig holds session resolution settings.
type SessionConfig struct {
	TTL time.Duration
	// DevUsers is a token=id:role:grade list used by the memory backend.
	DevUsers string
}

// RealtimeConfig holds websocket settings.
type RealtimeConfig struct {
	OriginPatterns []string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	timeout, err := envDuration("LEARN_BACKEND_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	ttl, err := envDuration("LEARN_SESSION_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("LEARN_SERVER_PORT", 8080),
			Host: envStr("LEARN_SERVER_HOST", "0.0.0.0"),
		},
		Backend: BackendConfig{
			Mode:    strings.ToLower(envStr("LEARN_BACKEND_MODE", BackendRemote)),
			URL:     envStr("LEARN_BACKEND_URL", ""),
			Timeout: timeout,
		},
		Database: DatabaseConfig{
			URL:          envStr("LEARN_DATABASE_URL", ""),
			MaxConns:     envInt("LEARN_DATABASE_MAX_CONNS", 10),
			MinConns:     envInt("LEARN_DATABASE_MIN_CONNS", 1),
			EnsureSchema: envBool("LEARN_DATABASE_ENSURE_SCHEMA", true),
		},
		Cache: CacheConfig{
			URL:    envStr("LEARN_CACHE_URL", ""),
			Prefix: envStr("LEARN_CACHE_PREFIX", "learn:session:"),
		},
		Session: SessionConfig{
			TTL:      ttl,
			DevUsers: envStr("LEARN_DEV_USERS", ""),
		},
		Realtime: RealtimeConfig{
			OriginPatterns: envList("LEARN_WS_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envStr("LEARN_LOG_LEVEL", "info")),
			Format: strings.ToLower(envStr("LEARN_LOG_FORMAT", "json")),
		},
		CurriculumPath: envStr("LEARN_CURRICULUM_PATH", "./curriculum"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendRemote:
		if c.Backend.URL == "" {
			return fmt.Errorf("LEARN_BACKEND_URL is required when LEARN_BACKEND_MODE is %q", BackendRemote)
		}
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("LEARN_BACKEND_URL must be an http(s) URL, got %q", c.Backend.URL)
		}
	case BackendMemory:
		if c.CurriculumPath == "" {
			return fmt.Errorf("LEARN_CURRICULUM_PATH is required when LEARN_BACKEND_MODE is %q", BackendMemory)
		}
	default:
		return fmt.Errorf("LEARN_BACKEND_MODE must be %q or %q, got %q", BackendRemote, BackendMemory, c.Backend.Mode)
	}

	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("LEARN_BACKEND_TIMEOUT must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("LEARN_SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.URL != "" && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("LEARN_DATABASE_MIN_CONNS (%d) exceeds LEARN_DATABASE_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LEARN_LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LEARN_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
