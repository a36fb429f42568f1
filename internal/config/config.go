package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

const appDirName = "calendar-alarm-bridge"

type Config struct {
	GoogleClientID       string
	GoogleClientSecret   string
	DataDir              string
	BindAddress          string
	UnixSocketPath       string
	RequireAPIToken      bool
	APIToken             string
	RedirectPort         int
	OnlyEventsWithGuests bool
	RequestTimeout       time.Duration
	LogLevel             string
	EnableTray           bool
}

func Load() (Config, error) {
	cfg := Config{
		GoogleClientID:       strings.TrimSpace(os.Getenv("CAB_GOOGLE_CLIENT_ID")),
		GoogleClientSecret:   strings.TrimSpace(os.Getenv("CAB_GOOGLE_CLIENT_SECRET")),
		DataDir:              getenvDefault("CAB_DATA_DIR", filepath.Join(xdg.DataHome, appDirName)),
		BindAddress:          getenvDefault("CAB_BIND_ADDRESS", "127.0.0.1:8742"),
		UnixSocketPath:       strings.TrimSpace(os.Getenv("CAB_UNIX_SOCKET")),
		RequireAPIToken:      getenvBool("CAB_REQUIRE_TOKEN", false),
		APIToken:             strings.TrimSpace(os.Getenv("CAB_API_TOKEN")),
		RedirectPort:         getenvInt("CAB_REDIRECT_PORT", 8417),
		OnlyEventsWithGuests: getenvBool("CAB_ONLY_EVENTS_WITH_GUESTS", true),
		RequestTimeout:       getenvDuration("CAB_REQUEST_TIMEOUT", 10*time.Second),
		LogLevel:             getenvDefault("CAB_LOG_LEVEL", "info"),
		EnableTray:           getenvBool("CAB_ENABLE_TRAY", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory is required")
	}
	if c.BindAddress == "" && c.UnixSocketPath == "" {
		return errors.New("either bind address or unix socket path must be configured")
	}
	if c.RequireAPIToken && c.APIToken == "" {
		return errors.New("CAB_API_TOKEN is required when token auth is enabled")
	}
	if c.RedirectPort < 1 || c.RedirectPort > 65535 {
		return fmt.Errorf("invalid redirect port: %d", c.RedirectPort)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// DatabasePath is the bolt file holding settings, tokens and alarms.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "bridge.db")
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
