// Package config loads habitsync settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kimhsiao/habitsync/internal/blob"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/sync"
)

// Config holds all configuration for the application.
type Config struct {
	DataDir       string
	RemoteURL     string // empty selects the in-memory document store
	RemoteAuth    string
	UserID        string
	Port          string
	LogLevel      logging.LogLevel
	LogFile       string // empty logs to stderr
	SyncInterval  time.Duration
	SweepInterval time.Duration
	ProbeURL      string // empty disables probing; connectivity is then assumed
	ProbeInterval time.Duration
	ItemTimeout   time.Duration
	MaxChunkBytes int
	PINHash       string
}

// Load reads a .env file from the working directory, if present, and then
// the environment. Variables already set take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit .env path, which must exist.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "load env file "+path, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:    getEnv("HABITSYNC_DATA_DIR", defaultDataDir()),
		RemoteURL:  getEnv("HABITSYNC_REMOTE_URL", ""),
		RemoteAuth: getEnv("HABITSYNC_REMOTE_AUTH", ""),
		UserID:     getEnv("HABITSYNC_USER_ID", ""),
		Port:       getEnv("HABITSYNC_PORT", "8090"),
		LogLevel:   logging.ParseLevel(getEnv("HABITSYNC_LOG_LEVEL", "info")),
		LogFile:    getEnv("HABITSYNC_LOG_FILE", ""),
		ProbeURL:   getEnv("HABITSYNC_PROBE_URL", ""),
		PINHash:    getEnv("HABITSYNC_PIN_HASH", ""),
	}

	var err error
	if cfg.SyncInterval, err = getDuration("HABITSYNC_SYNC_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("HABITSYNC_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDuration("HABITSYNC_PROBE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ItemTimeout, err = getDuration("HABITSYNC_ITEM_TIMEOUT", sync.DefaultItemTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxChunkBytes, err = getInt("HABITSYNC_MAX_CHUNK_BYTES", blob.DefaultMaxChunkBytes); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrInvalid, "HABITSYNC_DATA_DIR must not be empty")
	}
	if c.Port == "" {
		return errors.New(errors.ErrInvalid, "HABITSYNC_PORT must not be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return errors.Newf(errors.ErrInvalid, "HABITSYNC_PORT %q is not a valid port", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"HABITSYNC_SYNC_INTERVAL":  c.SyncInterval,
		"HABITSYNC_SWEEP_INTERVAL": c.SweepInterval,
		"HABITSYNC_PROBE_INTERVAL": c.ProbeInterval,
		"HABITSYNC_ITEM_TIMEOUT":   c.ItemTimeout,
	} {
		if d <= 0 {
			return errors.Newf(errors.ErrInvalid, "%s must be positive, got %s", name, d)
		}
	}
	if c.MaxChunkBytes <= 0 {
		return errors.Newf(errors.ErrInvalid, "HABITSYNC_MAX_CHUNK_BYTES must be positive, got %d", c.MaxChunkBytes)
	}
	return nil
}

// RequireUser returns the configured user or INVALID_INPUT when none is set.
func (c *Config) RequireUser() (string, error) {
	if c.UserID == "" {
		return "", errors.New(errors.ErrInvalid, "HABITSYNC_USER_ID is not set")
	}
	return c.UserID, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "habitsync")
	}
	return filepath.Join(".", "data")
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("%s must be a duration", key), err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("%s must be an integer", key), err)
	}
	return n, nil
}
