// Package config loads the YAML configuration shared by the OpenBucket
// binaries and imports s3cmd profiles.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/server"
)

// Environment variables that override the file.
const (
	EnvAPIURL      = "OPENBUCKET_API_URL"
	EnvSessionKey  = "OPENBUCKET_SESSION_KEY"
	EnvStoragePath = "OPENBUCKET_STORAGE_PATH"
	EnvLogLevel    = "OPENBUCKET_LOG_LEVEL"
)

// DefaultAPIURL is where the client looks for the server when nothing is set.
const DefaultAPIURL = "http://localhost:8080"

// Config is the root of the YAML document.
type Config struct {
	Log    logger.Config `yaml:"log"`
	Client ClientConfig  `yaml:"client"`
	Server server.Config `yaml:"server"`
}

// ClientConfig holds the browsing client's settings.
type ClientConfig struct {
	api.Config `yaml:",inline"`

	// StoragePath is the durable storage file. Empty means no durable
	// storage: sessions live for the process only.
	StoragePath string `yaml:"storage_path"`

	// UploadRemoveDelay is how long a finished upload stays in the tracker.
	UploadRemoveDelay time.Duration `yaml:"upload_remove_delay"`

	// DeleteConcurrency caps parallel deletes in a bulk delete.
	DeleteConcurrency int `yaml:"delete_concurrency"`
}

// DefaultConfig returns the settings used when the file is silent.
func DefaultConfig() *Config {
	return &Config{
		Log: *logger.DefaultConfig(),
		Client: ClientConfig{
			Config:            *api.DefaultConfig(DefaultAPIURL),
			UploadRemoveDelay: 3 * time.Second,
			DeleteConcurrency: 8,
		},
		Server: *server.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path, or one that does not exist, yields the defaults.
func Load(path string) (*Config, error) {
	var raw []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config "+path, err)
		default:
			raw = b
		}
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Durations are written the
// way time.ParseDuration reads them, e.g. "30s" or "168h".
func Parse(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "malformed config", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.Client.BaseURL = v
	}
	if v, ok := lookup(EnvSessionKey); ok && v != "" {
		c.Server.SessionKey = v
	}
	if v, ok := lookup(EnvStoragePath); ok {
		c.Client.StoragePath = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errs.Invalid("unknown log level %q", c.Log.Level)
	}
	if c.Client.BaseURL == "" {
		return errs.Invalid("client.base_url is required")
	}
	if c.Client.UploadRemoveDelay < 0 {
		return errs.Invalid("client.upload_remove_delay must not be negative")
	}
	if c.Client.DeleteConcurrency < 1 {
		return errs.Invalid("client.delete_concurrency must be at least 1")
	}
	if c.Server.SessionTTL <= 0 {
		return errs.Invalid("server.session_ttl must be positive")
	}
	return nil
}
