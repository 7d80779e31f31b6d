// Package server is the reference implementation of the OpenBucket storage
// API. It is stateless: a session token is an AES-GCM sealed set of bucket
// credentials, and every bucket request opens (or reuses) a filestore.Store
// built from the token it carries.
//
// Usage:
//
//	srv, err := server.New(server.DefaultConfig(), log)
//	if err != nil { ... }
//	defer srv.Close()
//	err = srv.ListenAndServe(ctx) // returns after ctx is cancelled and in-flight requests drain
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
	"github.com/koustreak/openbucket/internal/filestore/minio"
	"github.com/koustreak/openbucket/internal/filestore/s3"
	"github.com/koustreak/openbucket/internal/logger"
)

// Config holds the server settings.
type Config struct {
	Addr string `yaml:"addr"`

	// Provider selects the storage driver: "s3" (default) or "minio".
	Provider string `yaml:"provider"`

	// SessionKey is 32 raw bytes or their standard base64 encoding. When
	// empty a random key is generated and sessions do not survive a restart.
	SessionKey string `yaml:"session_key"`

	SessionTTL time.Duration `yaml:"session_ttl"`
	PresignTTL time.Duration `yaml:"presign_ttl"`

	// VerifyOnCreate makes POST /session connect to the bucket before
	// issuing a token.
	VerifyOnCreate bool `yaml:"verify_on_create"`

	// MetricsPath serves Prometheus metrics; empty disables them.
	MetricsPath string `yaml:"metrics_path"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the settings used when the config file is silent.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		Provider:        string(filestore.ProviderS3),
		SessionTTL:      7 * 24 * time.Hour,
		PresignTTL:      time.Hour,
		MetricsPath:     "/metrics",
		MaxUploadBytes:  5 << 30,
		ReadTimeout:     30 * time.Minute,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Opener builds a Store for a session's connection settings.
type Opener func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)

// DefaultOpener dispatches on cfg.Provider.
func DefaultOpener(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderMinIO:
		return minio.New(ctx, cfg)
	case filestore.ProviderS3:
		return s3.New(ctx, cfg)
	}
	return nil, errs.Invalid("unknown storage provider %q", cfg.Provider)
}

// Option customises a Server.
type Option func(*Server)

// WithOpener replaces DefaultOpener.
func WithOpener(open Opener) Option {
	return func(s *Server) { s.open = open }
}

// WithClock replaces time.Now for token issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server serves the storage API. It is safe for concurrent use.
type Server struct {
	cfg     *Config
	log     *logger.Logger
	sealer  *Sealer
	open    Opener
	now     func() time.Time
	stores  *storeCache
	metrics *metrics
	router  chi.Router
}

// New validates cfg and builds a Server. A nil cfg uses DefaultConfig.
func New(cfg *Config, log *logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log = logger.OrNop(log).Component("server")

	provider, err := filestore.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	key, err := sessionKey(cfg.SessionKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Warn("no session key configured, generated an ephemeral one; sessions end on restart")
		if key, err = GenerateKey(); err != nil {
			return nil, err
		}
	}
	sealer, err := NewSealer(key)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		sealer:  sealer,
		open:    DefaultOpener,
		now:     time.Now,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stores = newStoreCache(s.open, provider, log)
	s.router = s.routes()
	return s, nil
}

// sessionKey decodes the configured key. An empty string yields nil.
func sessionKey(s string) ([]byte, error) {
	switch {
	case s == "":
		return nil, nil
	case len(s) == KeySize:
		return []byte(s), nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != KeySize {
		return nil, errs.Invalid("session_key must be %d bytes or their base64 encoding", KeySize)
	}
	return key, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases every cached store.
func (s *Server) Close() error {
	s.stores.close()
	return nil
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("listening", map[string]interface{}{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errs.Wrap(errs.ErrKindConnectionFailed, "server stopped", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "graceful shutdown failed", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.Wrap(errs.ErrKindConnectionFailed, "server stopped", err)
	}
	return nil
}
