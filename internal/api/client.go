// Package api is the HTTP client for the OpenBucket API.
//
// Every call is normalized to a Response envelope, whether or not it reached
// the server: transport failures and timeouts become a request_failed
// envelope with error_code -1. Typed helpers convert a failed envelope into
// an *errs.Error, so callers branch with errs.Is* and never on HTTP status.
//
// Usage:
//
//	client, err := api.New(api.DefaultConfig("http://localhost:8080"), log)
//	if err != nil { ... }
//
//	sessions, err := client.ResolveSessions(ctx, tokens)
//
//	b := client.Bucket(sess.Bucket, sess.Token)
//	folders, err := b.ListFolders(ctx, "photos/")
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/session"
)

// Config holds client settings.
type Config struct {
	// BaseURL is the root of the API, e.g. "https://api.openbucket.example".
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds every request except uploads.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// UploadTimeout bounds a single upload.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// RateLimitQPS caps outgoing requests per second. 0 disables the limiter.
	RateLimitQPS float64 `yaml:"rate_limit_qps"`

	// RateLimitBurst is the limiter bucket size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// DefaultConfig returns the settings used by the web front-end.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		UploadTimeout:  30 * time.Minute,
		RateLimitQPS:   20,
		RateLimitBurst: 40,
	}
}

// Client talks to the OpenBucket API. It is safe for concurrent use.
type Client struct {
	base *url.URL
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

// New validates cfg and returns a Client. A nil cfg is invalid because the
// base URL has no sensible default.
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errs.Invalid("api base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.Invalid("api base URL %q is not a valid URL", cfg.BaseURL)
	}

	c := *cfg
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 30 * time.Minute
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if c.RateLimitQPS > 0 {
		burst := c.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		transport = &limitedTransport{
			base:    transport,
			limiter: rate.NewLimiter(rate.Limit(c.RateLimitQPS), burst),
		}
	}

	return &Client{
		base: base,
		cfg:  c,
		http: &http.Client{Transport: transport},
		log:  logger.OrNop(log).Component("api"),
	}, nil
}

// --- raw requests ---

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Token  string

	// JSON is marshalled as the body when Body is nil.
	JSON any

	Body        io.Reader
	ContentType string

	// Timeout overrides the client's request timeout.
	Timeout time.Duration
}

// Do performs req and normalizes the outcome. It never returns nil.
func (c *Client) Do(ctx context.Context, req Request) *Response {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := req.Body
	contentType := req.ContentType
	if body == nil && req.JSON != nil {
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return requestFailed(err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	u := *c.base
	u.Path = c.base.Path + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return requestFailed(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.ErrorWith("request failed", err, map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		})
		return requestFailed(err)
	}
	defer resp.Body.Close()

	out := &Response{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		c.log.WarnWith("malformed response body", err, map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
			"status": resp.StatusCode,
		})
		out = &Response{}
	}
	out.Status = resp.StatusCode

	if !out.Success {
		if out.Error == "" {
			out.Error = "Unknown error"
		}
		if out.ErrorMessage == "" {
			out.ErrorMessage = "Unexpected error occurred"
		}
	}

	c.log.DebugWith("request", map[string]interface{}{
		"method":   req.Method,
		"path":     req.Path,
		"status":   resp.StatusCode,
		"success":  out.Success,
		"duration": time.Since(start).String(),
	})
	return out
}

// call performs req and decodes the payload of a successful response into out.
func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp := c.Do(ctx, req)
	if err := resp.Err(); err != nil {
		return err
	}
	return resp.Decode(out)
}

// --- sessions ---

// ResolveSessions exchanges stored tokens for session records. Tokens the
// server no longer accepts are absent from the result.
func (c *Client) ResolveSessions(ctx context.Context, tokens []string) ([]session.Session, error) {
	var out []session.Session
	err := c.call(ctx, Request{
		Method: http.MethodPut,
		Path:   "/sessions",
		JSON:   ResolveRequest{Sessions: tokens},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession validates req locally, then asks the server for a token.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var out SessionToken
	if err := c.call(ctx, Request{
		Method: http.MethodPost,
		Path:   "/session",
		JSON:   req,
	}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errs.New(errs.ErrKindServer, "server returned no session token")
	}
	return out.Token, nil
}

// Health reports whether the API answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/health"}, nil)
}

// --- rate limiting ---

// limitedTransport waits on a token bucket before every round trip.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return t.base.RoundTrip(req)
}
