package filestore

import (
	"net/url"
	"strings"

	"github.com/koustreak/openbucket/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
	ProviderS3    Provider = "s3"
)

// ParseProvider maps a config value to a Provider. Empty means s3.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProviderS3:
		return ProviderS3, nil
	case ProviderMinIO:
		return ProviderMinIO, nil
	}
	return "", errs.Invalid("unknown storage provider %q", s)
}

// Config holds all settings needed to connect to a storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider

	// Endpoint is the host[:port] of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string

	// AccessKey is the access key ID.
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is used by region-aware backends (e.g. AWS S3).
	Region string

	// DefaultBucket is checked by Ping when set.
	DefaultBucket string
}

// EndpointURL returns the endpoint with its scheme.
func (c *Config) EndpointURL() string {
	if c.UseSSL {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    false,
	}
}

// ConfigFromEndpoint builds a Config from an endpoint URL such as
// "https://s3.eu-west-1.amazonaws.com". The scheme decides UseSSL; a path,
// query or missing host is rejected. The provider defaults to s3.
func ConfigFromEndpoint(endpoint, region, accessKey, secretKey string) (*Config, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid endpoint URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.Invalid("endpoint must be an http or https URL, got %q", endpoint)
	}
	if u.Host == "" {
		return nil, errs.Invalid("endpoint %q has no host", endpoint)
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" {
		return nil, errs.Invalid("endpoint %q must not have a path or query", endpoint)
	}

	return &Config{
		Provider:  ProviderS3,
		Endpoint:  u.Host,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    u.Scheme == "https",
		Region:    region,
	}, nil
}
