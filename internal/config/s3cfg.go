package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/koustreak/openbucket/internal/errs"
)

// S3Cfg is the part of an s3cmd profile needed to connect a bucket.
type S3Cfg struct {
	AccessKey string
	SecretKey string
	HostBase  string
	UseHTTPS  bool
	Region    string
	Bucket    string
}

// Endpoint returns the profile's endpoint URL.
func (c *S3Cfg) Endpoint() string {
	scheme := "https"
	if !c.UseHTTPS {
		scheme = "http"
	}
	return scheme + "://" + c.HostBase
}

// DefaultS3CfgPaths lists where FindS3Cfg looks, in order.
func DefaultS3CfgPaths() []string {
	paths := []string{".s3cfg"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".s3cfg"))
	}
	return append(paths, "/etc/s3cfg")
}

// FindS3Cfg returns the first existing path of DefaultS3CfgPaths.
func FindS3Cfg() (string, error) {
	for _, p := range DefaultS3CfgPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errs.New(errs.ErrKindNotFound, ".s3cfg not found")
}

// LoadS3Cfg reads the [default] section of an s3cmd profile. The bucket is
// taken from an optional "bucket" key, which s3cmd itself ignores.
func LoadS3Cfg(path string) (*S3Cfg, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load "+path, err)
	}
	sec := f.Section("default")

	cfg := &S3Cfg{
		AccessKey: sec.Key("access_key").String(),
		SecretKey: sec.Key("secret_key").String(),
		HostBase:  strings.TrimSuffix(sec.Key("host_base").MustString("s3.amazonaws.com"), "/"),
		UseHTTPS:  sec.Key("use_https").MustBool(true),
		Region:    sec.Key("bucket_location").MustString("us-east-1"),
		Bucket:    sec.Key("bucket").String(),
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errs.Invalid("access_key and secret_key must be set in %s", path)
	}
	// s3cmd writes "US" for the classic region.
	if strings.EqualFold(cfg.Region, "US") {
		cfg.Region = "us-east-1"
	}
	return cfg, nil
}
