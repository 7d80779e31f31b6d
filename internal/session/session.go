// Package session owns the client's knowledge of which buckets it is
// connected to: the durable token set, the durable active-session pointer,
// the in-memory registry of resolved sessions, and the one-shot startup
// workflow that turns stored tokens back into sessions.
//
// Usage:
//
//	tokens := session.NewTokenStore(kv, log)
//	registry := session.NewRegistry(tokens, log)
//	init := session.NewInitializer(tokens, registry, apiClient, log)
//	if err := init.EnsureInitialized(ctx); err != nil { ... }
//	current, ok := registry.Current()
package session

import (
	"strings"
	"time"
)

// DefaultLifetime is the expiry assumed for a freshly created session until
// the next resolution reports the authoritative one.
const DefaultLifetime = 7 * 24 * time.Hour

// Session is one authenticated binding to a bucket on an endpoint.
type Session struct {
	Bucket   string `json:"bucket"`
	Nickname string `json:"nickname"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`

	// Token is the opaque credential reference issued by the backend.
	Token string `json:"token"`

	// Exp is the absolute expiry in milliseconds since the Unix epoch.
	Exp int64 `json:"exp"`
}

// Key returns the natural key of the session.
func (s Session) Key() Key {
	return Key{Endpoint: s.Endpoint, Bucket: s.Bucket}
}

// DisplayName is the nickname, or the bucket name when no nickname is set.
func (s Session) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.Bucket
}

// ExpiresAt converts Exp to a time.Time.
func (s Session) ExpiresAt() time.Time {
	return time.UnixMilli(s.Exp)
}

// Expired reports whether the session expiry is at or before now.
func (s Session) Expired(now time.Time) bool {
	return s.Exp > 0 && !now.Before(s.ExpiresAt())
}

// Ready reports whether the session can scope bucket requests.
func (s Session) Ready() bool {
	return s.Bucket != "" && s.Token != ""
}

// Key identifies a session by (endpoint, bucket). Two sessions with the same
// key are the same logical session.
type Key struct {
	Endpoint string
	Bucket   string
}

// String encodes the key as "endpoint{bucket}".
func (k Key) String() string {
	return EncodeKey(k)
}

// EncodeKey serializes k as "endpoint{bucket}". Bucket names cannot contain
// braces, which keeps the encoding unambiguous for any endpoint.
func EncodeKey(k Key) string {
	return k.Endpoint + "{" + k.Bucket + "}"
}

// ParseKey is the inverse of EncodeKey. Anything that is not a well-formed
// "endpoint{bucket}" value (including the legacy bucket-only format) is
// reported as unparseable rather than guessed at.
func ParseKey(s string) (Key, bool) {
	if !strings.HasSuffix(s, "}") {
		return Key{}, false
	}
	open := strings.LastIndex(s, "{")
	if open <= 0 {
		return Key{}, false
	}
	bucket := s[open+1 : len(s)-1]
	if bucket == "" || strings.ContainsAny(bucket, "{}") {
		return Key{}, false
	}
	return Key{Endpoint: s[:open], Bucket: bucket}, true
}
