package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/session"
)

// KeySize is the length of a session key (AES-256).
const KeySize = 32

// Claims is everything a session token carries. The server keeps no session
// state; the token is the session.
type Claims struct {
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Nickname        string `json:"nickname"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`

	// Exp is the expiry in milliseconds since the Unix epoch.
	Exp int64 `json:"exp"`
}

// Expired reports whether the claims are past their expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(time.UnixMilli(c.Exp))
}

// Session is the client-facing record for the claims. Credentials stay out.
func (c Claims) Session(token string) session.Session {
	return session.Session{
		Bucket:   c.Bucket,
		Nickname: c.Nickname,
		Region:   c.Region,
		Endpoint: c.Endpoint,
		Token:    token,
		Exp:      c.Exp,
	}
}

// Sealer turns Claims into opaque tokens and back with AES-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// GenerateKey returns a random session key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errs.Wrap(errs.ErrKindServer, "failed to generate session key", err)
	}
	return key, nil
}

// NewSealer returns a Sealer for key, which must be KeySize bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, errs.Invalid("session key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid session key", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindServer, "failed to initialise AES-GCM", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts c into a URL-safe token.
func (s *Sealer) Seal(c Claims) (string, error) {
	plain, err := json.Marshal(c)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindServer, "failed to encode claims", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errs.Wrap(errs.ErrKindServer, "failed to generate nonce", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts token and checks it has not expired at now. Every failure is
// reported as permission denied; the reason is not exposed to the caller.
func (s *Sealer) Open(token string, now time.Time) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return Claims{}, errs.New(errs.ErrKindPermissionDenied, "invalid session token")
	}

	nonce, sealed := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Claims{}, errs.New(errs.ErrKindPermissionDenied, "invalid session token")
	}

	var c Claims
	if err := json.Unmarshal(plain, &c); err != nil {
		return Claims{}, errs.New(errs.ErrKindPermissionDenied, "invalid session token")
	}
	if c.Expired(now) {
		return Claims{}, errs.New(errs.ErrKindPermissionDenied, "session expired")
	}
	return c, nil
}
