package session

import (
	"encoding/json"
	"sync"

	"github.com/koustreak/openbucket/internal/kvstore"
	"github.com/koustreak/openbucket/internal/logger"
)

// Durable keys. They match the keys the web front-end used, so an exported
// browser storage file can be loaded as-is.
const (
	TokensKey        = "openbucket-sessions"
	ActivePointerKey = "openbucket-current-session"
)

type tokenDocument struct {
	Sessions []string `json:"sessions"`
}

// TokenStore persists the set of session tokens and the active-session
// pointer. None of its methods fail: an unusable medium reads as empty and
// swallows writes, and malformed stored data is logged and treated as absent.
type TokenStore struct {
	kv  kvstore.Store
	log *logger.Logger

	// mu serialises read-modify-write cycles on the token document.
	mu sync.Mutex
}

// NewTokenStore returns a TokenStore over kv. A nil kv behaves as an
// unavailable medium.
func NewTokenStore(kv kvstore.Store, log *logger.Logger) *TokenStore {
	if kv == nil {
		kv = kvstore.Unavailable{}
	}
	return &TokenStore{kv: kv, log: logger.OrNop(log).Component("tokens")}
}

// StoreToken adds token to the set. Adding a token twice is a no-op.
func (s *TokenStore) StoreToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.read()
	for _, t := range tokens {
		if t == token {
			return
		}
	}
	s.write(append(tokens, token))
}

// RemoveToken removes token from the set if present.
func (s *TokenStore) RemoveToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.read()
	kept := tokens[:0]
	for _, t := range tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tokens) {
		return
	}
	s.write(kept)
}

// ListTokens returns the stored tokens in insertion order.
func (s *TokenStore) ListTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// ReplaceTokens overwrites the whole set with tokens, dropping duplicates
// and empty values.
func (s *TokenStore) ReplaceTokens(tokens []string) {
	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(unique)
}

// SetActivePointer records k as the last active session.
func (s *TokenStore) SetActivePointer(k Key) {
	if err := s.kv.Set(ActivePointerKey, EncodeKey(k)); err != nil {
		s.log.WarnWith("failed to persist active session", err, map[string]interface{}{
			"endpoint": k.Endpoint,
			"bucket":   k.Bucket,
		})
	}
}

// ActivePointer returns the last active session key. A stored value that
// cannot be parsed is cleared and reported as absent.
func (s *TokenStore) ActivePointer() (Key, bool) {
	raw, ok := s.kv.Get(ActivePointerKey)
	if !ok || raw == "" {
		return Key{}, false
	}
	k, ok := ParseKey(raw)
	if !ok {
		s.log.With().Str("value", raw).Logger().Warn("discarding malformed active session pointer")
		s.ClearActivePointer()
		return Key{}, false
	}
	return k, true
}

// ClearActivePointer forgets the last active session.
func (s *TokenStore) ClearActivePointer() {
	if err := s.kv.Remove(ActivePointerKey); err != nil {
		s.log.WarnWith("failed to clear active session", err, nil)
	}
}

// HasTokens reports whether any token is stored.
func (s *TokenStore) HasTokens() bool {
	return len(s.ListTokens()) > 0
}

// read decodes the token document. Callers hold s.mu.
func (s *TokenStore) read() []string {
	raw, ok := s.kv.Get(TokensKey)
	if !ok || raw == "" {
		return []string{}
	}
	var doc tokenDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.log.WarnWith("could not parse stored session tokens", err, nil)
		return []string{}
	}
	if doc.Sessions == nil {
		return []string{}
	}
	return doc.Sessions
}

// write encodes and stores the token document. Callers hold s.mu.
func (s *TokenStore) write(tokens []string) {
	if tokens == nil {
		tokens = []string{}
	}
	raw, err := json.Marshal(tokenDocument{Sessions: tokens})
	if err != nil {
		s.log.WarnWith("failed to encode session tokens", err, nil)
		return
	}
	if err := s.kv.Set(TokensKey, string(raw)); err != nil {
		s.log.WarnWith("failed to persist session tokens", err, map[string]interface{}{
			"tokens": len(tokens),
		})
	}
}
