package session

import (
	"sync"

	"github.com/koustreak/openbucket/internal/logger"
)

// Registry is the authoritative in-memory list of resolved sessions plus the
// single active one. Every mutation is mirrored to the TokenStore before the
// lock is released, so durable and in-memory state never disagree for longer
// than one call.
//
// The active session is held as a Key and resolved against the list on
// read, which makes a dangling active pointer unrepresentable.
type Registry struct {
	tokens *TokenStore
	log    *logger.Logger

	mu       sync.RWMutex
	sessions []Session
	current  *Key
}

// NewRegistry returns an empty registry backed by tokens.
func NewRegistry(tokens *TokenStore, log *logger.Logger) *Registry {
	return &Registry{
		tokens:   tokens,
		log:      logger.OrNop(log).Component("registry"),
		sessions: []Session{},
	}
}

// Sessions returns a copy of the session list.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Current returns the active session, if any.
func (r *Registry) Current() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Session{}, false
	}
	i := r.indexOf(*r.current)
	if i < 0 {
		return Session{}, false
	}
	return r.sessions[i], true
}

// Find looks a session up by key.
func (r *Registry) Find(k Key) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(k); i >= 0 {
		return r.sessions[i], true
	}
	return Session{}, false
}

// SetSessions replaces the whole list, typically with the result of a
// resolution. The active session becomes the one named by the durable
// pointer if it is still in the list, otherwise the first session, otherwise
// none. Both the pointer and the token set are then rewritten from the
// result, so sessions the backend dropped disappear from durable storage.
func (r *Registry) SetSessions(list []Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = dedupe(list)
	r.current = nil

	if k, ok := r.tokens.ActivePointer(); ok && r.indexOf(k) >= 0 {
		r.current = &k
	} else if len(r.sessions) > 0 {
		k := r.sessions[0].Key()
		r.current = &k
	}

	if r.current != nil {
		r.tokens.SetActivePointer(*r.current)
	} else {
		r.tokens.ClearActivePointer()
	}

	tokens := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		tokens = append(tokens, s.Token)
	}
	r.tokens.ReplaceTokens(tokens)

	r.log.With().Int("sessions", len(r.sessions)).Bool("active", r.current != nil).Logger().
		Debug("session list replaced")
}

// SetActiveSession makes s the active session and persists the pointer. A
// session that is not yet registered is added first.
func (r *Registry) SetActiveSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(s.Key()) < 0 {
		r.upsert(s)
		r.tokens.StoreToken(s.Token)
	}
	k := s.Key()
	r.current = &k
	r.tokens.SetActivePointer(k)
}

// AddSession inserts s, replacing any session with the same key in place,
// stores its token and makes it active.
func (r *Registry) AddSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(s.Key()); i >= 0 && r.sessions[i].Token != s.Token {
		r.tokens.RemoveToken(r.sessions[i].Token)
	}
	r.upsert(s)
	r.tokens.StoreToken(s.Token)

	k := s.Key()
	r.current = &k
	r.tokens.SetActivePointer(k)
}

// RemoveSession drops the session with the same key as s and its token. If
// it was active, the active session becomes none and the durable pointer is
// cleared; no other session is promoted. It reports whether anything was
// removed.
func (r *Registry) RemoveSession(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := s.Key()
	i := r.indexOf(k)
	if i < 0 {
		r.tokens.RemoveToken(s.Token)
		return false
	}
	removed := r.sessions[i]

	next := make([]Session, 0, len(r.sessions)-1)
	next = append(next, r.sessions[:i]...)
	next = append(next, r.sessions[i+1:]...)
	r.sessions = next

	r.tokens.RemoveToken(removed.Token)
	if s.Token != "" && s.Token != removed.Token {
		r.tokens.RemoveToken(s.Token)
	}

	if r.current != nil && *r.current == k {
		r.current = nil
		r.tokens.ClearActivePointer()
	}
	return true
}

// upsert replaces in place or appends. Callers hold r.mu.
func (r *Registry) upsert(s Session) {
	if i := r.indexOf(s.Key()); i >= 0 {
		next := make([]Session, len(r.sessions))
		copy(next, r.sessions)
		next[i] = s
		r.sessions = next
		return
	}
	next := make([]Session, 0, len(r.sessions)+1)
	next = append(next, r.sessions...)
	r.sessions = append(next, s)
}

// indexOf returns the position of k or -1. Callers hold r.mu.
func (r *Registry) indexOf(k Key) int {
	for i, s := range r.sessions {
		if s.Key() == k {
			return i
		}
	}
	return -1
}

// dedupe keeps one session per key; a later entry replaces an earlier one at
// the earlier one's position.
func dedupe(list []Session) []Session {
	out := make([]Session, 0, len(list))
	pos := make(map[Key]int, len(list))
	for _, s := range list {
		if i, ok := pos[s.Key()]; ok {
			out[i] = s
			continue
		}
		pos[s.Key()] = len(out)
		out = append(out, s)
	}
	return out
}
