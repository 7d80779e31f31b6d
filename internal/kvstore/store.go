// Package kvstore defines the durable key-value medium the client persists
// its session tokens, active-session pointer and view preferences to.
//
// All implementations are synchronous. Callers that must never fail (the
// session token store) log write errors and carry on; reads from an
// unavailable medium simply report "absent".
//
// Usage:
//
//	store := kvstore.Open(cfg.Client.StoragePath, log)
//	_ = store.Set("viewFormat", "grid")
//	v, ok := store.Get("viewFormat")
package kvstore

import (
	"sync"

	"github.com/koustreak/openbucket/internal/logger"
)

// Store is the contract for a durable key-value medium.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Open returns a file-backed store at path, or an Unavailable store when
// path is empty or the file cannot be used. It never fails.
func Open(path string, log *logger.Logger) Store {
	log = logger.OrNop(log).Component("kvstore")
	if path == "" {
		log.Warn("no storage path configured, client state will not persist")
		return Unavailable{}
	}
	f, err := OpenFile(path, log)
	if err != nil {
		log.WarnWith("durable storage unavailable, client state will not persist", err, map[string]interface{}{
			"path": path,
		})
		return Unavailable{}
	}
	return f
}

// --- Unavailable ---

// Unavailable is the medium used when nothing durable exists (no storage
// path, unwritable directory). Reads report absent, writes are dropped.
type Unavailable struct{}

func (Unavailable) Get(string) (string, bool) { return "", false }
func (Unavailable) Set(string, string) error  { return nil }
func (Unavailable) Remove(string) error       { return nil }

// --- Memory ---

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
