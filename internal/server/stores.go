package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
	"github.com/koustreak/openbucket/internal/logger"
)

// openTimeout bounds one store open. The open is shared by every request for
// the token, so it is detached from the request that started it.
const openTimeout = 30 * time.Second

type cacheEntry struct {
	store filestore.Store
	exp   time.Time
}

// storeCache keeps one Store per session token until the token expires.
// Concurrent first requests for a token share one open.
type storeCache struct {
	open     Opener
	provider filestore.Provider
	log      *logger.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

func newStoreCache(open Opener, provider filestore.Provider, log *logger.Logger) *storeCache {
	return &storeCache{
		open:     open,
		provider: provider,
		log:      log,
		entries:  map[string]cacheEntry{},
	}
}

// get returns the store for token, opening it from claims on a miss.
func (c *storeCache) get(ctx context.Context, token string, claims Claims, now time.Time) (filestore.Store, error) {
	c.mu.Lock()
	c.sweep(now)
	e, ok := c.entries[token]
	c.mu.Unlock()
	if ok {
		return e.store, nil
	}

	ch := c.group.DoChan(token, func() (interface{}, error) {
		c.mu.Lock()
		e, ok := c.entries[token]
		c.mu.Unlock()
		if ok {
			return e.store, nil
		}

		cfg, err := filestore.ConfigFromEndpoint(claims.Endpoint, claims.Region, claims.AccessKeyID, claims.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		cfg.Provider = c.provider
		cfg.DefaultBucket = claims.Bucket

		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		store, err := c.open(openCtx, cfg)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[token] = cacheEntry{store: store, exp: time.UnixMilli(claims.Exp)}
		c.mu.Unlock()

		c.log.DebugWith("opened store", map[string]interface{}{
			"endpoint": claims.Endpoint,
			"bucket":   claims.Bucket,
		})
		return store, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(filestore.Store), nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.ErrKindTimeout, "request ended while opening the store", ctx.Err())
	}
}

// sweep closes and drops expired entries. Callers hold c.mu.
func (c *storeCache) sweep(now time.Time) {
	for token, e := range c.entries {
		if now.Before(e.exp) {
			continue
		}
		delete(c.entries, token)
		if err := e.store.Close(); err != nil {
			c.log.WarnWith("failed to close store", err, nil)
		}
	}
}

func (c *storeCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *storeCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.entries {
		delete(c.entries, token)
		if err := e.store.Close(); err != nil {
			c.log.WarnWith("failed to close store", err, nil)
		}
	}
}
