package session

import (
	"context"
	"sync"

	"github.com/koustreak/openbucket/internal/logger"
)

// Resolver turns opaque tokens into session records. Tokens the backend no
// longer accepts are simply missing from the result.
type Resolver interface {
	ResolveSessions(ctx context.Context, tokens []string) ([]Session, error)
}

// Initializer runs the startup resolution exactly once per process. Running
// it again would reset the active session and clobber a switch the user made
// in the meantime, so later calls only observe the first outcome.
type Initializer struct {
	tokens   *TokenStore
	registry *Registry
	resolver Resolver
	log      *logger.Logger

	once sync.Once
	done chan struct{}
	err  error
}

// NewInitializer wires the workflow to its collaborators.
func NewInitializer(tokens *TokenStore, registry *Registry, resolver Resolver, log *logger.Logger) *Initializer {
	return &Initializer{
		tokens:   tokens,
		registry: registry,
		resolver: resolver,
		log:      logger.OrNop(log).Component("session-init"),
		done:     make(chan struct{}),
	}
}

// EnsureInitialized resolves the stored tokens and populates the registry.
// The first call does the work; concurrent callers wait for it and every
// caller gets the same error. A failure leaves the registry empty and is not
// retried.
func (i *Initializer) EnsureInitialized(ctx context.Context) error {
	i.once.Do(func() {
		defer close(i.done)
		i.err = i.run(ctx)
	})
	return i.err
}

// Done is closed once the first run has finished, successfully or not.
func (i *Initializer) Done() <-chan struct{} {
	return i.done
}

// Initialized reports whether the first run has finished.
func (i *Initializer) Initialized() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

func (i *Initializer) run(ctx context.Context) error {
	tokens := i.tokens.ListTokens()
	if len(tokens) == 0 {
		i.log.Debug("no stored sessions")
		return nil
	}

	resolved, err := i.resolver.ResolveSessions(ctx, tokens)
	if err != nil {
		i.log.ErrorWith("failed to resolve stored sessions", err, map[string]interface{}{
			"tokens": len(tokens),
		})
		return err
	}

	i.registry.SetSessions(resolved)
	i.log.InfoWith("sessions restored", map[string]interface{}{
		"stored":   len(tokens),
		"resolved": len(resolved),
	})
	return nil
}
