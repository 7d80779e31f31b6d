package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/openbucket/internal/kvstore"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveSessions(ctx context.Context, tokens []string) ([]Session, error) {
	args := m.Called(ctx, tokens)
	list, _ := args.Get(0).([]Session)
	return list, args.Error(1)
}

func TestInitializer_NoTokensSkipsResolution(t *testing.T) {
	tokens := NewTokenStore(kvstore.NewMemory(), nil)
	registry := NewRegistry(tokens, nil)
	resolver := &mockResolver{}

	init := NewInitializer(tokens, registry, resolver, nil)
	require.NoError(t, init.EnsureInitialized(context.Background()))

	resolver.AssertNotCalled(t, "ResolveSessions", mock.Anything, mock.Anything)
	assert.True(t, init.Initialized())
	_, ok := registry.Current()
	assert.False(t, ok)
}

func TestInitializer_ExpiredTokenIsDropped(t *testing.T) {
	tokens := NewTokenStore(kvstore.NewMemory(), nil)
	tokens.StoreToken("valid")
	tokens.StoreToken("expired")
	registry := NewRegistry(tokens, nil)

	live := Session{Endpoint: "https://e1", Bucket: "photos", Token: "valid"}
	resolver := &mockResolver{}
	resolver.On("ResolveSessions", mock.Anything, []string{"valid", "expired"}).
		Return([]Session{live}, nil).Once()

	init := NewInitializer(tokens, registry, resolver, nil)
	require.NoError(t, init.EnsureInitialized(context.Background()))

	assert.Equal(t, []Session{live}, registry.Sessions())
	cur, ok := registry.Current()
	require.True(t, ok)
	assert.Equal(t, live, cur)
	assert.Equal(t, []string{"valid"}, tokens.ListTokens())
	resolver.AssertExpectations(t)
}

func TestInitializer_FailureLeavesRegistryEmpty(t *testing.T) {
	tokens := NewTokenStore(kvstore.NewMemory(), nil)
	tokens.StoreToken("t")
	registry := NewRegistry(tokens, nil)

	boom := errors.New("backend down")
	resolver := &mockResolver{}
	resolver.On("ResolveSessions", mock.Anything, mock.Anything).Return(nil, boom).Once()

	init := NewInitializer(tokens, registry, resolver, nil)
	err := init.EnsureInitialized(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, registry.Sessions())
	assert.Equal(t, []string{"t"}, tokens.ListTokens(), "tokens survive a failed resolution")

	assert.ErrorIs(t, init.EnsureInitialized(context.Background()), boom, "no automatic retry")
	resolver.AssertNumberOfCalls(t, "ResolveSessions", 1)
}

type countingResolver struct {
	calls   atomic.Int32
	release chan struct{}
	result  []Session
}

func (c *countingResolver) ResolveSessions(ctx context.Context, tokens []string) ([]Session, error) {
	c.calls.Add(1)
	<-c.release
	return c.result, nil
}

func TestInitializer_RunsOnceUnderConcurrency(t *testing.T) {
	tokens := NewTokenStore(kvstore.NewMemory(), nil)
	tokens.StoreToken("t")
	registry := NewRegistry(tokens, nil)
	resolver := &countingResolver{
		release: make(chan struct{}),
		result:  []Session{{Endpoint: "https://e", Bucket: "b", Token: "t"}},
	}
	init := NewInitializer(tokens, registry, resolver, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, init.EnsureInitialized(context.Background()))
		}()
	}
	close(resolver.release)
	wg.Wait()

	<-init.Done()
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestInitializer_DoesNotClobberLaterSwitch(t *testing.T) {
	tokens := NewTokenStore(kvstore.NewMemory(), nil)
	tokens.StoreToken("ta")
	tokens.StoreToken("tb")
	registry := NewRegistry(tokens, nil)

	a := Session{Endpoint: "https://e1", Bucket: "a", Token: "ta"}
	b := Session{Endpoint: "https://e2", Bucket: "b", Token: "tb"}
	resolver := &mockResolver{}
	resolver.On("ResolveSessions", mock.Anything, mock.Anything).Return([]Session{a, b}, nil).Once()

	init := NewInitializer(tokens, registry, resolver, nil)
	require.NoError(t, init.EnsureInitialized(context.Background()))

	registry.SetActiveSession(b)
	require.NoError(t, init.EnsureInitialized(context.Background()))

	cur, _ := registry.Current()
	assert.Equal(t, b, cur)
}
