package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/event"
	"github.com/piwi3910/ied/internal/registry"
)

// fakeAdapter is one httptest-backed ledger adapter.
type fakeAdapter struct {
	name    string
	chainID string
	handler http.HandlerFunc
}

// setupFleet builds a registry over httptest adapters plus a miniredis cache.
func setupFleet(t *testing.T, fakes []fakeAdapter) (*registry.Registry, *cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	clients := make([]*adapter.Client, 0, len(fakes))
	for _, f := range fakes {
		srv := httptest.NewServer(f.handler)
		t.Cleanup(srv.Close)

		client, err := adapter.NewClient(&adapter.ClientConfig{
			Descriptor: adapter.Descriptor{
				Name:    f.name,
				BaseURL: srv.URL,
				ChainID: f.chainID,
			},
			Timeout:     2 * time.Second,
			MaxAttempts: 1,
			RetryDelay:  time.Millisecond,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		clients = append(clients, client)
	}

	reg, err := registry.New(zap.NewNop(), clients)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	c := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = c.Close() })

	return reg, c, mr
}

func acceptPublish(timestamp int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"timestamp":` + timestampString(timestamp) + `}`))
	}
}

func rejectPublish(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

func timestampString(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

var testRequest = &adapter.PublishRequest{
	EventType:          "data.created",
	DataLocation:       "https://data.example.com/doc?hl=gid-1",
	EntityID:           "0xentity",
	PreviousEntityHash: "0xprev",
}

func TestPublishToAllSuccess(t *testing.T) {
	reg, c, _ := setupFleet(t, []fakeAdapter{
		{name: "alpha", chainID: "chain-a", handler: acceptPublish(100)},
		{name: "beta", chainID: "chain-b", handler: acceptPublish(200)},
	})

	p := NewPublisher(reg, c, zap.NewNop())
	summary, err := p.PublishToAll(context.Background(), testRequest)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, "gid-1", summary.GlobalID)
	require.Len(t, summary.Adapters, 2)
	for _, r := range summary.Adapters {
		assert.True(t, r.Success)
	}

	// Both chains hold the event.
	for _, chainID := range []string{"chain-a", "chain-b"} {
		onChain, err := c.IsOnChain(context.Background(), chainID, "gid-1")
		require.NoError(t, err)
		assert.True(t, onChain, chainID)
	}
}

func TestPublishToAllPartialSuccess(t *testing.T) {
	reg, c, _ := setupFleet(t, []fakeAdapter{
		{name: "alpha", chainID: "chain-a", handler: rejectPublish(http.StatusInternalServerError)},
		{name: "beta", chainID: "chain-b", handler: acceptPublish(200)},
	})

	p := NewPublisher(reg, c, zap.NewNop())
	summary, err := p.PublishToAll(context.Background(), testRequest)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, int64(200), summary.Timestamp)

	byName := map[string]adapter.PublishResult{}
	for _, r := range summary.Adapters {
		byName[r.Name] = r
	}
	assert.False(t, byName["alpha"].Success)
	assert.NotEmpty(t, byName["alpha"].Error)
	assert.True(t, byName["beta"].Success)

	// Only the accepting chain is cached.
	onChain, err := c.IsOnChain(context.Background(), "chain-a", "gid-1")
	require.NoError(t, err)
	assert.False(t, onChain)

	onChain, err = c.IsOnChain(context.Background(), "chain-b", "gid-1")
	require.NoError(t, err)
	assert.True(t, onChain)
}

func TestPublishToAllTotalFailure(t *testing.T) {
	reg, c, _ := setupFleet(t, []fakeAdapter{
		{name: "alpha", chainID: "chain-a", handler: rejectPublish(http.StatusBadRequest)},
		{name: "beta", chainID: "chain-b", handler: rejectPublish(http.StatusServiceUnavailable)},
	})

	p := NewPublisher(reg, c, zap.NewNop())
	summary, err := p.PublishToAll(context.Background(), testRequest)
	require.ErrorIs(t, err, ErrAllAdaptersFailed)

	require.NotNil(t, summary)
	assert.False(t, summary.Success)
	for _, r := range summary.Adapters {
		assert.False(t, r.Success)
	}
}

func TestPublishToAllMissingGlobalID(t *testing.T) {
	reg, c, _ := setupFleet(t, []fakeAdapter{
		{name: "alpha", chainID: "chain-a", handler: acceptPublish(1)},
	})

	p := NewPublisher(reg, c, zap.NewNop())
	_, err := p.PublishToAll(context.Background(), &adapter.PublishRequest{
		EventType:          "data.created",
		DataLocation:       "https://data.example.com/doc",
		EntityID:           "0xentity",
		PreviousEntityHash: "0xprev",
	})
	require.ErrorIs(t, err, event.ErrMissingGlobalID)
}
