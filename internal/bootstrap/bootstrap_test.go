package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/registry"
)

// fakeAdapterServer serves health and records subscribe calls.
type fakeAdapterServer struct {
	mu         sync.Mutex
	healthy    bool
	subscribes []adapter.SubscribeRequest
}

func (f *fakeAdapterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	case "/subscribe":
		var req adapter.SubscribeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.subscribes = append(f.subscribes, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAdapterServer) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func setup(t *testing.T, fakes ...*fakeAdapterServer) (*registry.Registry, *cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	clients := make([]*adapter.Client, 0, len(fakes))
	for i, f := range fakes {
		srv := httptest.NewServer(f)
		t.Cleanup(srv.Close)

		name := "adapter-" + string(rune('a'+i))
		client, err := adapter.NewClient(&adapter.ClientConfig{
			Descriptor: adapter.Descriptor{
				Name:    name,
				BaseURL: srv.URL,
				ChainID: "chain-" + string(rune('a'+i)),
			},
			Timeout:     2 * time.Second,
			MaxAttempts: 1,
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

func testConfig(strict bool) Config {
	return Config{
		Strict:     strict,
		BaseURL:    "http://ied:3000",
		EventTypes: []string{"*"},
		Metadata:   []string{"sbx"},
	}
}

func TestRunInstallsInternalSubscriptions(t *testing.T) {
	fakeA := &fakeAdapterServer{healthy: true}
	fakeB := &fakeAdapterServer{healthy: true}
	reg, c, _ := setup(t, fakeA, fakeB)

	require.NoError(t, Run(context.Background(), testConfig(true), c, reg, zap.NewNop()))

	require.Equal(t, 1, fakeA.subscribeCount())
	require.Equal(t, 1, fakeB.subscribeCount())

	installed := fakeA.subscribes[0]
	assert.Equal(t, []string{"*"}, installed.EventTypes)
	assert.Equal(t, "http://ied:3000/internal/eventNotification/adapter-a", installed.NotificationEndpoint)
	assert.Equal(t, []string{"sbx"}, installed.Metadata)
}

func TestRunStrictFailsWithoutCache(t *testing.T) {
	fake := &fakeAdapterServer{healthy: true}
	reg, c, mr := setup(t, fake)

	mr.Close()

	err := Run(context.Background(), testConfig(true), c, reg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache unavailable")
}

func TestRunStrictFailsWithoutHealthyAdapters(t *testing.T) {
	fake := &fakeAdapterServer{healthy: false}
	reg, c, _ := setup(t, fake)

	err := Run(context.Background(), testConfig(true), c, reg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no healthy adapters")
}

func TestRunDegradedContinues(t *testing.T) {
	fake := &fakeAdapterServer{healthy: false}
	reg, c, mr := setup(t, fake)

	mr.Close()

	require.NoError(t, Run(context.Background(), testConfig(false), c, reg, zap.NewNop()))

	// Internal subscriptions are still attempted.
	assert.Equal(t, 1, fake.subscribeCount())
}

func TestRunPartialHealthIsEnough(t *testing.T) {
	healthy := &fakeAdapterServer{healthy: true}
	sick := &fakeAdapterServer{healthy: false}
	reg, c, _ := setup(t, healthy, sick)

	require.NoError(t, Run(context.Background(), testConfig(true), c, reg, zap.NewNop()))
}
