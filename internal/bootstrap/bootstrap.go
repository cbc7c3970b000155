// Package bootstrap runs the startup sequence of the distributor: verifying
// the cache backend, probing adapter health, and installing the internal
// wildcard subscriptions that feed the replication engine.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/observability"
	"github.com/piwi3910/ied/internal/registry"
)

// Config holds bootstrap settings.
type Config struct {
	// Strict makes cache and adapter failures fatal. Production runs
	// strict; development degrades with warnings.
	Strict bool

	// BaseURL is the distributor base URL for internal callbacks.
	BaseURL string

	// EventTypes are installed in the internal adapter subscriptions.
	EventTypes []string

	// Metadata is attached to the internal adapter subscriptions.
	Metadata []string
}

// Run executes the startup sequence. In strict mode any failure aborts
// startup; otherwise failures are logged and startup continues degraded,
// since adapters may come up after the distributor does.
func Run(ctx context.Context, cfg Config, c cache.Cache, reg *registry.Registry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "bootstrap"))

	if err := c.Ping(ctx); err != nil {
		if cfg.Strict {
			return fmt.Errorf("cache unavailable at startup: %w", err)
		}
		logger.Warn("cache unavailable at startup, continuing degraded", zap.Error(err))
	}

	healthy := checkAdapters(ctx, reg, logger)
	if healthy == 0 {
		if cfg.Strict {
			return fmt.Errorf("no healthy adapters at startup")
		}
		logger.Warn("no healthy adapters at startup, continuing degraded")
	}

	installInternalSubscriptions(ctx, cfg, reg, logger)

	logger.Info("bootstrap complete",
		zap.Int("adapters", reg.Count()),
		zap.Int("healthy", healthy),
	)

	return nil
}

// checkAdapters probes every adapter concurrently and returns the healthy
// count.
func checkAdapters(ctx context.Context, reg *registry.Registry, logger *zap.Logger) int {
	clients := reg.List()
	results := make([]bool, len(clients))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *adapter.Client) {
			defer wg.Done()
			err := client.HealthCheck(ctx)
			results[i] = err == nil
			observability.RecordAdapterHealth(client.Name(), err == nil)
			if err != nil {
				logger.Warn("adapter unhealthy at startup",
					zap.String("adapter", client.Name()),
					zap.Error(err),
				)
			}
		}(i, client)
	}
	wg.Wait()

	healthy := 0
	for _, ok := range results {
		if ok {
			healthy++
		}
	}
	return healthy
}

// installInternalSubscriptions subscribes the distributor itself to every
// adapter so that ledger events flow back through the replication engine.
// Per-adapter failures are logged only; an adapter without the internal
// subscription sends nothing, and its ledger is still converged through
// events arriving from the others.
func installInternalSubscriptions(ctx context.Context, cfg Config, reg *registry.Registry, logger *zap.Logger) {
	var wg sync.WaitGroup
	for _, client := range reg.List() {
		wg.Add(1)
		go func(client *adapter.Client) {
			defer wg.Done()

			req := &adapter.SubscribeRequest{
				EventTypes:           cfg.EventTypes,
				NotificationEndpoint: cfg.BaseURL + "/internal/eventNotification/" + client.Name(),
				Metadata:             cfg.Metadata,
			}
			if err := client.Subscribe(ctx, req); err != nil {
				logger.Warn("failed to install internal subscription",
					zap.String("adapter", client.Name()),
					zap.Error(err),
				)
				return
			}
			logger.Info("internal subscription installed",
				zap.String("adapter", client.Name()),
				zap.Strings("event_types", cfg.EventTypes),
			)
		}(client)
	}
	wg.Wait()
}
