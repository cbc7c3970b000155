// Package engine implements the distribution core: the fan-out publisher for
// consumer-originated events and the replicator for adapter-originated
// events. Both operate on the shared cache so that sibling distributor
// instances converge on the same view of which ledgers hold which events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/event"
	"github.com/piwi3910/ied/internal/observability"
	"github.com/piwi3910/ied/internal/registry"
)

// ErrAllAdaptersFailed is returned when no adapter accepted the event.
var ErrAllAdaptersFailed = errors.New("all adapters failed to publish event")

// PublishSummary is the aggregate outcome of a fan-out publish.
type PublishSummary struct {
	// Success reports whether at least one adapter accepted the event.
	Success bool `json:"success"`

	// Timestamp is the ledger timestamp of the first successful adapter.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Adapters holds the per-adapter outcomes, in configuration order.
	Adapters []adapter.PublishResult `json:"adapters"`

	// GlobalID is the event's global id, extracted from its data location.
	GlobalID string `json:"-"`
}

// Publisher fans a consumer publish request out to every configured adapter.
type Publisher struct {
	registry *registry.Registry
	cache    cache.Cache
	logger   *zap.Logger
}

// NewPublisher creates a publisher over the given adapter fleet and cache.
func NewPublisher(reg *registry.Registry, c cache.Cache, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		registry: reg,
		cache:    c,
		logger:   logger.With(zap.String("component", "publisher")),
	}
}

// PublishToAll sends the event to every adapter concurrently and returns the
// aggregated outcome. Partial success is success: as long as one adapter
// accepts the event, the replication engine brings the rest up to date later.
// Returns ErrAllAdaptersFailed when no adapter accepted it.
func (p *Publisher) PublishToAll(ctx context.Context, req *adapter.PublishRequest) (*PublishSummary, error) {
	globalID, err := event.ExtractGlobalID(req.DataLocation)
	if err != nil {
		return nil, fmt.Errorf("cannot publish: %w", err)
	}

	clients := p.registry.List()
	results := make([]adapter.PublishResult, len(clients))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *adapter.Client) {
			defer wg.Done()
			results[i] = p.publishOne(ctx, client, req, globalID)
		}(i, client)
	}
	wg.Wait()

	summary := &PublishSummary{
		Adapters: results,
		GlobalID: globalID,
	}
	for _, r := range results {
		if r.Success {
			summary.Success = true
			summary.Timestamp = r.Timestamp
			break
		}
	}

	if !summary.Success {
		p.logger.Error("event rejected by every adapter",
			zap.String("global_id", globalID),
			zap.String("event_type", req.EventType),
		)
		return summary, ErrAllAdaptersFailed
	}

	p.logger.Info("event published",
		zap.String("global_id", globalID),
		zap.String("event_type", req.EventType),
		zap.Int("adapters", len(results)),
		zap.Int("succeeded", countSuccesses(results)),
	)

	return summary, nil
}

// publishOne sends the request to a single adapter and records the accepted
// event in the cache. A cache write failure does not undo the publish; the
// replicator re-converges through idempotent set adds.
func (p *Publisher) publishOne(ctx context.Context, client *adapter.Client, req *adapter.PublishRequest, globalID string) adapter.PublishResult {
	start := time.Now()
	resp, err := client.Publish(ctx, req)
	if err != nil {
		observability.RecordAdapterPublish(client.Name(), "error", time.Since(start).Seconds())
		p.logger.Warn("adapter publish failed",
			zap.String("adapter", client.Name()),
			zap.String("global_id", globalID),
			zap.Error(err),
		)
		return adapter.PublishResult{
			Name:    client.Name(),
			Success: false,
			Error:   err.Error(),
		}
	}
	observability.RecordAdapterPublish(client.Name(), "success", time.Since(start).Seconds())

	if err := p.cache.MarkPublished(ctx, client.ChainID(), globalID); err != nil {
		p.logger.Warn("failed to record published event in cache",
			zap.String("adapter", client.Name()),
			zap.String("chain_id", client.ChainID()),
			zap.String("global_id", globalID),
			zap.Error(err),
		)
	}

	return adapter.PublishResult{
		Name:      client.Name(),
		Success:   true,
		Timestamp: resp.Timestamp,
	}
}

func countSuccesses(results []adapter.PublishResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
