package engine

import (
	"context"
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

// Replicator copies adapter-originated events to every ledger that does not
// hold them yet. It waits a configurable propagation delay before checking
// the cache, giving natural cross-ledger propagation and sibling distributor
// instances time to land the event first.
type Replicator struct {
	registry *registry.Registry
	cache    cache.Cache
	delay    time.Duration
	logger   *zap.Logger
}

// NewReplicator creates a replicator with the given propagation delay.
// A zero delay skips the wait entirely.
func NewReplicator(reg *registry.Registry, c cache.Cache, delay time.Duration, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicator{
		registry: reg,
		cache:    c,
		delay:    delay,
		logger:   logger.With(zap.String("component", "replicator")),
	}
}

// HandleIncoming processes one event received from sourceAdapterName.
//
// The source ledger is recorded immediately; after the propagation delay the
// cache decides which ledgers still miss the event, and only those are
// pushed. A cache outage aborts the cycle without publishing anywhere, since
// blind re-publication is worse than delayed replication: the event will be
// seen again through another adapter callback or a sibling instance.
func (r *Replicator) HandleIncoming(ctx context.Context, ev *event.Event, sourceAdapterName string) error {
	source, ok := r.registry.Get(sourceAdapterName)
	if !ok {
		observability.RecordReplication("unknown_adapter")
		return fmt.Errorf("notification from unknown adapter %q", sourceAdapterName)
	}

	globalID, err := ev.GlobalID()
	if err != nil {
		observability.RecordReplication("missing_global_id")
		r.logger.Warn("dropping adapter event without global id",
			zap.String("adapter", sourceAdapterName),
			zap.String("data_location", ev.DataLocation),
			zap.Error(err),
		)
		return err
	}

	logger := r.logger.With(
		zap.String("global_id", globalID),
		zap.String("source_adapter", sourceAdapterName),
	)

	if err := r.cache.MarkPublished(ctx, source.ChainID(), globalID); err != nil {
		logger.Warn("failed to record source ledger in cache", zap.Error(err))
	}

	if r.delay > 0 {
		logger.Debug("waiting before replication check", zap.Duration("delay", r.delay))
		select {
		case <-ctx.Done():
			observability.RecordReplication("canceled")
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}

	targets, err := r.missingTargets(ctx, globalID, source.ChainID())
	if err != nil {
		observability.RecordReplication("cache_error")
		logger.Error("aborting replication, cache unavailable", zap.Error(err))
		return err
	}

	observability.RecordReplicationTargets(sourceAdapterName, len(targets))
	if len(targets) == 0 {
		observability.RecordReplication("already_replicated")
		logger.Debug("event already present on all ledgers")
		return nil
	}

	req := outboundRequest(ev)
	r.publishToTargets(ctx, targets, req, globalID, logger)

	observability.RecordReplication("replicated")
	return nil
}

// missingTargets resolves the adapters whose ledgers do not hold globalID.
// The source chain is excluded up front; its set membership was just written.
func (r *Replicator) missingTargets(ctx context.Context, globalID, sourceChainID string) ([]*adapter.Client, error) {
	candidates := make([]string, 0, r.registry.Count())
	for _, chainID := range r.registry.ChainIDs() {
		if chainID != sourceChainID {
			candidates = append(candidates, chainID)
		}
	}

	missing, err := r.cache.MissingChains(ctx, globalID, candidates)
	if err != nil {
		return nil, err
	}

	targets := make([]*adapter.Client, 0, len(missing))
	for _, chainID := range missing {
		if client, ok := r.registry.ByChainID(chainID); ok {
			targets = append(targets, client)
		}
	}
	return targets, nil
}

// outboundRequest converts an incoming adapter event into the publish
// envelope for the remaining ledgers. The transport-only network attribute
// never crosses into another ledger.
func outboundRequest(ev *event.Event) *adapter.PublishRequest {
	clean := ev.StripNetwork()
	return &adapter.PublishRequest{
		EventType:          clean.EventType,
		DataLocation:       clean.DataLocation,
		RelevantMetadata:   clean.RelevantMetadata,
		EntityID:           clean.EntityIDHash,
		PreviousEntityHash: clean.PreviousEntityHash,
	}
}

// publishToTargets pushes the event to each missing ledger concurrently,
// recording successes in the cache. Per-target failures are logged and left
// for the next replication cycle.
func (r *Replicator) publishToTargets(ctx context.Context, targets []*adapter.Client, req *adapter.PublishRequest, globalID string, logger *zap.Logger) {
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target *adapter.Client) {
			defer wg.Done()

			start := time.Now()
			if _, err := target.Publish(ctx, req); err != nil {
				observability.RecordAdapterPublish(target.Name(), "error", time.Since(start).Seconds())
				logger.Warn("replication publish failed",
					zap.String("target_adapter", target.Name()),
					zap.Error(err),
				)
				return
			}
			observability.RecordAdapterPublish(target.Name(), "success", time.Since(start).Seconds())

			if err := r.cache.MarkPublished(ctx, target.ChainID(), globalID); err != nil {
				logger.Warn("failed to record replicated event in cache",
					zap.String("target_adapter", target.Name()),
					zap.Error(err),
				)
			}

			logger.Info("event replicated",
				zap.String("target_adapter", target.Name()),
			)
		}(target)
	}
	wg.Wait()
}

// Delay returns the configured propagation delay.
func (r *Replicator) Delay() time.Duration {
	return r.delay
}
