// Package cache provides the cross-ledger event cache backing the
// distributor engine. It tracks which global ids are known to exist on each
// ledger and which global ids the consumer has already been notified for.
//
// The cache is a pluggable set-backed store; RedisCache is the production
// implementation. Sibling distributor instances share the same cache state
// and cooperate purely through idempotent set membership.
package cache

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the cache backend could not be reached.
// Callers fail the operation the cache is protecting rather than proceed
// with stale knowledge.
var ErrUnavailable = errors.New("cache unavailable")

// Stats reports per-chain published-event cardinalities and the size of the
// notified-events set.
type Stats struct {
	PublishedEvents map[string]int64 `json:"publishedEvents"`
	NotifiedEvents  int64            `json:"notifiedEvents"`
}

// Cache is the set-backed store used by the publisher, the replicator, and
// the subscription registry.
//
// All mutations are idempotent: re-adding an existing id is a no-op, not an
// error. An entry for (chainID, globalID) exists if and only if the
// distributor has observed that the ledger accepted the event.
type Cache interface {
	// MarkPublished records that globalID is known to exist on chainID.
	MarkPublished(ctx context.Context, chainID, globalID string) error

	// IsOnChain reports whether globalID is known to exist on chainID.
	IsOnChain(ctx context.Context, chainID, globalID string) (bool, error)

	// MissingChains returns every chain id in chainIDs for which globalID
	// is not known to exist. It must tolerate concurrent writes from
	// sibling distributor instances.
	MissingChains(ctx context.Context, globalID string, chainIDs []string) ([]string, error)

	// MarkNotified records that the consumer has been notified for globalID.
	MarkNotified(ctx context.Context, globalID string) error

	// IsNotified reports whether the consumer was already notified for
	// globalID.
	IsNotified(ctx context.Context, globalID string) (bool, error)

	// Stats returns cardinalities for the given chain ids and the
	// notified-events set.
	Stats(ctx context.Context, chainIDs []string) (*Stats, error)

	// Ping checks backend availability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
