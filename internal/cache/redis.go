package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key layout. All values are global ids stored as strings.
	publishedKeyPrefix = "publishedEvents:"
	notifiedKey        = "notifiedEvents"
)

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password for Redis authentication.
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration

	// PoolSize is the maximum number of socket connections.
	PoolSize int
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisCache implements the Cache interface on Redis sets.
//
// Data model:
//   - publishedEvents:<chainId> (set) - global ids accepted by that ledger
//   - notifiedEvents (set)            - global ids delivered to the consumer
//
// Concurrent SADD from sibling distributor instances is safe; the set
// remains consistent regardless of interleaving.
type RedisCache struct {
	client redis.UniversalClient
	config *RedisConfig
}

// NewRedisCache creates a new RedisCache instance.
func NewRedisCache(cfg *RedisConfig) *RedisCache {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	return &RedisCache{
		client: client,
		config: cfg,
	}
}

// publishedKey returns the set key for a chain id.
func publishedKey(chainID string) string {
	return publishedKeyPrefix + chainID
}

// MarkPublished records that globalID exists on chainID. Idempotent set-add.
func (c *RedisCache) MarkPublished(ctx context.Context, chainID, globalID string) error {
	if err := c.client.SAdd(ctx, publishedKey(chainID), globalID).Err(); err != nil {
		return fmt.Errorf("%w: failed to mark %s published on %s: %v", ErrUnavailable, globalID, chainID, err)
	}
	return nil
}

// IsOnChain reports whether globalID is a member of the chain's set.
func (c *RedisCache) IsOnChain(ctx context.Context, chainID, globalID string) (bool, error) {
	member, err := c.client.SIsMember(ctx, publishedKey(chainID), globalID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to check %s on %s: %v", ErrUnavailable, globalID, chainID, err)
	}
	return member, nil
}

// MissingChains returns every chain id in chainIDs whose set does not
// contain globalID. The membership checks are pipelined but independent;
// concurrent writers may shrink the result between check and use, which the
// engine tolerates through the set-add idempotence.
func (c *RedisCache) MissingChains(ctx context.Context, globalID string, chainIDs []string) ([]string, error) {
	if len(chainIDs) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(chainIDs))
	for i, chainID := range chainIDs {
		cmds[i] = pipe.SIsMember(ctx, publishedKey(chainID), globalID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to compute missing chains for %s: %v", ErrUnavailable, globalID, err)
	}

	missing := make([]string, 0, len(chainIDs))
	for i, cmd := range cmds {
		if !cmd.Val() {
			missing = append(missing, chainIDs[i])
		}
	}

	return missing, nil
}

// MarkNotified records that the consumer has been notified for globalID.
func (c *RedisCache) MarkNotified(ctx context.Context, globalID string) error {
	if err := c.client.SAdd(ctx, notifiedKey, globalID).Err(); err != nil {
		return fmt.Errorf("%w: failed to mark %s notified: %v", ErrUnavailable, globalID, err)
	}
	return nil
}

// IsNotified reports whether the consumer was already notified for globalID.
func (c *RedisCache) IsNotified(ctx context.Context, globalID string) (bool, error) {
	member, err := c.client.SIsMember(ctx, notifiedKey, globalID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to check notified for %s: %v", ErrUnavailable, globalID, err)
	}
	return member, nil
}

// Stats returns per-chain cardinalities and the notified-events set size.
func (c *RedisCache) Stats(ctx context.Context, chainIDs []string) (*Stats, error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(chainIDs))
	for i, chainID := range chainIDs {
		cmds[i] = pipe.SCard(ctx, publishedKey(chainID))
	}
	notifiedCmd := pipe.SCard(ctx, notifiedKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to collect stats: %v", ErrUnavailable, err)
	}

	stats := &Stats{
		PublishedEvents: make(map[string]int64, len(chainIDs)),
		NotifiedEvents:  notifiedCmd.Val(),
	}
	for i, chainID := range chainIDs {
		stats.PublishedEvents[chainID] = cmds[i].Val()
	}

	return stats, nil
}

// Ping checks if Redis is available.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection and releases resources.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
