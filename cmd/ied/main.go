// Command ied runs the interchain event distributor: the HTTP broker that
// keeps a logical event stream consistent across the configured ledger
// adapters and notifies subscribed consumers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/bootstrap"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/config"
	"github.com/piwi3910/ied/internal/engine"
	"github.com/piwi3910/ied/internal/observability"
	"github.com/piwi3910/ied/internal/registry"
	"github.com/piwi3910/ied/internal/server"
	"github.com/piwi3910/ied/internal/subscription"
)

const bootstrapTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ied: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting interchain event distributor",
		zap.Int("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Int("adapters", len(cfg.Adapters)),
		zap.Duration("replication_delay", cfg.ReplicationDelay),
	)

	srv, cleanup, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return srv.Start()
}

// initializeComponents wires the cache, the adapter fleet, the distribution
// engine, and the HTTP server. The returned cleanup closes everything in
// reverse order.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*server.Server, func(), error) {
	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Addr = cfg.Redis.Addr()
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	c := cache.NewRedisCache(redisCfg)

	clients, err := buildAdapterClients(cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	reg, err := registry.New(logger, clients)
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("failed to build adapter registry: %w", err)
	}

	publisher := engine.NewPublisher(reg, c, logger)
	replicator := engine.NewReplicator(reg, c, cfg.ReplicationDelay, logger)

	subs := subscription.NewRegistry(reg, c, subscription.Config{
		NotificationTimeout:  cfg.NotificationTimeout,
		AdapterEventTypes:    cfg.InternalSubscriptionEventTypes,
		AdapterMetadata:      cfg.InternalSubscriptionMetadata,
		InternalCallbackBase: cfg.BaseURL,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	err = bootstrap.Run(ctx, bootstrap.Config{
		Strict:     cfg.IsProduction(),
		BaseURL:    cfg.BaseURL,
		EventTypes: cfg.InternalSubscriptionEventTypes,
		Metadata:   cfg.InternalSubscriptionMetadata,
	}, c, reg, logger)
	if err != nil {
		_ = reg.Close()
		_ = c.Close()
		return nil, nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	srv := server.New(cfg, logger, c, reg, publisher, replicator, subs)

	cleanup := func() {
		if err := subs.Close(); err != nil {
			logger.Warn("error closing subscription registry", zap.Error(err))
		}
		if err := reg.Close(); err != nil {
			logger.Warn("error closing adapter registry", zap.Error(err))
		}
		if err := c.Close(); err != nil {
			logger.Warn("error closing cache", zap.Error(err))
		}
	}

	return srv, cleanup, nil
}

// buildAdapterClients creates an HTTP client per configured adapter.
func buildAdapterClients(cfg *config.Config, logger *zap.Logger) ([]*adapter.Client, error) {
	clients := make([]*adapter.Client, 0, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		client, err := adapter.NewClient(&adapter.ClientConfig{
			Descriptor: adapter.Descriptor{
				Name:    a.Name,
				BaseURL: a.URL,
				ChainID: a.ChainID,
			},
			Timeout:     cfg.AdapterTimeout,
			MaxAttempts: cfg.MaxRetryAttempts,
			RetryDelay:  cfg.RetryDelay,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create adapter client %q: %w", a.Name, err)
		}
		clients = append(clients, client)
	}
	return clients, nil
}
