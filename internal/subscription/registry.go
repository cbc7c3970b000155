// Package subscription manages consumer subscriptions and the delivery of
// event notifications to consumer callbacks. Delivery is at-most-once per
// global id, enforced through the shared notified-events cache, with a
// circuit breaker per callback URL protecting the distributor from
// persistently failing consumers.
package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/event"
	"github.com/piwi3910/ied/internal/observability"
	"github.com/piwi3910/ied/internal/registry"
)

const defaultNotificationTimeout = 5 * time.Second

// Wildcard matches every event type.
const Wildcard = "*"

// Subscription is one consumer registration.
type Subscription struct {
	// ID is the distributor-assigned subscription id.
	ID string `json:"id"`

	// EventTypes are the types this subscription wants. Empty or containing
	// the wildcard means all types.
	EventTypes []string `json:"eventTypes"`

	// CallbackURL receives event notifications via HTTP POST.
	CallbackURL string `json:"notificationEndpoint"`

	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"createdAt"`
}

// InstallResult reports the outcome of mirroring a subscription onto one
// adapter.
type InstallResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Config holds configuration for the subscription registry.
type Config struct {
	// NotificationTimeout bounds each consumer callback POST.
	NotificationTimeout time.Duration

	// AdapterEventTypes are the types installed on adapters for each
	// consumer subscription. Defaults to the subscription's own types.
	AdapterEventTypes []string

	// AdapterMetadata is attached to subscriptions installed on adapters.
	AdapterMetadata []string

	// InternalCallbackBase is the distributor base URL; adapter-side
	// subscriptions point their notification endpoint at it.
	InternalCallbackBase string
}

// Registry holds consumer subscriptions and dispatches notifications.
//
// Subscriptions live in memory; they are cheap to re-create and the consumer
// re-subscribes on distributor restart. The notified-events set lives in the
// shared cache so sibling instances never double-notify.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	adapters   *registry.Registry
	cache      cache.Cache
	httpClient *http.Client
	config     Config
	logger     *zap.Logger

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates a subscription registry over the adapter fleet.
func NewRegistry(adapters *registry.Registry, c cache.Cache, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = defaultNotificationTimeout
	}

	return &Registry{
		subs:     make(map[string]*Subscription),
		adapters: adapters,
		cache:    c,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:   cfg,
		logger:   logger.With(zap.String("component", "subscriptions")),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Subscribe registers a consumer callback and mirrors the subscription onto
// every adapter, pointing the adapters at the distributor's internal
// notification endpoint. Each call creates an independent subscription; the
// same callback may be registered more than once.
//
// The registration is kept as long as at least one adapter accepted the
// mirrored subscription; ledgers that missed it are still covered through
// cross-ledger replication. The per-adapter install outcomes are returned so
// callers can report partial coverage.
func (r *Registry) Subscribe(ctx context.Context, eventTypes []string, callbackURL string) (*Subscription, []InstallResult, error) {
	sub := &Subscription{
		ID:          uuid.New().String(),
		EventTypes:  eventTypes,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}

	adapterTypes := r.config.AdapterEventTypes
	if len(adapterTypes) == 0 {
		adapterTypes = eventTypes
	}

	clients := r.adapters.List()
	var wg sync.WaitGroup
	errs := make([]error, len(clients))
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *adapter.Client) {
			defer wg.Done()
			req := &adapter.SubscribeRequest{
				EventTypes:           adapterTypes,
				NotificationEndpoint: r.consumerCallbackURL(),
				Metadata:             r.config.AdapterMetadata,
			}
			errs[i] = client.Subscribe(ctx, req)
		}(i, client)
	}
	wg.Wait()

	failed := 0
	results := make([]InstallResult, len(clients))
	for i, err := range errs {
		results[i] = InstallResult{Name: clients[i].Name(), Success: err == nil}
		if err != nil {
			failed++
			results[i].Error = err.Error()
			r.logger.Warn("failed to install subscription on adapter",
				zap.String("adapter", clients[i].Name()),
				zap.String("subscription_id", sub.ID),
				zap.Error(err),
			)
		}
	}
	if failed == len(clients) {
		return nil, results, fmt.Errorf("subscription could not be installed on any adapter")
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.logger.Info("subscription registered",
		zap.String("subscription_id", sub.ID),
		zap.Strings("event_types", sub.EventTypes),
		zap.String("callback", sub.CallbackURL),
		zap.Int("adapters_installed", len(clients)-failed),
	)

	return sub, results, nil
}

// consumerCallbackURL builds the distributor endpoint that adapter-side
// subscriptions deliver consumer-destined events to. Distinct from the
// per-adapter replication callback: events arriving here go to consumers,
// not to other ledgers.
func (r *Registry) consumerCallbackURL() string {
	return r.config.InternalCallbackBase + "/internal/desmosNotification"
}

// Get returns the subscription with the given id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// List returns all registered subscriptions.
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Delete removes a subscription. Adapter-side subscriptions stay installed;
// events simply stop matching the removed record.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Count returns the number of registered subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// HandleConsumerNotification delivers an adapter-originated event to every
// matching consumer callback, at most once per global id across all
// distributor instances.
//
// The notified gate is checked before any delivery and recorded after all
// deliveries settle. The mark is written even when some callbacks failed:
// a consumer that was down simply misses that event, which is preferable to
// other consumers seeing it twice. When the cache cannot answer the gate the
// whole dispatch is skipped rather than risking duplicates.
func (r *Registry) HandleConsumerNotification(ctx context.Context, ev *event.Event) error {
	globalID, err := ev.GlobalID()
	if err != nil {
		r.logger.Warn("dropping notification without global id",
			zap.String("data_location", ev.DataLocation),
			zap.Error(err),
		)
		return err
	}

	notified, err := r.cache.IsNotified(ctx, globalID)
	if err != nil {
		r.logger.Error("skipping notification dispatch, cache unavailable",
			zap.String("global_id", globalID),
			zap.Error(err),
		)
		return err
	}
	if notified {
		observability.RecordNotificationSuppressed()
		r.logger.Debug("notification already delivered", zap.String("global_id", globalID))
		return nil
	}

	matches := r.matching(ev.EventType)
	if len(matches) == 0 {
		// No mark: a subscription created later must still be able to
		// receive this event if it arrives again.
		r.logger.Debug("no subscriptions match event",
			zap.String("global_id", globalID),
			zap.String("event_type", ev.EventType),
		)
		return nil
	}

	payload, err := json.Marshal(ev.StripNetwork())
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range matches {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			if err := r.deliver(ctx, sub, payload); err != nil {
				observability.RecordNotification("failed")
				r.logger.Warn("consumer notification failed",
					zap.String("subscription_id", sub.ID),
					zap.String("callback", sub.CallbackURL),
					zap.String("global_id", globalID),
					zap.Error(err),
				)
				return
			}
			observability.RecordNotification("success")
			r.logger.Info("consumer notified",
				zap.String("subscription_id", sub.ID),
				zap.String("global_id", globalID),
			)
		}(sub)
	}
	wg.Wait()

	if err := r.cache.MarkNotified(ctx, globalID); err != nil {
		r.logger.Error("failed to mark event notified",
			zap.String("global_id", globalID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// matching returns the subscriptions interested in eventType. An empty type
// list and the wildcard both match everything.
func (r *Registry) matching(eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if subscriptionMatches(sub, eventType) {
			out = append(out, sub)
		}
	}
	return out
}

func subscriptionMatches(sub *Subscription, eventType string) bool {
	if len(sub.EventTypes) == 0 {
		return true
	}
	for _, t := range sub.EventTypes {
		if t == Wildcard || t == eventType {
			return true
		}
	}
	return false
}

// deliver POSTs the payload to one callback through its circuit breaker.
func (r *Registry) deliver(ctx context.Context, sub *Subscription, payload []byte) error {
	cb := r.getCircuitBreaker(sub.CallbackURL)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, r.post(ctx, sub.CallbackURL, payload)
	})
	return err
}

// post performs a single notification POST with the configured timeout.
func (r *Registry) post(ctx context.Context, callbackURL string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.NotificationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			r.logger.Warn("failed to drain response body", zap.Error(err))
		}
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	return nil
}

// getCircuitBreaker gets or creates the circuit breaker for a callback URL.
func (r *Registry) getCircuitBreaker(callbackURL string) *gobreaker.CircuitBreaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()

	if cb, ok := r.breakers[callbackURL]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        callbackURL,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state changed",
				zap.String("callback", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			var state float64
			switch to {
			case gobreaker.StateClosed:
				state = 0
			case gobreaker.StateHalfOpen:
				state = 1
			case gobreaker.StateOpen:
				state = 2
			}
			observability.RecordCircuitBreakerState(name, state)
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	r.breakers[callbackURL] = cb
	return cb
}

// Close releases the notification HTTP client's pooled connections.
func (r *Registry) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}
