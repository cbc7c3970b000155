package adapter

// Descriptor identifies one configured ledger adapter.
//
// ChainID is the stable cache-key suffix for the adapter's ledger. When it
// is not configured the adapter name is used instead; cache layout must stay
// stable across restarts even if names change, so a real chain id is
// preferred.
type Descriptor struct {
	// Name is the unique, stable adapter name.
	Name string

	// BaseURL is the adapter's HTTP endpoint.
	BaseURL string

	// ChainID is the stable ledger identifier used as the cache key suffix.
	ChainID string

	// PublishPath is the publish endpoint path (default "/publish").
	PublishPath string

	// SubscribePath is the subscribe endpoint path (default "/subscribe").
	SubscribePath string

	// HealthPath is the health endpoint path (default "/health").
	HealthPath string
}

// CacheKey returns the chain id used for cache keying, falling back to the
// adapter name when no chain id is configured.
func (d Descriptor) CacheKey() string {
	if d.ChainID != "" {
		return d.ChainID
	}
	return d.Name
}

// PublishRequest is the envelope sent to an adapter's publish endpoint.
// The body forwarded to each adapter is identical to the consumer's request;
// the global id travels inside DataLocation exactly as received.
type PublishRequest struct {
	EventType          string   `json:"eventType" binding:"required"`
	DataLocation       string   `json:"dataLocation" binding:"required,url"`
	RelevantMetadata   []string `json:"relevantMetadata"`
	EntityID           string   `json:"entityId" binding:"required"`
	PreviousEntityHash string   `json:"previousEntityHash" binding:"required"`
	Iss                string   `json:"iss,omitempty"`
	RPCAddress         string   `json:"rpcAddress,omitempty"`
}

// PublishResponse is the adapter's reply to a publish call.
type PublishResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// SubscribeRequest is the envelope sent to an adapter's subscribe endpoint.
type SubscribeRequest struct {
	EventTypes           []string `json:"eventTypes"`
	NotificationEndpoint string   `json:"notificationEndpoint"`
	Metadata             []string `json:"metadata,omitempty"`
}

// SubscriptionInfo describes one subscription installed on an adapter.
// Returned by ListSubscriptions as a diagnostic.
type SubscriptionInfo struct {
	ID                   string   `json:"id,omitempty"`
	EventTypes           []string `json:"eventTypes,omitempty"`
	NotificationEndpoint string   `json:"notificationEndpoint,omitempty"`
}

// PublishResult is the per-adapter outcome of a fan-out operation. Adapter
// calls never panic or throw into the caller's control flow; failures are
// reported through Success=false and Error.
type PublishResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// healthResponse is the adapter health endpoint body.
type healthResponse struct {
	Status string `json:"status"`
}
