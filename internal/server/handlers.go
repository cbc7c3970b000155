package server

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
	"github.com/piwi3910/ied/internal/engine"
	"github.com/piwi3910/ied/internal/event"
)

// errorBody builds the standard error response envelope.
func errorBody(code, message string, details interface{}) gin.H {
	body := gin.H{
		"error":     code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		body["details"] = details
	}
	return body
}

// handlePublishEvent fans a consumer event out to every adapter.
// 201 on at least one accepting adapter, 400 on malformed input, 500 when
// every adapter rejected or the data location carries no global id.
func (s *Server) handlePublishEvent(c *gin.Context) {
	var req adapter.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid publish request", err.Error()))
		return
	}
	if !event.ValidBytes32Hex(req.EntityID) {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid publish request", "entityId must be 0x followed by 64 hex characters"))
		return
	}
	if !event.ValidBytes32Hex(req.PreviousEntityHash) {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid publish request", "previousEntityHash must be 0x followed by 64 hex characters"))
		return
	}

	summary, err := s.publisher.PublishToAll(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, event.ErrMissingGlobalID) {
			c.JSON(http.StatusInternalServerError, errorBody("missing_global_id", "Data location carries no global id", err.Error()))
			return
		}
		if errors.Is(err, engine.ErrAllAdaptersFailed) {
			c.JSON(http.StatusInternalServerError, errorBody("publish_failed", "No adapter accepted the event", summary.Adapters))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("publish_failed", "Failed to publish event", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, summary)
}

// subscribeRequest is the consumer subscription payload.
type subscribeRequest struct {
	EventTypes           []string `json:"eventTypes" binding:"required,min=1"`
	NotificationEndpoint string   `json:"notificationEndpoint" binding:"required,url"`
}

// handleSubscribe registers a consumer callback for matching event types.
func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid subscribe request", err.Error()))
		return
	}

	sub, results, err := s.subscriptions.Subscribe(c.Request.Context(), req.EventTypes, req.NotificationEndpoint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("subscribe_failed", "Failed to install subscription", results))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscriptionId": sub.ID,
		"message":        "Subscription created",
		"adapters":       results,
	})
}

// handleListSubscriptions returns the registered subscriptions.
func (s *Server) handleListSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, s.subscriptions.List())
}

// handleDeleteSubscription removes a subscription by id.
func (s *Server) handleDeleteSubscription(c *gin.Context) {
	id := c.Param("id")
	if !s.subscriptions.Delete(id) {
		c.JSON(http.StatusNotFound, errorBody("not_found", "Subscription not found", nil))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAdapterNotification receives an event from one adapter and hands it
// to the replication engine. The adapter is acknowledged immediately;
// replication outcome never reaches it.
func (s *Server) handleAdapterNotification(c *gin.Context) {
	adapterName := c.Param("adapterName")

	body, err := c.GetRawData()
	if err != nil {
		s.logger.Warn("failed to read adapter notification body",
			zap.String("adapter", adapterName),
			zap.Error(err),
		)
		c.Status(http.StatusOK)
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		s.logger.Warn("failed to decode adapter notification",
			zap.String("adapter", adapterName),
			zap.Error(err),
		)
		c.Status(http.StatusOK)
		return
	}

	c.Status(http.StatusOK)

	go func() {
		if err := s.replicator.HandleIncoming(s.baseCtx, ev, adapterName); err != nil {
			s.logger.Warn("replication failed",
				zap.String("adapter", adapterName),
				zap.Error(err),
			)
		}
	}()
}

// handleConsumerNotification receives an event destined for the consumer and
// dispatches it to matching subscriptions in the background.
func (s *Server) handleConsumerNotification(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.logger.Warn("failed to read consumer notification body", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		s.logger.Warn("failed to decode consumer notification", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	c.Status(http.StatusOK)

	go func() {
		if err := s.subscriptions.HandleConsumerNotification(s.baseCtx, ev); err != nil {
			s.logger.Warn("consumer notification dispatch failed", zap.Error(err))
		}
	}()
}

// handleHealth reports liveness plus per-component status. 200 only when
// every component is up; a degraded cache or adapter turns the response into
// a 503 so load balancers can drain the instance.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	status := "UP"
	redisStatus := "UP"
	if err := s.cache.Ping(ctx); err != nil {
		status = "DEGRADED"
		redisStatus = "DOWN"
	}

	healthy := 0
	adapters := make([]gin.H, 0, s.adapters.Count())
	for _, client := range s.adapters.List() {
		adapterStatus := "UP"
		if err := client.HealthCheck(ctx); err != nil {
			status = "DEGRADED"
			adapterStatus = "DOWN"
		} else {
			healthy++
		}
		adapters = append(adapters, gin.H{"name": client.Name(), "status": adapterStatus})
	}
	if redisStatus == "DOWN" && healthy == 0 {
		status = "DOWN"
	}

	code := http.StatusOK
	if status != "UP" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":        status,
		"redis":         redisStatus,
		"adapters":      adapters,
		"subscriptions": s.subscriptions.Count(),
	})
}

// handleReady reports readiness: the cache must answer and at least one
// adapter must be healthy. Without the cache the idempotence and notification
// gates cannot hold; without any adapter nothing can be published.
func (s *Server) handleReady(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "NOT_READY",
			"error":  err.Error(),
		})
		return
	}

	anyHealthy := false
	for _, client := range s.adapters.List() {
		if client.HealthCheck(ctx) == nil {
			anyHealthy = true
			break
		}
	}
	if !anyHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "NOT_READY",
			"error":  "no healthy adapters",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "READY"})
}

// handleStats reports runtime and distribution statistics.
func (s *Server) handleStats(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := gin.H{
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
		"memory": gin.H{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"numGC":      mem.NumGC,
		},
		"adapters":      s.adapters.Names(),
		"subscriptions": s.subscriptions.Count(),
	}

	if cacheStats, err := s.cache.Stats(c.Request.Context(), s.adapters.ChainIDs()); err != nil {
		s.logger.Warn("failed to collect cache stats", zap.Error(err))
		stats["cache"] = gin.H{"error": err.Error()}
	} else {
		stats["cache"] = cacheStats
	}

	c.JSON(http.StatusOK, stats)
}
