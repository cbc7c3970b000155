package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	// Operational endpoints.
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/stats", s.handleStats)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Consumer-facing API.
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/publishEvent", s.handlePublishEvent)
		v1.POST("/subscribe", s.handleSubscribe)
		v1.GET("/subscriptions", s.handleListSubscriptions)
		v1.DELETE("/subscriptions/:id", s.handleDeleteSubscription)
	}

	// Adapter-facing callbacks. Fire-and-forget: both acknowledge
	// immediately and process in the background.
	internal := s.router.Group("/internal")
	{
		internal.POST("/eventNotification/:adapterName", s.handleAdapterNotification)
		internal.POST("/desmosNotification", s.handleConsumerNotification)
	}
}
