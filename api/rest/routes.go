// Package rest is the thin HTTP surface over the orchestrator described in
// spec.md §1 as an explicitly non-core collaborator: every route either
// submits a Request and returns its ActionId, or streams the orchestrator's
// response fan-out.
package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/customeros/mailstack/api/rest/handlers"
	"github.com/customeros/mailstack/internal/orchestrator"
)

// RegisterRoutes mounts the health check and every orchestrator-backed
// endpoint onto router, guarding the orchestrator routes with apiKey.
func RegisterRoutes(router *gin.Engine, o *orchestrator.Orchestrator, apiKey string) {
	router.GET("/health", handlers.HealthCheck)

	authorized := router.Group("/")
	authorized.Use(requireAPIKey(apiKey))
	{
		authorized.GET("/events", handlers.Events(o))

		authorized.POST("/accounts/:accountId/folders/list", handlers.RetrieveFolderList(o))
		authorized.POST("/accounts/:accountId/messages/list", handlers.RetrieveMessageList(o))
		authorized.POST("/accounts/:accountId/synchronize", handlers.Synchronize(o))
		authorized.POST("/accounts/:accountId/messages/transmit", handlers.TransmitMessages(o))
		authorized.POST("/accounts/:accountId/messages/flags", handlers.FlagMessages(o))

		authorized.DELETE("/actions/:actionId", handlers.CancelAction(o))
	}
}

func requireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey != "" && c.GetHeader("X-Api-Key") != apiKey {
			c.AbortWithStatusJSON(401, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
