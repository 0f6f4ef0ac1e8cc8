package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/modules/modulemanager"
	"github.com/mantonx/eraser/internal/server/handlers"
)

// setupRoutes configures the system routes, then lets modules add theirs.
func setupRoutes(r *gin.Engine, registry *modulemanager.ModuleRegistry) {
	api := r.Group("/api")
	{
		setupHealthRoutes(api, registry)
		api.GET("", handlers.RouteListing(r))
	}

	registry.RegisterRoutes(r)
}

// setupHealthRoutes configures health check and status endpoints
func setupHealthRoutes(api *gin.RouterGroup, registry *modulemanager.ModuleRegistry) {
	api.GET("/health", handlers.HealthCheck(registry))
	api.GET("/db-status", handlers.DBStatus(database.GetDB))
}
