// Package handlers holds the system-level HTTP handlers.
package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/modules/modulemanager"
)

// HealthCheck aggregates module health. Any unhealthy module makes the
// service unhealthy and answers 503; a degraded one still answers 200.
func HealthCheck(registry *modulemanager.ModuleRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		modules := registry.Health(c.Request.Context())

		overall := modulemanager.HealthStateHealthy
		for _, status := range modules {
			switch status.Status {
			case modulemanager.HealthStateUnhealthy:
				overall = modulemanager.HealthStateUnhealthy
			case modulemanager.HealthStateDegraded, modulemanager.HealthStateUnknown:
				if overall == modulemanager.HealthStateHealthy {
					overall = modulemanager.HealthStateDegraded
				}
			}
		}

		code := http.StatusOK
		if overall == modulemanager.HealthStateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  overall,
			"service": "eraser",
			"modules": modules,
			"time":    time.Now().UTC(),
		})
	}
}

// DBStatus pings the history database.
func DBStatus(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := getDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "disabled",
			})
			return
		}
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "error",
				"error":  "Failed to get database instance: " + err.Error(),
			})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "Database ping failed: " + err.Error(),
			})
			return
		}

		stats := sqlDB.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":           "connected",
			"dialect":          db.Dialector.Name(),
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		})
	}
}

// APIRoute is one entry of the route listing.
type APIRoute struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// RouteListing lists every registered route.
func RouteListing(r *gin.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		routes := make([]APIRoute, 0)
		for _, info := range r.Routes() {
			routes = append(routes, APIRoute{Path: info.Path, Method: info.Method})
		}
		sort.Slice(routes, func(i, j int) bool {
			if routes[i].Path != routes[j].Path {
				return routes[i].Path < routes[j].Path
			}
			return routes[i].Method < routes[j].Method
		})
		c.JSON(http.StatusOK, gin.H{"routes": routes, "count": len(routes)})
	}
}
