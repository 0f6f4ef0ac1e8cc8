// Package server assembles the gin router: shared middleware, the health
// routes and every loaded module's routes.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/logger"
	"github.com/mantonx/eraser/internal/middleware"
	"github.com/mantonx/eraser/internal/modules/modulemanager"
)

// SetupRouter configures and returns the main router. Modules in registry
// must already be loaded.
func SetupRouter(cfg *config.Config, registry *modulemanager.ModuleRegistry) *gin.Engine {
	r := gin.New()

	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			logger.Warn("Invalid trusted proxies", "error", err)
		}
	} else if err := r.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to clear trusted proxies", "error", err)
	}

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorLogger())
	if cfg.Security.SecureHeaders {
		r.Use(middleware.SecureHeaders())
	}
	if cfg.Server.EnableCORS {
		r.Use(middleware.CORS(cfg.Security))
	}

	setupRoutes(r, registry)
	logModuleStatus(registry)
	return r
}

// logModuleStatus logs the registered modules
func logModuleStatus(registry *modulemanager.ModuleRegistry) {
	modules := registry.ListModules()
	logger.Info("Module system initialized", "count", len(modules))
	for _, module := range modules {
		logger.Info("Module", "name", module.Name(), "id", module.ID(), "core", module.Core())
	}
}
