// Package removalmodule erases painted regions from short videos.
//
// A client opens a session, uploads a source clip, paints strokes over a
// preview and starts a run. The run decodes every frame, blurs the masked
// regions and re-encodes the result, which is stored by content hash and
// released through an authorized download.
//
// Architecture:
//
//	API → Session Manager → Session → Compositor → Filter / Sink → Encoder
//	                     ↘ History (gorm)          ↘ Content Store
package removalmodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/logger"
	"github.com/mantonx/eraser/internal/modules/modulemanager"
	"github.com/mantonx/eraser/internal/modules/removalmodule/api"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the removal module
	ModuleID = "system.removal"

	// ModuleName is the display name for the removal module
	ModuleName = "Region Removal"

	// ModuleVersion is the version of the removal module
	ModuleVersion = "1.0.0"
)

// healthProbeTimeout bounds the encoder probe in a health check.
const healthProbeTimeout = 5 * time.Second

// Module implements region removal as a module
type Module struct {
	db       *gorm.DB
	cfg      *config.Config
	backends Backends
	logger   hclog.Logger

	mu      sync.RWMutex
	service *Service
}

// NewModule creates a new removal module. Nil arguments are resolved from
// the global database, config and logger at Init.
func NewModule(db *gorm.DB, cfg *config.Config, logger hclog.Logger) *Module {
	return &Module{db: db, cfg: cfg, logger: logger}
}

// WithBackends replaces the ffmpeg tools, for tests.
func (m *Module) WithBackends(b Backends) *Module {
	m.backends = b
	return m
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating removal database schema")

	if err := db.AutoMigrate(&database.RemovalSession{}); err != nil {
		return fmt.Errorf("failed to migrate RemovalSession: %w", err)
	}
	return nil
}

// Init builds the removal service.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			logger.Warn("Removal module running without session history")
		}
	}
	if m.cfg == nil {
		m.cfg = config.Get()
	}
	if m.logger == nil {
		m.logger = logger.Default().Named("removal")
	}

	service, err := NewService(m.db, m.cfg, m.backends, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create removal service: %w", err)
	}

	m.mu.Lock()
	m.service = service
	m.mu.Unlock()

	m.logger.Info("removal module initialized",
		"asset_dir", m.cfg.Storage.AssetDir,
		"max_sessions", m.cfg.Pipeline.MaxSessions,
		"history", m.db != nil)
	return nil
}

// Service returns the assembled pipeline, or nil before Init.
func (m *Module) Service() *Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.service
}

// RegisterRoutes registers all removal module HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	service := m.Service()
	if service == nil {
		logger.Error("Cannot register routes: removal service is nil")
		return
	}
	api.RegisterRoutes(router, service.Handler)
	logger.Info("Removal module routes registered")
}

// ReloadConfig applies the filter parameters of a new config. Other
// settings take effect on restart.
func (m *Module) ReloadConfig(cfg *config.Config) error {
	service := m.Service()
	if service == nil {
		return fmt.Errorf("removal module not initialized")
	}
	service.ApplyFilter(cfg.Filter)
	return nil
}

// HealthCheck reports encoder availability, free disk and session load.
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
		Details:     map[string]interface{}{},
	}
	service := m.Service()
	if service == nil {
		status.Status = modulemanager.HealthStateUnknown
		status.Message = "not initialized"
		return status
	}

	sessions := service.Sessions.Count()
	status.Details["sessions"] = sessions
	status.Details["max_sessions"] = m.cfg.Pipeline.MaxSessions

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := service.Available(probeCtx); err != nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = err.Error()
		status.Details["encoder"] = "unavailable"
		return status
	}
	status.Details["encoder"] = "available"

	free, err := service.FreeBytes(ctx)
	switch {
	case err != nil:
		status.Status = modulemanager.HealthStateDegraded
		status.Message = "free space unknown: " + err.Error()
	case m.cfg.Storage.MinFreeBytes > 0 && free < uint64(m.cfg.Storage.MinFreeBytes):
		status.Status = modulemanager.HealthStateDegraded
		status.Message = "asset volume below free space floor"
		status.Details["free_bytes"] = free
	default:
		status.Details["free_bytes"] = free
	}

	if status.Status == modulemanager.HealthStateHealthy &&
		m.cfg.Pipeline.MaxSessions > 0 && sessions >= m.cfg.Pipeline.MaxSessions {
		status.Status = modulemanager.HealthStateDegraded
		status.Message = "session limit reached"
	}
	return status
}

// Shutdown closes all sessions and stops background work.
func (m *Module) Shutdown(ctx context.Context) error {
	service := m.Service()
	if service == nil {
		return nil
	}
	logger.Info("Shutting down removal module")
	return service.Shutdown(ctx)
}

// Register registers this module with the module system
func Register() {
	modulemanager.Register(NewModule(nil, nil, nil))
}
