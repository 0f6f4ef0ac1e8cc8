// Package modulemanager registers the service's modules and drives their
// lifecycle: migrate, init, routes, health and shutdown.
package modulemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/logger"
)

// Module defines the interface that all modules must implement
type Module interface {
	ID() string                // Unique identifier for the module
	Name() string              // Display name for the module
	Core() bool                // Whether this is a core module (cannot be disabled)
	Migrate(db *gorm.DB) error // Run database migrations
	Init() error               // Initialize the module
}

// RouteRegistrar is an optional interface for modules that need to register routes
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// ModuleRegistry manages module registration and initialization. Modules
// are initialized in registration order and shut down in reverse.
type ModuleRegistry struct {
	modules         []Module
	byID            map[string]Module
	disabledModules map[string]bool
	loaded          []Module
	mu              sync.RWMutex
	initialized     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byID:            make(map[string]Module),
		disabledModules: make(map[string]bool),
	}
}

// Registry is the global module registry
var Registry = NewRegistry()

// Register adds a module to the global registry
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry. Registering an ID twice replaces
// the earlier module.
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module registered after initialization", "module", m.Name(), "id", m.ID())
	}
	if _, exists := r.byID[m.ID()]; exists {
		for i, existing := range r.modules {
			if existing.ID() == m.ID() {
				r.modules[i] = m
			}
		}
	} else {
		r.modules = append(r.modules, m)
	}
	r.byID[m.ID()] = m
	logger.Debug("module registered", "module", m.Name(), "id", m.ID())
}

// LoadAll initializes all registered modules
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

// LoadAll migrates and initializes every enabled module.
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module system already initialized")
		return nil
	}

	var enabled []Module
	for _, module := range r.modules {
		if r.disabledModules[module.ID()] {
			if module.Core() {
				return fmt.Errorf("attempted to disable core module: %s", module.ID())
			}
			logger.Warn("skipping disabled module", "module", module.Name())
			continue
		}
		enabled = append(enabled, module)
	}

	for i, module := range enabled {
		logger.Info("initializing module", "module", module.Name(), "index", i+1, "total", len(enabled))

		if db != nil {
			if err := module.Migrate(db); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", module.Name(), err)
			}
		}
		if err := module.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
		}
		r.loaded = append(r.loaded, module)
	}

	r.initialized = true
	logger.Info("modules loaded", "count", len(r.loaded))
	return nil
}

// DisableModule marks a module as disabled before LoadAll.
func (r *ModuleRegistry) DisableModule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	module, exists := r.byID[id]
	if !exists {
		return fmt.Errorf("unknown module: %s", id)
	}
	if module.Core() {
		return fmt.Errorf("cannot disable core module: %s", id)
	}
	r.disabledModules[id] = true
	return nil
}

// GetModule returns a module by ID
func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, exists := r.byID[id]
	return module, exists
}

// ListModules returns all registered modules in registration order
func (r *ModuleRegistry) ListModules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.modules...)
}

// RegisterRoutes registers routes for all modules that implement RouteRegistrar
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

// RegisterRoutes registers routes for loaded modules that implement
// RouteRegistrar.
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, module := range r.loaded {
		if routeRegistrar, ok := module.(RouteRegistrar); ok {
			logger.Debug("registering routes", "module", module.Name())
			routeRegistrar.RegisterRoutes(router)
		}
	}
}

// Health reports every loaded module that implements HealthChecker.
func (r *ModuleRegistry) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	loaded := append([]Module(nil), r.loaded...)
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(loaded))
	for _, module := range loaded {
		if checker, ok := module.(HealthChecker); ok {
			out[module.ID()] = checker.HealthCheck(ctx)
		}
	}
	return out
}

// Reload hands a new configuration to every loaded ConfigReloadable module.
func (r *ModuleRegistry) Reload(cfg *config.Config) error {
	r.mu.RLock()
	loaded := append([]Module(nil), r.loaded...)
	r.mu.RUnlock()

	var errs []error
	for _, module := range loaded {
		if reloadable, ok := module.(ConfigReloadable); ok {
			if err := reloadable.ReloadConfig(cfg); err != nil {
				logger.Warn("module rejected config reload", "module", module.Name(), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", module.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops loaded modules in reverse order and joins their errors.
func Shutdown(ctx context.Context) error {
	return Registry.Shutdown(ctx)
}

// Shutdown stops loaded modules in reverse order and joins their errors.
func (r *ModuleRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	loaded := r.loaded
	r.loaded = nil
	r.initialized = false
	r.mu.Unlock()

	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		module := loaded[i]
		stopper, ok := module.(Shutdowner)
		if !ok {
			continue
		}
		if err := stopper.Shutdown(ctx); err != nil {
			logger.Error("module shutdown failed", "module", module.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", module.Name(), err))
		}
	}
	return errors.Join(errs...)
}
