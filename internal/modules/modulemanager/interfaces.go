package modulemanager

import (
	"context"
	"time"

	"github.com/mantonx/eraser/internal/config"
)

// HealthChecker is an optional interface for modules that can report health status
type HealthChecker interface {
	// HealthCheck returns the current health status of the module
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus represents the health of a module
type HealthStatus struct {
	Status      HealthState            `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthState represents the state of a module's health
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateUnknown   HealthState = "unknown"
)

// Shutdowner is an optional interface for modules that hold resources
// until shutdown.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ConfigReloadable is an optional interface for modules that can reload configuration
type ConfigReloadable interface {
	// ReloadConfig applies settings that can change without a restart
	ReloadConfig(cfg *config.Config) error
}
