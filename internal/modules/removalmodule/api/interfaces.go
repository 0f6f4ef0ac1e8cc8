package api

import (
	"context"
	"os"

	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/session"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/storage"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// SessionService is the live-session surface the handlers drive.
type SessionService interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []types.Snapshot
	Delete(id string) error
}

// HistoryService reads persisted session rows.
type HistoryService interface {
	Get(id string) (*database.RemovalSession, error)
	List(limit int, status database.RemovalStatus) ([]database.RemovalSession, error)
}

// AssetService serves stored outputs.
type AssetService interface {
	Open(hash string) (*os.File, *storage.AssetMetadata, error)
}

// CapabilityChecker reports whether the encoder can run on this host.
type CapabilityChecker interface {
	Available(ctx context.Context) error
}
