package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/database"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// interruptedReason is recorded for runs that were in flight at shutdown or
// crash and found on the next start.
const interruptedReason = "interrupted by restart"

// Store persists session history in removal_sessions.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewStore creates a session history store.
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("session-store"),
	}
}

// Create inserts the first row for a session.
func (s *Store) Create(snap types.Snapshot) error {
	row := &database.RemovalSession{
		ID:        snap.SessionID,
		Status:    database.RemovalStatus(snap.State.Kind),
		CreatedAt: snap.UpdatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if err := s.db.Create(row).Error; err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// Record writes the state carried by snap.
func (s *Store) Record(snap types.Snapshot) error {
	updates := map[string]interface{}{
		"status":     database.RemovalStatus(snap.State.Kind),
		"progress":   snap.State.Progress,
		"mask_count": snap.MaskCount,
		"reason":     snap.State.Reason,
		"updated_at": snap.UpdatedAt,
	}

	if src := snap.Source; src != nil {
		updates["source_name"] = src.Name
		updates["source_mime"] = src.MIMEType
		updates["source_size"] = src.Size
		updates["width"] = src.Width
		updates["height"] = src.Height
		updates["duration_ms"] = src.Duration.Milliseconds()
		updates["frame_rate"] = src.FrameRate
	}

	switch snap.State.Kind {
	case types.StateComplete:
		if a := snap.State.Asset; a != nil {
			updates["asset_hash"] = a.ContentHash
			updates["asset_name"] = a.Filename
			updates["asset_size"] = int64(len(a.Data))
		}
		updates["ended_at"] = snap.UpdatedAt
	case types.StateFailed:
		updates["ended_at"] = snap.UpdatedAt
	case types.StateProcessing:
		updates["ended_at"] = nil
	}

	result := s.db.Model(&database.RemovalSession{}).Where("id = ?", snap.SessionID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to record session %s: %w", snap.SessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return rerrors.NotFoundError("record_session", rerrors.ErrSessionNotFound).WithSession(snap.SessionID)
	}
	return nil
}

// IncrementRuns counts a started run.
func (s *Store) IncrementRuns(id string) error {
	err := s.db.Model(&database.RemovalSession{}).
		Where("id = ?", id).
		UpdateColumn("runs", gorm.Expr("runs + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to count run for session %s: %w", id, err)
	}
	return nil
}

// Get returns the history row of a session.
func (s *Store) Get(id string) (*database.RemovalSession, error) {
	var row database.RemovalSession
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rerrors.NotFoundError("get_session", rerrors.ErrSessionNotFound).WithSession(id)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &row, nil
}

// List returns the most recent sessions, newest first, optionally filtered
// by status.
func (s *Store) List(limit int, status database.RemovalStatus) ([]database.RemovalSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []database.RemovalSession
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

// MarkInterrupted fails every row left in processing or editing by a
// previous process.
func (s *Store) MarkInterrupted(now time.Time) (int64, error) {
	result := s.db.Model(&database.RemovalSession{}).
		Where("status IN ?", []database.RemovalStatus{database.RemovalStatusProcessing, database.RemovalStatusEditing}).
		Updates(map[string]interface{}{
			"status":     database.RemovalStatusFailed,
			"reason":     interruptedReason,
			"updated_at": now,
			"ended_at":   now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark interrupted sessions: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Warn("marked interrupted sessions as failed", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// PurgeBefore deletes rows last updated before cutoff.
func (s *Store) PurgeBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("updated_at < ?", cutoff).Delete(&database.RemovalSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReferencedAssets returns the content hashes still named by a session row.
func (s *Store) ReferencedAssets() ([]string, error) {
	var hashes []string
	err := s.db.Model(&database.RemovalSession{}).
		Where("asset_hash <> ''").
		Distinct().
		Pluck("asset_hash", &hashes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list referenced assets: %w", err)
	}
	return hashes, nil
}
