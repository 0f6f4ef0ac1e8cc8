package database

import (
	"time"
)

// RemovalStatus mirrors the session state kinds.
type RemovalStatus string

const (
	RemovalStatusIdle       RemovalStatus = "idle"
	RemovalStatusEditing    RemovalStatus = "editing"
	RemovalStatusProcessing RemovalStatus = "processing"
	RemovalStatusComplete   RemovalStatus = "complete"
	RemovalStatusFailed     RemovalStatus = "failed"
)

// RemovalSession is the persisted history of one removal session.
type RemovalSession struct {
	ID         string        `gorm:"primaryKey;type:varchar(64)"`
	Status     RemovalStatus `gorm:"type:varchar(32);not null;index"`
	Progress   float64       `gorm:"not null;default:0"`
	SourceName string        `gorm:"type:varchar(512)"`
	SourceMIME string        `gorm:"type:varchar(128)"`
	SourceSize int64
	Width      int
	Height     int
	DurationMs int64
	FrameRate  float64
	MaskCount  int
	AssetHash  string `gorm:"type:varchar(64);index"`
	AssetName  string `gorm:"type:varchar(256)"`
	AssetSize  int64
	Reason     string     `gorm:"type:text"`
	Runs       int        `gorm:"not null;default:0"`
	CreatedAt  time.Time  `gorm:"not null;index"`
	UpdatedAt  time.Time  `gorm:"not null;index"`
	EndedAt    *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (RemovalSession) TableName() string {
	return "removal_sessions"
}

// IsTerminal reports whether the last recorded run has ended.
func (r *RemovalSession) IsTerminal() bool {
	return r.Status == RemovalStatusComplete || r.Status == RemovalStatusFailed
}
