package database

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/eraser/internal/config"
)

func TestInitialize_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{Type: "sqlite", DatabasePath: filepath.Join(dir, "db", "eraser.db"), MaxOpenConns: 1}

	db, err := Initialize(cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Same(t, db, GetDB())
	assert.True(t, db.Migrator().HasTable(&RemovalSession{}))

	row := &RemovalSession{ID: "s1", Status: RemovalStatusEditing}
	require.NoError(t, db.Create(row).Error)

	var got RemovalSession
	require.NoError(t, db.First(&got, "id = ?", "s1").Error)
	assert.Equal(t, RemovalStatusEditing, got.Status)
	assert.False(t, got.IsTerminal())
}

func TestInitialize_UnsupportedType(t *testing.T) {
	_, err := Initialize(config.DatabaseConfig{Type: "mysql"}, hclog.NewNullLogger())
	assert.Error(t, err)
}

func TestRemovalSessionTableName(t *testing.T) {
	assert.Equal(t, "removal_sessions", RemovalSession{}.TableName())
}
