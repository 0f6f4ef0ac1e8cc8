package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/eraser/internal/config"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "eraser.log")
	l, closer, err := New("eraser", config.LoggingConfig{Level: "debug", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	l.Named("compositor").Debug("run started", "masks", 2)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"@module":"eraser.compositor"`)
	assert.Contains(t, string(data), `"masks":2`)
}

func TestNew_Errors(t *testing.T) {
	_, _, err := New("eraser", config.LoggingConfig{Output: "file"})
	assert.Error(t, err)

	_, _, err = New("eraser", config.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	l, _, err := New("eraser", config.LoggingConfig{Level: "chatty", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, hclog.Info, l.GetLevel())
}

func TestApplyLevel(t *testing.T) {
	l, _, err := New("eraser", config.LoggingConfig{Level: "info"})
	require.NoError(t, err)

	ApplyLevel(l, config.LoggingConfig{Level: "warn"})
	assert.Equal(t, hclog.Warn, l.GetLevel())

	ApplyLevel(l, config.LoggingConfig{Level: ""})
	assert.Equal(t, hclog.Warn, l.GetLevel())
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	null := hclog.NewNullLogger()
	SetDefault(null)
	assert.Same(t, null, Default())
}
