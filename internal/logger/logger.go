// Package logger builds the application's hclog loggers from configuration
// and keeps a process-wide default for code without an injected logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/config"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger = hclog.New(&hclog.LoggerOptions{
		Name:       "eraser",
		Level:      hclog.Info,
		JSONFormat: true,
	})
)

// New creates the root logger described by cfg. The returned closer
// releases a log file, if one was opened.
func New(name string, cfg config.LoggingConfig) (hclog.Logger, io.Closer, error) {
	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	color := hclog.ColorOff
	if cfg.EnableColors && !strings.EqualFold(cfg.Format, "json") {
		color = hclog.AutoColor
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          output,
		JSONFormat:      strings.EqualFold(cfg.Format, "json"),
		Color:           color,
		IncludeLocation: level == hclog.Trace,
	})
	return l, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging output is file but no file_path is set")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("unsupported logging output: %s", cfg.Output)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ApplyLevel updates the level of l from cfg, for config reloads.
func ApplyLevel(l hclog.Logger, cfg config.LoggingConfig) {
	if level := hclog.LevelFromString(cfg.Level); level != hclog.NoLevel {
		l.SetLevel(level)
	}
}

// SetDefault replaces the process-wide logger.
func SetDefault(l hclog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the process-wide logger.
func Default() hclog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Info logs through the default logger.
func Info(msg string, args ...interface{}) { Default().Info(msg, args...) }

// Warn logs through the default logger.
func Warn(msg string, args ...interface{}) { Default().Warn(msg, args...) }

// Error logs through the default logger.
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }

// Debug logs through the default logger.
func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
