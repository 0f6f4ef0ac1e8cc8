package media

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// VideoSource is an accepted input and its decode handle. A session owns its
// source exclusively and must Release it before installing another.
type VideoSource struct {
	Path     string
	Name     string
	MIMEType string
	Size     int64
	Info     ProbeInfo
	// Temporary sources own their file and delete it on Release.
	Temporary bool

	mu       sync.Mutex
	decoder  FrameDecoder
	released bool
}

// NewVideoSource wraps an opened decoder.
func NewVideoSource(path, name, mimeType string, size int64, info ProbeInfo, dec FrameDecoder) *VideoSource {
	return &VideoSource{
		Path:     path,
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		Info:     info,
		decoder:  dec,
	}
}

// Width returns the native frame width.
func (v *VideoSource) Width() int { return v.Info.Width }

// Height returns the native frame height.
func (v *VideoSource) Height() int { return v.Info.Height }

// Duration returns the probed duration.
func (v *VideoSource) Duration() time.Duration { return v.Info.Duration }

// NativeSize returns the native dimensions as a Size.
func (v *VideoSource) NativeSize() types.Size {
	return types.Size{Width: float64(v.Info.Width), Height: float64(v.Info.Height)}
}

// Decoder returns the decode handle, or an error once released.
func (v *VideoSource) Decoder() (FrameDecoder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return nil, fmt.Errorf("video source %s already released", v.Name)
	}
	return v.decoder, nil
}

// Release closes the decode handle. Safe to call more than once.
func (v *VideoSource) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return nil
	}
	v.released = true
	var err error
	if v.decoder != nil {
		err = v.decoder.Close()
	}
	if v.Temporary {
		if rmErr := os.Remove(v.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}

// Released reports whether Release has run.
func (v *VideoSource) Released() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

// SourceInfo describes the source for snapshots and persistence.
func (v *VideoSource) SourceInfo() *types.SourceInfo {
	return &types.SourceInfo{
		Name:      v.Name,
		MIMEType:  v.MIMEType,
		Size:      v.Size,
		Width:     v.Info.Width,
		Height:    v.Info.Height,
		Duration:  v.Info.Duration,
		FrameRate: v.Info.FrameRate,
	}
}
