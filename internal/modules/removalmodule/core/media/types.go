// Package media defines the frame, source, decoder and encoder primitives of
// the removal pipeline, and implements them on top of ffmpeg and ffprobe.
package media

import (
	"context"
	"image"
	"time"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// Frame is one decoded or composited picture. Image is owned by whoever holds
// the Frame; stages hand over copies rather than sharing a surface.
type Frame struct {
	Index int
	PTS   time.Duration
	Image *image.RGBA
}

// FrameDecoder is a decode handle over a single video. Seek repositions the
// stream and blocks until the first frame at the new position is ready. Next
// returns io.EOF at the end of the stream.
type FrameDecoder interface {
	Seek(ctx context.Context, pos time.Duration) error
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// EncodeSpec describes the stream an encoder is asked to produce.
type EncodeSpec struct {
	Width     int
	Height    int
	FrameRate float64
}

// FrameEncoder incrementally encodes RGBA frames. Start returns a channel of
// encoded chunks in output order; the channel is closed once the encoder has
// flushed (after Close) or been aborted.
type FrameEncoder interface {
	Start(ctx context.Context, spec EncodeSpec) (<-chan []byte, error)
	Push(img *image.RGBA) error
	Close() error
	Abort()
	Format() types.Format
}

// EncoderFactory builds a fresh encoder per run.
type EncoderFactory interface {
	NewEncoder() (FrameEncoder, error)
	// Available reports whether the encoder primitives exist on this host.
	Available(ctx context.Context) error
}

// DecoderFactory opens decode handles for validated files.
type DecoderFactory interface {
	Open(path string, info ProbeInfo) (FrameDecoder, error)
}

// ProbeInfo is the metadata needed before a file is accepted.
type ProbeInfo struct {
	// Width and Height are the displayed size, after the rotation ffmpeg
	// applies when decoding.
	Width     int
	Height    int
	Duration  time.Duration
	FrameRate float64
	Codec     string
	// Rotation is the display rotation in degrees, normalized to 0, 90,
	// 180 or 270.
	Rotation int
}

// Prober loads a file's metadata. It is a suspension point: implementations
// honour ctx.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeInfo, error)
}
