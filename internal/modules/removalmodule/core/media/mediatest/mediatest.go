// Package mediatest provides in-memory decoders, encoders and probers for
// exercising the pipeline without ffmpeg.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// Shade is the gray level of synthetic frame i; tests use it to identify
// which source frame ended up in an output sample.
func Shade(i int) uint8 { return uint8(i % 251) }

// MockDecoder produces Frames synthetic frames at FPS.
type MockDecoder struct {
	Width, Height int
	Frames        int
	FPS           float64

	// SeekErr fails every Seek.
	SeekErr error
	// FailAt returns a decode error instead of frame FailAt (when > 0).
	FailAt int
	// Delay is slept before each frame.
	Delay time.Duration
	// Swap lists frame indices that are delivered before their predecessor.
	Swap map[int]bool
	// OnFrame is called with the index of each delivered frame.
	OnFrame func(i int)

	mu     sync.Mutex
	next   int
	order  []int
	seeks  int
	closed bool
}

// NewMockDecoder returns a decoder for a clip of the given duration.
func NewMockDecoder(width, height int, fps float64, duration time.Duration) *MockDecoder {
	return &MockDecoder{
		Width:  width,
		Height: height,
		FPS:    fps,
		Frames: int(duration.Seconds() * fps),
	}
}

func (d *MockDecoder) frame(i int) *media.Frame {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	c := color.RGBA{Shade(i), Shade(i), Shade(i), 255}
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
	}
	return &media.Frame{
		Index: i,
		PTS:   time.Duration(float64(i) / d.FPS * float64(time.Second)),
		Image: img,
	}
}

// Seek rewinds to the frame at pos.
func (d *MockDecoder) Seek(ctx context.Context, pos time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks++
	if d.closed {
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", errors.New("decoder closed"))
	}
	if d.SeekErr != nil {
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", d.SeekErr)
	}
	d.next = int(pos.Seconds() * d.FPS)
	return nil
}

// Next returns the next frame or io.EOF.
func (d *MockDecoder) Next(ctx context.Context) (*media.Frame, error) {
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "next_frame", errors.New("decoder closed"))
	}
	if d.next >= d.Frames {
		d.mu.Unlock()
		return nil, io.EOF
	}
	i := d.next
	if d.FailAt > 0 && i == d.FailAt {
		d.mu.Unlock()
		return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "next_frame", fmt.Errorf("corrupt frame %d", i))
	}
	switch {
	case d.Swap[i+1] && i+1 < d.Frames:
		i++
	case d.Swap[i] && i > 0:
		i--
	}
	d.next++
	d.order = append(d.order, i)
	cb := d.OnFrame
	d.mu.Unlock()

	if cb != nil {
		cb(i)
	}
	return d.frame(i), nil
}

// Close releases the decoder.
func (d *MockDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close ran.
func (d *MockDecoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Seeks returns the number of Seek calls.
func (d *MockDecoder) Seeks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seeks
}

// MockDecoderFactory hands out one decoder per Open.
type MockDecoderFactory struct {
	FPS     float64
	OpenErr error
	// Configure adjusts each decoder before it is returned.
	Configure func(*MockDecoder)

	mu       sync.Mutex
	decoders []*MockDecoder
}

// Open returns a MockDecoder sized from info.
func (f *MockDecoderFactory) Open(_ string, info media.ProbeInfo) (media.FrameDecoder, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	fps := f.FPS
	if fps <= 0 {
		fps = info.FrameRate
	}
	if fps <= 0 {
		fps = 10
	}
	d := NewMockDecoder(info.Width, info.Height, fps, info.Duration)
	if f.Configure != nil {
		f.Configure(d)
	}
	f.mu.Lock()
	f.decoders = append(f.decoders, d)
	f.mu.Unlock()
	return d, nil
}

// Decoders returns every decoder opened so far.
func (f *MockDecoderFactory) Decoders() []*MockDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockDecoder(nil), f.decoders...)
}

// MockEncoder records pushed frames and emits a fake container on Close.
type MockEncoder struct {
	StartErr  error
	PushErrAt int // fail the Nth push (1-based) when > 0
	CloseErr  error

	mu      sync.Mutex
	spec    media.EncodeSpec
	chunks  chan []byte
	shades  []uint8
	started bool
	closed  bool
	aborted bool
}

// Start opens the chunk channel.
func (e *MockEncoder) Start(_ context.Context, spec media.EncodeSpec) (<-chan []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	e.spec = spec
	e.started = true
	e.chunks = make(chan []byte, 4)
	e.chunks <- []byte("ftyp")
	return e.chunks, nil
}

// Push records the shade of img's first pixel.
func (e *MockEncoder) Push(img *image.RGBA) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed || e.aborted {
		return errors.New("encoder not running")
	}
	if e.PushErrAt > 0 && len(e.shades)+1 == e.PushErrAt {
		return errors.New("broken pipe")
	}
	e.shades = append(e.shades, img.Pix[0])
	return nil
}

// Close flushes a summary chunk and closes the channel.
func (e *MockEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed || e.aborted {
		return errors.New("encoder not running")
	}
	e.closed = true
	if e.CloseErr != nil {
		close(e.chunks)
		return e.CloseErr
	}
	go func(ch chan []byte, n int) {
		ch <- []byte(fmt.Sprintf(":frames=%d", n))
		close(ch)
	}(e.chunks, len(e.shades))
	return nil
}

// Abort closes the channel without output.
func (e *MockEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted || e.closed {
		e.aborted = true
		return
	}
	e.aborted = true
	if e.chunks != nil {
		close(e.chunks)
	}
}

// Format tags the output as mp4/h264.
func (e *MockEncoder) Format() types.Format { return types.FormatMP4H264 }

// Shades returns the first-pixel gray level of each pushed frame.
func (e *MockEncoder) Shades() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint8(nil), e.shades...)
}

// Spec returns the spec passed to Start.
func (e *MockEncoder) Spec() media.EncodeSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

// Aborted reports whether Abort ran.
func (e *MockEncoder) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Started reports whether Start succeeded.
func (e *MockEncoder) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// MockEncoderFactory builds MockEncoders.
type MockEncoderFactory struct {
	NewErr       error
	AvailableErr error
	// Configure adjusts each encoder before it is returned.
	Configure func(*MockEncoder)

	mu       sync.Mutex
	encoders []*MockEncoder
}

// NewEncoder returns a fresh MockEncoder.
func (f *MockEncoderFactory) NewEncoder() (media.FrameEncoder, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	e := &MockEncoder{}
	if f.Configure != nil {
		f.Configure(e)
	}
	f.mu.Lock()
	f.encoders = append(f.encoders, e)
	f.mu.Unlock()
	return e, nil
}

// Available returns AvailableErr.
func (f *MockEncoderFactory) Available(context.Context) error { return f.AvailableErr }

// Encoders returns every encoder built so far.
func (f *MockEncoderFactory) Encoders() []*MockEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockEncoder(nil), f.encoders...)
}

// Last returns the most recent encoder, or nil.
func (f *MockEncoderFactory) Last() *MockEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}

// MockProber returns a fixed result.
type MockProber struct {
	Info media.ProbeInfo
	Err  error
}

// Probe returns Info or Err.
func (p *MockProber) Probe(ctx context.Context, _ string) (media.ProbeInfo, error) {
	if err := ctx.Err(); err != nil {
		return media.ProbeInfo{}, err
	}
	return p.Info, p.Err
}

// MP4Header is an ftyp box with an isom major brand, enough for content
// sniffing to report video/mp4.
var MP4Header = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0},
	[]byte("isomiso2avc1mp41")...)

// WriteMP4 writes a sniffable stub file named name into dir.
func WriteMP4(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, MP4Header, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
