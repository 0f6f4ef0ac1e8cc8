// Package sink samples composited frames at a fixed rate on the media
// timeline and feeds them to an incremental encoder, buffering the encoded
// chunks into a single output asset.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// Options configure a Sink.
type Options struct {
	// FrameRate is the output sampling rate.
	FrameRate float64
	// QueueSize bounds the frames waiting for the sampler.
	QueueSize int
	// FilenamePrefix is prepended to the timestamped asset name.
	FilenamePrefix string
	// Now supplies the asset timestamp; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the stock sink options.
func DefaultOptions() Options {
	return Options{FrameRate: 30, QueueSize: 4, FilenamePrefix: "erased"}
}

type status int

const (
	statusIdle status = iota
	statusRunning
	statusFinished
	statusAborted
)

// Sink owns one encoder for one run. Push and Finish must be called from a
// single goroutine; Abort may be called from any goroutine.
type Sink struct {
	factory media.EncoderFactory
	opts    Options
	logger  hclog.Logger

	mu     sync.Mutex
	status status
	enc    media.FrameEncoder
	spec   media.EncodeSpec
	// maxTicks caps the output at the source duration; 0 is uncapped
	maxTicks int

	frames      chan *media.Frame
	quit        chan struct{}
	samplerDone chan struct{}
	collectDone chan struct{}
	buf         bytes.Buffer

	// sampler state, owned by the sampler goroutine until samplerDone
	latest   *media.Frame
	nextTick int
	encErr   error
}

// New creates a sink.
func New(factory media.EncoderFactory, opts Options, logger hclog.Logger) *Sink {
	def := DefaultOptions()
	if opts.FrameRate <= 0 {
		opts.FrameRate = def.FrameRate
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.FilenamePrefix == "" {
		opts.FilenamePrefix = def.FilenamePrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sink{factory: factory, opts: opts, logger: logger.Named("sink")}
}

// Start constructs the encoder for width×height output. Frames past
// duration are never encoded; a zero duration leaves the output uncapped.
// Failure is a non-retryable capability error.
func (s *Sink) Start(ctx context.Context, width, height int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != statusIdle {
		return rerrors.StateError("sink_start", errors.New("sink already started"))
	}

	enc, err := s.factory.NewEncoder()
	if err != nil {
		return rerrors.CapabilityUnavailable("sink_start", fmt.Errorf("%w: %v", rerrors.ErrEncoderUnavailable, err))
	}
	spec := media.EncodeSpec{Width: width, Height: height, FrameRate: s.opts.FrameRate}
	chunks, err := enc.Start(ctx, spec)
	if err != nil {
		return rerrors.CapabilityUnavailable("sink_start", fmt.Errorf("%w: %v", rerrors.ErrEncoderUnavailable, err))
	}

	s.enc = enc
	s.spec = spec
	if duration > 0 {
		s.maxTicks = s.TickCount(duration)
	}
	s.status = statusRunning
	s.frames = make(chan *media.Frame, s.opts.QueueSize)
	s.quit = make(chan struct{})
	s.samplerDone = make(chan struct{})
	s.collectDone = make(chan struct{})

	go s.collect(chunks)
	go s.sample()

	s.logger.Debug("sink started", "width", width, "height", height, "fps", s.opts.FrameRate, "max_ticks", s.maxTicks)
	return nil
}

// collect appends encoded chunks in arrival order until the encoder closes
// the channel.
func (s *Sink) collect(chunks <-chan []byte) {
	defer close(s.collectDone)
	for c := range chunks {
		s.mu.Lock()
		if s.status != statusAborted {
			s.buf.Write(c)
		}
		s.mu.Unlock()
	}
}

// tickTime is the media time of output tick k.
func (s *Sink) tickTime(k int) time.Duration {
	return time.Duration(float64(k) / s.opts.FrameRate * float64(time.Second))
}

// sample consumes frames and encodes every tick whose time precedes the
// incoming frame with the newest earlier frame.
func (s *Sink) sample() {
	defer close(s.samplerDone)
	for {
		select {
		case <-s.quit:
			return
		case f, ok := <-s.frames:
			if !ok {
				return
			}
			if s.latest != nil && f.PTS < s.latest.PTS {
				s.logger.Trace("dropping out-of-order frame", "pts", f.PTS, "latest", s.latest.PTS)
				continue
			}
			if s.latest != nil {
				s.emitUntil(func(k int) bool { return s.tickTime(k) < f.PTS })
				if s.encErr != nil {
					return
				}
			}
			s.latest = f
		}
	}
}

// emitUntil encodes the latest frame for ticks while cond holds.
func (s *Sink) emitUntil(cond func(k int) bool) {
	for s.encErr == nil && cond(s.nextTick) {
		if s.maxTicks > 0 && s.nextTick >= s.maxTicks {
			return
		}
		select {
		case <-s.quit:
			return
		default:
		}
		if err := s.enc.Push(s.latest.Image); err != nil {
			s.encErr = err
			return
		}
		s.nextTick++
	}
}

// Push hands a composited frame to the sampler. It blocks while the queue is
// full. The sink takes ownership of frame.
func (s *Sink) Push(ctx context.Context, frame *media.Frame) error {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	if st != statusRunning {
		return rerrors.StateError("sink_push", errors.New("sink not running"))
	}
	if b := frame.Image.Bounds(); b.Dx() != s.spec.Width || b.Dy() != s.spec.Height {
		return rerrors.InternalError("sink_push",
			fmt.Errorf("frame %dx%d does not match output %dx%d", b.Dx(), b.Dy(), s.spec.Width, s.spec.Height))
	}

	select {
	case s.frames <- frame:
		return nil
	case <-s.quit:
		return rerrors.StateError("sink_push", rerrors.ErrCancelled)
	case <-s.samplerDone:
		if s.encErr == nil {
			return rerrors.StateError("sink_push", rerrors.ErrCancelled)
		}
		return rerrors.EncodingError("sink_push", s.encErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TickCount returns the number of output frames for a source of the given
// duration.
func (s *Sink) TickCount(duration time.Duration) int {
	n := int(math.Round(duration.Seconds() * s.opts.FrameRate))
	if n < 1 {
		n = 1
	}
	return n
}

// Finish emits the remaining ticks up to duration, flushes the encoder and
// returns the asset.
func (s *Sink) Finish(ctx context.Context, duration time.Duration) (*types.OutputAsset, error) {
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return nil, rerrors.StateError("sink_finish", errors.New("sink not running"))
	}
	s.mu.Unlock()

	close(s.frames)
	select {
	case <-s.samplerDone:
	case <-ctx.Done():
		s.Abort()
		return nil, ctx.Err()
	}

	if s.latest == nil {
		s.Abort()
		return nil, rerrors.EncodingError("sink_finish", errors.New("no frames were pushed"))
	}
	total := s.TickCount(duration)
	s.emitUntil(func(k int) bool { return k < total })
	if s.encErr != nil {
		s.Abort()
		return nil, rerrors.EncodingError("sink_finish", s.encErr)
	}

	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return nil, rerrors.StateError("sink_finish", rerrors.ErrCancelled)
	}
	s.status = statusFinished
	enc := s.enc
	s.mu.Unlock()

	closeErr := enc.Close()
	select {
	case <-s.collectDone:
	case <-ctx.Done():
		enc.Abort()
		return nil, ctx.Err()
	}
	if closeErr != nil {
		if rerrors.GetType(closeErr) == rerrors.ErrorTypeEncoding {
			return nil, closeErr
		}
		return nil, rerrors.EncodingError("sink_finish", closeErr)
	}

	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	s.mu.Unlock()
	if len(data) == 0 {
		return nil, rerrors.EncodingError("sink_finish", errors.New("encoder produced no output"))
	}

	now := s.opts.Now()
	format := enc.Format()
	asset := &types.OutputAsset{
		Data:       data,
		Format:     format,
		Filename:   types.AssetFilename(s.opts.FilenamePrefix, format, now),
		Width:      s.spec.Width,
		Height:     s.spec.Height,
		Duration:   s.tickTime(s.nextTick),
		FrameCount: s.nextTick,
		FrameRate:  s.opts.FrameRate,
		CreatedAt:  now.UTC(),
	}
	s.logger.Info("sink finished", "frames", asset.FrameCount, "bytes", len(data), "duration", asset.Duration)
	return asset, nil
}

// Abort stops the sampler, kills the encoder and discards buffered chunks.
// It never yields an asset. Safe to call in any state.
func (s *Sink) Abort() {
	s.mu.Lock()
	if s.status != statusRunning {
		if s.status == statusIdle {
			s.status = statusAborted
		}
		s.mu.Unlock()
		return
	}
	s.status = statusAborted
	s.buf.Reset()
	enc := s.enc
	close(s.quit)
	s.mu.Unlock()

	enc.Abort()
	s.logger.Debug("sink aborted")
}

// Aborted reports whether Abort ran.
func (s *Sink) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == statusAborted
}
