// Package compositor drives one removal run: it pulls frames from the
// source at the decoder's pace, filters the masked regions and feeds the
// results to the encoding sink.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/filter"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/sink"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// MaxProgress is the largest progress published while a run is in flight.
// 1.0 is reserved for completion.
var MaxProgress = math.Nextafter(1, 0)

// Config bounds a run.
type Config struct {
	// FrameQueue is the capacity of the decode prefetch channel.
	FrameQueue int
	// MinTimeout is the smallest wall-clock budget for a run.
	MinTimeout time.Duration
	// TimeoutFactor scales the source duration into the run budget.
	TimeoutFactor float64
}

// DefaultConfig returns the stock run bounds.
func DefaultConfig() Config {
	return Config{FrameQueue: 4, MinTimeout: 30 * time.Second, TimeoutFactor: 10}
}

// Budget returns the wall-clock limit for a source of the given duration.
func (c Config) Budget(duration time.Duration) time.Duration {
	budget := time.Duration(float64(duration) * c.TimeoutFactor)
	if budget < c.MinTimeout {
		budget = c.MinTimeout
	}
	return budget
}

// ProgressFunc receives non-decreasing progress values in [0, 1).
type ProgressFunc func(progress float64)

// SurfaceFactory allocates the working surface of a run.
type SurfaceFactory func(width, height int) filter.FrameSurface

// Compositor runs the decode, filter and encode pipeline.
type Compositor struct {
	filter     atomic.Pointer[filter.Filter]
	encoders   media.EncoderFactory
	sinkOpts   sink.Options
	cfg        Config
	newSurface SurfaceFactory
	logger     hclog.Logger
}

// New creates a compositor.
func New(f *filter.Filter, encoders media.EncoderFactory, sinkOpts sink.Options, cfg Config, logger hclog.Logger) *Compositor {
	def := DefaultConfig()
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = def.FrameQueue
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = def.MinTimeout
	}
	if cfg.TimeoutFactor <= 0 {
		cfg.TimeoutFactor = def.TimeoutFactor
	}
	c := &Compositor{
		encoders: encoders,
		sinkOpts: sinkOpts,
		cfg:      cfg,
		newSurface: func(w, h int) filter.FrameSurface {
			return filter.NewRasterSurface(w, h)
		},
		logger: logger.Named("compositor"),
	}
	c.filter.Store(f)
	return c
}

// SetFilter swaps the filter for runs and previews started afterwards. A
// run in flight keeps the filter it started with.
func (c *Compositor) SetFilter(f *filter.Filter) {
	c.filter.Store(f)
}

// Filter returns the current filter.
func (c *Compositor) Filter() *filter.Filter {
	return c.filter.Load()
}

// WithSurfaceFactory replaces the working surface implementation.
func (c *Compositor) WithSurfaceFactory(f SurfaceFactory) *Compositor {
	c.newSurface = f
	return c
}

type decoded struct {
	frame *media.Frame
	err   error
}

// Run renders src with masks applied and returns the encoded asset.
//
// Without masks it fails with PreconditionFailed before touching the source
// or the encoder. Every other failure, and cancellation through ctx, aborts
// the sink and releases src.
func (c *Compositor) Run(ctx context.Context, src *media.VideoSource, masks []types.Mask, onProgress ProgressFunc) (asset *types.OutputAsset, err error) {
	if len(masks) == 0 {
		return nil, rerrors.PreconditionFailed(rerrors.ReasonNoMasks, "composite", rerrors.ErrNoMasks)
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	flt := c.filter.Load()

	defer func() {
		if err != nil {
			if rerr := src.Release(); rerr != nil {
				c.logger.Warn("failed to release source", "error", rerr)
			}
		}
	}()

	if err := c.encoders.Available(ctx); err != nil {
		return nil, rerrors.Wrap(err, rerrors.ErrorTypeCapabilityUnavailable, "composite")
	}

	duration := src.Duration()
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Budget(duration))
	defer cancel()

	// classify turns a context failure into cancellation or timeout.
	classify := func(err error) error {
		if ctx.Err() != nil {
			return rerrors.StateError("composite", rerrors.ErrCancelled)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return rerrors.InternalError("composite", fmt.Errorf("%w after %s", rerrors.ErrTimeout, c.cfg.Budget(duration)))
		}
		return err
	}

	dec, err := src.Decoder()
	if err != nil {
		return nil, rerrors.StateError("composite", err)
	}

	if err := dec.Seek(runCtx, 0); err != nil {
		if runCtx.Err() != nil {
			return nil, classify(err)
		}
		if rerrors.GetType(err) != rerrors.ErrorTypePlayback {
			err = rerrors.PlaybackError(rerrors.ReasonSeek, "composite", err)
		}
		return nil, err
	}

	width, height := src.Width(), src.Height()
	out := sink.New(c.encoders, c.sinkOpts, c.logger)
	if err := out.Start(runCtx, width, height, duration); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			out.Abort()
		}
	}()

	frames := make(chan decoded, c.cfg.FrameQueue)
	prefetchDone := make(chan struct{})
	go func() {
		defer close(prefetchDone)
		defer close(frames)
		for {
			f, err := dec.Next(runCtx)
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case frames <- decoded{frame: f, err: err}:
			case <-runCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-prefetchDone
	}()

	surface := c.newSurface(width, height)
	progress := 0.0
	last := time.Duration(-1)
	produced, dropped := 0, 0

	c.logger.Info("run started", "width", width, "height", height, "duration", duration, "masks", len(masks))
	started := time.Now()

	for {
		var d decoded
		var ok bool
		select {
		case d, ok = <-frames:
		case <-runCtx.Done():
			return nil, classify(runCtx.Err())
		}
		if !ok {
			break
		}
		if d.err != nil {
			if runCtx.Err() != nil {
				return nil, classify(d.err)
			}
			if rerrors.GetType(d.err) != rerrors.ErrorTypePlayback {
				d.err = rerrors.PlaybackError(rerrors.ReasonDecode, "composite", d.err)
			}
			return nil, d.err
		}

		f := d.frame
		if f.PTS < last {
			dropped++
			c.logger.Debug("dropping out-of-order frame", "index", f.Index, "pts", f.PTS, "last", last)
			continue
		}
		last = f.PTS

		if err := surface.Load(f.Image); err != nil {
			return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "composite", err)
		}
		flt.ApplyTo(surface, masks)
		snap := &media.Frame{Index: f.Index, PTS: f.PTS, Image: surface.Snapshot()}
		if err := out.Push(runCtx, snap); err != nil {
			if runCtx.Err() != nil {
				return nil, classify(err)
			}
			return nil, err
		}
		produced++

		if duration > 0 {
			p := math.Min(float64(f.PTS)/float64(duration), MaxProgress)
			if p > progress {
				progress = p
				onProgress(progress)
			}
		}
	}

	if runCtx.Err() != nil {
		return nil, classify(runCtx.Err())
	}

	asset, err = out.Finish(runCtx, duration)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, classify(err)
		}
		return nil, err
	}

	c.logger.Info("run finished",
		"frames", produced,
		"dropped", dropped,
		"output_frames", asset.FrameCount,
		"elapsed", time.Since(started))
	return asset, nil
}

// Preview decodes the frame at pos from dec and returns it with masks
// applied. dec is positioned after the returned frame.
func (c *Compositor) Preview(ctx context.Context, dec media.FrameDecoder, pos time.Duration, masks []types.Mask) (*media.Frame, error) {
	if err := dec.Seek(ctx, pos); err != nil {
		return nil, rerrors.Wrap(err, rerrors.ErrorTypePlayback, "preview")
	}
	f, err := dec.Next(ctx)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.ErrorTypePlayback, "preview")
	}
	f.Image = c.filter.Load().Apply(f.Image, masks)
	return f, nil
}
