package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
)

// DefaultFrameRate is used when the probe could not determine a rate.
const DefaultFrameRate = 30.0

// FFmpegDecoder decodes a file to raw RGBA frames through an ffmpeg child
// process writing to stdout. Seeking restarts the process at the new offset.
type FFmpegDecoder struct {
	ffmpegPath string
	path       string
	info       ProbeInfo
	fps        float64
	launch     Launcher
	logger     hclog.Logger

	mu      sync.Mutex
	proc    *Process
	base    time.Duration
	index   int
	pending *Frame
	closed  bool
}

// NewFFmpegDecoder creates a decoder. No process is started until the first
// Seek or Next.
func NewFFmpegDecoder(ffmpegPath, path string, info ProbeInfo, fps float64, launch Launcher, logger hclog.Logger) *FFmpegDecoder {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	if launch == nil {
		launch = ExecLauncher
	}
	return &FFmpegDecoder{
		ffmpegPath: ffmpegPath,
		path:       path,
		info:       info,
		fps:        fps,
		launch:     launch,
		logger:     logger.Named("decoder"),
	}
}

// FrameRate returns the constant rate frames are produced at.
func (d *FFmpegDecoder) FrameRate() float64 { return d.fps }

func (d *FFmpegDecoder) args(pos time.Duration) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(pos.Seconds(), 'f', 3, 64),
		"-i", d.path,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-fps_mode", "cfr",
		"-r", strconv.FormatFloat(d.fps, 'f', -1, 64),
		"pipe:1",
	}
}

// start replaces the running process with one positioned at pos. Caller holds mu.
func (d *FFmpegDecoder) start(pos time.Duration) error {
	d.stopLocked()
	proc, err := d.launch(context.Background(), d.ffmpegPath, d.args(pos), false)
	if err != nil {
		return err
	}
	d.proc = proc
	d.base = pos
	d.index = 0
	d.pending = nil
	d.logger.Debug("decoder started", "path", d.path, "position", pos, "fps", d.fps)
	return nil
}

func (d *FFmpegDecoder) stopLocked() {
	if d.proc == nil {
		return
	}
	proc := d.proc
	d.proc = nil
	proc.Kill()
	go func() { _ = proc.Wait() }()
}

// Seek repositions the stream at pos and blocks until the first frame there
// has been decoded.
func (d *FFmpegDecoder) Seek(ctx context.Context, pos time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", errors.New("decoder closed"))
	}
	if err := d.start(pos); err != nil {
		d.mu.Unlock()
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", err)
	}
	proc := d.proc
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, proc.Kill)
	frame, err := d.read(proc)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("no frame at %s", pos)
		}
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != proc {
		return rerrors.PlaybackError(rerrors.ReasonSeek, "seek", errors.New("decoder restarted during seek"))
	}
	d.pending = frame
	return nil
}

// Next returns the next frame, or io.EOF at the end of the stream.
func (d *FFmpegDecoder) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "next_frame", errors.New("decoder closed"))
	}
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		d.mu.Unlock()
		return f, nil
	}
	if d.proc == nil {
		if err := d.start(0); err != nil {
			d.mu.Unlock()
			return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "next_frame", err)
		}
	}
	proc := d.proc
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, proc.Kill)
	frame, err := d.read(proc)
	stop()
	if errors.Is(err, io.EOF) && ctx.Err() == nil {
		return nil, io.EOF
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rerrors.PlaybackError(rerrors.ReasonDecode, "next_frame", err)
	}
	return frame, nil
}

// read pulls one frame from proc. A clean end of stream is reported as io.EOF
// once the process exited successfully.
func (d *FFmpegDecoder) read(proc *Process) (*Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.info.Width, d.info.Height))
	if err := ReadRGBA(proc.Stdout, img); err != nil {
		if errors.Is(err, io.EOF) {
			if werr := proc.Wait(); werr != nil {
				return nil, fmt.Errorf("ffmpeg exited: %w", werr)
			}
			return nil, io.EOF
		}
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != proc {
		return nil, errors.New("decoder restarted")
	}
	frame := &Frame{
		Index: d.index,
		PTS:   d.base + time.Duration(float64(d.index)/d.fps*float64(time.Second)),
		Image: img,
	}
	d.index++
	return frame, nil
}

// Close terminates the decode process. Safe to call more than once.
func (d *FFmpegDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.pending = nil
	d.stopLocked()
	d.logger.Debug("decoder closed", "path", d.path)
	return nil
}

// ReadRGBA fills img from a tightly packed RGBA byte stream. It returns
// io.EOF when the stream ends on a frame boundary and io.ErrUnexpectedEOF on
// a truncated frame.
func ReadRGBA(r io.Reader, img *image.RGBA) error {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen {
		_, err := io.ReadFull(r, img.Pix[:rowLen*b.Dy()])
		return err
	}
	for y := 0; y < b.Dy(); y++ {
		off := y * img.Stride
		if _, err := io.ReadFull(r, img.Pix[off:off+rowLen]); err != nil {
			if y > 0 && errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// WriteRGBA writes img to w as tightly packed RGBA rows.
func WriteRGBA(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		_, err := w.Write(img.Pix[:rowLen*b.Dy()])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// FFmpegDecoderFactory opens FFmpegDecoders.
type FFmpegDecoderFactory struct {
	FFmpegPath string
	// MaxFrameRate caps the decode rate; zero keeps the source rate.
	MaxFrameRate float64
	Launch       Launcher
	Logger       hclog.Logger
}

// Open returns a decoder for a validated file.
func (f *FFmpegDecoderFactory) Open(path string, info ProbeInfo) (FrameDecoder, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", info.Width, info.Height)
	}
	fps := info.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	if f.MaxFrameRate > 0 && fps > f.MaxFrameRate {
		fps = f.MaxFrameRate
	}
	ffmpeg := f.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	logger := f.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return NewFFmpegDecoder(ffmpeg, path, info, fps, f.Launch, logger), nil
}
