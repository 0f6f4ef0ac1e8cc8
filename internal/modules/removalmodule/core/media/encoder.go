package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// chunkSize is the read size of the encoder output collector.
const chunkSize = 64 << 10

// EncoderOptions tune the ffmpeg encoder.
type EncoderOptions struct {
	FFmpegPath string
	Codec      string // ffmpeg encoder name, e.g. libx264
	Preset     string
	CRF        int
}

func (o EncoderOptions) withDefaults() EncoderOptions {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Codec == "" {
		o.Codec = "libx264"
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.CRF <= 0 {
		o.CRF = 20
	}
	return o
}

// FFmpegEncoder feeds raw RGBA frames to ffmpeg over stdin and streams a
// fragmented mp4 back over stdout.
type FFmpegEncoder struct {
	opts   EncoderOptions
	launch Launcher
	logger hclog.Logger

	running atomic.Pointer[Process]

	mu      sync.Mutex
	proc    *Process
	stdin   *bufio.Writer
	spec    EncodeSpec
	done    chan struct{}
	readErr error
	aborted bool
	closed  bool
}

// NewFFmpegEncoder creates an encoder. Start launches the process.
func NewFFmpegEncoder(opts EncoderOptions, launch Launcher, logger hclog.Logger) *FFmpegEncoder {
	if launch == nil {
		launch = ExecLauncher
	}
	return &FFmpegEncoder{
		opts:   opts.withDefaults(),
		launch: launch,
		logger: logger.Named("encoder"),
	}
}

// Format returns the container/codec tag of the produced stream.
func (e *FFmpegEncoder) Format() types.Format { return types.FormatMP4H264 }

// BuildArgs returns the ffmpeg arguments for spec.
func (e *FFmpegEncoder) BuildArgs(spec EncodeSpec) []string {
	// 4:2:0 subsampling needs even dimensions.
	pixFmt := "yuv420p"
	if spec.Width%2 != 0 || spec.Height%2 != 0 {
		pixFmt = "yuv444p"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.FormatFloat(spec.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", e.opts.Codec,
		"-preset", e.opts.Preset,
		"-crf", strconv.Itoa(e.opts.CRF),
		"-pix_fmt", pixFmt,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	}
}

// Start launches ffmpeg and returns the channel of encoded chunks.
func (e *FFmpegEncoder) Start(ctx context.Context, spec EncodeSpec) (<-chan []byte, error) {
	if spec.Width <= 0 || spec.Height <= 0 || spec.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid encode spec %dx%d@%v", spec.Width, spec.Height, spec.FrameRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil {
		return nil, errors.New("encoder already started")
	}

	proc, err := e.launch(ctx, e.opts.FFmpegPath, e.BuildArgs(spec), true)
	if err != nil {
		return nil, err
	}
	e.proc = proc
	e.running.Store(proc)
	e.stdin = bufio.NewWriterSize(proc.Stdin, spec.Width*4*16)
	e.spec = spec
	e.done = make(chan struct{})

	chunks := make(chan []byte, 16)
	go e.collect(proc.Stdout, chunks)

	e.logger.Debug("encoder started", "width", spec.Width, "height", spec.Height, "fps", spec.FrameRate, "codec", e.opts.Codec)
	return chunks, nil
}

// collect forwards stdout in arrival order until EOF.
func (e *FFmpegEncoder) collect(r io.Reader, chunks chan<- []byte) {
	defer close(e.done)
	defer close(chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			chunks <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

// Push writes one frame. Frames must match the started dimensions.
func (e *FFmpegEncoder) Push(img *image.RGBA) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil || e.closed || e.aborted {
		return errors.New("encoder not running")
	}
	b := img.Bounds()
	if b.Dx() != e.spec.Width || b.Dy() != e.spec.Height {
		return fmt.Errorf("frame size %dx%d does not match encoder %dx%d", b.Dx(), b.Dy(), e.spec.Width, e.spec.Height)
	}
	return WriteRGBA(e.stdin, img)
}

// Close flushes stdin, waits for the collector and the process, and reports
// whether ffmpeg produced a complete stream.
func (e *FFmpegEncoder) Close() error {
	e.mu.Lock()
	if e.proc == nil || e.closed || e.aborted {
		e.mu.Unlock()
		return errors.New("encoder not running")
	}
	e.closed = true
	proc := e.proc
	flushErr := e.stdin.Flush()
	closeErr := proc.Stdin.Close()
	e.mu.Unlock()

	<-e.done
	waitErr := proc.Wait()

	e.mu.Lock()
	readErr := e.readErr
	e.mu.Unlock()

	switch {
	case flushErr != nil:
		return rerrors.EncodingError("encoder_close", flushErr)
	case closeErr != nil:
		return rerrors.EncodingError("encoder_close", closeErr)
	case waitErr != nil:
		return rerrors.EncodingError("encoder_close", waitErr)
	case readErr != nil:
		return rerrors.EncodingError("encoder_close", readErr)
	}
	e.logger.Debug("encoder finished")
	return nil
}

// Abort kills the process. The chunk channel is still closed once the
// collector observes the broken pipe.
func (e *FFmpegEncoder) Abort() {
	// Kill first so a Push blocked on a full pipe releases the lock.
	if p := e.running.Load(); p != nil {
		p.Kill()
	}
	e.mu.Lock()
	if e.proc == nil || e.aborted {
		e.aborted = true
		e.mu.Unlock()
		return
	}
	e.aborted = true
	proc := e.proc
	e.mu.Unlock()

	proc.Kill()
	if proc.Stdin != nil {
		_ = proc.Stdin.Close()
	}
	go func() { _ = proc.Wait() }()
	e.logger.Debug("encoder aborted")
}

// FFmpegEncoderFactory builds FFmpegEncoders and probes for the codec.
type FFmpegEncoderFactory struct {
	Options EncoderOptions
	Launch  Launcher
	Runner  CommandRunner
	Logger  hclog.Logger
	// LookPath resolves the ffmpeg binary; defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// NewEncoder returns a fresh encoder for one run.
func (f *FFmpegEncoderFactory) NewEncoder() (FrameEncoder, error) {
	logger := f.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return NewFFmpegEncoder(f.Options, f.Launch, logger), nil
}

// Available checks that ffmpeg is installed and lists the configured codec.
func (f *FFmpegEncoderFactory) Available(ctx context.Context) error {
	opts := f.Options.withDefaults()
	lookPath := f.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(opts.FFmpegPath); err != nil {
		return rerrors.CapabilityUnavailable("encoder_probe",
			fmt.Errorf("%w: %s not found: %v", rerrors.ErrEncoderUnavailable, opts.FFmpegPath, err))
	}

	runner := f.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	out, err := runner.Output(ctx, opts.FFmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return rerrors.CapabilityUnavailable("encoder_probe",
			fmt.Errorf("%w: listing encoders: %v", rerrors.ErrEncoderUnavailable, err))
	}
	if !hasEncoder(string(out), opts.Codec) {
		return rerrors.CapabilityUnavailable("encoder_probe",
			fmt.Errorf("%w: codec %s not supported by %s", rerrors.ErrEncoderUnavailable, opts.Codec, opts.FFmpegPath)).
			WithDetail("codec", opts.Codec)
	}
	return nil
}

// hasEncoder scans `ffmpeg -encoders` output for an exact encoder name.
func hasEncoder(list, codec string) bool {
	for _, line := range strings.Split(list, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == codec {
			return true
		}
	}
	return false
}
