// Package validator accepts or rejects candidate input files before they
// reach a session.
package validator

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
)

const (
	// DefaultMaxBytes is the largest accepted input, 1 GiB.
	DefaultMaxBytes int64 = 1 << 30
	// DefaultMaxDuration is the longest accepted input.
	DefaultMaxDuration = 60 * time.Second
)

// Limits are the acceptance bounds.
type Limits struct {
	MaxBytes    int64
	MaxDuration time.Duration
}

// DefaultLimits returns the stock acceptance bounds.
func DefaultLimits() Limits {
	return Limits{MaxBytes: DefaultMaxBytes, MaxDuration: DefaultMaxDuration}
}

// InputFile is a candidate file already spooled to disk.
type InputFile struct {
	Path         string
	Name         string
	DeclaredMIME string
	// Size is the byte length; zero means stat the file.
	Size int64
	// Temporary marks a spooled upload. An accepted temporary file is
	// deleted when its source is released; a rejected one is left to the
	// caller.
	Temporary bool
}

// Validator runs the acceptance checks in order: type, size, duration.
type Validator struct {
	prober   media.Prober
	decoders media.DecoderFactory
	limits   Limits
	logger   hclog.Logger
}

// New creates a validator.
func New(prober media.Prober, decoders media.DecoderFactory, limits Limits, logger hclog.Logger) *Validator {
	def := DefaultLimits()
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = def.MaxBytes
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = def.MaxDuration
	}
	return &Validator{
		prober:   prober,
		decoders: decoders,
		limits:   limits,
		logger:   logger.Named("validator"),
	}
}

// Limits returns the configured bounds.
func (v *Validator) Limits() Limits { return v.limits }

// Validate checks in and, on success, opens a decode handle for it. A
// rejection is an InputRejected error naming the failed check.
func (v *Validator) Validate(ctx context.Context, in InputFile) (*media.VideoSource, error) {
	mimeType, err := v.checkType(in)
	if err != nil {
		return nil, err
	}

	size := in.Size
	if size <= 0 {
		st, err := os.Stat(in.Path)
		if err != nil {
			return nil, rerrors.InputRejected(rerrors.ReasonType, "validate", err)
		}
		size = st.Size()
	}
	if size > v.limits.MaxBytes {
		return nil, rerrors.InputRejected(rerrors.ReasonSize, "validate",
			fmt.Errorf("%w: %d bytes exceeds %d", rerrors.ErrFileTooLarge, size, v.limits.MaxBytes)).
			WithDetail("size", size).
			WithDetail("max_bytes", v.limits.MaxBytes)
	}

	info, err := v.prober.Probe(ctx, in.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rerrors.InputRejected(rerrors.ReasonType, "validate",
			fmt.Errorf("%w: %v", rerrors.ErrUnsupportedType, err))
	}
	if info.Duration <= 0 {
		return nil, rerrors.InputRejected(rerrors.ReasonType, "validate",
			fmt.Errorf("%w: no playable duration", rerrors.ErrUnsupportedType))
	}
	if info.Duration > v.limits.MaxDuration {
		return nil, rerrors.InputRejected(rerrors.ReasonDuration, "validate",
			fmt.Errorf("%w: %s exceeds %s", rerrors.ErrDurationExceeded, info.Duration, v.limits.MaxDuration)).
			WithDetail("duration", info.Duration.Seconds()).
			WithDetail("max_duration", v.limits.MaxDuration.Seconds())
	}

	dec, err := v.decoders.Open(in.Path, info)
	if err != nil {
		return nil, rerrors.InputRejected(rerrors.ReasonType, "validate",
			fmt.Errorf("%w: %v", rerrors.ErrUnsupportedType, err))
	}

	v.logger.Info("input accepted",
		"name", in.Name,
		"mime", mimeType,
		"size", size,
		"duration", info.Duration,
		"width", info.Width,
		"height", info.Height)
	src := media.NewVideoSource(in.Path, in.Name, mimeType, size, info, dec)
	src.Temporary = in.Temporary
	return src, nil
}

// checkType sniffs the content and falls back to the declared type and the
// extension only when the sniff is inconclusive.
func (v *Validator) checkType(in InputFile) (string, error) {
	detected, err := mimetype.DetectFile(in.Path)
	if err != nil {
		return "", rerrors.InputRejected(rerrors.ReasonType, "validate", err)
	}

	if isVideo(detected) {
		return detected.String(), nil
	}
	if !inconclusive(detected) {
		return "", rerrors.InputRejected(rerrors.ReasonType, "validate",
			fmt.Errorf("%w: detected %s", rerrors.ErrUnsupportedType, detected.String())).
			WithDetail("detected", detected.String())
	}

	if declared := baseType(in.DeclaredMIME); strings.HasPrefix(declared, "video/") {
		return declared, nil
	}
	if byExt := typeByExtension(in.Name); strings.HasPrefix(byExt, "video/") {
		return byExt, nil
	}
	return "", rerrors.InputRejected(rerrors.ReasonType, "validate",
		fmt.Errorf("%w: unrecognised content", rerrors.ErrUnsupportedType))
}

// videoExtensions covers containers the platform mime table may not know.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

func typeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := videoExtensions[ext]; ok {
		return t
	}
	return baseType(mime.TypeByExtension(ext))
}

func isVideo(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func inconclusive(m *mimetype.MIME) bool {
	return m.Is("application/octet-stream")
}

func baseType(t string) string {
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mt
}
