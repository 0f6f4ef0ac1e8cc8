package validator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media/mediatest"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
)

// mp4Header is an ftyp box with an isom major brand, enough for sniffing.
var mp4Header = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0},
	[]byte("isomiso2avc1mp41")...)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func clipInfo(d time.Duration) media.ProbeInfo {
	return media.ProbeInfo{Width: 640, Height: 360, Duration: d, FrameRate: 30, Codec: "h264"}
}

func newValidator(prober media.Prober, limits Limits) (*Validator, *mediatest.MockDecoderFactory) {
	decoders := &mediatest.MockDecoderFactory{}
	return New(prober, decoders, limits, hclog.NewNullLogger()), decoders
}

func TestValidate_AcceptsVideo(t *testing.T) {
	path := writeFile(t, "clip.mp4", mp4Header)
	v, decoders := newValidator(&mediatest.MockProber{Info: clipInfo(10 * time.Second)}, DefaultLimits())

	src, err := v.Validate(context.Background(), InputFile{Path: path, Name: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", src.MIMEType)
	assert.Equal(t, int64(len(mp4Header)), src.Size)
	assert.Equal(t, 640, src.Width())
	assert.Equal(t, 10*time.Second, src.Duration())
	assert.Len(t, decoders.Decoders(), 1)
}

func TestValidate_RejectsLongInput(t *testing.T) {
	path := writeFile(t, "long.mp4", mp4Header)
	v, decoders := newValidator(&mediatest.MockProber{Info: clipInfo(75 * time.Second)}, DefaultLimits())

	src, err := v.Validate(context.Background(), InputFile{Path: path, Name: "long.mp4"})
	assert.Nil(t, src)
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrorTypeInputRejected, rerrors.GetType(err))
	assert.Equal(t, rerrors.ReasonDuration, rerrors.GetReason(err))
	assert.ErrorIs(t, err, rerrors.ErrDurationExceeded)
	assert.Empty(t, decoders.Decoders(), "no decode handle for a rejected file")
}

func TestValidate_ExactlyAtLimitsIsAccepted(t *testing.T) {
	path := writeFile(t, "edge.mp4", mp4Header)
	v, _ := newValidator(&mediatest.MockProber{Info: clipInfo(60 * time.Second)},
		Limits{MaxBytes: int64(len(mp4Header)), MaxDuration: 60 * time.Second})

	_, err := v.Validate(context.Background(), InputFile{Path: path, Name: "edge.mp4"})
	assert.NoError(t, err)
}

func TestValidate_RejectionReasons(t *testing.T) {
	random := []byte{0x13, 0x37, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0xff, 0xfe, 0x80}

	tests := []struct {
		name       string
		file       string
		data       []byte
		declared   string
		size       int64
		prober     *mediatest.MockProber
		wantReason rerrors.Reason
	}{
		{
			name:       "image content",
			file:       "photo.mp4",
			data:       pngHeader,
			declared:   "video/mp4",
			prober:     &mediatest.MockProber{Info: clipInfo(time.Second)},
			wantReason: rerrors.ReasonType,
		},
		{
			name:       "text content",
			file:       "notes.txt",
			data:       []byte("hello, this is not a video\n"),
			prober:     &mediatest.MockProber{Info: clipInfo(time.Second)},
			wantReason: rerrors.ReasonType,
		},
		{
			name:       "unknown binary without hints",
			file:       "blob.bin",
			data:       random,
			prober:     &mediatest.MockProber{Info: clipInfo(time.Second)},
			wantReason: rerrors.ReasonType,
		},
		{
			name:       "too large",
			file:       "big.mp4",
			data:       mp4Header,
			size:       DefaultMaxBytes + 1,
			prober:     &mediatest.MockProber{Info: clipInfo(time.Second)},
			wantReason: rerrors.ReasonSize,
		},
		{
			name:       "unprobeable",
			file:       "broken.mp4",
			data:       mp4Header,
			prober:     &mediatest.MockProber{Err: errors.New("invalid data found when processing input")},
			wantReason: rerrors.ReasonType,
		},
		{
			name:       "zero duration",
			file:       "still.mp4",
			data:       mp4Header,
			prober:     &mediatest.MockProber{Info: clipInfo(0)},
			wantReason: rerrors.ReasonType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.data)
			v, _ := newValidator(tt.prober, DefaultLimits())

			_, err := v.Validate(context.Background(), InputFile{
				Path:         path,
				Name:         tt.file,
				DeclaredMIME: tt.declared,
				Size:         tt.size,
			})
			require.Error(t, err)
			assert.Equal(t, rerrors.ErrorTypeInputRejected, rerrors.GetType(err))
			assert.Equal(t, tt.wantReason, rerrors.GetReason(err))
			assert.False(t, rerrors.IsFatal(err))
		})
	}
}

func TestValidate_TypeCheckedBeforeSize(t *testing.T) {
	path := writeFile(t, "photo.png", pngHeader)
	v, _ := newValidator(&mediatest.MockProber{Info: clipInfo(time.Second)}, DefaultLimits())

	_, err := v.Validate(context.Background(), InputFile{Path: path, Name: "photo.png", Size: DefaultMaxBytes * 2})
	assert.Equal(t, rerrors.ReasonType, rerrors.GetReason(err))
}

func TestValidate_InconclusiveSniffFallsBack(t *testing.T) {
	random := []byte{0x13, 0x37, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0xff, 0xfe, 0x80}
	prober := &mediatest.MockProber{Info: clipInfo(time.Second)}

	t.Run("declared mime", func(t *testing.T) {
		v, _ := newValidator(prober, DefaultLimits())
		src, err := v.Validate(context.Background(), InputFile{
			Path:         writeFile(t, "upload", random),
			Name:         "upload",
			DeclaredMIME: "video/webm; codecs=vp9",
		})
		require.NoError(t, err)
		assert.Equal(t, "video/webm", src.MIMEType)
	})

	t.Run("extension", func(t *testing.T) {
		v, _ := newValidator(prober, DefaultLimits())
		src, err := v.Validate(context.Background(), InputFile{
			Path: writeFile(t, "clip.MOV", random),
			Name: "clip.MOV",
		})
		require.NoError(t, err)
		assert.Equal(t, "video/quicktime", src.MIMEType)
	})
}

func TestValidate_CancelledProbe(t *testing.T) {
	path := writeFile(t, "clip.mp4", mp4Header)
	v, _ := newValidator(&mediatest.MockProber{Info: clipInfo(time.Second)}, DefaultLimits())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Validate(ctx, InputFile{Path: path, Name: "clip.mp4"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate_MissingFile(t *testing.T) {
	v, _ := newValidator(&mediatest.MockProber{}, DefaultLimits())
	_, err := v.Validate(context.Background(), InputFile{Path: filepath.Join(t.TempDir(), "nope.mp4")})
	assert.Equal(t, rerrors.ErrorTypeInputRejected, rerrors.GetType(err))
}
