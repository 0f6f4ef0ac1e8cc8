package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	out  []byte
	err  error
	args []string
}

func (s *stubRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	s.args = append([]string{name}, args...)
	return s.out, s.err
}

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360,
     "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001"}
  ],
  "format": {"duration": "10.010000"}
}`

func TestFFprobe_Probe(t *testing.T) {
	runner := &stubRunner{out: []byte(probeJSON)}
	p := NewFFprobe("/usr/bin/ffprobe", runner, hclog.NewNullLogger())

	info, err := p.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, 10010*time.Millisecond, info.Duration)
	assert.InDelta(t, 29.97, info.FrameRate, 0.01)
	assert.Equal(t, "/usr/bin/ffprobe", runner.args[0])
	assert.Equal(t, "/tmp/in.mp4", runner.args[len(runner.args)-1])
}

func TestParseProbe_Rotation(t *testing.T) {
	tests := []struct {
		name          string
		stream        string
		width, height int
		rotation      int
	}{
		{"display matrix portrait", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]`, 1080, 1920, 90},
		{"display matrix counter-clockwise", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": 90}]`, 1080, 1920, 270},
		{"legacy rotate tag", `"tags": {"rotate": "90"}`, 1080, 1920, 90},
		{"upside down keeps size", `"tags": {"rotate": "180"}`, 1920, 1080, 180},
		{"odd angle ignored", `"tags": {"rotate": "45"}`, 1920, 1080, 0},
		{"no rotation", `"tags": {}`, 1920, 1080, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := `{"streams": [{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
				"avg_frame_rate": "30/1", ` + tt.stream + `}], "format": {"duration": "4.0"}}`
			info, err := parseProbe([]byte(out))
			require.NoError(t, err)
			assert.Equal(t, tt.width, info.Width)
			assert.Equal(t, tt.height, info.Height)
			assert.Equal(t, tt.rotation, info.Rotation)
		})
	}
}

func TestFFprobe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		runner *stubRunner
	}{
		{"exec failure", &stubRunner{err: errors.New("exit status 1")}},
		{"bad json", &stubRunner{out: []byte("{")}},
		{"no video stream", &stubRunner{out: []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`)}},
		{"no duration", &stubRunner{out: []byte(`{"streams":[{"codec_type":"video","width":2,"height":2}],"format":{}}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewFFprobe("", tt.runner, hclog.NewNullLogger())
			_, err := p.Probe(context.Background(), "x.mp4")
			assert.Error(t, err)
		})
	}
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 24.0, parseRate("24"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 0.0, parseRate("1/0"))
	assert.Equal(t, 0.0, parseRate("abc"))
}
