package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// CommandRunner interface for command execution (enables mocking in tests)
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner implements CommandRunner using os/exec
type ExecRunner struct{}

// Output runs the command and returns its stdout.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FFprobe extracts media information with the ffprobe binary.
type FFprobe struct {
	path   string
	runner CommandRunner
	logger hclog.Logger
}

// probeResult is the subset of `ffprobe -print_format json` output we read.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []sideData `json:"side_data_list"`
	} `json:"streams"`
}

type sideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// NewFFprobe creates a prober. An empty path defaults to "ffprobe" on PATH.
func NewFFprobe(path string, runner CommandRunner, logger hclog.Logger) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFprobe{path: path, runner: runner, logger: logger.Named("ffprobe")}
}

// Probe reads dimensions, duration and frame rate of the first video stream.
func (p *FFprobe) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	output, err := p.runner.Output(ctx, p.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		path,
	)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (ProbeInfo, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, s := range result.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := ProbeInfo{
			Width:  s.Width,
			Height: s.Height,
			Codec:  s.CodecName,
		}
		info.Rotation = streamRotation(s.Tags.Rotate, s.SideDataList)
		if info.Rotation == 90 || info.Rotation == 270 {
			// ffmpeg autorotates, so frames arrive with the sides swapped
			info.Width, info.Height = info.Height, info.Width
		}
		info.FrameRate = parseRate(s.AvgFrameRate)
		if info.FrameRate <= 0 {
			info.FrameRate = parseRate(s.RFrameRate)
		}

		durationStr := result.Format.Duration
		if durationStr == "" {
			durationStr = s.Duration
		}
		if durationStr == "" {
			return ProbeInfo{}, fmt.Errorf("no duration found in media file")
		}
		d, err := time.ParseDuration(durationStr + "s")
		if err != nil {
			return ProbeInfo{}, fmt.Errorf("failed to parse duration: %w", err)
		}
		info.Duration = d

		if info.Width <= 0 || info.Height <= 0 {
			return ProbeInfo{}, fmt.Errorf("invalid video dimensions %dx%d", info.Width, info.Height)
		}
		return info, nil
	}

	return ProbeInfo{}, fmt.Errorf("no video stream found")
}

// streamRotation reads the display matrix rotation, falling back to the
// legacy rotate tag. The display matrix angle is counter-clockwise.
func streamRotation(tag string, list []sideData) int {
	for _, sd := range list {
		if sd.SideDataType == "Display Matrix" {
			return normalizeRotation(-int(math.Round(sd.Rotation)))
		}
	}
	if tag != "" {
		if deg, err := strconv.Atoi(tag); err == nil {
			return normalizeRotation(deg)
		}
	}
	return 0
}

// normalizeRotation maps deg onto 0, 90, 180 or 270 clockwise. Angles off
// the quarter turns are treated as unrotated.
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	if deg%90 != 0 {
		return 0
	}
	return deg
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
