package types

import (
	"fmt"
	"time"
)

// Format tags an encoded output with its container and codec.
type Format struct {
	Container string `json:"container"`
	Codec     string `json:"codec"`
	Extension string `json:"extension"`
	MIMEType  string `json:"mimeType"`
}

// FormatMP4H264 is the default output pairing.
var FormatMP4H264 = Format{Container: "mp4", Codec: "h264", Extension: ".mp4", MIMEType: "video/mp4"}

// OutputAsset is a finished, encoded video. Data is omitted from JSON; the
// content store serves the bytes.
type OutputAsset struct {
	Data        []byte        `json:"-"`
	Format      Format        `json:"format"`
	Filename    string        `json:"filename"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Duration    time.Duration `json:"duration"`
	FrameCount  int           `json:"frameCount"`
	FrameRate   float64       `json:"frameRate"`
	ContentHash string        `json:"contentHash,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// AssetFilename builds the suggested download name for an asset created at t.
func AssetFilename(prefix string, f Format, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", prefix, t.UTC().Format("20060102T150405Z"), f.Extension)
}
