package filter

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// FrameSurface is a drawable, clippable, blurrable working buffer. Every
// drawing call honours the current clip.
type FrameSurface interface {
	Bounds() image.Rectangle
	// Load replaces the surface contents with img.
	Load(img *image.RGBA) error
	// ClipPolygon sets the clip to the closed polygon (nonzero winding).
	ClipPolygon(pts []types.Point)
	ResetClip()
	// BlurRegion re-renders region of the current contents through a
	// gaussian blur of the given sigma.
	BlurRegion(region image.Rectangle, sigma float64)
	// StrokeBand strokes the closed polygon outline with c at the given
	// width, softened by a gaussian blur of the given sigma.
	StrokeBand(pts []types.Point, width, sigma float64, c color.Color)
	// Snapshot returns an independent copy of the contents.
	Snapshot() *image.RGBA
}

// RasterSurface implements FrameSurface over an in-memory RGBA buffer.
type RasterSurface struct {
	img *image.RGBA
	dc  *gg.Context
}

// NewRasterSurface allocates a surface of the given size.
func NewRasterSurface(width, height int) *RasterSurface {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	return &RasterSurface{img: img, dc: gg.NewContextForRGBA(img)}
}

// Bounds returns the surface rectangle.
func (s *RasterSurface) Bounds() image.Rectangle { return s.img.Bounds() }

// Load copies img into the surface. Mismatched sizes are an error.
func (s *RasterSurface) Load(img *image.RGBA) error {
	if img.Bounds().Size() != s.img.Bounds().Size() {
		return &SizeMismatchError{Want: s.img.Bounds().Size(), Got: img.Bounds().Size()}
	}
	if img.Stride == s.img.Stride && img.Bounds().Min == (image.Point{}) {
		copy(s.img.Pix, img.Pix)
		return nil
	}
	draw.Draw(s.img, s.img.Bounds(), img, img.Bounds().Min, draw.Src)
	return nil
}

// ClipPolygon replaces the clip with pts.
func (s *RasterSurface) ClipPolygon(pts []types.Point) {
	s.dc.ResetClip()
	tracePolygon(s.dc, pts, 0, 0)
	s.dc.SetFillRuleWinding()
	s.dc.Clip()
}

// ResetClip removes the clip.
func (s *RasterSurface) ResetClip() { s.dc.ResetClip() }

// BlurRegion blurs region and draws it back under the clip.
func (s *RasterSurface) BlurRegion(region image.Rectangle, sigma float64) {
	region = region.Intersect(s.img.Bounds())
	if region.Empty() || sigma <= 0 {
		return
	}
	blurred := imaging.Blur(imaging.Crop(s.img, region), sigma)
	s.dc.DrawImage(blurred, region.Min.X, region.Min.Y)
}

// StrokeBand renders the outline on a scratch layer the size of its padded
// bounds, blurs it and composites it under the clip.
func (s *RasterSurface) StrokeBand(pts []types.Point, width, sigma float64, c color.Color) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	pad := width + 3*sigma
	region := PaddedBounds(pts, pad).Intersect(s.img.Bounds())
	if region.Empty() {
		return
	}

	layer := gg.NewContext(region.Dx(), region.Dy())
	tracePolygon(layer, pts, float64(region.Min.X), float64(region.Min.Y))
	layer.SetColor(c)
	layer.SetLineWidth(width)
	layer.SetLineJoinRound()
	layer.Stroke()

	var band image.Image = layer.Image()
	if sigma > 0 {
		band = imaging.Blur(band, sigma)
	}
	s.dc.DrawImage(band, region.Min.X, region.Min.Y)
}

// Snapshot copies the contents.
func (s *RasterSurface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// tracePolygon adds the closed polygon to dc's path, offset by (-ox, -oy).
func tracePolygon(dc *gg.Context, pts []types.Point, ox, oy float64) {
	dc.NewSubPath()
	for i, p := range pts {
		if i == 0 {
			dc.MoveTo(p.X-ox, p.Y-oy)
			continue
		}
		dc.LineTo(p.X-ox, p.Y-oy)
	}
	dc.ClosePath()
}

// PaddedBounds returns the integer bounding box of pts grown by pad.
func PaddedBounds(pts []types.Point, pad float64) image.Rectangle {
	m := types.Mask{Points: pts}
	lo, hi := m.Bounds()
	return image.Rect(
		int(math.Floor(lo.X-pad)), int(math.Floor(lo.Y-pad)),
		int(math.Ceil(hi.X+pad)), int(math.Ceil(hi.Y+pad)),
	)
}

// SizeMismatchError reports a frame that does not fit the surface.
type SizeMismatchError struct {
	Want, Got image.Point
}

func (e *SizeMismatchError) Error() string {
	return "frame size " + e.Got.String() + " does not match surface " + e.Want.String()
}
