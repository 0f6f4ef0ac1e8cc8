// Package filter erases masked regions of a frame by re-rendering them
// through a strong blur and feathering their edges.
package filter

import (
	"image"
	"image/color"
	"math"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// eps is the cross-product magnitude below which points count as collinear.
const eps = 1e-9

// Params are the blur constants of the filter. Sigmas and the band width are
// given at ReferenceHeight and scaled to the frame height when
// ScaleWithHeight is set.
type Params struct {
	BlurSigma       float64 `json:"blur_sigma" yaml:"blur_sigma"`
	FeatherSigma    float64 `json:"feather_sigma" yaml:"feather_sigma"`
	FeatherWidth    float64 `json:"feather_width" yaml:"feather_width"`
	FeatherOpacity  float64 `json:"feather_opacity" yaml:"feather_opacity"`
	ReferenceHeight int     `json:"reference_height" yaml:"reference_height"`
	ScaleWithHeight bool    `json:"scale_with_height" yaml:"scale_with_height"`
}

// DefaultParams returns the stock filter constants.
func DefaultParams() Params {
	return Params{
		BlurSigma:       20,
		FeatherSigma:    4,
		FeatherWidth:    6,
		FeatherOpacity:  0.15,
		ReferenceHeight: 720,
		ScaleWithHeight: true,
	}
}

// scaled returns the radii for a frame of the given height.
func (p Params) scaled(height int) (blur, featherSigma, featherWidth float64) {
	k := 1.0
	if p.ScaleWithHeight && p.ReferenceHeight > 0 && height > 0 {
		k = float64(height) / float64(p.ReferenceHeight)
	}
	return p.BlurSigma * k, p.FeatherSigma * k, math.Max(p.FeatherWidth*k, 1)
}

// Filter applies Params to frames. It holds no per-frame state and is safe
// for concurrent use.
type Filter struct {
	params Params
}

// New creates a filter.
func New(params Params) *Filter {
	return &Filter{params: params}
}

// Params returns the filter constants.
func (f *Filter) Params() Params { return f.params }

// Apply returns a filtered copy of frame; frame is not modified.
func (f *Filter) Apply(frame *image.RGBA, masks []types.Mask) *image.RGBA {
	b := frame.Bounds()
	s := NewRasterSurface(b.Dx(), b.Dy())
	// Sizes match by construction.
	_ = s.Load(frame)
	f.ApplyTo(s, masks)
	return s.Snapshot()
}

// ApplyTo filters the surface in place, one mask at a time in order.
// Degenerate masks are skipped and the clip is reset on return.
func (f *Filter) ApplyTo(s FrameSurface, masks []types.Mask) {
	b := s.Bounds()
	blur, featherSigma, featherWidth := f.params.scaled(b.Dy())
	band := color.NRGBA{A: uint8(math.Round(clamp01(f.params.FeatherOpacity) * 255))}

	defer s.ResetClip()
	for _, m := range masks {
		if Degenerate(m) {
			continue
		}
		region := PaddedBounds(m.Points, 3*blur).Intersect(b)
		if region.Empty() {
			continue
		}
		s.ClipPolygon(m.Points)
		s.BlurRegion(region, blur)
		if band.A > 0 {
			s.StrokeBand(m.Points, featherWidth, featherSigma, band)
		}
	}
}

// Degenerate reports whether m encloses no area: fewer than three distinct
// points, or all points on one line. Self-intersecting outlines whose signed
// areas cancel are not degenerate.
func Degenerate(m types.Mask) bool {
	pts := m.Points
	if len(pts) < 3 {
		return true
	}
	a := pts[0]
	var b types.Point
	found := false
	for _, p := range pts[1:] {
		if p != a {
			b, found = p, true
			break
		}
	}
	if !found {
		return true
	}
	for _, c := range pts {
		cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
		if math.Abs(cross) > eps {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
