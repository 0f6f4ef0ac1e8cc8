// Package types provides types shared by the removal module's components.
package types

import "math"

// Point is a pixel coordinate. Stored masks always hold points in the video's
// native pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle given by its origin and size.
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

// Valid reports whether both dimensions are finite and positive.
func (r Rect) Valid() bool {
	return r.Size.Width > 0 && r.Size.Height > 0 &&
		!math.IsInf(r.Size.Width, 0) && !math.IsInf(r.Size.Height, 0)
}

// Path is an ordered sequence of points. Order defines polygon winding.
type Path []Point

// Mask is a committed, closed polygon in native coordinates. Masks are
// immutable once committed; callers receive copies.
type Mask struct {
	Points []Point `json:"points"`
}

// NewMask copies p into a Mask.
func NewMask(p Path) Mask {
	pts := make([]Point, len(p))
	copy(pts, p)
	return Mask{Points: pts}
}

// Clone returns a deep copy of the mask.
func (m Mask) Clone() Mask {
	return NewMask(m.Points)
}

// Area returns the absolute polygon area using the shoelace formula.
func (m Mask) Area() float64 {
	n := len(m.Points)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := m.Points[i]
		b := m.Points[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(sum) / 2
}

// Bounds returns the bounding box of the mask as min/max corners.
func (m Mask) Bounds() (min, max Point) {
	if len(m.Points) == 0 {
		return Point{}, Point{}
	}
	min, max = m.Points[0], m.Points[0]
	for _, p := range m.Points[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}

// CloneMasks deep-copies a mask list.
func CloneMasks(masks []Mask) []Mask {
	out := make([]Mask, len(masks))
	for i, m := range masks {
		out[i] = m.Clone()
	}
	return out
}
