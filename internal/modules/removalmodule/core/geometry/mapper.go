// Package geometry maps between on-screen authoring coordinates and the
// video's native pixel space.
package geometry

import (
	"fmt"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// ToNative maps a display point into native pixel space. The scale is
// nativeDim / displayRect.Size per axis, applied relative to the rect's origin.
// Callers must evaluate it with the display geometry in effect when the point
// was captured.
func ToNative(p types.Point, display types.Rect, native types.Size) (types.Point, error) {
	if !display.Valid() {
		return types.Point{}, fmt.Errorf("%w: rect %vx%v", rerrors.ErrInvalidGeometry, display.Size.Width, display.Size.Height)
	}
	sx := native.Width / display.Size.Width
	sy := native.Height / display.Size.Height
	return types.Point{
		X: (p.X - display.Origin.X) * sx,
		Y: (p.Y - display.Origin.Y) * sy,
	}, nil
}

// ToDisplay is the inverse of ToNative for the same geometry.
func ToDisplay(p types.Point, display types.Rect, native types.Size) (types.Point, error) {
	if !display.Valid() {
		return types.Point{}, fmt.Errorf("invalid display rect %vx%v", display.Size.Width, display.Size.Height)
	}
	if native.Width <= 0 || native.Height <= 0 {
		return types.Point{}, fmt.Errorf("invalid native size %vx%v", native.Width, native.Height)
	}
	sx := display.Size.Width / native.Width
	sy := display.Size.Height / native.Height
	return types.Point{
		X: p.X*sx + display.Origin.X,
		Y: p.Y*sy + display.Origin.Y,
	}, nil
}

// Clamp limits p to the native frame.
func Clamp(p types.Point, native types.Size) types.Point {
	if p.X < 0 {
		p.X = 0
	} else if p.X > native.Width {
		p.X = native.Width
	}
	if p.Y < 0 {
		p.Y = 0
	} else if p.Y > native.Height {
		p.Y = native.Height
	}
	return p
}
