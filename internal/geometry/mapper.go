package geometry

import "math"

// Rect is an axis-aligned rectangle. Units depend on the space it lives in:
// actual page pixels (integer-valued) or display pixels (may carry fractions).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Mapper converts between the full-resolution page pixel space and the
// on-screen display space. It holds no persisted state and is re-derived
// whenever the viewport resizes or zoom changes.
type Mapper struct {
	scaleX float64
	scaleY float64
}

// NewMapper derives scale factors from the rendered page dimensions and the
// display element dimensions. Non-positive display dimensions yield the
// identity mapping so a degenerate viewport never divides by zero.
func NewMapper(actualWidth, actualHeight, displayWidth, displayHeight float64) Mapper {
	m := Mapper{scaleX: 1, scaleY: 1}
	if displayWidth > 0 && actualWidth > 0 {
		m.scaleX = actualWidth / displayWidth
	}
	if displayHeight > 0 && actualHeight > 0 {
		m.scaleY = actualHeight / displayHeight
	}
	return m
}

// ToActual maps a display-space rectangle into page pixel space, rounding to
// integer pixels since OCR crops need integer bounds.
func (m Mapper) ToActual(display Rect) Rect {
	return Rect{
		X:      math.Round(display.X * m.scaleX),
		Y:      math.Round(display.Y * m.scaleY),
		Width:  math.Round(display.Width * m.scaleX),
		Height: math.Round(display.Height * m.scaleY),
	}
}

// ToDisplay maps a page-pixel rectangle back into display space. Display
// coordinates keep float precision for smooth rendering.
func (m Mapper) ToDisplay(actual Rect) Rect {
	return Rect{
		X:      actual.X / m.scaleX,
		Y:      actual.Y / m.scaleY,
		Width:  actual.Width / m.scaleX,
		Height: actual.Height / m.scaleY,
	}
}

// ScaleX returns the display-to-actual horizontal scale factor.
func (m Mapper) ScaleX() float64 { return m.scaleX }

// ScaleY returns the display-to-actual vertical scale factor.
func (m Mapper) ScaleY() float64 { return m.scaleY }
