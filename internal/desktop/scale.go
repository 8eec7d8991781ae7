package desktop

import (
	"fmt"
	"math"
)

// Size is a width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Point is a screen position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Largest tool-space display offered to the model when no target is
// configured.
const (
	maxTargetWidth  = 1280
	maxTargetHeight = 800
)

// Scaler converts between the coordinate space the model sees and the
// real display. The model works on screenshots downscaled to Target.
type Scaler struct {
	Display Size
	Target  Size
}

// NewScaler returns a scaler for display. A zero target fits the display
// inside 1280x800 keeping its aspect ratio; displays already smaller are
// not scaled.
func NewScaler(display, target Size) (Scaler, error) {
	if !display.Valid() {
		return Scaler{}, fmt.Errorf("invalid display size %dx%d", display.Width, display.Height)
	}
	if !target.Valid() {
		target = fitWithin(display, Size{Width: maxTargetWidth, Height: maxTargetHeight})
	}
	return Scaler{Display: display, Target: target}, nil
}

func fitWithin(display, bound Size) Size {
	if display.Width <= bound.Width && display.Height <= bound.Height {
		return display
	}
	ratio := math.Min(float64(bound.Width)/float64(display.Width), float64(bound.Height)/float64(display.Height))
	return Size{
		Width:  max(1, int(math.Round(float64(display.Width)*ratio))),
		Height: max(1, int(math.Round(float64(display.Height)*ratio))),
	}
}

// Scaled reports whether tool and device coordinates differ.
func (s Scaler) Scaled() bool {
	return s.Display != s.Target
}

// ToDevice maps a tool-space point to display pixels.
func (s Scaler) ToDevice(p Point) Point {
	return Point{
		X: scaleAxis(p.X, s.Target.Width, s.Display.Width),
		Y: scaleAxis(p.Y, s.Target.Height, s.Display.Height),
	}
}

// ToTool maps a display point back to tool space.
func (s Scaler) ToTool(p Point) Point {
	return Point{
		X: scaleAxis(p.X, s.Display.Width, s.Target.Width),
		Y: scaleAxis(p.Y, s.Display.Height, s.Target.Height),
	}
}

// InBounds reports whether p lies inside the tool-space display.
func (s Scaler) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < s.Target.Width && p.Y < s.Target.Height
}

func scaleAxis(v, from, to int) int {
	if from == to || from == 0 {
		return v
	}
	out := int(math.Round(float64(v) * float64(to) / float64(from)))
	return min(max(out, 0), to-1)
}
