// Package geo maps coordinates onto a fixed-size frame and samples a
// simulated vehicle position between two points.
package geo

import (
	"time"

	"github.com/example/superapp-dispatch/internal/models"
)

type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

type Frame struct {
	Width, Height float64
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is one tracker reading; Progress is in [0, 1].
type Sample struct {
	Point
	Progress float64 `json:"progress"`
}

// Projection is a linear map from a lat/lon box onto a frame whose y axis
// grows downward.
type Projection struct {
	Bounds Bounds
	Frame  Frame
}

// DefaultProjection covers the service area of the seeded driver roster.
func DefaultProjection() Projection {
	return Projection{
		Bounds: Bounds{MinLat: 16.4, MaxLat: 16.6, MinLon: 80.5, MaxLon: 80.8},
		Frame:  Frame{Width: 600, Height: 400},
	}
}

// Project places c on the frame. Points outside the bounds land outside the frame.
func (p Projection) Project(c models.Coord) Point {
	b := p.Bounds
	x := (c.Lon - b.MinLon) / (b.MaxLon - b.MinLon) * p.Frame.Width
	y := p.Frame.Height - (c.Lat-b.MinLat)/(b.MaxLat-b.MinLat)*p.Frame.Height
	return Point{X: x, Y: y}
}

// Progress is elapsed/window clamped to [0, 1]. A non-positive window is
// treated as already elapsed.
func Progress(elapsed, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	f := float64(elapsed) / float64(window)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// PositionAt interpolates linearly in frame space from start to end.
func (p Projection) PositionAt(start, end models.Coord, elapsed, window time.Duration) Sample {
	a, b := p.Project(start), p.Project(end)
	f := Progress(elapsed, window)
	if f == 1 {
		return Sample{Point: b, Progress: 1}
	}
	return Sample{
		Point:    Point{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f},
		Progress: f,
	}
}
