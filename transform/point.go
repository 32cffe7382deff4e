// Package transform converts between pixel-space star displacement and
// mount-axis command space using an empirically measured Calibration,
// adjusted for pier side, rotator angle, and declination (spec.md 4.3).
package transform

import "math"

// PixelPoint is a 2D vector in camera pixel space. Valid distinguishes
// "not yet measured" (e.g. no star found this frame) from (0,0).
type PixelPoint struct {
	X, Y  float64
	Valid bool
}

// AxisPoint is a 2D vector in mount-axis command space (X is the "RA"-like
// axis, Y the "declination"-like axis in the source terminology).
type AxisPoint struct {
	X, Y  float64
	Valid bool
}

// Distance returns the Euclidean norm of p.
func (p PixelPoint) Distance() float64 {
	return math.Hypot(p.X, p.Y)
}

// Angle returns atan2(Y, X) for p.
func (p PixelPoint) Angle() float64 {
	return math.Atan2(p.Y, p.X)
}

// Sub returns p - q.
func (p PixelPoint) Sub(q PixelPoint) PixelPoint {
	return PixelPoint{X: p.X - q.X, Y: p.Y - q.Y, Valid: p.Valid && q.Valid}
}

// Distance returns the Euclidean norm of a.
func (a AxisPoint) Distance() float64 {
	return math.Hypot(a.X, a.Y)
}

// Angle returns atan2(Y, X) for a.
func (a AxisPoint) Angle() float64 {
	return math.Atan2(a.Y, a.X)
}
