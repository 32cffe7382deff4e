package transform

import "math"

// Forward converts a pixel-space displacement into axis-space command
// units, using the working calibration's current angles and
// non-orthogonality error (spec.md section 4.3).
func Forward(v PixelPoint, w *WorkingCalibration) AxisPoint {
	hyp := v.Distance()
	theta := v.Angle()
	yErr := w.Base.YAngleError()
	return AxisPoint{
		X:     hyp * math.Cos(theta-w.Base.XAngle),
		Y:     hyp * math.Sin(theta-(w.Base.XAngle+yErr)),
		Valid: v.Valid,
	}
}

// Inverse converts an axis-space vector back to pixel space. It is exact
// only when the two mount axes are orthogonal (YAngleError == 0); the
// magnitude of YAngleError bounds the round-trip error. When the
// non-orthogonality error exceeds pi/2, the angle is negated so the
// forward transform (which remains single-valued in that regime) can be
// inverted without ambiguity, at the cost of round-trip accuracy.
func Inverse(u AxisPoint, w *WorkingCalibration) PixelPoint {
	hyp := u.Distance()
	thetaP := u.Angle()
	if math.Abs(w.Base.YAngleError()) > math.Pi/2 {
		thetaP = -thetaP
	}
	return PixelPoint{
		X:     hyp * math.Cos(thetaP+w.Base.XAngle),
		Y:     hyp * math.Sin(thetaP+w.Base.XAngle),
		Valid: u.Valid,
	}
}
