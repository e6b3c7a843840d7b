package object

import "math"

// WrapAngle maps a to the interval [-π, π).
func WrapAngle(a float64) float64 {
	if a >= -math.Pi && a < math.Pi {
		return a
	}
	return a - 2*math.Pi*math.Floor((a+math.Pi)/(2*math.Pi))
}

// AngleDifference returns the signed shortest rotation from b to a, wrapped
// into [-π, π).
func AngleDifference(a, b float64) float64 {
	return WrapAngle(a - b)
}

// DeltaTheta is AngleDifference with headings that differ by π treated as
// the same orientation, as happens when a detector flips a box front to
// back. The result lies in [-π/2, π/2].
func DeltaTheta(a, b float64) float64 {
	d := AngleDifference(a, b)
	switch {
	case d > math.Pi/2:
		d -= math.Pi
	case d < -math.Pi/2:
		d += math.Pi
	}
	return d
}
