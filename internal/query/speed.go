package query

import "math"

// Speed returns the magnitude of the velocity vector (km/s for feed units):
// the Euclidean norm of the three components. Defined for all real inputs;
// the zero vector yields 0.
func Speed(xDot, yDot, zDot float64) float64 {
	return math.Sqrt(xDot*xDot + yDot*yDot + zDot*zDot)
}
