package heading

import "math"

// NormalizeDegrees wraps an angle to [0, 360).
func NormalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}

// AngleDiff returns the shortest angular distance between two headings.
// Result is in [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Direction returns the 8-point compass name for a heading in degrees.
func Direction(deg float64) string {
	sector := int(math.Floor((NormalizeDegrees(deg)+22.5)/45)) % 8
	return compassPoints[sector]
}

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
