package locate

import "math"

// MinRange is the smallest distance the path-loss model reports. It keeps
// the inverse-square weights of the solver finite.
const MinRange = 0.01

// PathLoss is the log-distance path loss model, calibrated offline.
type PathLoss struct {
	MeasuredPower float64 // RSSI at 1 meter (dBm)
	Exponent      float64 // Path loss exponent (N)
}

// Distance estimates distance from RSSI.
// Formula: d = 10^((measuredPower - rssi) / (10 * n))
func (m PathLoss) Distance(rssi float64) float64 {
	d := math.Pow(10, (m.MeasuredPower-rssi)/(10*m.Exponent))
	if d < MinRange || math.IsNaN(d) {
		return MinRange
	}
	return d
}

// Strength is the inverse of Distance: the RSSI expected at d meters.
func (m PathLoss) Strength(d float64) float64 {
	if d < MinRange {
		d = MinRange
	}
	return m.MeasuredPower - 10*m.Exponent*math.Log10(d)
}
