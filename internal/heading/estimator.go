// Package heading derives a compass heading from a hard-iron corrected
// magnetometer.
package heading

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Reading is one heading estimate.
type Reading struct {
	Degrees    float64 // [0,360), 0 = north
	Calibrated bool
	At         time.Time
}

// Estimator recomputes the heading from a fresh sample on every tick.
type Estimator struct {
	mag         Magnetometer
	cal         Calibration
	declination float64
	last        Reading
}

// NewEstimator creates an estimator with identity calibration.
func NewEstimator(mag Magnetometer, declination float64) *Estimator {
	return &Estimator{
		mag:         mag,
		cal:         Identity(),
		declination: declination,
	}
}

// SetCalibration replaces the hard-iron correction.
func (e *Estimator) SetCalibration(c Calibration) {
	e.cal = c
}

// Calibration returns the correction in use.
func (e *Estimator) Calibration() Calibration {
	return e.cal
}

// ErrStale is returned by a Magnetometer that has no new sample yet.
var ErrStale = errors.New("heading: no new magnetometer sample")

// Update reads the sensor and returns the new heading. On a read error it
// returns the previous reading together with the error; a stale sensor is
// not an error.
func (e *Estimator) Update(now time.Time) (Reading, error) {
	raw, err := e.mag.ReadRaw()
	if errors.Is(err, ErrStale) {
		return e.last, nil
	}
	if err != nil {
		return e.last, fmt.Errorf("magnetometer read: %w", err)
	}
	e.last = Reading{
		Degrees:    Compute(e.cal.Apply(raw), e.declination),
		Calibrated: e.cal.Calibrated,
		At:         now,
	}
	return e.last, nil
}

// Last returns the most recent reading.
func (e *Estimator) Last() Reading {
	return e.last
}

// Compute returns atan2(y, x) in degrees plus declination, wrapped to [0,360).
func Compute(v Vector, declination float64) float64 {
	return NormalizeDegrees(toDegrees(math.Atan2(v.Y, v.X)) + declination)
}

// TiltCompensated projects a corrected magnetic vector onto the horizontal
// plane using the accelerometer's gravity vector. It returns false when the
// gravity vector is degenerate.
func TiltCompensated(m, accel Vector, declination float64) (float64, bool) {
	norm := math.Sqrt(accel.X*accel.X + accel.Y*accel.Y + accel.Z*accel.Z)
	if norm == 0 {
		return 0, false
	}
	ax, ay := accel.X/norm, accel.Y/norm

	pitch := math.Asin(-ax)
	cp := math.Cos(pitch)
	if cp == 0 {
		return 0, false
	}
	roll := math.Asin(math.Max(-1, math.Min(1, ay/cp)))

	sr, cr := math.Sin(roll), math.Cos(roll)
	sp := math.Sin(pitch)

	xh := m.X*cp + m.Z*sp
	yh := m.X*sr*sp + m.Y*cr - m.Z*sr*cp
	return NormalizeDegrees(toDegrees(math.Atan2(yh, xh)) + declination), true
}
