package heading

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fieldMag simulates a magnetometer with a hard-iron bias and unequal axis gain.
type fieldMag struct {
	headingDeg float64
	bias       Vector
	gain       Vector
	err        error
}

func (m *fieldMag) ReadRaw() (Vector, error) {
	if m.err != nil {
		return Vector{}, m.err
	}
	rad := m.headingDeg * math.Pi / 180
	return Vector{
		X: m.bias.X + m.gain.X*math.Cos(rad),
		Y: m.bias.Y + m.gain.Y*math.Sin(rad),
		Z: m.bias.Z + m.gain.Z*0.3,
	}, nil
}

// spinning rotates the simulated bot by step degrees per read.
type spinning struct {
	fieldMag
	step float64
}

func (s *spinning) ReadRaw() (Vector, error) {
	v, err := s.fieldMag.ReadRaw()
	s.headingDeg += s.step
	return v, err
}

func TestNormalizeAndDiff(t *testing.T) {
	assert.InDelta(t, 350.0, NormalizeDegrees(-10), 1e-9)
	assert.InDelta(t, 0.0, NormalizeDegrees(720), 1e-9)
	assert.InDelta(t, 20.0, AngleDiff(350, 10), 1e-9)
	assert.InDelta(t, 180.0, AngleDiff(0, 180), 1e-9)
}

func TestDirection(t *testing.T) {
	cases := map[float64]string{0: "N", 22.4: "N", 22.5: "NE", 90: "E", 181: "S", 250: "W", 300: "NW", 359.9: "N"}
	for deg, want := range cases {
		assert.Equal(t, want, Direction(deg), "deg=%v", deg)
	}
}

func TestSweepZeroRangeAxisKeepsUnitScale(t *testing.T) {
	s := NewSweep()
	s.Add(Vector{X: 10, Y: 5, Z: 3})
	s.Add(Vector{X: 30, Y: -5, Z: 3})
	s.Add(Vector{}) // ignored

	cal, err := s.Result(t0)
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Samples)
	assert.InDelta(t, 20.0, cal.Offset.X, 1e-9)
	assert.InDelta(t, 1.0/20, cal.Scale.X, 1e-9)
	assert.InDelta(t, 0.0, cal.Offset.Y, 1e-9)
	assert.InDelta(t, 1.0/10, cal.Scale.Y, 1e-9)
	assert.Equal(t, 1.0, cal.Scale.Z)
	assert.True(t, cal.Calibrated)
}

func TestEmptySweepFails(t *testing.T) {
	cal, err := NewSweep().Result(t0)
	assert.ErrorIs(t, err, ErrNoSamples)
	assert.Equal(t, Identity(), cal)
}

func TestCalibrateRecoversTrueHeading(t *testing.T) {
	mag := &spinning{
		fieldMag: fieldMag{bias: Vector{X: 120, Y: -40, Z: 15}, gain: Vector{X: 300, Y: 180, Z: 50}},
		step:     7.3,
	}
	var slept time.Duration
	cal, err := Calibrate(mag, 200, 10*time.Millisecond, func(d time.Duration) { slept += d }, t0)
	require.NoError(t, err)
	assert.Equal(t, 199*10*time.Millisecond, slept)
	assert.Equal(t, t0, cal.At, "stamped with the caller's clock")

	fixed := &fieldMag{bias: mag.bias, gain: mag.gain}
	est := NewEstimator(fixed, 0)
	est.SetCalibration(cal)

	for _, want := range []float64{0, 45, 90, 200, 315} {
		fixed.headingDeg = want
		r, err := est.Update(t0)
		require.NoError(t, err)
		assert.True(t, r.Calibrated)
		assert.Less(t, AngleDiff(want, r.Degrees), 2.0, "want %v got %v", want, r.Degrees)
	}
}

func TestUncalibratedIsBestEffort(t *testing.T) {
	mag := &fieldMag{gain: Vector{X: 1, Y: 1, Z: 1}, headingDeg: 90}
	est := NewEstimator(mag, 10)

	r, err := est.Update(t0)
	require.NoError(t, err)
	assert.False(t, r.Calibrated)
	assert.InDelta(t, 100.0, r.Degrees, 1e-6)
}

func TestReadErrorKeepsLastReading(t *testing.T) {
	mag := &fieldMag{gain: Vector{X: 1, Y: 1, Z: 1}, headingDeg: 30}
	est := NewEstimator(mag, 0)
	first, err := est.Update(t0)
	require.NoError(t, err)

	mag.err = errors.New("i2c nack")
	again, err := est.Update(t0.Add(time.Second))
	require.Error(t, err)
	assert.Equal(t, first, again)
}

func TestCalibrateAllErrors(t *testing.T) {
	mag := &fieldMag{err: errors.New("bus down")}
	_, err := Calibrate(mag, 5, 0, nil, t0)
	require.ErrorIs(t, err, ErrNoSamples)
	assert.Contains(t, err.Error(), "bus down")
}

func TestTiltCompensatedLevelMatchesPlain(t *testing.T) {
	m := Vector{X: 0.2, Y: 0.4, Z: -0.1}
	h, ok := TiltCompensated(m, Vector{Z: 1}, 0)
	require.True(t, ok)
	assert.InDelta(t, Compute(m, 0), h, 1e-9)

	_, ok = TiltCompensated(m, Vector{}, 0)
	assert.False(t, ok)
}

func TestCalibrationFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mag.yaml")
	want := Calibration{
		Offset:     Vector{X: 1, Y: 2, Z: 3},
		Scale:      Vector{X: 0.5, Y: 0.25, Z: 1},
		Calibrated: true,
		Samples:    100,
		At:         t0,
	}
	require.NoError(t, SaveFile(path, want))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.Offset, got.Offset)
	assert.Equal(t, want.Scale, got.Scale)
	assert.True(t, got.Calibrated)
	assert.True(t, want.At.Equal(got.At))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaleSampleKeepsReadingWithoutError(t *testing.T) {
	mag := &fieldMag{gain: Vector{X: 1, Y: 1, Z: 1}, headingDeg: 60}
	est := NewEstimator(mag, 0)
	first, err := est.Update(t0)
	require.NoError(t, err)

	mag.err = fmt.Errorf("qmc: %w", ErrStale)
	again, err := est.Update(t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
