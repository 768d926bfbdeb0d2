package heading

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSamples is returned when a calibration sweep saw no usable reading.
var ErrNoSamples = errors.New("heading: calibration sweep produced no samples")

// Vector is one raw or corrected magnetometer sample.
type Vector struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Magnetometer reads raw magnetic axes. Reads are synchronous.
type Magnetometer interface {
	ReadRaw() (Vector, error)
}

// Calibration is the per-axis hard-iron correction.
type Calibration struct {
	Offset     Vector    `yaml:"offset"`
	Scale      Vector    `yaml:"scale"`
	Calibrated bool      `yaml:"calibrated"`
	Samples    int       `yaml:"samples"`
	At         time.Time `yaml:"at"`
}

// Identity returns the pass-through correction used before calibration.
func Identity() Calibration {
	return Calibration{Scale: Vector{X: 1, Y: 1, Z: 1}}
}

// Apply corrects a raw sample.
func (c Calibration) Apply(v Vector) Vector {
	return Vector{
		X: (v.X - c.Offset.X) * c.Scale.X,
		Y: (v.Y - c.Offset.Y) * c.Scale.Y,
		Z: (v.Z - c.Offset.Z) * c.Scale.Z,
	}
}

// Sweep accumulates axis extrema while the bot is rotated.
type Sweep struct {
	min, max Vector
	n        int
}

// NewSweep creates an empty sweep.
func NewSweep() *Sweep {
	return &Sweep{
		min: Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		max: Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
}

// Add records a sample. All-zero readings are the sensor's "no data" value
// and are ignored.
func (s *Sweep) Add(v Vector) {
	if v.X == 0 && v.Y == 0 && v.Z == 0 {
		return
	}
	s.min = Vector{X: math.Min(s.min.X, v.X), Y: math.Min(s.min.Y, v.Y), Z: math.Min(s.min.Z, v.Z)}
	s.max = Vector{X: math.Max(s.max.X, v.X), Y: math.Max(s.max.Y, v.Y), Z: math.Max(s.max.Z, v.Z)}
	s.n++
}

// Len returns the number of samples accepted.
func (s *Sweep) Len() int { return s.n }

// Result computes offset=(max+min)/2 and scale=1/(max-min) per axis. An
// axis with zero range keeps scale 1.
func (s *Sweep) Result(now time.Time) (Calibration, error) {
	if s.n == 0 {
		return Identity(), ErrNoSamples
	}
	axis := func(lo, hi float64) (offset, scale float64) {
		offset = (hi + lo) / 2
		scale = 1
		if r := hi - lo; r > 0 {
			scale = 1 / r
		}
		return offset, scale
	}

	var c Calibration
	c.Offset.X, c.Scale.X = axis(s.min.X, s.max.X)
	c.Offset.Y, c.Scale.Y = axis(s.min.Y, s.max.Y)
	c.Offset.Z, c.Scale.Z = axis(s.min.Z, s.max.Z)
	c.Calibrated = true
	c.Samples = s.n
	c.At = now
	return c, nil
}

// Calibrate runs a bounded sweep of count reads spaced by interval and stamps
// the result with at. sleep is injected so tests and the simulator need not
// wait on the wall clock. Read errors are skipped; the sweep fails only if
// nothing usable was read.
func Calibrate(mag Magnetometer, count int, interval time.Duration, sleep func(time.Duration), at time.Time) (Calibration, error) {
	sweep := NewSweep()
	var lastErr error
	for i := 0; i < count; i++ {
		v, err := mag.ReadRaw()
		if err != nil {
			lastErr = err
		} else {
			sweep.Add(v)
		}
		if sleep != nil && i < count-1 {
			sleep(interval)
		}
	}

	cal, err := sweep.Result(at)
	if err != nil && lastErr != nil {
		return cal, fmt.Errorf("%w: last read error: %v", err, lastErr)
	}
	return cal, err
}

// SaveFile writes the calibration as YAML.
func SaveFile(path string, c Calibration) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// LoadFile reads a calibration written by SaveFile.
func LoadFile(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity(), fmt.Errorf("failed to read calibration file: %w", err)
	}
	c := Identity()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Identity(), fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}
	return c, nil
}
