package sim

import (
	"errors"
	"math"
	"time"

	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/heading"
)

// Compass is a magnetometer mounted with a hard-iron bias and unequal axis
// gains, the distortion calibration has to remove.
type Compass struct {
	World *World
	Bias  heading.Vector
	Gain  heading.Vector
	Noise float64
}

// NewCompass returns a compass with a typical board distortion.
func NewCompass(w *World) *Compass {
	return &Compass{
		World: w,
		Bias:  heading.Vector{X: 180, Y: -95, Z: 40},
		Gain:  heading.Vector{X: 1200, Y: 980, Z: 400},
		Noise: 4,
	}
}

// ReadRaw implements heading.Magnetometer.
func (c *Compass) ReadRaw() (heading.Vector, error) {
	rad := c.World.Heading() * math.Pi / 180
	return heading.Vector{
		X: c.Bias.X + c.Gain.X*math.Cos(rad) + c.World.Noise(c.Noise),
		Y: c.Bias.Y + c.Gain.Y*math.Sin(rad) + c.World.Noise(c.Noise),
		Z: c.Bias.Z + c.Gain.Z*0.3 + c.World.Noise(c.Noise),
	}, nil
}

// Mic is a microphone hearing one sound source in the arena. A capture is
// delivered synchronously from Resume, split into blocks.
type Mic struct {
	World     *World
	Source    r2.Point
	Loudness  float64 // amplitude at 1 m
	Samples   int
	BlockSize int
	Stuck     bool // never deliver, to exercise the capture timeout

	sink   func([]int16)
	paused bool
}

// ErrNotStarted is returned by Resume before Begin.
var ErrNotStarted = errors.New("sim: microphone not started")

func (m *Mic) Begin(sink func([]int16)) error {
	m.sink = sink
	return nil
}

func (m *Mic) Pause() error {
	m.paused = true
	return nil
}

func (m *Mic) Resume() error {
	if m.sink == nil {
		return ErrNotStarted
	}
	m.paused = false
	if m.Stuck {
		return nil
	}

	d := m.World.Position().Sub(m.Source).Norm()
	amp := m.Loudness / (1 + d*d)
	for sent := 0; sent < m.Samples && !m.paused; sent += m.BlockSize {
		n := m.BlockSize
		if rem := m.Samples - sent; rem < n {
			n = rem
		}
		blk := make([]int16, n)
		for i := range blk {
			v := amp*math.Sin(float64(sent+i)*0.39) + m.World.Noise(2)
			blk[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
		}
		m.sink(blk)
	}
	return nil
}

// Spin turns the world at a constant rate, driving the calibration sweep.
type Spin struct {
	World *World
	RPM   float64
}

// Sleep rotates the bot by the angle covered in d. It is passed to
// heading.Calibrate in place of time.Sleep.
func (s Spin) Sleep(d time.Duration) {
	s.World.Rotate(s.Degrees(d))
}

// Degrees returns the angle turned in d.
func (s Spin) Degrees(d time.Duration) float64 {
	return d.Seconds() * s.RPM / 60 * 360
}
