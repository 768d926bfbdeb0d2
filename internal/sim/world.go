// Package sim is a small kinematic model of one bristle bot in the arena.
// It stands in for the motors, compass, microphone and battery in --demo
// runs and in tests, and feeds the mock radio with the true position.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/locomotion"
)

// Physical constants of the model.
const (
	Speed    = 0.08 // m/s with both motors on
	TurnRate = 90.0 // deg/s with one motor on
	Drain    = 0.5  // battery units per motor-second
)

// World holds the true pose of the bot. It is advanced by the control loop
// clock, never by the wall clock.
type World struct {
	mu      sync.Mutex
	rng     *rand.Rand
	box     r2.Rect
	pos     r2.Point
	heading float64
	out     locomotion.Outputs
	now     time.Time
	energy  float64
}

// NewWorld places the bot at start facing heading degrees inside box.
func NewWorld(box r2.Rect, start r2.Point, heading float64, now time.Time, rng *rand.Rand) *World {
	return &World{
		rng:     rng,
		box:     box,
		pos:     box.ClampPoint(start),
		heading: heading,
		now:     now,
		energy:  255,
	}
}

// SetForward, SetLeft and SetRight make the world a locomotion.Actuator.
func (w *World) SetForward(on bool) error { w.set(func(o *locomotion.Outputs) { o.Forward = on }); return nil }
func (w *World) SetLeft(on bool) error    { w.set(func(o *locomotion.Outputs) { o.Left = on }); return nil }
func (w *World) SetRight(on bool) error   { w.set(func(o *locomotion.Outputs) { o.Right = on }); return nil }

func (w *World) set(f func(*locomotion.Outputs)) {
	w.mu.Lock()
	f(&w.out)
	w.mu.Unlock()
}

// Advance integrates motion from the previous call up to now.
func (w *World) Advance(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := now.Sub(w.now).Seconds()
	w.now = now
	if dt <= 0 {
		return
	}

	right, left := w.out.Pins()
	switch {
	case right && left:
		rad := w.heading * math.Pi / 180
		next := r2.Point{X: w.pos.X + math.Sin(rad)*Speed*dt, Y: w.pos.Y + math.Cos(rad)*Speed*dt}
		if !w.box.ContainsPoint(next) {
			// Bounce off the arena wall.
			w.heading = math.Mod(w.heading+180, 360)
			next = w.box.ClampPoint(next)
		}
		w.pos = next
		w.energy -= 2 * Drain * dt
	case right:
		w.heading = wrap(w.heading - TurnRate*dt)
		w.energy -= Drain * dt
	case left:
		w.heading = wrap(w.heading + TurnRate*dt)
		w.energy -= Drain * dt
	}
	if w.energy < 0 {
		w.energy = 0
	}
}

// Rotate turns the bot in place, used for the calibration spin.
func (w *World) Rotate(deg float64) {
	w.mu.Lock()
	w.heading = wrap(w.heading + deg)
	w.mu.Unlock()
}

// Position returns the true position.
func (w *World) Position() r2.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Heading returns the true compass heading in degrees.
func (w *World) Heading() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heading
}

// Now returns the time the world was last advanced to.
func (w *World) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// Outputs returns the motor outputs currently applied.
func (w *World) Outputs() locomotion.Outputs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out
}

// Level is the remaining battery, making World a battery gauge.
func (w *World) Level() uint8 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint8(math.Round(w.energy))
}

// Noise draws a normal deviate with standard deviation sigma.
func (w *World) Noise(sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.NormFloat64() * sigma
}

func wrap(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
