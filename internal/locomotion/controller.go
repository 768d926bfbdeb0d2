// Package locomotion drives the two bristle motors with a Lévy walk and
// lets other subsystems borrow silence through pause tokens.
package locomotion

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Actuator is the raw per-output digital motor interface.
type Actuator interface {
	SetForward(on bool) error
	SetLeft(on bool) error
	SetRight(on bool) error
}

// State of the walk.
type State int

const (
	Idle State = iota
	MovingForward
	TurningLeft
	TurningRight
	Paused
)

func (s State) String() string {
	switch s {
	case MovingForward:
		return "forward"
	case TurningLeft:
		return "left"
	case TurningRight:
		return "right"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// Outputs is the set of directional outputs in effect.
type Outputs struct {
	Forward bool
	Left    bool
	Right   bool
}

// Pins maps the directional outputs onto the two vibration motors: both
// run to go forward, the right motor alone turns left and the left motor
// alone turns right.
func (o Outputs) Pins() (right, left bool) {
	return o.Forward || o.Left, o.Forward || o.Right
}

func outputsFor(s State) Outputs {
	switch s {
	case MovingForward:
		return Outputs{Forward: true}
	case TurningLeft:
		return Outputs{Left: true}
	case TurningRight:
		return Outputs{Right: true}
	default:
		return Outputs{}
	}
}

// Params are the walk's interval bounds and statistics.
type Params struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	Mu          float64
	ForwardProb float64
	MinTurn     time.Duration
	MaxTurn     time.Duration
}

// Controller is the single owner of the motor outputs.
type Controller struct {
	act    Actuator
	params Params
	walk   PowerLaw
	rng    *rand.Rand
	log    *slog.Logger

	state      State
	outputs    Outputs
	nextAction time.Time
	started    bool

	holders   map[string]struct{}
	saved     State
	remaining time.Duration
}

// NewController creates a controller. rng must not be shared with another
// goroutine.
func NewController(act Actuator, params Params, rng *rand.Rand, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		act:     act,
		params:  params,
		walk:    PowerLaw{Min: params.MinInterval, Max: params.MaxInterval, Mu: params.Mu},
		rng:     rng,
		log:     logger.With("component", "locomotion"),
		holders: make(map[string]struct{}),
	}
}

// Start silences the motors and schedules the first action.
func (c *Controller) Start(now time.Time) error {
	c.started = true
	c.state = Idle
	c.nextAction = now.Add(uniform(c.rng, c.params.MinInterval, c.params.MaxInterval))
	return c.apply(Outputs{})
}

// Tick performs the next walk action when it is due.
func (c *Controller) Tick(now time.Time) error {
	if !c.started {
		return c.Start(now)
	}
	if c.state == Paused || now.Before(c.nextAction) {
		return nil
	}

	next, interval := c.choose()
	c.state = next
	c.nextAction = now.Add(interval)
	c.log.Debug("walk action", "state", next, "interval", interval)
	return c.apply(outputsFor(next))
}

// choose picks the next action: mostly forward runs with heavy-tailed
// durations, otherwise a short turn either way.
func (c *Controller) choose() (State, time.Duration) {
	if c.rng.Float64() < c.params.ForwardProb {
		return MovingForward, c.walk.Sample(c.rng)
	}
	turn := uniform(c.rng, c.params.MinTurn, c.params.MaxTurn)
	if c.rng.Intn(2) == 0 {
		return TurningLeft, turn
	}
	return TurningRight, turn
}

// RequestPause silences the motors on behalf of token. Requesting twice with
// the same token is a no-op.
func (c *Controller) RequestPause(token string, now time.Time) error {
	if _, held := c.holders[token]; held {
		return nil
	}
	c.holders[token] = struct{}{}
	if len(c.holders) > 1 {
		return nil
	}

	c.saved = c.state
	c.remaining = c.nextAction.Sub(now)
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.state = Paused
	c.log.Debug("paused", "token", token, "saved", c.saved, "remaining", c.remaining)
	return c.apply(Outputs{})
}

// Release drops token's pause and reports whether token held one. When no
// holder is left the outputs in effect at the first pause are restored and
// the unconsumed part of the interval resumes from now.
func (c *Controller) Release(token string, now time.Time) (bool, error) {
	if _, held := c.holders[token]; !held {
		return false, nil
	}
	delete(c.holders, token)
	if len(c.holders) > 0 {
		return true, nil
	}

	c.state = c.saved
	c.nextAction = now.Add(c.remaining)
	c.log.Debug("resumed", "token", token, "state", c.state, "next", c.nextAction)
	return true, c.apply(outputsFor(c.state))
}

// Paused reports whether any holder keeps the motors silent.
func (c *Controller) Paused() bool {
	return len(c.holders) > 0
}

// State returns the current walk state.
func (c *Controller) State() State {
	return c.state
}

// Outputs returns the outputs last written to the actuator.
func (c *Controller) Outputs() Outputs {
	return c.outputs
}

// NextAction returns when the next walk action is due.
func (c *Controller) NextAction() time.Time {
	return c.nextAction
}

// Stop silences the motors for shutdown.
func (c *Controller) Stop() error {
	c.state = Idle
	return c.apply(Outputs{})
}

// apply writes all three outputs. Off outputs are written first so two
// outputs are never on at the same time.
func (c *Controller) apply(o Outputs) error {
	c.outputs = o
	var errs []error
	type write struct {
		on  bool
		set func(bool) error
	}
	writes := []write{
		{o.Forward, c.act.SetForward},
		{o.Left, c.act.SetLeft},
		{o.Right, c.act.SetRight},
	}
	for _, on := range []bool{false, true} {
		for _, w := range writes {
			if w.on == on {
				if err := w.set(on); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("motor outputs: %w", err)
	}
	return nil
}
