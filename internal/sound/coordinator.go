// Package sound samples ambient loudness while the motors are silenced.
package sound

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// PauseToken identifies the coordinator to the locomotion controller.
const PauseToken = "sound"

// ErrCaptureTimeout reports a capture that never completed. The level for
// that round is zero and locomotion has been resumed.
var ErrCaptureTimeout = errors.New("sound: capture timed out")

// Recorder is the audio driver. Begin installs the block callback once;
// Pause and Resume gate delivery. The callback may run on another goroutine.
type Recorder interface {
	Begin(sink func(block []int16)) error
	Pause() error
	Resume() error
}

// Pauser is the part of the locomotion controller the coordinator drives.
type Pauser interface {
	RequestPause(token string, now time.Time) error
	Release(token string, now time.Time) (bool, error)
}

// Phase of a sampling round.
type Phase int

// Phases in round order.
const (
	Idle Phase = iota
	Settling
	Capturing
)

// String returns the lowercase phase name used in logs.
func (p Phase) String() string {
	switch p {
	case Settling:
		return "settling"
	case Capturing:
		return "capturing"
	default:
		return "idle"
	}
}

// Params times a sampling round. A round starts every Period, waits Settle
// for the motors to stop, then captures Samples in blocks of BlockSize,
// giving up after Timeout.
type Params struct {
	Period    time.Duration
	Settle    time.Duration
	Samples   int
	Timeout   time.Duration
	BlockSize int
}

// Result of the most recent sampling round.
type Result struct {
	Level    uint8
	At       time.Time
	TimedOut bool
}

// Coordinator runs the pause, settle, capture, resume sequence one step per
// tick without blocking.
type Coordinator struct {
	rec    Recorder
	motion Pauser
	params Params
	log    *slog.Logger

	cur atomic.Pointer[CaptureBuffer]

	phase      Phase
	phaseStart time.Time
	lastRun    time.Time
	started    bool

	last     Result
	rounds   int
	timeouts int
}

// NewCoordinator creates a coordinator that records from rec and pauses
// motion for each round. Call Start before the first Tick.
func NewCoordinator(rec Recorder, motion Pauser, params Params, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		rec:    rec,
		motion: motion,
		params: params,
		log:    logger.With("component", "sound"),
	}
}

// Start installs the recorder callback and leaves the recorder paused. The
// first round runs one period after now.
func (c *Coordinator) Start(now time.Time) error {
	if err := c.rec.Begin(c.sink); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	if err := c.rec.Pause(); err != nil {
		return fmt.Errorf("failed to pause recorder: %w", err)
	}
	c.started = true
	c.lastRun = now
	return nil
}

func (c *Coordinator) sink(block []int16) {
	if buf := c.cur.Load(); buf != nil {
		buf.Write(block)
	}
}

// Tick advances the sampling round.
func (c *Coordinator) Tick(now time.Time) error {
	if !c.started {
		return nil
	}
	elapsed := now.Sub(c.phaseStart)

	switch c.phase {
	case Idle:
		if now.Sub(c.lastRun) < c.params.Period {
			return nil
		}
		c.lastRun = now
		c.enter(Settling, now)
		if err := c.motion.RequestPause(PauseToken, now); err != nil {
			c.log.Warn("pause request failed", "error", err)
		}

	case Settling:
		if elapsed < c.params.Settle {
			return nil
		}
		c.cur.Store(NewCaptureBuffer(c.params.Samples, c.params.BlockSize))
		if err := c.rec.Resume(); err != nil {
			return c.finish(now, nil, fmt.Errorf("failed to resume recorder: %w", err))
		}
		c.enter(Capturing, now)

	case Capturing:
		buf := c.cur.Load()
		if buf != nil && buf.Ready() {
			return c.finish(now, buf, nil)
		}
		if elapsed >= c.params.Timeout {
			return c.finish(now, nil, fmt.Errorf("%w after %s", ErrCaptureTimeout, elapsed))
		}
	}
	return nil
}

// finish pauses the recorder, publishes the level and always releases the
// motors. A nil buf discards whatever was captured.
func (c *Coordinator) finish(now time.Time, buf *CaptureBuffer, cause error) error {
	errs := []error{cause}
	if err := c.rec.Pause(); err != nil {
		errs = append(errs, fmt.Errorf("failed to pause recorder: %w", err))
	}
	c.cur.Store(nil)

	c.rounds++
	c.last = Result{At: now}
	if buf != nil {
		samples := buf.Drain()
		c.last.Level = Level(samples)
		c.log.Debug("sound sampled", "level", c.last.Level, "samples", len(samples), "dropped", buf.Dropped())
	} else {
		c.last.TimedOut = errors.Is(cause, ErrCaptureTimeout)
		c.timeouts++
		c.log.Warn("sound capture failed", "error", cause)
	}

	if _, err := c.motion.Release(PauseToken, now); err != nil {
		errs = append(errs, fmt.Errorf("failed to resume locomotion: %w", err))
	}
	c.enter(Idle, now)
	return errors.Join(errs...)
}

func (c *Coordinator) enter(p Phase, now time.Time) {
	c.phase = p
	c.phaseStart = now
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// Last returns the most recent result. Its Level is zero after a failure.
func (c *Coordinator) Last() Result { return c.last }

// Level returns the latest sound amplitude.
func (c *Coordinator) Level() uint8 { return c.last.Level }

// Stats returns completed rounds and how many of them failed.
func (c *Coordinator) Stats() (rounds, failures int) { return c.rounds, c.timeouts }
