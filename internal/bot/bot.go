// Package bot wires the subsystems of one bristle bot and runs them in a
// fixed order on every tick of the control loop.
package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/config"
	"swarmbot.klederson.com/internal/heading"
	"swarmbot.klederson.com/internal/locate"
	"swarmbot.klederson.com/internal/locomotion"
	"swarmbot.klederson.com/internal/packet"
	"swarmbot.klederson.com/internal/radio"
	"swarmbot.klederson.com/internal/rssi"
	"swarmbot.klederson.com/internal/sound"
)

// Battery reports the charge as 0..255.
type Battery interface {
	Level() uint8
}

// Drivers are the hardware collaborators. Every field is required.
type Drivers struct {
	Radio   radio.Driver
	Motors  locomotion.Actuator
	Compass heading.Magnetometer
	Mic     sound.Recorder
	Battery Battery
}

func (d Drivers) validate() error {
	var errs []error
	if d.Radio == nil {
		errs = append(errs, errors.New("radio driver is required"))
	}
	if d.Motors == nil {
		errs = append(errs, errors.New("motor driver is required"))
	}
	if d.Compass == nil {
		errs = append(errs, errors.New("magnetometer is required"))
	}
	if d.Mic == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if d.Battery == nil {
		errs = append(errs, errors.New("battery gauge is required"))
	}
	return errors.Join(errs...)
}

// Stage is one subsystem step of the control loop.
type Stage struct {
	Name string
	Why  string
	Tick func(now time.Time) error
}

// Bot owns every subsystem. Nothing outside it holds subsystem state.
type Bot struct {
	cfg *config.Config
	log *slog.Logger

	sampler *rssi.Sampler
	engine  *locate.Engine
	compass *heading.Estimator
	walk    *locomotion.Controller
	sound   *sound.Coordinator
	radio   *radio.Scheduler
	battery Battery

	bounds  packet.Bounds
	variant packet.Variant

	heading heading.Reading
	ticks   uint64
	now     time.Time
	stages  []Stage
}

// New builds a bot from the configuration and drivers. rng seeds the walk.
func New(cfg *config.Config, drv Drivers, rng *rand.Rand, logger *slog.Logger) (*Bot, error) {
	if err := drv.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := cfg.Localization
	geo := make([]r2.Point, len(cfg.Beacons))
	names := make([]string, len(cfg.Beacons))
	for i, b := range cfg.Beacons {
		geo[i] = r2.Point{X: b.X, Y: b.Y}
		names[i] = b.Name
	}

	b := &Bot{
		cfg:     cfg,
		log:     logger.With("component", "bot"),
		sampler: rssi.NewSampler(len(cfg.Beacons), l.SampleWindow),
		engine: locate.NewEngine(geo,
			locate.PathLoss{MeasuredPower: l.MeasuredPower, Exponent: l.PathLossExp},
			locate.Params{Iterations: l.Iterations, Step: l.Step, MaxResidual: l.MaxResidual, Alpha: l.SmoothingAlpha},
		),
		compass: heading.NewEstimator(drv.Compass, cfg.Heading.Declination),
		battery: drv.Battery,
		bounds:  packet.Bounds{MinX: l.MinX, MaxX: l.MaxX, MinY: l.MinY, MaxY: l.MaxY},
		variant: packet.WithHeading,
	}
	if !cfg.Radio.WithHeading {
		b.variant = packet.Short
	}

	m := cfg.Locomotion
	b.walk = locomotion.NewController(drv.Motors, locomotion.Params{
		MinInterval: m.MinInterval.Std(),
		MaxInterval: m.MaxInterval.Std(),
		Mu:          m.Mu,
		ForwardProb: m.ForwardProb,
		MinTurn:     m.MinTurn.Std(),
		MaxTurn:     m.MaxTurn.Std(),
	}, rng, logger)

	s := cfg.Sound
	b.sound = sound.NewCoordinator(drv.Mic, b.walk, sound.Params{
		Period:    s.Period.Std(),
		Settle:    s.Settle.Std(),
		Samples:   s.Samples,
		Timeout:   s.Timeout.Std(),
		BlockSize: s.BlockSize,
	}, logger)

	b.radio = radio.NewScheduler(drv.Radio, b.sampler, names, cfg.Radio.Dwell.Std(), b.buildPayload, logger)

	b.stages = []Stage{
		{
			Name: "heading",
			Why:  "fresh orientation first so every later stage and the packet see this tick's heading",
			Tick: b.tickHeading,
		},
		{
			Name: "sound",
			Why:  "a pause requested here silences the motors before locomotion can start a new action this tick",
			Tick: b.sound.Tick,
		},
		{
			Name: "locomotion",
			Why:  "runs after sound so it observes any pause taken or released this tick",
			Tick: b.walk.Tick,
		},
		{
			Name: "radio",
			Why:  "last, so a payload built on entering advertising carries this tick's heading and sound level",
			Tick: b.radio.Tick,
		},
	}
	return b, nil
}

// SetCalibration installs a hard-iron correction for the compass.
func (b *Bot) SetCalibration(c heading.Calibration) {
	b.compass.SetCalibration(c)
}

// Start brings the subsystems up. A radio failure is returned and the loop
// must not run.
func (b *Bot) Start(now time.Time) error {
	b.now = now
	if err := b.radio.Start(now); err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	if err := b.walk.Start(now); err != nil {
		return fmt.Errorf("locomotion: %w", err)
	}
	if err := b.sound.Start(now); err != nil {
		return fmt.Errorf("sound: %w", err)
	}
	b.log.Info("bot started",
		"beacons", len(b.cfg.Beacons),
		"variant", b.variant,
		"calibrated", b.compass.Calibration().Calibrated,
	)
	return nil
}

// Stages returns the control loop order.
func (b *Bot) Stages() []Stage {
	out := make([]Stage, len(b.stages))
	copy(out, b.stages)
	return out
}

// Tick runs every stage once in order. Stage errors are not fatal: they are
// collected and the remaining stages still run.
func (b *Bot) Tick(now time.Time) error {
	b.ticks++
	b.now = now
	var errs []error
	for _, st := range b.stages {
		if err := st.Tick(now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) tickHeading(now time.Time) error {
	r, err := b.compass.Update(now)
	b.heading = r
	return err
}

// buildPayload runs a solve on the samples gathered during the scan and
// encodes the packet. The smoothed estimate is advertised whatever its
// confidence; receivers weigh it.
func (b *Bot) buildPayload(now time.Time) ([]byte, error) {
	est, ok := b.engine.Update(b.sampler, now)
	switch {
	case !ok:
		b.log.Debug("not every beacon heard yet", "counts", b.beaconCounts())
	case !est.Trusted(b.cfg.Localization.TrustThreshold):
		b.log.Debug("low trust estimate", "estimate", est, "residual", est.Residual)
	}

	return packet.Encode(b.packetState(), b.bounds, b.variant), nil
}

func (b *Bot) packetState() packet.State {
	st := packet.State{
		X:       b.bounds.MinX,
		Y:       b.bounds.MinY,
		Heading: b.heading.Degrees,
		Battery: b.battery.Level(),
		Sound:   b.sound.Level(),
	}
	if est := b.engine.Estimate(); est.Valid {
		st.X, st.Y = est.X, est.Y
	}
	return st
}

func (b *Bot) beaconCounts() []int {
	out := make([]int, b.sampler.Len())
	for i := range out {
		out[i] = b.sampler.Count(i)
	}
	return out
}

// Stop silences the motors and releases the radio.
func (b *Bot) Stop() error {
	return errors.Join(b.walk.Stop(), b.radio.Stop())
}
