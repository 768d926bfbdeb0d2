// Package app assembles a bot from either simulated or real drivers and
// runs its control loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/bluetooth"
	"swarmbot.klederson.com/internal/bot"
	"swarmbot.klederson.com/internal/config"
	"swarmbot.klederson.com/internal/heading"
	"swarmbot.klederson.com/internal/hw"
	"swarmbot.klederson.com/internal/locate"
	"swarmbot.klederson.com/internal/radio"
	"swarmbot.klederson.com/internal/sim"
	"swarmbot.klederson.com/internal/telemetry"
)

// Options are the command line choices that are not part of the
// provisioning file.
type Options struct {
	Demo    bool
	Fast    bool // demo only: step a virtual clock instead of sleeping
	Adapter string
	Ticks   uint64 // stop after this many ticks; 0 runs until cancelled
	Seed    int64
	Status  time.Duration
	Start   r2.Point // demo start position
}

// demo arena sound source and spin rate for the simulated calibration.
var (
	demoSource   = r2.Point{X: 0, Y: 1.5}
	demoLoudness = 2000.0
	demoSpinRPM  = 20.0
)

// rig is one set of drivers plus the hooks needed to drive and release it.
type rig struct {
	drivers bot.Drivers
	world   *sim.World
	compass heading.Magnetometer
	motors  interface{ SetLeft(bool) error }
	closers []func() error
}

func (r *rig) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

func newDemoRig(cfg *config.Config, opts Options, now time.Time) *rig {
	l := cfg.Localization
	box := r2.RectFromPoints(r2.Point{X: l.MinX, Y: l.MinY}, r2.Point{X: l.MaxX, Y: l.MaxY})
	rng := rand.New(rand.NewSource(opts.Seed))
	w := sim.NewWorld(box, opts.Start, 0, now, rand.New(rand.NewSource(rng.Int63())))

	model := locate.PathLoss{MeasuredPower: l.MeasuredPower, Exponent: l.PathLossExp}
	compass := sim.NewCompass(w)
	return &rig{
		drivers: bot.Drivers{
			Radio:   bluetooth.NewMockRadio(w, cfg.Beacons, model, rand.New(rand.NewSource(rng.Int63()))),
			Motors:  w,
			Compass: compass,
			Mic: &sim.Mic{
				World:     w,
				Source:    demoSource,
				Loudness:  demoLoudness,
				Samples:   cfg.Sound.Samples,
				BlockSize: cfg.Sound.BlockSize,
			},
			Battery: w,
		},
		world:   w,
		compass: compass,
		motors:  w,
	}
}

func newHardwareRig(cfg *config.Config, opts Options, logger *slog.Logger) (*rig, error) {
	r := &rig{}
	fail := func(err error) (*rig, error) {
		return nil, errors.Join(err, r.close())
	}

	ble := bluetooth.NewBLERadio(cfg.Radio.LocalName, logger)
	if err := ble.Enable(); err != nil {
		return fail(fmt.Errorf("bluetooth adapter %s: %w", opts.Adapter, err))
	}

	h := cfg.Hardware
	motors, err := hw.OpenMotors(h.MotorRightPin, h.MotorLeftPin)
	if err != nil {
		return fail(err)
	}
	r.closers = append(r.closers, motors.Halt)

	compass, err := hw.OpenCompass(h.I2CBus, h.MagAddr)
	if err != nil {
		return fail(err)
	}
	r.closers = append(r.closers, compass.Close)

	if h.MicPort == "" {
		return fail(errors.New("hardware.micPort is required"))
	}
	mic, err := hw.OpenMic(h.MicPort, h.MicBaud, cfg.Sound.BlockSize, logger)
	if err != nil {
		return fail(err)
	}
	r.closers = append(r.closers, mic.Close)

	r.drivers = bot.Drivers{
		Radio:   ble,
		Motors:  motors,
		Compass: compass,
		Mic:     mic,
		Battery: hw.FullBattery,
	}
	r.compass = compass
	r.motors = motors
	return r, nil
}

func newRig(cfg *config.Config, opts Options, now time.Time, logger *slog.Logger) (*rig, error) {
	if opts.Demo {
		return newDemoRig(cfg, opts, now), nil
	}
	return newHardwareRig(cfg, opts, logger)
}

// clock yields control loop instants, either from the wall clock or from
// a virtual clock advanced by one tick per call.
type clock struct {
	now    time.Time
	step   time.Duration
	ticker *time.Ticker
}

func newClock(fast bool, start time.Time, step time.Duration) *clock {
	c := &clock{now: start, step: step}
	if !fast {
		c.ticker = time.NewTicker(step)
	}
	return c
}

func (c *clock) next(ctx context.Context) (time.Time, bool) {
	if c.ticker == nil {
		if ctx.Err() != nil {
			return c.now, false
		}
		c.now = c.now.Add(c.step)
		return c.now, true
	}
	select {
	case <-ctx.Done():
		return c.now, false
	case t := <-c.ticker.C:
		c.now = t
		return t, true
	}
}

func (c *clock) stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
}

// Run builds the bot and ticks it until ctx is cancelled or opts.Ticks is
// reached. It returns the final snapshot.
func Run(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (bot.Snapshot, error) {
	if opts.Fast && !opts.Demo {
		return bot.Snapshot{}, errors.New("fast clock is only available in demo mode")
	}
	if opts.Status <= 0 {
		opts.Status = time.Second
	}
	log := logger.With("component", "app")

	start := time.Now()
	r, err := newRig(cfg, opts, start, logger)
	if err != nil {
		return bot.Snapshot{}, err
	}
	defer func() {
		if err := r.close(); err != nil {
			log.Warn("driver shutdown failed", "error", err)
		}
	}()

	b, err := bot.New(cfg, r.drivers, rand.New(rand.NewSource(opts.Seed)), logger)
	if err != nil {
		return bot.Snapshot{}, err
	}
	if err := installCalibration(b, cfg, r, start, log); err != nil {
		return bot.Snapshot{}, err
	}

	var mirror *telemetry.Mirror
	if cfg.Telemetry.Enabled {
		mirror, err = telemetry.Dial(cfg.Telemetry, logger)
		if err != nil {
			log.Warn("telemetry disabled", "error", err)
		} else {
			defer mirror.Close()
		}
	}

	if err := b.Start(start); err != nil {
		return bot.Snapshot{}, err
	}
	defer func() {
		if err := b.Stop(); err != nil {
			log.Warn("bot stop failed", "error", err)
		}
	}()

	clk := newClock(opts.Fast, start, cfg.Settings.Tick.Std())
	defer clk.stop()

	var lastStatus time.Time
	var failures uint64
	for ticks := uint64(0); opts.Ticks == 0 || ticks < opts.Ticks; ticks++ {
		now, ok := clk.next(ctx)
		if !ok {
			break
		}
		if r.world != nil {
			r.world.Advance(now)
		}
		if err := b.Tick(now); err != nil {
			failures++
			log.Warn("tick failed", "error", err)
		}

		if now.Sub(lastStatus) >= opts.Status {
			lastStatus = now
			snap := b.Snapshot()
			log.Info("status", snap.Attrs()...)
			if mirror != nil {
				if _, err := mirror.Publish(now, snap); err != nil {
					log.Debug("telemetry publish failed", "error", err)
				}
			}
		}
	}

	snap := b.Snapshot()
	log.Info("stopped",
		"ticks", humanize.Comma(int64(snap.Tick)),
		"failedTicks", failures,
		"ran", snap.At.Sub(start).Round(time.Millisecond),
	)
	return snap, nil
}

// installCalibration loads the calibration file if one is configured. A
// simulated bot without one is calibrated on the spot.
func installCalibration(b *bot.Bot, cfg *config.Config, r *rig, now time.Time, log *slog.Logger) error {
	path := cfg.Heading.CalibrationFile
	switch {
	case path != "":
		cal, err := heading.LoadFile(path)
		if err != nil {
			return err
		}
		b.SetCalibration(cal)
		log.Info("compass calibration loaded", "file", path, "samples", cal.Samples)
	case r.world != nil:
		cal, err := sweepCompass(cfg, r, now)
		if err != nil {
			return err
		}
		b.SetCalibration(cal)
	default:
		log.Warn("compass is not calibrated; run the calibrate command")
	}
	return nil
}

// sweepCompass turns the bot in place while sampling the magnetometer.
// The simulated world is rotated directly; real motors spin on the left
// motor alone. now stamps the result.
func sweepCompass(cfg *config.Config, r *rig, now time.Time) (heading.Calibration, error) {
	h := cfg.Heading
	sleep := time.Sleep
	if r.world != nil {
		sleep = sim.Spin{World: r.world, RPM: demoSpinRPM}.Sleep
	} else {
		if err := r.motors.SetLeft(true); err != nil {
			return heading.Identity(), fmt.Errorf("failed to start spin: %w", err)
		}
		defer r.motors.SetLeft(false)
	}
	return heading.Calibrate(r.compass, h.CalibrationSamples, h.CalibrationInterval.Std(), sleep, now)
}

// Calibrate runs a compass sweep and writes the result to path when path
// is not empty.
func Calibrate(cfg *config.Config, opts Options, path string, logger *slog.Logger) (heading.Calibration, error) {
	now := time.Now()
	r, err := newRig(cfg, opts, now, logger)
	if err != nil {
		return heading.Identity(), err
	}
	defer r.close()

	cal, err := sweepCompass(cfg, r, now)
	if err != nil {
		return cal, err
	}
	if path != "" {
		if err := heading.SaveFile(path, cal); err != nil {
			return cal, err
		}
		logger.Info("compass calibration saved", "component", "app", "file", path)
	}
	return cal, nil
}

// Survey listens for d and returns every advertiser heard, provisioned
// beacons first. It is used to check beacon placement and the path loss
// constants before a run.
func Survey(ctx context.Context, cfg *config.Config, opts Options, d time.Duration, logger *slog.Logger) ([]bluetooth.Device, error) {
	start := time.Now()
	r, err := newRig(cfg, opts, start, logger)
	if err != nil {
		return nil, err
	}
	defer r.close()

	l := cfg.Localization
	names := make([]string, len(cfg.Beacons))
	for i, b := range cfg.Beacons {
		names[i] = b.Name
	}
	sv := newSurveyor(bluetooth.NewDeviceStore(
		locate.PathLoss{MeasuredPower: l.MeasuredPower, Exponent: l.PathLossExp},
		l.SmoothingAlpha, names,
	), config.DeviceTimeout, logger)

	drv := r.drivers.Radio
	if err := drv.StartScan(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer drv.StopScan()

	clk := newClock(opts.Fast, start, 100*time.Millisecond)
	defer clk.stop()
	for {
		now, ok := clk.next(ctx)
		if !ok || now.Sub(start) > d {
			break
		}
		if r.world != nil {
			r.world.Advance(now)
		}
		sv.observe(now, drv.PollDiscoveries())
	}

	heard, total := sv.store.CountBeacons()
	logger.Info("survey finished", "component", "app", "devices", sv.store.Count(), "beacons", fmt.Sprintf("%d/%d", heard, total))
	return sv.store.Snapshot(), nil
}

// surveyor feeds discoveries into a store and drops advertisers that have
// gone quiet, so a long survey only lists what is still around.
type surveyor struct {
	store     *bluetooth.DeviceStore
	timeout   time.Duration
	lastEvict time.Time
	log       *slog.Logger
}

func newSurveyor(store *bluetooth.DeviceStore, timeout time.Duration, logger *slog.Logger) *surveyor {
	return &surveyor{store: store, timeout: timeout, log: logger.With("component", "survey")}
}

func (s *surveyor) observe(now time.Time, discs []radio.Discovery) {
	for _, d := range discs {
		s.store.Upsert(d)
	}
	if s.lastEvict.IsZero() {
		s.lastEvict = now
		return
	}
	if now.Sub(s.lastEvict) < config.EvictInterval {
		return
	}
	s.lastEvict = now
	if n := s.store.Evict(now, s.timeout); n > 0 {
		s.log.Debug("evicted idle devices", "count", n, "remaining", s.store.Count())
	}
}
