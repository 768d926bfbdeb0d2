// Package radio time-shares the single BLE radio between scanning for
// beacons and advertising the bot's state.
package radio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Role the radio is currently serving.
type Role int

const (
	Scanning Role = iota
	Advertising
)

func (r Role) String() string {
	if r == Advertising {
		return "advertising"
	}
	return "scanning"
}

// Discovery is one advertisement heard while scanning.
type Discovery struct {
	Address string
	Name    string
	RSSI    int
	At      time.Time
}

// Driver is the radio hardware. Calls return promptly; PollDiscoveries
// drains whatever was heard since the previous poll.
type Driver interface {
	StartScan() error
	StopScan() error
	PollDiscoveries() []Discovery
	SetAdvertisingPayload(payload []byte) error
	StartAdvertising() error
	StopAdvertising() error
}

// Recorder receives beacon samples. *rssi.Sampler implements it.
type Recorder interface {
	Record(id, strength int, now time.Time)
}

// BuildFunc produces the payload to advertise. It runs on every switch to
// Advertising.
type BuildFunc func(now time.Time) ([]byte, error)

// Scheduler is the only component that changes the radio role.
type Scheduler struct {
	drv     Driver
	samples Recorder
	index   map[string]int
	dwell   time.Duration
	build   BuildFunc
	log     *slog.Logger

	role    Role
	since   time.Time
	started bool
	payload []byte

	heard   int
	ignored int
	swaps   int
}

// NewScheduler maps beacon names to sampler ids by their position in names.
func NewScheduler(drv Driver, samples Recorder, names []string, dwell time.Duration, build BuildFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	return &Scheduler{
		drv:     drv,
		samples: samples,
		index:   index,
		dwell:   dwell,
		build:   build,
		log:     logger.With("component", "radio"),
	}
}

// Start begins in the Scanning role.
func (s *Scheduler) Start(now time.Time) error {
	s.started = true
	s.role = Scanning
	s.since = now
	if err := s.drv.StartScan(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	s.log.Info("radio started", "role", s.role, "dwell", s.dwell)
	return nil
}

// Tick records pending discoveries and flips the role once the dwell time
// has elapsed.
func (s *Scheduler) Tick(now time.Time) error {
	if !s.started {
		return nil
	}
	s.collect()
	if now.Sub(s.since) < s.dwell {
		return nil
	}

	s.swaps++
	if s.role == Scanning {
		return s.toAdvertising(now)
	}
	return s.toScanning(now)
}

func (s *Scheduler) collect() {
	for _, d := range s.drv.PollDiscoveries() {
		if s.role != Scanning {
			continue
		}
		id, ok := s.index[d.Name]
		if !ok {
			s.ignored++
			continue
		}
		s.samples.Record(id, d.RSSI, d.At)
		s.heard++
	}
}

func (s *Scheduler) toAdvertising(now time.Time) error {
	s.role = Advertising
	s.since = now

	var errs []error
	if err := s.drv.StopScan(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scan: %w", err))
	}
	if s.build != nil {
		payload, err := s.build(now)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to build payload: %w", err))
		} else {
			s.payload = payload
		}
	}
	if s.payload != nil {
		if err := s.drv.SetAdvertisingPayload(s.payload); err != nil {
			errs = append(errs, fmt.Errorf("failed to set payload: %w", err))
		}
	}
	if err := s.drv.StartAdvertising(); err != nil {
		errs = append(errs, fmt.Errorf("failed to start advertising: %w", err))
	}
	s.log.Debug("role switched", "role", s.role, "payload", fmt.Sprintf("% x", s.payload))
	return errors.Join(errs...)
}

func (s *Scheduler) toScanning(now time.Time) error {
	s.role = Scanning
	s.since = now

	var errs []error
	if err := s.drv.StopAdvertising(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop advertising: %w", err))
	}
	if err := s.drv.StartScan(); err != nil {
		errs = append(errs, fmt.Errorf("failed to start scan: %w", err))
	}
	s.log.Debug("role switched", "role", s.role)
	return errors.Join(errs...)
}

// Stop releases the radio.
func (s *Scheduler) Stop() error {
	if !s.started {
		return nil
	}
	s.started = false
	if s.role == Advertising {
		return s.drv.StopAdvertising()
	}
	return s.drv.StopScan()
}

// Role returns the active role. Other components read it, never set it.
func (s *Scheduler) Role() Role { return s.role }

// Since returns when the active role was entered.
func (s *Scheduler) Since() time.Time { return s.since }

// Payload returns the payload last handed to the driver.
func (s *Scheduler) Payload() []byte { return s.payload }

// Stats returns beacon samples recorded, unknown advertisements skipped and
// role switches.
func (s *Scheduler) Stats() (heard, ignored, swaps int) {
	return s.heard, s.ignored, s.swaps
}
