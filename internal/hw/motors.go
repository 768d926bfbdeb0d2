// Package hw holds the drivers for the physical bot: the two vibration
// motors on GPIO, a QMC5883L compass on I2C and a microphone bridge on a
// serial port.
package hw

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"swarmbot.klederson.com/internal/locomotion"
)

var hostOnce struct {
	sync.Once
	err error
}

// initHost loads the periph drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostOnce.err = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostOnce.err
}

// Motors implements locomotion.Actuator on two GPIO outputs.
type Motors struct {
	mu    sync.Mutex
	right gpio.PinOut
	left  gpio.PinOut
	out   locomotion.Outputs
}

// OpenMotors looks up the named pins and drives them low.
func OpenMotors(rightPin, leftPin string) (*Motors, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	right := gpioreg.ByName(rightPin)
	if right == nil {
		return nil, fmt.Errorf("motor pin %q not found", rightPin)
	}
	left := gpioreg.ByName(leftPin)
	if left == nil {
		return nil, fmt.Errorf("motor pin %q not found", leftPin)
	}
	return NewMotors(right, left)
}

// NewMotors wraps already resolved pins.
func NewMotors(right, left gpio.PinOut) (*Motors, error) {
	m := &Motors{right: right, left: left}
	if err := m.write(); err != nil {
		return nil, fmt.Errorf("failed to silence motors: %w", err)
	}
	return m, nil
}

func (m *Motors) SetForward(on bool) error { return m.set(func(o *locomotion.Outputs) { o.Forward = on }) }
func (m *Motors) SetLeft(on bool) error    { return m.set(func(o *locomotion.Outputs) { o.Left = on }) }
func (m *Motors) SetRight(on bool) error   { return m.set(func(o *locomotion.Outputs) { o.Right = on }) }

func (m *Motors) set(f func(*locomotion.Outputs)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(&m.out)
	return m.write()
}

func (m *Motors) write() error {
	r, l := m.out.Pins()
	return errors.Join(
		m.right.Out(gpio.Level(r)),
		m.left.Out(gpio.Level(l)),
	)
}

// Halt drives both pins low regardless of the requested outputs.
func (m *Motors) Halt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = locomotion.Outputs{}
	return m.write()
}

// Battery is a gauge for boards without a fuel gauge: it always reports
// the same level.
type Battery uint8

// FullBattery is the level reported before any gauge is wired.
const FullBattery Battery = 255

func (b Battery) Level() uint8 { return uint8(b) }
