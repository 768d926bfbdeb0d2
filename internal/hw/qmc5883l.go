package hw

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"swarmbot.klederson.com/internal/heading"
)

// QMC5883L registers.
const (
	qmcData    = 0x00 // X LSB, X MSB, Y LSB, Y MSB, Z LSB, Z MSB
	qmcStatus  = 0x06
	qmcControl = 0x09
	qmcPeriod  = 0x0B

	// Continuous mode, 200 Hz, 8 G range, 512 oversampling.
	qmcContinuous = 0x1D
	qmcDataReady  = 0x01
)

// QMC5883L is a 3-axis magnetometer on I2C.
type QMC5883L struct {
	dev *i2c.Dev
	bus i2c.BusCloser
}

// OpenCompass opens the named I2C bus and configures the sensor at addr.
func OpenCompass(busName string, addr uint16) (*QMC5883L, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open failed on bus %s: %w", busName, err)
	}
	q, err := NewQMC5883L(bus, addr)
	if err != nil {
		bus.Close()
		return nil, err
	}
	q.bus = bus
	return q, nil
}

// NewQMC5883L configures the sensor for continuous measurement.
func NewQMC5883L(bus i2c.Bus, addr uint16) (*QMC5883L, error) {
	q := &QMC5883L{dev: &i2c.Dev{Bus: bus, Addr: addr}}
	if err := q.dev.Tx([]byte{qmcPeriod, 0x01}, nil); err != nil {
		return nil, fmt.Errorf("qmc5883l: set/reset period: %w", err)
	}
	if err := q.dev.Tx([]byte{qmcControl, qmcContinuous}, nil); err != nil {
		return nil, fmt.Errorf("qmc5883l: control: %w", err)
	}
	return q, nil
}

// ReadRaw implements heading.Magnetometer.
func (q *QMC5883L) ReadRaw() (heading.Vector, error) {
	status := make([]byte, 1)
	if err := q.dev.Tx([]byte{qmcStatus}, status); err != nil {
		return heading.Vector{}, fmt.Errorf("qmc5883l: status: %w", err)
	}
	if status[0]&qmcDataReady == 0 {
		return heading.Vector{}, fmt.Errorf("qmc5883l: %w", heading.ErrStale)
	}

	buf := make([]byte, 6)
	if err := q.dev.Tx([]byte{qmcData}, buf); err != nil {
		return heading.Vector{}, fmt.Errorf("qmc5883l: data: %w", err)
	}
	return heading.Vector{
		X: float64(int16(binary.LittleEndian.Uint16(buf[0:]))),
		Y: float64(int16(binary.LittleEndian.Uint16(buf[2:]))),
		Z: float64(int16(binary.LittleEndian.Uint16(buf[4:]))),
	}, nil
}

// Close releases the bus when the compass opened it.
func (q *QMC5883L) Close() error {
	if q.bus == nil {
		return nil
	}
	return q.bus.Close()
}
