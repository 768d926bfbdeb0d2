package hw

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"swarmbot.klederson.com/internal/heading"
)

func TestMotorsPinMapping(t *testing.T) {
	right := &gpiotest.Pin{N: "GPIO17", L: gpio.High}
	left := &gpiotest.Pin{N: "GPIO27", L: gpio.High}
	m, err := NewMotors(right, left)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, right.Read(), "silenced on open")
	assert.Equal(t, gpio.Low, left.Read())

	require.NoError(t, m.SetForward(true))
	assert.Equal(t, gpio.High, right.Read())
	assert.Equal(t, gpio.High, left.Read())

	require.NoError(t, m.SetForward(false))
	require.NoError(t, m.SetLeft(true))
	assert.Equal(t, gpio.High, right.Read())
	assert.Equal(t, gpio.Low, left.Read())

	require.NoError(t, m.SetLeft(false))
	require.NoError(t, m.SetRight(true))
	assert.Equal(t, gpio.Low, right.Read())
	assert.Equal(t, gpio.High, left.Read())

	require.NoError(t, m.Halt())
	assert.Equal(t, gpio.Low, right.Read())
	assert.Equal(t, gpio.Low, left.Read())
}

func TestQMC5883LReadsAxes(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x0D, W: []byte{0x0B, 0x01}},
			{Addr: 0x0D, W: []byte{0x09, 0x1D}},
			{Addr: 0x0D, W: []byte{0x06}, R: []byte{0x01}},
			{Addr: 0x0D, W: []byte{0x00}, R: []byte{0x10, 0x00, 0xF0, 0xFF, 0x00, 0x01}},
			{Addr: 0x0D, W: []byte{0x06}, R: []byte{0x00}},
		},
	}
	q, err := NewQMC5883L(bus, 0x0D)
	require.NoError(t, err)

	v, err := q.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, heading.Vector{X: 16, Y: -16, Z: 256}, v)

	_, err = q.ReadRaw()
	assert.ErrorIs(t, err, heading.ErrStale)
	require.NoError(t, bus.Close())
}

func TestPumpDecodesLittleEndianBlocks(t *testing.T) {
	raw := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0xFF, 0x7F, 0x05}
	var got [][]int16
	err := pump(bytes.NewReader(raw), 2, alwaysLive, func(b []int16) { got = append(got, b) })

	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, [][]int16{{1, -1}, {-32768, 32767}}, got, "trailing odd byte is not a block")
}

func alwaysLive() (uint64, bool) { return 0, true }

// scriptedPort plays back one chunk per Read. Each step may act on the
// microphone before its bytes are returned.
type scriptedPort struct {
	steps   []func() []byte
	written bytes.Buffer
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.steps) == 0 {
		return 0, io.EOF
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return copy(b, step()), nil
}

func (p *scriptedPort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *scriptedPort) Close() error                { return nil }

func TestSerialMicDropsPartialBlockOnRestart(t *testing.T) {
	port := &scriptedPort{}
	m := NewMic(port, 4, nil)
	port.steps = []func() []byte{
		func() []byte { return []byte{1, 0, 2, 0} },
		func() []byte {
			assert.NoError(t, m.Pause())
			assert.NoError(t, m.Resume())
			return nil
		},
		func() []byte { return []byte{7, 0, 7, 0, 7, 0, 7, 0} },
	}

	require.NoError(t, m.Resume())
	var got [][]int16
	require.NoError(t, m.Begin(func(b []int16) { got = append(got, b) }))
	<-m.done

	assert.Equal(t, [][]int16{{7, 7, 7, 7}}, got)
	assert.Equal(t, "RPR", port.written.String())
}

func TestSerialMicDropsBytesReadWhilePaused(t *testing.T) {
	port := &scriptedPort{}
	m := NewMic(port, 2, nil)
	port.steps = []func() []byte{
		func() []byte { return []byte{9, 0} },
		func() []byte {
			assert.NoError(t, m.Pause())
			return []byte{9, 0}
		},
		func() []byte { return []byte{9, 0, 9, 0} },
		func() []byte {
			assert.NoError(t, m.Resume())
			return nil
		},
		func() []byte { return []byte{3, 0, 4, 0} },
	}

	require.NoError(t, m.Resume())
	var got [][]int16
	require.NoError(t, m.Begin(func(b []int16) { got = append(got, b) }))
	<-m.done

	assert.Equal(t, [][]int16{{3, 4}}, got)
}

type fakePort struct {
	*bytes.Reader
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func TestSerialMicGatesDelivery(t *testing.T) {
	port := &fakePort{Reader: bytes.NewReader(make([]byte, 2*160*5))}
	m := NewMic(port, 160, nil)

	require.NoError(t, m.Resume())
	samples := 0
	require.NoError(t, m.Begin(func(b []int16) { samples += len(b) }))
	<-m.done
	assert.Equal(t, 800, samples)

	require.NoError(t, m.Pause())
	assert.Equal(t, "RP", port.written.String())
	assert.Error(t, m.Begin(func([]int16) {}))

	require.NoError(t, m.Close())
	assert.True(t, port.closed)
}

func TestFixedBattery(t *testing.T) {
	assert.Equal(t, uint8(255), FullBattery.Level())
	assert.Equal(t, uint8(90), Battery(90).Level())
}
