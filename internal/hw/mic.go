package hw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	serial "github.com/jacobsa/go-serial/serial"
)

// Bridge commands understood by the microphone MCU.
const (
	micStart = 'R'
	micStop  = 'P'
)

// SerialMic implements sound.Recorder for a PDM microphone behind a small
// MCU that streams 16-bit little endian PCM over a serial line while
// started.
type SerialMic struct {
	port      io.ReadWriteCloser
	blockSize int
	log       *slog.Logger
	running   atomic.Bool
	epoch     atomic.Uint64 // bumped on every Pause and Resume
	done      chan struct{}
}

// OpenMic opens the serial bridge.
func OpenMic(portName string, baud uint, blockSize int, logger *slog.Logger) (*SerialMic, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 2,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone port %s: %w", portName, err)
	}
	return NewMic(port, blockSize, logger), nil
}

// NewMic wraps an open stream.
func NewMic(port io.ReadWriteCloser, blockSize int, logger *slog.Logger) *SerialMic {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialMic{
		port:      port,
		blockSize: blockSize,
		log:       logger.With("component", "mic"),
	}
}

// Begin starts the reader goroutine. Blocks are delivered to sink only
// while the microphone is resumed.
func (m *SerialMic) Begin(sink func([]int16)) error {
	if m.done != nil {
		return errors.New("microphone already started")
	}
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		err := pump(m.port, m.blockSize, m.state, func(blk []int16) {
			if m.running.Load() {
				sink(blk)
			}
		})
		if err != nil && !errors.Is(err, io.EOF) {
			m.log.Warn("microphone stream ended", "error", err)
		}
	}()
	return nil
}

// Pause stops delivery and tells the bridge to stop streaming.
func (m *SerialMic) Pause() error {
	m.running.Store(false)
	m.epoch.Add(1)
	return m.command(micStop)
}

// Resume starts a fresh stream. Bytes from before it are never delivered.
func (m *SerialMic) Resume() error {
	m.epoch.Add(1)
	m.running.Store(true)
	return m.command(micStart)
}

// state reports the stream generation and whether delivery is on. running
// is loaded first so a live result always comes with the epoch of the
// Resume that set it.
func (m *SerialMic) state() (uint64, bool) {
	live := m.running.Load()
	return m.epoch.Load(), live
}

func (m *SerialMic) command(c byte) error {
	if _, err := m.port.Write([]byte{c}); err != nil {
		return fmt.Errorf("microphone command %q: %w", c, err)
	}
	return nil
}

// Close stops the stream and closes the port.
func (m *SerialMic) Close() error {
	m.running.Store(false)
	return m.port.Close()
}

// pump decodes PCM from r into blocks of blockSize samples until r fails.
// A block is only assembled from bytes read within one live epoch of
// state: a partial block is dropped when the stream is paused or
// restarted, as is any chunk whose read straddled the change.
func pump(r io.Reader, blockSize int, state func() (uint64, bool), sink func([]int16)) error {
	raw := make([]byte, 2*blockSize)
	fill := 0
	epoch, _ := state()
	for {
		n, err := r.Read(raw[fill:])
		now, live := state()
		switch {
		case now != epoch:
			fill, epoch = 0, now
		case !live:
			fill = 0
		default:
			fill += n
		}
		if fill == len(raw) {
			blk := make([]int16, blockSize)
			for i := range blk {
				blk[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			sink(blk)
			fill = 0
		}
		if err != nil {
			return err
		}
	}
}
