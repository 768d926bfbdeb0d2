package bluetooth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/config"
	"swarmbot.klederson.com/internal/locate"
	"swarmbot.klederson.com/internal/radio"
)

// Positioner reports where the simulated bot truly is and the simulated
// clock. *sim.World implements it.
type Positioner interface {
	Position() r2.Point
	Now() time.Time
}

// Bystanders are non-beacon advertisers the scheduler must ignore.
var mockBystanders = []string{"iPhone 15 Pro", "Galaxy Buds Pro", "Tile Tracker", ""}

type mockDevice struct {
	mac       string
	name      string
	pos       r2.Point
	baseRSSI  float64
	phase     float64
	amplitude float64
	beacon    bool
}

// MockRadio is a radio.Driver for demo mode. While scanning it synthesises
// one advertisement per device per interval from the path loss model and
// the simulated position.
type MockRadio struct {
	world    Positioner
	model    locate.PathLoss
	rng      *rand.Rand
	devices  []mockDevice
	interval time.Duration
	noise    float64 // dB

	scanning    bool
	advertising bool
	payload     []byte
	last        time.Time
	advertised  int
}

// NewMockRadio creates a mock radio hearing the provisioned beacons plus a
// few bystanders.
func NewMockRadio(world Positioner, beacons []config.Beacon, model locate.PathLoss, rng *rand.Rand) *MockRadio {
	m := &MockRadio{
		world:    world,
		model:    model,
		rng:      rng,
		interval: 100 * time.Millisecond,
		noise:    2,
	}
	for _, b := range beacons {
		m.devices = append(m.devices, mockDevice{
			mac:    randomMAC(rng),
			name:   b.Name,
			pos:    r2.Point{X: b.X, Y: b.Y},
			beacon: true,
		})
	}
	for _, name := range mockBystanders {
		m.devices = append(m.devices, mockDevice{
			mac:       randomMAC(rng),
			name:      name,
			baseRSSI:  -55 - rng.Float64()*30, // -55 to -85 dBm
			phase:     rng.Float64() * 2 * math.Pi,
			amplitude: 3 + rng.Float64()*8, // 3-11 dBm fluctuation
		})
	}
	return m
}

// SetNoise sets the standard deviation of the synthesised RSSI in dB.
func (m *MockRadio) SetNoise(sigma float64) { m.noise = sigma }

func (m *MockRadio) StartScan() error {
	if m.advertising {
		return fmt.Errorf("mock radio: scan requested while advertising")
	}
	m.scanning = true
	m.last = m.world.Now()
	return nil
}

func (m *MockRadio) StopScan() error {
	m.scanning = false
	return nil
}

// PollDiscoveries emits the advertisements due since the previous poll.
func (m *MockRadio) PollDiscoveries() []radio.Discovery {
	if !m.scanning {
		return nil
	}
	now := m.world.Now()
	if backlog := 20 * m.interval; now.Sub(m.last) > backlog {
		m.last = now.Add(-backlog)
	}
	var out []radio.Discovery
	for !m.last.Add(m.interval).After(now) {
		m.last = m.last.Add(m.interval)
		out = append(out, m.emitDevices(m.last)...)
	}
	return out
}

func (m *MockRadio) emitDevices(at time.Time) []radio.Discovery {
	pos := m.world.Position()
	t := float64(at.UnixMilli()) / 1000

	out := make([]radio.Discovery, 0, len(m.devices))
	for i := range m.devices {
		d := &m.devices[i]

		var rssi float64
		if d.beacon {
			rssi = m.model.Strength(pos.Sub(d.pos).Norm()) + m.rng.NormFloat64()*m.noise
		} else {
			// Sinusoidal RSSI fluctuation + noise
			rssi = d.baseRSSI + d.amplitude*math.Sin(t*0.5+d.phase) + (m.rng.Float64()-0.5)*4
		}

		out = append(out, radio.Discovery{
			Address: d.mac,
			Name:    d.name,
			RSSI:    int(math.Round(rssi)),
			At:      at,
		})
	}
	return out
}

func (m *MockRadio) SetAdvertisingPayload(payload []byte) error {
	m.payload = append(m.payload[:0], payload...)
	return nil
}

func (m *MockRadio) StartAdvertising() error {
	if m.scanning {
		return fmt.Errorf("mock radio: advertise requested while scanning")
	}
	m.advertising = true
	m.advertised++
	return nil
}

func (m *MockRadio) StopAdvertising() error {
	m.advertising = false
	return nil
}

// Payload returns the payload currently configured.
func (m *MockRadio) Payload() []byte { return m.payload }

// Advertised returns how many advertising periods were started.
func (m *MockRadio) Advertised() int { return m.advertised }

func randomMAC(rng *rand.Rand) string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
