package radio

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmbot.klederson.com/internal/rssi"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDriver struct {
	scanning    bool
	advertising bool
	payload     []byte
	pending     []Discovery
	calls       []string
	buildErr    error
	overlap     bool
}

func (d *fakeDriver) check() {
	if d.scanning && d.advertising {
		d.overlap = true
	}
}

func (d *fakeDriver) StartScan() error {
	d.calls = append(d.calls, "scan")
	d.scanning = true
	d.check()
	return nil
}

func (d *fakeDriver) StopScan() error {
	d.calls = append(d.calls, "stop-scan")
	d.scanning = false
	return nil
}

func (d *fakeDriver) PollDiscoveries() []Discovery {
	out := d.pending
	d.pending = nil
	return out
}

func (d *fakeDriver) SetAdvertisingPayload(p []byte) error {
	d.calls = append(d.calls, "payload")
	d.payload = p
	return nil
}

func (d *fakeDriver) StartAdvertising() error {
	d.calls = append(d.calls, "advertise")
	d.advertising = true
	d.check()
	return nil
}

func (d *fakeDriver) StopAdvertising() error {
	d.calls = append(d.calls, "stop-advertise")
	d.advertising = false
	return nil
}

var names = []string{"RasPi1", "RasPi2", "RasPi3"}

func TestDwellIsNeverViolated(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	drv := &fakeDriver{}
	dwell := time.Second
	s := NewScheduler(drv, rssi.NewSampler(3, 7), names, dwell, nil, nil)
	require.NoError(t, s.Start(t0))

	now := t0
	role, since := s.Role(), s.Since()
	for i := 0; i < 5000; i++ {
		now = now.Add(time.Duration(rng.Intn(300)) * time.Millisecond)
		require.NoError(t, s.Tick(now))
		if s.Role() != role {
			assert.GreaterOrEqual(t, now.Sub(since), dwell)
			role, since = s.Role(), s.Since()
		}
	}
	_, _, swaps := s.Stats()
	assert.Positive(t, swaps)
	assert.False(t, drv.overlap)
}

func TestAdvertisingEntryOrder(t *testing.T) {
	drv := &fakeDriver{}
	var built []time.Time
	build := func(now time.Time) ([]byte, error) {
		built = append(built, now)
		return []byte{0xFF, 0xFF, 1, 2, 3, 4, 5}, nil
	}
	s := NewScheduler(drv, rssi.NewSampler(3, 7), names, time.Second, build, nil)
	require.NoError(t, s.Start(t0))

	require.NoError(t, s.Tick(t0.Add(999*time.Millisecond)))
	assert.Equal(t, Scanning, s.Role())

	require.NoError(t, s.Tick(t0.Add(time.Second)))
	assert.Equal(t, Advertising, s.Role())
	assert.Equal(t, []string{"scan", "stop-scan", "payload", "advertise"}, drv.calls)
	assert.Equal(t, []time.Time{t0.Add(time.Second)}, built)
	assert.Equal(t, []byte{0xFF, 0xFF, 1, 2, 3, 4, 5}, drv.payload)

	require.NoError(t, s.Tick(t0.Add(2*time.Second)))
	assert.Equal(t, Scanning, s.Role())
	assert.Equal(t, "stop-advertise", drv.calls[4])
	assert.Equal(t, "scan", drv.calls[5])
}

func TestDiscoveriesFeedSamplerOnlyWhileScanning(t *testing.T) {
	drv := &fakeDriver{}
	sampler := rssi.NewSampler(3, 7)
	s := NewScheduler(drv, sampler, names, time.Second, nil, nil)
	require.NoError(t, s.Start(t0))

	drv.pending = []Discovery{
		{Name: "RasPi2", RSSI: -70, At: t0},
		{Name: "phone", RSSI: -40, At: t0},
		{Name: "RasPi2", RSSI: -74, At: t0},
	}
	require.NoError(t, s.Tick(t0.Add(10*time.Millisecond)))
	assert.Equal(t, 2, sampler.Count(1))
	assert.InDelta(t, -72.0, sampler.Average(1), 1e-9)
	assert.Equal(t, 0, sampler.Count(0))

	require.NoError(t, s.Tick(t0.Add(time.Second)))
	require.Equal(t, Advertising, s.Role())
	drv.pending = []Discovery{{Name: "RasPi1", RSSI: -60, At: t0}}
	require.NoError(t, s.Tick(t0.Add(1100*time.Millisecond)))
	assert.Equal(t, 0, sampler.Count(0))

	heard, ignored, _ := s.Stats()
	assert.Equal(t, 2, heard)
	assert.Equal(t, 1, ignored)
}

func TestBuildErrorKeepsPreviousPayload(t *testing.T) {
	drv := &fakeDriver{}
	fail := false
	build := func(time.Time) ([]byte, error) {
		if fail {
			return nil, errors.New("no estimate")
		}
		return []byte{0xFF, 0xFF, 9, 9, 9, 9}, nil
	}
	s := NewScheduler(drv, rssi.NewSampler(3, 7), names, time.Second, build, nil)
	require.NoError(t, s.Start(t0))
	require.NoError(t, s.Tick(t0.Add(time.Second)))
	require.NoError(t, s.Tick(t0.Add(2*time.Second)))

	fail = true
	err := s.Tick(t0.Add(3 * time.Second))
	require.Error(t, err)
	assert.Equal(t, Advertising, s.Role())
	assert.True(t, drv.advertising)
	assert.Equal(t, []byte{0xFF, 0xFF, 9, 9, 9, 9}, drv.payload)
}

func TestStopReleasesActiveRole(t *testing.T) {
	drv := &fakeDriver{}
	s := NewScheduler(drv, rssi.NewSampler(3, 7), names, time.Second, nil, nil)
	require.NoError(t, s.Start(t0))
	require.NoError(t, s.Stop())
	assert.False(t, drv.scanning)
	require.NoError(t, s.Stop())
}
