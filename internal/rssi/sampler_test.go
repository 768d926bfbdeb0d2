package rssi

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRingOrderAndWrap(t *testing.T) {
	r := NewRing(3)
	assert.Nil(t, r.Values())
	assert.False(t, r.Full())

	r.Push(-50)
	r.Push(-60)
	assert.Equal(t, []int{-50, -60}, r.Values())
	assert.Equal(t, -60, r.Last())

	r.Push(-70)
	assert.True(t, r.Full())
	r.Push(-80)
	assert.Equal(t, []int{-60, -70, -80}, r.Values())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestAverageEmptyIsSentinel(t *testing.T) {
	s := NewSampler(3, 7)
	assert.Equal(t, MinStrength, s.Average(0))
	assert.False(t, s.Fresh(0, t0, time.Hour))
}

func TestAverageMatchesLastWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, depth := range []int{1, 3, 7} {
		s := NewSampler(1, depth)
		var history []int
		for n := 0; n < 40; n++ {
			v := -100 + rng.Intn(101)
			s.Record(0, v, t0.Add(time.Duration(n)*time.Millisecond))
			history = append(history, v)

			window := history
			if len(window) > depth {
				window = window[len(window)-depth:]
			}
			sum := 0
			for _, w := range window {
				sum += w
			}
			want := float64(sum) / float64(len(window))
			require.InDelta(t, want, s.Average(0), 1e-9, "depth=%d n=%d", depth, n)
			require.LessOrEqual(t, s.Count(0), depth)
		}
	}
}

func TestReadyNeedsEveryBeacon(t *testing.T) {
	s := NewSampler(3, 7)
	assert.False(t, s.Ready())

	for i := 0; i < 10; i++ {
		s.Record(0, -60, t0)
		s.Record(1, -61, t0)
	}
	assert.False(t, s.Ready(), "beacon 2 has no samples")

	s.Record(2, -70, t0)
	assert.True(t, s.Ready())
}

func TestFreshness(t *testing.T) {
	s := NewSampler(2, 4)
	s.Record(1, -55, t0)

	assert.True(t, s.Fresh(1, t0.Add(time.Second), 2*time.Second))
	assert.False(t, s.Fresh(1, t0.Add(3*time.Second), 2*time.Second))
	assert.Equal(t, t0, s.LastUpdate(1))
	assert.True(t, s.LastUpdate(0).IsZero())
}

func TestOutOfRangeIDPanics(t *testing.T) {
	s := NewSampler(2, 4)
	assert.Panics(t, func() { s.Record(2, -50, t0) })
	assert.Panics(t, func() { s.Average(-1) })
}
