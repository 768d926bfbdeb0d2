package sound

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmbot.klederson.com/internal/locomotion"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	sink    func([]int16)
	paused  bool
	resumes int
	err     error
}

func (r *fakeRecorder) Begin(sink func([]int16)) error { r.sink = sink; return nil }
func (r *fakeRecorder) Pause() error                   { r.paused = true; return nil }
func (r *fakeRecorder) Resume() error {
	if r.err != nil {
		return r.err
	}
	r.paused = false
	r.resumes++
	return nil
}

// feed delivers blocks of a constant amplitude while the recorder runs.
func (r *fakeRecorder) feed(n, amp int) {
	if r.paused {
		return
	}
	blk := make([]int16, n)
	for i := range blk {
		if i%2 == 0 {
			blk[i] = int16(amp)
		} else {
			blk[i] = int16(-amp)
		}
	}
	r.sink(blk)
}

type fakePauser struct {
	held     map[string]bool
	requests int
	releases int
}

func (p *fakePauser) RequestPause(token string, _ time.Time) error {
	if p.held == nil {
		p.held = map[string]bool{}
	}
	p.held[token] = true
	p.requests++
	return nil
}

func (p *fakePauser) Release(token string, _ time.Time) (bool, error) {
	was := p.held[token]
	delete(p.held, token)
	p.releases++
	return was, nil
}

func testParams() Params {
	return Params{
		Period:    10 * time.Second,
		Settle:    150 * time.Millisecond,
		Samples:   800,
		Timeout:   500 * time.Millisecond,
		BlockSize: 160,
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, uint8(0), Level(nil))
	assert.Equal(t, uint8(20), Level([]int16{10, -30, 20, -20}))
	assert.Equal(t, uint8(255), Level([]int16{-32768, 32767}))
}

func TestCaptureBufferCompletesAndTruncates(t *testing.T) {
	b := NewCaptureBuffer(10, 4)
	b.Write([]int16{1, 2, 3, 4})
	assert.False(t, b.Ready())
	b.Write([]int16{5, 6, 7, 8})
	b.Write([]int16{9, 10, 11, 12})
	assert.True(t, b.Ready())
	b.Write([]int16{99})
	assert.Equal(t, int64(1), b.Dropped())

	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, b.Drain())
}

func TestCaptureBufferConcurrentProducer(t *testing.T) {
	b := NewCaptureBuffer(800, 160)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Write(make([]int16, 160))
		}
	}()
	<-done
	require.True(t, b.Ready())
	assert.Len(t, b.Drain(), 800)
}

func TestCoordinatorFullRound(t *testing.T) {
	rec := &fakeRecorder{}
	mp := &fakePauser{}
	c := NewCoordinator(rec, mp, testParams(), nil)
	require.NoError(t, c.Start(t0))
	assert.True(t, rec.paused)

	// Period gate.
	require.NoError(t, c.Tick(t0.Add(9*time.Second)))
	assert.Equal(t, Idle, c.Phase())

	now := t0.Add(10 * time.Second)
	require.NoError(t, c.Tick(now))
	assert.Equal(t, Settling, c.Phase())
	assert.True(t, mp.held[PauseToken])

	// Still settling: recorder stays paused.
	require.NoError(t, c.Tick(now.Add(100*time.Millisecond)))
	assert.Equal(t, Settling, c.Phase())
	assert.True(t, rec.paused)

	now = now.Add(150 * time.Millisecond)
	require.NoError(t, c.Tick(now))
	assert.Equal(t, Capturing, c.Phase())
	assert.False(t, rec.paused)

	for i := 0; i < 5; i++ {
		rec.feed(160, 42)
	}
	now = now.Add(50 * time.Millisecond)
	require.NoError(t, c.Tick(now))

	assert.Equal(t, Idle, c.Phase())
	assert.True(t, rec.paused)
	assert.False(t, mp.held[PauseToken])
	assert.Equal(t, uint8(42), c.Level())
	assert.False(t, c.Last().TimedOut)

	// Period gate prevents immediate re-entry.
	require.NoError(t, c.Tick(now.Add(time.Second)))
	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, 1, mp.requests)
}

func TestCoordinatorTimeoutIsSoftFailure(t *testing.T) {
	rec := &fakeRecorder{}
	mp := &fakePauser{}
	c := NewCoordinator(rec, mp, testParams(), nil)
	require.NoError(t, c.Start(t0))

	// A previous good round leaves a non-zero level.
	now := t0.Add(10 * time.Second)
	require.NoError(t, c.Tick(now))
	now = now.Add(150 * time.Millisecond)
	require.NoError(t, c.Tick(now))
	for i := 0; i < 5; i++ {
		rec.feed(160, 80)
	}
	require.NoError(t, c.Tick(now))
	require.Equal(t, uint8(80), c.Level())

	now = now.Add(10 * time.Second)
	require.NoError(t, c.Tick(now))
	now = now.Add(150 * time.Millisecond)
	require.NoError(t, c.Tick(now))
	rec.feed(160, 80) // partial capture

	require.NoError(t, c.Tick(now.Add(499*time.Millisecond)))
	assert.Equal(t, Capturing, c.Phase())

	err := c.Tick(now.Add(500 * time.Millisecond))
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, uint8(0), c.Level())
	assert.True(t, c.Last().TimedOut)
	assert.False(t, mp.held[PauseToken])
	assert.True(t, rec.paused)

	rounds, failures := c.Stats()
	assert.Equal(t, 2, rounds)
	assert.Equal(t, 1, failures)
}

func TestCoordinatorResumeErrorReleasesMotors(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("adc busy")}
	mp := &fakePauser{}
	c := NewCoordinator(rec, mp, testParams(), nil)
	require.NoError(t, c.Start(t0))

	now := t0.Add(10 * time.Second)
	require.NoError(t, c.Tick(now))
	err := c.Tick(now.Add(150 * time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adc busy")
	assert.Equal(t, Idle, c.Phase())
	assert.False(t, mp.held[PauseToken])
}

type nopActuator struct{ on [3]bool }

func (a *nopActuator) SetForward(on bool) error { a.on[0] = on; return nil }
func (a *nopActuator) SetLeft(on bool) error    { a.on[1] = on; return nil }
func (a *nopActuator) SetRight(on bool) error   { a.on[2] = on; return nil }

func TestCoordinatorSilencesLocomotion(t *testing.T) {
	act := &nopActuator{}
	walk := locomotion.NewController(act, locomotion.Params{
		MinInterval: 20 * time.Second,
		MaxInterval: 60 * time.Second,
		Mu:          1.5,
		ForwardProb: 1,
		MinTurn:     time.Second,
		MaxTurn:     time.Second,
	}, rand.New(rand.NewSource(2)), nil)
	rec := &fakeRecorder{}
	c := NewCoordinator(rec, walk, testParams(), nil)

	require.NoError(t, walk.Start(t0.Add(-time.Minute)))
	require.NoError(t, walk.Tick(t0))
	require.Equal(t, locomotion.MovingForward, walk.State())
	require.NoError(t, c.Start(t0))

	now := t0.Add(10 * time.Second)
	require.NoError(t, c.Tick(now))
	assert.Equal(t, [3]bool{}, act.on)
	assert.True(t, walk.Paused())

	now = now.Add(150 * time.Millisecond)
	require.NoError(t, c.Tick(now))
	err := c.Tick(now.Add(time.Second))
	require.ErrorIs(t, err, ErrCaptureTimeout)

	assert.False(t, walk.Paused())
	assert.Equal(t, locomotion.MovingForward, walk.State())
	assert.Equal(t, [3]bool{true, false, false}, act.on)
}
