package sound

import "sync/atomic"

// CaptureBuffer carries sample blocks from the recorder callback to the
// coordinator. Write is the only producer and Drain the only consumer; Ready
// flips once the requested sample count has been delivered.
type CaptureBuffer struct {
	blocks  chan []int16
	want    int
	got     atomic.Int64
	dropped atomic.Int64
	ready   atomic.Bool
}

// NewCaptureBuffer sizes the channel to hold a whole capture of samples in
// blocks of blockSize.
func NewCaptureBuffer(samples, blockSize int) *CaptureBuffer {
	if blockSize <= 0 {
		blockSize = samples
	}
	n := (samples+blockSize-1)/blockSize + 1
	return &CaptureBuffer{
		blocks: make(chan []int16, n),
		want:   samples,
	}
}

// Write copies block into the buffer. It never blocks; blocks arriving after
// the capture is complete or while the channel is full are dropped.
func (b *CaptureBuffer) Write(block []int16) {
	if b.ready.Load() {
		b.dropped.Add(1)
		return
	}
	cp := make([]int16, len(block))
	copy(cp, block)
	select {
	case b.blocks <- cp:
	default:
		b.dropped.Add(1)
		return
	}
	if b.got.Add(int64(len(cp))) >= int64(b.want) {
		b.ready.Store(true)
	}
}

// Ready reports whether the capture is complete.
func (b *CaptureBuffer) Ready() bool {
	return b.ready.Load()
}

// Dropped returns the number of blocks discarded by Write.
func (b *CaptureBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// Drain empties the channel and returns at most the requested number of
// samples in arrival order.
func (b *CaptureBuffer) Drain() []int16 {
	out := make([]int16, 0, b.want)
	for {
		select {
		case blk := <-b.blocks:
			room := b.want - len(out)
			if len(blk) > room {
				blk = blk[:room]
			}
			out = append(out, blk...)
		default:
			return out
		}
	}
}

// Level is the mean absolute amplitude of samples clamped to a byte.
func Level(samples []int16) uint8 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	mean := sum / int64(len(samples))
	if mean > 255 {
		return 255
	}
	return uint8(mean)
}
