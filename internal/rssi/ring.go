package rssi

// Ring is a fixed-capacity circular buffer of raw RSSI readings (dBm).
type Ring struct {
	buf   []int
	pos   int
	count int
	full  bool
}

// NewRing creates a new circular buffer with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf: make([]int, capacity),
	}
}

// Push adds a value at the write cursor and advances it.
func (r *Ring) Push(val int) {
	r.buf[r.pos] = val
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
	if r.count < len(r.buf) {
		r.count++
	}
}

// Mean returns the arithmetic mean over the valid entries and false if the
// ring is empty.
func (r *Ring) Mean() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	sum := 0
	for i := 0; i < r.count; i++ {
		sum += r.buf[i]
	}
	return float64(sum) / float64(r.count), true
}

// Values returns all stored values in chronological order.
func (r *Ring) Values() []int {
	if r.count == 0 {
		return nil
	}
	result := make([]int, r.count)
	if !r.full {
		copy(result, r.buf[:r.count])
	} else {
		start := r.pos
		n := copy(result, r.buf[start:])
		copy(result[n:], r.buf[:start])
	}
	return result
}

// Last returns the most recent value, or 0 if empty.
func (r *Ring) Last() int {
	if r.count == 0 {
		return 0
	}
	idx := (r.pos - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

// Len returns the number of stored values.
func (r *Ring) Len() int {
	return r.count
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Full reports whether the write cursor has wrapped at least once.
func (r *Ring) Full() bool {
	return r.full
}
