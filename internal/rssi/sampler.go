// Package rssi keeps the recent signal strength history of every known beacon.
package rssi

import (
	"fmt"
	"time"
)

// MinStrength is reported for a beacon that has never been heard. It is
// below any reading a BLE radio produces for a decodable packet.
const MinStrength = -100.0

// beaconSamples is the per-beacon history.
type beaconSamples struct {
	ring       *Ring
	lastUpdate time.Time
}

// Sampler holds one ring buffer per provisioned beacon. Beacon ids are the
// indexes of the provisioned geometry.
type Sampler struct {
	beacons []beaconSamples
}

// NewSampler creates a sampler for count beacons, each keeping depth readings.
func NewSampler(count, depth int) *Sampler {
	s := &Sampler{beacons: make([]beaconSamples, count)}
	for i := range s.beacons {
		s.beacons[i].ring = NewRing(depth)
	}
	return s
}

func (s *Sampler) beacon(id int) *beaconSamples {
	if id < 0 || id >= len(s.beacons) {
		panic(fmt.Sprintf("rssi: beacon id %d out of range [0,%d)", id, len(s.beacons)))
	}
	return &s.beacons[id]
}

// Record stores a raw reading for the beacon and stamps its last update time.
func (s *Sampler) Record(id, strength int, now time.Time) {
	b := s.beacon(id)
	b.ring.Push(strength)
	b.lastUpdate = now
}

// Average returns the mean of the readings currently held for the beacon, or
// MinStrength if none were recorded.
func (s *Sampler) Average(id int) float64 {
	mean, ok := s.beacon(id).ring.Mean()
	if !ok {
		return MinStrength
	}
	return mean
}

// Count returns how many readings are held for the beacon.
func (s *Sampler) Count(id int) int {
	return s.beacon(id).ring.Len()
}

// Values returns the held readings for the beacon, oldest first.
func (s *Sampler) Values(id int) []int {
	return s.beacon(id).ring.Values()
}

// LastUpdate returns when the beacon was last heard (zero if never).
func (s *Sampler) LastUpdate(id int) time.Time {
	return s.beacon(id).lastUpdate
}

// Fresh reports whether the beacon was heard within maxAge of now.
func (s *Sampler) Fresh(id int, now time.Time, maxAge time.Duration) bool {
	b := s.beacon(id)
	if b.ring.Len() == 0 {
		return false
	}
	return now.Sub(b.lastUpdate) <= maxAge
}

// Ready is true iff every beacon has at least one reading.
func (s *Sampler) Ready() bool {
	for i := range s.beacons {
		if s.beacons[i].ring.Len() == 0 {
			return false
		}
	}
	return true
}

// Len returns the number of beacons tracked.
func (s *Sampler) Len() int {
	return len(s.beacons)
}
