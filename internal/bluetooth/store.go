package bluetooth

import (
	"sort"
	"sync"
	"time"

	"swarmbot.klederson.com/internal/locate"
	"swarmbot.klederson.com/internal/radio"
)

// DeviceStore is a thread-safe table of advertisers seen during a survey,
// used to check beacon placement and the path loss constants.
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
	model   locate.PathLoss
	alpha   float64
	beacons map[string]bool
}

// NewDeviceStore creates a new empty DeviceStore.
func NewDeviceStore(model locate.PathLoss, alpha float64, beacons []string) *DeviceStore {
	known := make(map[string]bool, len(beacons))
	for _, b := range beacons {
		known[b] = true
	}
	return &DeviceStore{
		devices: make(map[string]*Device),
		model:   model,
		alpha:   alpha,
		beacons: known,
	}
}

func key(d radio.Discovery) string {
	if d.Address != "" {
		return d.Address
	}
	return d.Name
}

// Upsert adds or updates a device. If the device already exists, RSSI is
// smoothed using EMA.
func (s *DeviceStore) Upsert(d radio.Discovery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rssi := float64(d.RSSI)
	k := key(d)
	if existing, ok := s.devices[k]; ok {
		existing.RSSI = existing.RSSI*(1-s.alpha) + rssi*s.alpha
		existing.Distance = s.model.Distance(existing.RSSI)
		existing.LastSeen = d.At
		existing.Samples++
		if d.Name != "" {
			existing.Name = d.Name
			existing.Beacon = s.beacons[d.Name]
		}
		return
	}

	s.devices[k] = &Device{
		Address:  d.Address,
		Name:     d.Name,
		RSSI:     rssi,
		Samples:  1,
		LastSeen: d.At,
		Distance: s.model.Distance(rssi),
		Beacon:   s.beacons[d.Name],
	}
}

// Evict removes devices not seen within timeout of now.
// Returns the number of evicted devices.
func (s *DeviceStore) Evict(now time.Time, timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-timeout)
	count := 0
	for k, dev := range s.devices {
		if dev.LastSeen.Before(cutoff) {
			delete(s.devices, k)
			count++
		}
	}
	return count
}

// Snapshot returns a copy of all devices, beacons first, then strongest RSSI.
func (s *DeviceStore) Snapshot() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		result = append(result, *d)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Beacon != result[j].Beacon {
			return result[i].Beacon
		}
		return result[i].RSSI > result[j].RSSI // Strongest first (less negative)
	})
	return result
}

// Count returns the total number of tracked devices.
func (s *DeviceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// CountBeacons returns how many provisioned beacons have been heard.
func (s *DeviceStore) CountBeacons() (heard, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.Beacon {
			heard++
		}
	}
	return heard, len(s.beacons)
}
