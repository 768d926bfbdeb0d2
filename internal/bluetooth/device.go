package bluetooth

import "time"

// Device is one advertiser heard during a survey.
type Device struct {
	Address  string
	Name     string
	RSSI     float64 // EMA smoothed
	Samples  int
	LastSeen time.Time
	Distance float64 // Estimated distance in meters
	Beacon   bool    // Name matches a provisioned beacon
}

// DisplayName returns the device name or "[unnamed]" if empty.
func (d *Device) DisplayName() string {
	if d.Name == "" {
		return "[unnamed]"
	}
	return d.Name
}
