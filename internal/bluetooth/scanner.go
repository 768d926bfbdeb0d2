package bluetooth

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"swarmbot.klederson.com/internal/packet"
	"swarmbot.klederson.com/internal/radio"
)

// CompanyID carries the packet marker. 0xFFFF is the SIG's reserved test
// identifier, so the two marker bytes double as the manufacturer data header.
const CompanyID uint16 = 0xFFFF

// discoveryBuffer bounds the advertisements held between two polls.
const discoveryBuffer = 256

// scanAdapter is the scanning half of *bluetooth.Adapter.
type scanAdapter interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLERadio is the radio.Driver for a real adapter. Scan callbacks arrive on
// the adapter's goroutine and are handed to the control loop through a
// bounded channel. Neither StartScan nor StopScan waits for that goroutine.
type BLERadio struct {
	adapter   *bluetooth.Adapter
	scanner   scanAdapter
	localName string
	interval  time.Duration
	log       *slog.Logger

	found    chan radio.Discovery
	scanning atomic.Bool
	scanDone chan struct{}
	dropped  atomic.Int64

	adv *bluetooth.Advertisement
}

// NewBLERadio creates a radio on the default adapter. Call Enable before use.
func NewBLERadio(localName string, logger *slog.Logger) *BLERadio {
	if logger == nil {
		logger = slog.Default()
	}
	return &BLERadio{
		adapter:   bluetooth.DefaultAdapter,
		scanner:   bluetooth.DefaultAdapter,
		localName: localName,
		interval:  100 * time.Millisecond,
		log:       logger.With("component", "ble"),
		found:     make(chan radio.Discovery, discoveryBuffer),
	}
}

// Enable powers the adapter.
func (r *BLERadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w (try running with sudo or setcap cap_net_admin+ep)", err)
	}
	r.adv = r.adapter.DefaultAdvertisement()
	return nil
}

// StartScan begins scanning in a goroutine. Scan blocks until StopScan. A
// scan still winding down from the previous StopScan is joined by the new
// goroutine, not by the caller, so at most one Scan runs at a time.
func (r *BLERadio) StartScan() error {
	if r.scanning.Swap(true) {
		return nil
	}
	prev := r.scanDone
	done := make(chan struct{})
	r.scanDone = done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if !r.scanning.Load() {
			return
		}
		err := r.scanner.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !r.scanning.Load() {
				// StopScan raced the start of this scan.
				_ = r.scanner.StopScan()
				return
			}
			d := radio.Discovery{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    int(result.RSSI),
				At:      time.Now(),
			}

			// Fallback: identify device by manufacturer data
			if d.Name == "" {
				if mfrs := result.ManufacturerData(); len(mfrs) > 0 {
					if mfrName := LookupManufacturer(mfrs[0].CompanyID); mfrName != "" {
						d.Name = mfrName + " " + suffix(d.Address)
					}
				}
			}

			select {
			case r.found <- d:
			default:
				r.dropped.Add(1)
			}
		})
		if err != nil {
			r.log.Warn("scan ended", "error", err)
		}
	}()
	return nil
}

// StopScan asks the adapter to stop and returns without waiting for the
// scan goroutine to exit.
func (r *BLERadio) StopScan() error {
	if !r.scanning.Swap(false) {
		return nil
	}
	if err := r.scanner.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", err)
	}
	return nil
}

// PollDiscoveries drains advertisements heard since the last poll.
func (r *BLERadio) PollDiscoveries() []radio.Discovery {
	var out []radio.Discovery
	for {
		select {
		case d := <-r.found:
			out = append(out, d)
		default:
			return out
		}
	}
}

// SetAdvertisingPayload configures the advertisement with the local name
// and the packet as manufacturer data.
func (r *BLERadio) SetAdvertisingPayload(payload []byte) error {
	if r.adv == nil {
		return fmt.Errorf("adapter not enabled")
	}
	if len(payload) < 2 || payload[0] != packet.Marker || payload[1] != packet.Marker {
		return fmt.Errorf("%w: % x", packet.ErrBadMarker, payload)
	}
	err := r.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName: r.localName,
		Interval:  bluetooth.NewDuration(r.interval),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: CompanyID, Data: payload[2:]},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to configure advertisement: %w", err)
	}
	return nil
}

// StartAdvertising broadcasts the configured payload.
func (r *BLERadio) StartAdvertising() error {
	if r.adv == nil {
		return fmt.Errorf("adapter not enabled")
	}
	return r.adv.Start()
}

// StopAdvertising is a no-op before Enable.
func (r *BLERadio) StopAdvertising() error {
	if r.adv == nil {
		return nil
	}
	return r.adv.Stop()
}

// Dropped returns how many advertisements were lost to a full buffer.
func (r *BLERadio) Dropped() int64 {
	return r.dropped.Load()
}

// suffix returns the last two octets of a MAC, e.g. "EE:FF".
func suffix(mac string) string {
	if len(mac) < 5 {
		return mac
	}
	return mac[len(mac)-5:]
}
