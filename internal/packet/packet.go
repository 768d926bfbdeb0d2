// Package packet builds the manufacturer-data payload each bot advertises.
//
// Wire format:
//
//	0-1  marker 0xFF 0xFF
//	2    X, linear 0..255 over the position bounds
//	3    Y
//	4    heading, 0..255 over 0..360 degrees (omitted in the short form)
//	5    battery 0..255 (4 in the short form)
//	6    sound amplitude 0..255 (5 in the short form)
package packet

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Marker is the two leading bytes of every packet. Read little endian it
	// is also the BLE company identifier 0xFFFF.
	Marker byte = 0xFF

	LongSize  = 7
	ShortSize = 6
)

var (
	ErrShortPacket = errors.New("packet: too short")
	ErrBadMarker   = errors.New("packet: bad marker")
)

// Variant selects the packet form.
type Variant int

const (
	WithHeading Variant = iota
	Short
)

// Size returns the encoded length of the variant.
func (v Variant) Size() int {
	if v == Short {
		return ShortSize
	}
	return LongSize
}

func (v Variant) String() string {
	if v == Short {
		return "short"
	}
	return "with-heading"
}

// Bounds is the axis-aligned box positions are quantised into.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Quantize maps v linearly from [lo, hi] to 0..255, clamping outside values.
func Quantize(v, lo, hi float64) uint8 {
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	f := (v - lo) / (hi - lo) * 255
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(math.Round(f))
}

// Dequantize is the inverse map of Quantize.
func Dequantize(b uint8, lo, hi float64) float64 {
	return lo + float64(b)/255*(hi-lo)
}

// QuantizeHeading maps degrees, wrapped into [0,360), to 0..255.
func QuantizeHeading(deg float64) uint8 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return Quantize(deg, 0, 360)
}

// DequantizeHeading is the inverse map of QuantizeHeading.
func DequantizeHeading(b uint8) float64 {
	return Dequantize(b, 0, 360)
}

// State is everything a packet reports.
type State struct {
	X, Y    float64
	Heading float64
	Battery uint8
	Sound   uint8
}

// Encode renders s. Every field is recomputed from s.
func Encode(s State, b Bounds, v Variant) []byte {
	out := make([]byte, 0, v.Size())
	out = append(out, Marker, Marker,
		Quantize(s.X, b.MinX, b.MaxX),
		Quantize(s.Y, b.MinY, b.MaxY),
	)
	if v == WithHeading {
		out = append(out, QuantizeHeading(s.Heading))
	}
	return append(out, s.Battery, s.Sound)
}

// Decoded is a parsed packet with the raw bytes kept alongside the values.
type Decoded struct {
	Variant Variant
	Raw     []byte
	State   State
	HasHead bool
}

// Decode parses a packet. A 6-byte payload is the short form; 7 or more
// bytes are read as the heading form.
func Decode(data []byte, b Bounds) (Decoded, error) {
	if len(data) < ShortSize {
		return Decoded{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	if data[0] != Marker || data[1] != Marker {
		return Decoded{}, fmt.Errorf("%w: % x", ErrBadMarker, data[:2])
	}

	d := Decoded{Variant: Short}
	if len(data) >= LongSize {
		d.Variant = WithHeading
	}
	d.Raw = append([]byte(nil), data[:d.Variant.Size()]...)

	d.State.X = Dequantize(data[2], b.MinX, b.MaxX)
	d.State.Y = Dequantize(data[3], b.MinY, b.MaxY)
	i := 4
	if d.Variant == WithHeading {
		d.State.Heading = DequantizeHeading(data[4])
		d.HasHead = true
		i++
	}
	d.State.Battery = data[i]
	d.State.Sound = data[i+1]
	return d, nil
}
