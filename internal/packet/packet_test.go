package packet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var arena = Bounds{MinX: -2, MaxX: 2, MinY: -2, MaxY: 2}

func TestEncodeKnownBytes(t *testing.T) {
	s := State{X: 0, Y: 2, Heading: 90, Battery: 255, Sound: 17}

	assert.Equal(t, []byte{0xFF, 0xFF, 128, 255, 64, 255, 17}, Encode(s, arena, WithHeading))
	assert.Equal(t, []byte{0xFF, 0xFF, 128, 255, 255, 17}, Encode(s, arena, Short))
}

func TestQuantizeClamps(t *testing.T) {
	assert.Equal(t, uint8(0), Quantize(-5, -2, 2))
	assert.Equal(t, uint8(255), Quantize(9, -2, 2))
	assert.Equal(t, uint8(0), Quantize(math.NaN(), -2, 2))
	assert.Equal(t, uint8(0), Quantize(1, 2, 2))
}

func TestQuantizeHeadingWraps(t *testing.T) {
	assert.Equal(t, QuantizeHeading(10), QuantizeHeading(370))
	assert.Equal(t, QuantizeHeading(350), QuantizeHeading(-10))
	assert.Equal(t, uint8(0), QuantizeHeading(math.Inf(1)))
}

func TestRoundTripWithinQuantizationError(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	posTol := (arena.MaxX - arena.MinX) / 255
	headTol := 360.0 / 255

	for i := 0; i < 2000; i++ {
		want := State{
			X:       arena.MinX + rng.Float64()*(arena.MaxX-arena.MinX),
			Y:       arena.MinY + rng.Float64()*(arena.MaxY-arena.MinY),
			Heading: rng.Float64() * 359.9,
			Battery: uint8(rng.Intn(256)),
			Sound:   uint8(rng.Intn(256)),
		}
		for _, v := range []Variant{WithHeading, Short} {
			raw := Encode(want, arena, v)
			require.Len(t, raw, v.Size())

			got, err := Decode(raw, arena)
			require.NoError(t, err)
			assert.Equal(t, v, got.Variant)
			assert.InDelta(t, want.X, got.State.X, posTol)
			assert.InDelta(t, want.Y, got.State.Y, posTol)
			assert.Equal(t, want.Battery, got.State.Battery)
			assert.Equal(t, want.Sound, got.State.Sound)
			if v == WithHeading {
				assert.True(t, got.HasHead)
				assert.InDelta(t, want.Heading, got.State.Heading, headTol)
			} else {
				assert.False(t, got.HasHead)
			}
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xFF, 1, 2, 3}, arena)
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = Decode([]byte{0x4C, 0x00, 1, 2, 3, 4, 5}, arena)
	assert.ErrorIs(t, err, ErrBadMarker)
}

func TestDecodeKeepsRawCopy(t *testing.T) {
	raw := []byte{0xFF, 0xFF, 10, 20, 30, 40, 50, 99}
	d, err := Decode(raw, arena)
	require.NoError(t, err)
	raw[2] = 0
	assert.Equal(t, []byte{0xFF, 0xFF, 10, 20, 30, 40, 50}, d.Raw)
}
