package bot

import (
	"encoding/hex"
	"math"
	"time"

	"swarmbot.klederson.com/internal/heading"
)

// Snapshot is a read-only view of the bot for logs and telemetry.
type Snapshot struct {
	Tick uint64    `json:"tick"`
	At   time.Time `json:"at"`

	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Residual   float64 `json:"residual"`
	Seq        uint64  `json:"seq"`
	Fix        bool    `json:"fix"`
	Trusted    bool    `json:"trusted"`

	Heading    float64 `json:"heading"`
	Direction  string  `json:"direction"`
	Calibrated bool    `json:"calibrated"`

	Motion string `json:"motion"`
	Paused bool   `json:"paused"`

	Sound      uint8  `json:"sound"`
	SoundPhase string `json:"soundPhase"`
	Battery    uint8  `json:"battery"`

	Role    string `json:"role"`
	Payload string `json:"payload"`
}

// Snapshot returns the current state. Position fields are the latest
// estimate whether or not it is trusted.
func (b *Bot) Snapshot() Snapshot {
	est := b.engine.Estimate()
	return Snapshot{
		Tick:       b.ticks,
		At:         b.now,
		X:          est.X,
		Y:          est.Y,
		Confidence: est.Confidence,
		Residual:   est.Residual,
		Seq:        est.Seq,
		Fix:        est.Valid,
		Trusted:    est.Trusted(b.cfg.Localization.TrustThreshold),
		Heading:    b.heading.Degrees,
		Direction:  heading.Direction(b.heading.Degrees),
		Calibrated: b.heading.Calibrated,
		Motion:     b.walk.State().String(),
		Paused:     b.walk.Paused(),
		Sound:      b.sound.Level(),
		SoundPhase: b.sound.Phase().String(),
		Battery:    b.battery.Level(),
		Role:       b.radio.Role().String(),
		Payload:    hex.EncodeToString(b.radio.Payload()),
	}
}

// Attrs returns slog key/value pairs for a one-line status.
func (s Snapshot) Attrs() []any {
	return []any{
		"tick", s.Tick,
		"pos", [2]float64{round2(s.X), round2(s.Y)},
		"conf", round2(s.Confidence),
		"trusted", s.Trusted,
		"heading", round2(s.Heading),
		"dir", s.Direction,
		"motion", s.Motion,
		"sound", s.Sound,
		"battery", s.Battery,
		"role", s.Role,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
