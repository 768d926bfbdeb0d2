package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// RSSI to distance estimation
	MeasuredPower = -65.37 // RSSI at 1 meter (dBm)
	PathLossExp   = 2.68   // Path loss exponent (N)

	// Localisation
	SampleWindow   = 7    // RSSI readings kept per beacon
	SolverIters    = 10   // Gradient descent iterations
	SolverStep     = 0.1  // Gradient descent learning rate
	MaxResidual    = 1.5  // Residual (m) at which confidence reaches zero
	SmoothingAlpha = 0.4  // EMA smoothing factor (40% new, 60% old)
	TrustThreshold = 0.5  // Confidence below this is low trust
	PositionMin    = -2.0 // Quantisation box, both axes (m)
	PositionMax    = 2.0

	// Heading
	Declination         = 0.0 // Degrees, positive east
	CalibrationSamples  = 100
	CalibrationInterval = 50 * time.Millisecond

	// Locomotion (Lévy walk)
	MinWalkTime = 500 * time.Millisecond
	MaxWalkTime = 4000 * time.Millisecond
	LevyMu      = 1.5
	ForwardProb = 0.6
	MinTurnTime = 200 * time.Millisecond
	MaxTurnTime = 800 * time.Millisecond

	// Sound
	SoundPeriod   = 10 * time.Second
	SoundSettle   = 150 * time.Millisecond
	SoundSamples  = 800
	SoundTimeout  = 500 * time.Millisecond
	SoundBlockLen = 160

	// Radio
	SwapInterval = 1000 * time.Millisecond // Minimum dwell per radio role
	LocalName    = "BristleBot"

	// Survey
	DeviceTimeout = 30 * time.Second // Remove devices not seen for this long
	EvictInterval = 5 * time.Second  // How often to run eviction

	// Control loop
	TickInterval = 10 * time.Millisecond

	// Hardware (Seeed XIAO style wiring)
	MotorRightPin = "GPIO17"
	MotorLeftPin  = "GPIO27"
	I2CBus        = "1"
	MagAddr       = 0x0D // QMC5883L
	MicBaud       = 921600

	// Telemetry
	TelemetryTopic = "swarm/bot/state"
)

// DefaultBeacons is the reference beacon layout of the test arena.
var DefaultBeacons = []Beacon{
	{Name: "RasPi1", X: 0.0, Y: 1.0},
	{Name: "RasPi2", X: -0.75, Y: 0.0},
	{Name: "RasPi3", X: 0.75, Y: 0.0},
}

// Duration is a time.Duration that reads "250ms" style strings from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Beacon is a fixed reference transmitter provisioned at startup.
type Beacon struct {
	Name string  `yaml:"name"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
}

// Config is the provisioning-time configuration of one bot.
// Values are read once at startup and never mutated afterwards.
type Config struct {
	Settings     Settings     `yaml:"settings"`
	Beacons      []Beacon     `yaml:"beacons"`
	Localization Localization `yaml:"localization"`
	Heading      Heading      `yaml:"heading"`
	Locomotion   Locomotion   `yaml:"locomotion"`
	Sound        Sound        `yaml:"sound"`
	Radio        Radio        `yaml:"radio"`
	Hardware     Hardware     `yaml:"hardware"`
	Telemetry    Telemetry    `yaml:"telemetry"`
}

// Settings holds process level settings.
type Settings struct {
	LogLevel string   `yaml:"logLevel"`
	Tick     Duration `yaml:"tick"`
}

// Localization holds the RSSI model and solver constants.
type Localization struct {
	MeasuredPower  float64 `yaml:"measuredPower"`
	PathLossExp    float64 `yaml:"pathLossExponent"`
	SampleWindow   int     `yaml:"sampleWindow"`
	Iterations     int     `yaml:"iterations"`
	Step           float64 `yaml:"step"`
	MaxResidual    float64 `yaml:"maxResidual"`
	SmoothingAlpha float64 `yaml:"smoothingAlpha"`
	TrustThreshold float64 `yaml:"trustThreshold"`
	MinX           float64 `yaml:"minX"`
	MaxX           float64 `yaml:"maxX"`
	MinY           float64 `yaml:"minY"`
	MaxY           float64 `yaml:"maxY"`
}

// Heading holds compass settings.
type Heading struct {
	Declination         float64  `yaml:"declination"`
	CalibrationSamples  int      `yaml:"calibrationSamples"`
	CalibrationInterval Duration `yaml:"calibrationInterval"`
	CalibrationFile     string   `yaml:"calibrationFile"`
}

// Locomotion holds the Lévy walk parameters.
type Locomotion struct {
	MinInterval Duration `yaml:"minInterval"`
	MaxInterval Duration `yaml:"maxInterval"`
	Mu          float64  `yaml:"mu"`
	ForwardProb float64  `yaml:"forwardProbability"`
	MinTurn     Duration `yaml:"minTurn"`
	MaxTurn     Duration `yaml:"maxTurn"`
	Seed        int64    `yaml:"seed"`
}

// Sound holds the quiet sampling window parameters.
type Sound struct {
	Period    Duration `yaml:"period"`
	Settle    Duration `yaml:"settle"`
	Samples   int      `yaml:"samples"`
	Timeout   Duration `yaml:"timeout"`
	BlockSize int      `yaml:"blockSize"`
}

// Radio holds the duty cycle parameters.
type Radio struct {
	Dwell       Duration `yaml:"dwell"`
	LocalName   string   `yaml:"localName"`
	WithHeading bool     `yaml:"withHeading"`
}

// Hardware holds pin and bus names for the driver layer.
type Hardware struct {
	MotorRightPin string `yaml:"motorRightPin"`
	MotorLeftPin  string `yaml:"motorLeftPin"`
	I2CBus        string `yaml:"i2cBus"`
	MagAddr       uint16 `yaml:"magAddr"`
	MicPort       string `yaml:"micPort"`
	MicBaud       uint   `yaml:"micBaud"`
}

// Telemetry configures the optional MQTT state mirror.
type Telemetry struct {
	Enabled  bool     `yaml:"enabled"`
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"clientId"`
	Topic    string   `yaml:"topic"`
	Interval Duration `yaml:"interval"`
}

// Default returns the configuration the firmware was tuned with.
func Default() *Config {
	beacons := make([]Beacon, len(DefaultBeacons))
	copy(beacons, DefaultBeacons)

	return &Config{
		Settings: Settings{LogLevel: "info", Tick: Duration(TickInterval)},
		Beacons:  beacons,
		Localization: Localization{
			MeasuredPower:  MeasuredPower,
			PathLossExp:    PathLossExp,
			SampleWindow:   SampleWindow,
			Iterations:     SolverIters,
			Step:           SolverStep,
			MaxResidual:    MaxResidual,
			SmoothingAlpha: SmoothingAlpha,
			TrustThreshold: TrustThreshold,
			MinX:           PositionMin,
			MaxX:           PositionMax,
			MinY:           PositionMin,
			MaxY:           PositionMax,
		},
		Heading: Heading{
			Declination:         Declination,
			CalibrationSamples:  CalibrationSamples,
			CalibrationInterval: Duration(CalibrationInterval),
		},
		Locomotion: Locomotion{
			MinInterval: Duration(MinWalkTime),
			MaxInterval: Duration(MaxWalkTime),
			Mu:          LevyMu,
			ForwardProb: ForwardProb,
			MinTurn:     Duration(MinTurnTime),
			MaxTurn:     Duration(MaxTurnTime),
		},
		Sound: Sound{
			Period:    Duration(SoundPeriod),
			Settle:    Duration(SoundSettle),
			Samples:   SoundSamples,
			Timeout:   Duration(SoundTimeout),
			BlockSize: SoundBlockLen,
		},
		Radio: Radio{
			Dwell:       Duration(SwapInterval),
			LocalName:   LocalName,
			WithHeading: true,
		},
		Hardware: Hardware{
			MotorRightPin: MotorRightPin,
			MotorLeftPin:  MotorLeftPin,
			I2CBus:        I2CBus,
			MagAddr:       MagAddr,
			MicBaud:       MicBaud,
		},
		Telemetry: Telemetry{
			ClientID: "swarmbot",
			Topic:    TelemetryTopic,
			Interval: Duration(time.Second),
		},
	}
}

// Load reads a YAML provisioning file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Beacons) < 3 {
		errs = append(errs, fmt.Errorf("at least 3 beacons are required, got %d", len(c.Beacons)))
	}
	seen := make(map[string]bool, len(c.Beacons))
	for _, b := range c.Beacons {
		if b.Name == "" {
			errs = append(errs, errors.New("beacon name is required"))
			continue
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("duplicate beacon name %q", b.Name))
		}
		seen[b.Name] = true
	}

	l := c.Localization
	if l.PathLossExp <= 0 {
		errs = append(errs, fmt.Errorf("pathLossExponent must be > 0, got %g", l.PathLossExp))
	}
	if l.SampleWindow < 1 {
		errs = append(errs, fmt.Errorf("sampleWindow must be >= 1, got %d", l.SampleWindow))
	}
	if l.Iterations < 1 {
		errs = append(errs, fmt.Errorf("iterations must be >= 1, got %d", l.Iterations))
	}
	if l.Step <= 0 {
		errs = append(errs, fmt.Errorf("step must be > 0, got %g", l.Step))
	}
	if l.MaxResidual <= 0 {
		errs = append(errs, fmt.Errorf("maxResidual must be > 0, got %g", l.MaxResidual))
	}
	if l.SmoothingAlpha <= 0 || l.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("smoothingAlpha must be in (0,1], got %g", l.SmoothingAlpha))
	}
	if l.MinX >= l.MaxX || l.MinY >= l.MaxY {
		errs = append(errs, fmt.Errorf("position box is empty: x[%g,%g] y[%g,%g]", l.MinX, l.MaxX, l.MinY, l.MaxY))
	}

	m := c.Locomotion
	if m.MinInterval <= 0 || m.MinInterval > m.MaxInterval {
		errs = append(errs, fmt.Errorf("locomotion interval bounds invalid: [%s,%s]", m.MinInterval.Std(), m.MaxInterval.Std()))
	}
	if m.MinTurn <= 0 || m.MinTurn > m.MaxTurn {
		errs = append(errs, fmt.Errorf("turn interval bounds invalid: [%s,%s]", m.MinTurn.Std(), m.MaxTurn.Std()))
	}
	if m.Mu <= 1 {
		errs = append(errs, fmt.Errorf("mu must be > 1, got %g", m.Mu))
	}
	if m.ForwardProb < 0 || m.ForwardProb > 1 {
		errs = append(errs, fmt.Errorf("forwardProbability must be in [0,1], got %g", m.ForwardProb))
	}

	s := c.Sound
	if s.Samples < 1 || s.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("sound samples and blockSize must be >= 1, got %d/%d", s.Samples, s.BlockSize))
	}
	if s.Period <= s.Settle+s.Timeout {
		errs = append(errs, fmt.Errorf("sound period %s must exceed settle+timeout %s", s.Period.Std(), (s.Settle + s.Timeout).Std()))
	}

	if c.Radio.Dwell <= 0 {
		errs = append(errs, errors.New("radio dwell must be > 0"))
	}
	if c.Settings.Tick <= 0 {
		errs = append(errs, errors.New("tick must be > 0"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		errs = append(errs, errors.New("telemetry broker is required when telemetry is enabled"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry interval must be > 0"))
	}

	return errors.Join(errs...)
}

// BeaconIndex returns the index of the named beacon or -1.
func (c *Config) BeaconIndex(name string) int {
	for i, b := range c.Beacons {
		if b.Name == name {
			return i
		}
	}
	return -1
}
