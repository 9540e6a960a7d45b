package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"compass-ng/internal/heading"
	"compass-ng/internal/sensors/icm20948"
)

type Config struct {
	Heading  HeadingConfig  `yaml:"heading"`
	Source   SourceConfig   `yaml:"source"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Outputs  OutputsConfig  `yaml:"outputs"`
	Web      WebConfig      `yaml:"web"`
}

type HeadingConfig struct {
	// Smoothing defaults to true when omitted.
	Smoothing           *bool         `yaml:"smoothing"`
	Alpha               float64       `yaml:"alpha"`
	Method              string        `yaml:"method"`
	MinDiffDeg          *float64      `yaml:"min_diff_deg"`
	Cooldown            time.Duration `yaml:"cooldown"`
	PrimaryToleranceDeg float64       `yaml:"primary_tolerance_deg"`
	Labels              string        `yaml:"labels"`
	Animation           time.Duration `yaml:"animation"`
}

type SourceConfig struct {
	Kind   string          `yaml:"kind"`
	IMU    IMUSourceConfig `yaml:"imu"`
	Sim    SimSourceConfig `yaml:"sim"`
	Replay ReplayConfig    `yaml:"replay"`
	Record RecordConfig    `yaml:"record"`
}

type IMUSourceConfig struct {
	I2CBus   int           `yaml:"i2c_bus"`
	Addr     uint16        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

type SimSourceConfig struct {
	Period   time.Duration `yaml:"period"`
	Interval time.Duration `yaml:"interval"`
	PitchDeg float64       `yaml:"pitch_deg"`
	RollDeg  float64       `yaml:"roll_deg"`
	NoiseUT  float64       `yaml:"noise_ut"`
	Seed     int64         `yaml:"seed"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type FeedbackConfig struct {
	Enable bool `yaml:"enable"`
	// VibrationGPIO is the BCM pin driving the vibration motor (0 = none).
	VibrationGPIO int           `yaml:"vibration_gpio"`
	Pulse         time.Duration `yaml:"pulse"`
	// BuzzerPWMPin is the BCM pin of the sysfs PWM buzzer (0 = none).
	BuzzerPWMPin  int            `yaml:"buzzer_pwm_pin"`
	CueDuration   time.Duration  `yaml:"cue_duration"`
	SharedChannel bool           `yaml:"shared_channel"`
	TonesHz       map[string]int `yaml:"tones_hz"`
}

type OutputsConfig struct {
	NMEA NMEAOutputConfig `yaml:"nmea"`
	MQTT MQTTOutputConfig `yaml:"mqtt"`
	OLED OLEDOutputConfig `yaml:"oled"`
}

type NMEAOutputConfig struct {
	Enable     bool   `yaml:"enable"`
	UDPDest    string `yaml:"udp_dest"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   uint   `yaml:"baud_rate"`
	Talker     string `yaml:"talker"`
}

type MQTTOutputConfig struct {
	Enable        bool   `yaml:"enable"`
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	TopicHeading  string `yaml:"topic_heading"`
	TopicCardinal string `yaml:"topic_cardinal"`
}

type OLEDOutputConfig struct {
	Enable bool   `yaml:"enable"`
	I2CBus string `yaml:"i2c_bus"`
	Addr   uint16 `yaml:"addr"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

var validTones = []string{"N", "E", "S", "W"}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML bytes, rejecting unknown keys, then applies defaults
// and validation.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// Heading core.
	h := &cfg.Heading
	if h.Smoothing == nil {
		v := true
		h.Smoothing = &v
	}
	if h.Alpha == 0 {
		h.Alpha = heading.DefaultAlpha
	}
	if *h.Smoothing && (h.Alpha < 0 || h.Alpha > 1) {
		return fmt.Errorf("heading.alpha must be in (0,1]")
	}
	if h.Method == "" {
		h.Method = "rotation_matrix"
	}
	if _, err := heading.ParseAzimuthMethod(h.Method); err != nil {
		return fmt.Errorf("heading.method must be 'rotation_matrix' or 'atan2'")
	}
	if h.MinDiffDeg == nil {
		v := heading.DefaultMinDiffDegrees
		h.MinDiffDeg = &v
	}
	if *h.MinDiffDeg < 0 || *h.MinDiffDeg >= 180 {
		return fmt.Errorf("heading.min_diff_deg must be in [0,180)")
	}
	if h.Cooldown == 0 {
		h.Cooldown = heading.DefaultCooldown
	}
	if h.Cooldown < 0 {
		return fmt.Errorf("heading.cooldown must be >= 0")
	}
	if h.PrimaryToleranceDeg == 0 {
		h.PrimaryToleranceDeg = heading.DefaultPrimaryTolerance
	}
	if h.PrimaryToleranceDeg < 0 || h.PrimaryToleranceDeg >= 45 {
		return fmt.Errorf("heading.primary_tolerance_deg must be in (0,45)")
	}
	if h.Labels == "" {
		h.Labels = string(heading.LabelsEnglish)
	}
	if h.Labels != string(heading.LabelsEnglish) && h.Labels != string(heading.LabelsSpanish) {
		return fmt.Errorf("heading.labels must be 'en' or 'es'")
	}
	if h.Animation <= 0 {
		h.Animation = heading.DefaultAnimationDuration
	}

	// Source.
	s := &cfg.Source
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.Kind == "" {
		s.Kind = "sim"
	}
	switch s.Kind {
	case "imu":
		if s.IMU.I2CBus == 0 {
			s.IMU.I2CBus = 1
		}
		if s.IMU.Addr == 0 {
			s.IMU.Addr = icm20948.DefaultAddress()
		}
		if s.IMU.Interval <= 0 {
			s.IMU.Interval = 20 * time.Millisecond
		}
	case "sim":
		if s.Sim.Period <= 0 {
			s.Sim.Period = 60 * time.Second
		}
		if s.Sim.Interval <= 0 {
			s.Sim.Interval = 50 * time.Millisecond
		}
		if s.Sim.NoiseUT < 0 {
			return fmt.Errorf("source.sim.noise_ut must be >= 0")
		}
	case "replay":
		if strings.TrimSpace(s.Replay.Path) == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is 'replay'")
		}
		if s.Replay.Speed == 0 {
			s.Replay.Speed = 1
		}
		if s.Replay.Speed < 0 {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
	default:
		return fmt.Errorf("source.kind must be one of 'imu', 'sim', 'replay'")
	}
	if s.Record.Enable {
		if strings.TrimSpace(s.Record.Path) == "" {
			return fmt.Errorf("source.record.path is required when source.record.enable is true")
		}
		if s.Kind == "replay" {
			return fmt.Errorf("source.record cannot be used with source.kind 'replay'")
		}
	}

	// Feedback.
	f := &cfg.Feedback
	if f.Pulse <= 0 {
		f.Pulse = 500 * time.Millisecond
	}
	if f.CueDuration <= 0 {
		f.CueDuration = 400 * time.Millisecond
	}
	if f.VibrationGPIO < 0 {
		return fmt.Errorf("feedback.vibration_gpio must be >= 0")
	}
	if f.BuzzerPWMPin < 0 {
		return fmt.Errorf("feedback.buzzer_pwm_pin must be >= 0")
	}
	if f.TonesHz == nil {
		f.TonesHz = map[string]int{}
	}
	defaultTones := map[string]int{"N": 880, "E": 660, "S": 440, "W": 550}
	for k := range f.TonesHz {
		if !isValidTone(k) {
			return fmt.Errorf("feedback.tones_hz keys must be N, E, S or W")
		}
	}
	for _, k := range validTones {
		hz, ok := f.TonesHz[k]
		if !ok || hz == 0 {
			f.TonesHz[k] = defaultTones[k]
			continue
		}
		if hz < 0 {
			return fmt.Errorf("feedback.tones_hz.%s must be > 0", k)
		}
	}

	// Outputs.
	n := &cfg.Outputs.NMEA
	if n.Enable {
		if n.UDPDest == "" && n.SerialPort == "" {
			return fmt.Errorf("outputs.nmea requires udp_dest or serial_port")
		}
		if n.SerialPort != "" && n.BaudRate == 0 {
			n.BaudRate = 4800
		}
		if n.Talker == "" {
			n.Talker = "HC"
		}
		if len(n.Talker) != 2 {
			return fmt.Errorf("outputs.nmea.talker must be two characters")
		}
	}
	m := &cfg.Outputs.MQTT
	if m.Enable {
		if m.Broker == "" {
			return fmt.Errorf("outputs.mqtt.broker is required when outputs.mqtt.enable is true")
		}
		if m.ClientID == "" {
			m.ClientID = "compass-ng"
		}
		if m.TopicHeading == "" {
			m.TopicHeading = "compass/heading"
		}
		if m.TopicCardinal == "" {
			m.TopicCardinal = "compass/cardinal"
		}
	}
	o := &cfg.Outputs.OLED
	if o.Enable && o.Addr == 0 {
		o.Addr = 0x3C
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}

func isValidTone(k string) bool {
	for _, v := range validTones {
		if v == k {
			return true
		}
	}
	return false
}

// HeadingCore converts the YAML section into the processor configuration.
// DefaultAndValidate must have run first.
func (c Config) HeadingCore() (heading.Config, error) {
	h := c.Heading
	method, err := heading.ParseAzimuthMethod(h.Method)
	if err != nil {
		return heading.Config{}, err
	}
	smoothing := heading.Smoothing{Alpha: h.Alpha}
	if h.Smoothing != nil {
		smoothing.Enabled = *h.Smoothing
	}
	minDiff := heading.DefaultMinDiffDegrees
	if h.MinDiffDeg != nil {
		minDiff = *h.MinDiffDeg
	}
	hc := heading.Config{
		Smoothing:               smoothing,
		Method:                  method,
		MinDiffDegrees:          minDiff,
		Cooldown:                h.Cooldown,
		PrimaryToleranceDegrees: h.PrimaryToleranceDeg,
		Labels:                  heading.LabelSet(h.Labels),
		AnimationDuration:       h.Animation,
	}
	if err := hc.Validate(); err != nil {
		return heading.Config{}, err
	}
	return hc, nil
}
