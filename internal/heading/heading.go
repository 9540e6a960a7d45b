// Package heading turns raw accelerometer and magnetometer samples into a
// compass heading and decides when to update a display and when to fire
// cardinal-direction feedback.
//
// The pipeline is conditioner -> resolver -> dispatcher and runs to completion
// for every sample on the caller's goroutine. Nothing in this package blocks.
package heading

import (
	"fmt"
	"time"
)

// SensorKind identifies which sensor produced a sample.
type SensorKind int

const (
	Accelerometer SensorKind = iota
	Magnetometer

	numKinds
)

func (k SensorKind) String() string {
	switch k {
	case Accelerometer:
		return "accel"
	case Magnetometer:
		return "mag"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseSensorKind is the inverse of SensorKind.String.
func ParseSensorKind(s string) (SensorKind, error) {
	switch s {
	case "accel":
		return Accelerometer, nil
	case "mag":
		return Magnetometer, nil
	default:
		return 0, fmt.Errorf("heading: unknown sensor kind %q", s)
	}
}

// Sample is a single computed heading.
type Sample struct {
	Degrees float64
	At      time.Time
}

// HeadingUpdate is emitted when the heading moved enough to be worth
// redrawing. Delta is the shortest signed rotation from the previously
// displayed heading, always in (-180, 180].
type HeadingUpdate struct {
	Heading   float64       `json:"heading_deg"`
	Rounded   int           `json:"rounded_deg"`
	Label     string        `json:"label"`
	Sector    Sector        `json:"sector"`
	Delta     float64       `json:"delta_deg"`
	Animation time.Duration `json:"animation_ns"`
	At        time.Time     `json:"at"`
}

// CardinalEvent asks the host to play the cue for Direction and pulse the
// vibration motor once.
type CardinalEvent struct {
	Direction Sector    `json:"direction"`
	Label     string    `json:"label"`
	Heading   float64   `json:"heading_deg"`
	At        time.Time `json:"at"`
}

// Host receives the dispatcher outputs. Implementations must return quickly;
// playback and rendering belong on the host side.
type Host interface {
	OnHeadingUpdate(HeadingUpdate)
	OnCardinalAligned(CardinalEvent)
}

// Config is fixed for the lifetime of a Processor.
type Config struct {
	Smoothing               Smoothing
	Method                  AzimuthMethod
	MinDiffDegrees          float64
	Cooldown                time.Duration
	PrimaryToleranceDegrees float64
	Labels                  LabelSet
	// AnimationDuration is a rendering hint carried on every update.
	AnimationDuration time.Duration
}

const (
	DefaultAlpha             = 0.25
	DefaultMinDiffDegrees    = 1.5
	DefaultCooldown          = 2000 * time.Millisecond
	DefaultPrimaryTolerance  = 10.0
	DefaultAnimationDuration = 250 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{
		Smoothing:               Smoothing{Enabled: true, Alpha: DefaultAlpha},
		Method:                  MethodRotationMatrix,
		MinDiffDegrees:          DefaultMinDiffDegrees,
		Cooldown:                DefaultCooldown,
		PrimaryToleranceDegrees: DefaultPrimaryTolerance,
		Labels:                  LabelsEnglish,
		AnimationDuration:       DefaultAnimationDuration,
	}
}

func (c Config) Validate() error {
	if c.Smoothing.Enabled && (c.Smoothing.Alpha <= 0 || c.Smoothing.Alpha > 1) {
		return fmt.Errorf("heading: smoothing alpha must be in (0,1], got %v", c.Smoothing.Alpha)
	}
	if c.Method != MethodRotationMatrix && c.Method != MethodAtan2 {
		return fmt.Errorf("heading: unknown azimuth method %d", int(c.Method))
	}
	if c.MinDiffDegrees < 0 || c.MinDiffDegrees >= 180 {
		return fmt.Errorf("heading: min diff must be in [0,180), got %v", c.MinDiffDegrees)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("heading: cooldown must be >= 0, got %s", c.Cooldown)
	}
	if c.PrimaryToleranceDegrees <= 0 || c.PrimaryToleranceDegrees >= 45 {
		return fmt.Errorf("heading: primary tolerance must be in (0,45), got %v", c.PrimaryToleranceDegrees)
	}
	if _, ok := labelTables[c.Labels]; !ok {
		return fmt.Errorf("heading: unknown label set %q", c.Labels)
	}
	return nil
}
