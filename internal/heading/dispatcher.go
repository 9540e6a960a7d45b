package heading

import (
	"math"
	"time"
)

// NoHeading marks State.LastEmitted before the first emission. It lies
// outside [0, 360) so the first heading always passes the significance gate.
const NoHeading = -999.0

// State is everything the dispatcher remembers between samples.
type State struct {
	LastEmitted  float64
	LastFeedback time.Time
	Displayed    float64
}

func NewState() State {
	return State{LastEmitted: NoHeading}
}

// Outputs is what a single Dispatch call decided to emit.
type Outputs struct {
	Update  *HeadingUpdate
	Aligned *CardinalEvent
}

// Dispatch applies the significance gate, display update and feedback gate
// for one resolved heading. It returns the next state; st is not modified.
func Dispatch(cfg Config, st State, deg float64, now time.Time) (State, Outputs) {
	if st.LastEmitted != NoHeading && math.Abs(ShortestArc(st.LastEmitted, deg)) < cfg.MinDiffDegrees {
		return st, Outputs{}
	}

	rounded := int(math.Round(deg)) % 360
	// Label and feedback follow the displayed whole degree.
	sector := Classify(float64(rounded), cfg.PrimaryToleranceDegrees)
	label := cfg.Labels.Label(sector)
	up := HeadingUpdate{
		Heading:   deg,
		Rounded:   rounded,
		Label:     label,
		Sector:    sector,
		Delta:     ShortestArc(st.Displayed, deg),
		Animation: cfg.AnimationDuration,
		At:        now,
	}
	next := st
	next.Displayed = deg
	next.LastEmitted = deg
	out := Outputs{Update: &up}

	if sector.Primary() && now.Sub(st.LastFeedback) > cfg.Cooldown {
		next.LastFeedback = now
		out.Aligned = &CardinalEvent{
			Direction: sector,
			Label:     label,
			Heading:   deg,
			At:        now,
		}
	}
	return next, out
}
