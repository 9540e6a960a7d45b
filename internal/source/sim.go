package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"compass-ng/internal/heading"
)

// Sim is a device held at a fixed tilt and turned through a full circle every
// Period. Field strengths default to mid-latitude values.
type Sim struct {
	Period   time.Duration
	Interval time.Duration
	PitchDeg float64
	RollDeg  float64
	// NoiseUT is the standard deviation of Gaussian noise added to each
	// magnetometer axis.
	NoiseUT float64
	Seed    int64

	HorizontalUT float64
	VerticalUT   float64

	Clock clock.Clock
}

func (s Sim) Name() string { return "sim" }

// Heading returns the true azimuth the simulated device points at.
func (s Sim) Heading(now time.Time) float64 {
	period := s.Period
	if period <= 0 {
		period = 60 * time.Second
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	return 360 * phase
}

// Fields returns the noiseless accelerometer and magnetometer readings for a
// device at azimuthDeg with the configured pitch (about X) then roll (about Y).
func (s Sim) Fields(azimuthDeg float64) (gravity, field r3.Vector) {
	bh, bv := s.HorizontalUT, s.VerticalUT
	if bh == 0 && bv == 0 {
		bh, bv = 20, 40
	}
	psi := azimuthDeg * math.Pi / 180
	th := s.PitchDeg * math.Pi / 180
	ph := s.RollDeg * math.Pi / 180

	// Device axes expressed in the east-north-up frame.
	x := r3.Vector{X: math.Cos(psi), Y: -math.Sin(psi)}
	y := r3.Vector{X: math.Sin(psi), Y: math.Cos(psi)}
	z := r3.Vector{Z: 1}

	y2 := y.Mul(math.Cos(th)).Add(z.Mul(math.Sin(th)))
	z2 := z.Mul(math.Cos(th)).Sub(y.Mul(math.Sin(th)))
	x3 := x.Mul(math.Cos(ph)).Sub(z2.Mul(math.Sin(ph)))
	z3 := z2.Mul(math.Cos(ph)).Add(x.Mul(math.Sin(ph)))

	up := r3.Vector{Z: StandardGravity}
	b := r3.Vector{Y: bh, Z: -bv}
	gravity = r3.Vector{X: up.Dot(x3), Y: up.Dot(y2), Z: up.Dot(z3)}
	field = r3.Vector{X: b.Dot(x3), Y: b.Dot(y2), Z: b.Dot(z3)}
	return gravity, field
}

func (s Sim) Run(ctx context.Context, emit func(Sample)) error {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	rng := rand.New(rand.NewSource(s.Seed))

	t := clk.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		now := clk.Now()
		g, m := s.Fields(s.Heading(now))
		if s.NoiseUT > 0 {
			m = m.Add(r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(s.NoiseUT))
		}
		emit(Sample{Kind: heading.Accelerometer, Vec: g, At: now})
		emit(Sample{Kind: heading.Magnetometer, Vec: m, At: now})
	}
}
