package heading

import (
	"time"

	"github.com/golang/geo/r3"
)

// Result describes what one sample produced. Outputs is empty when the
// heading did not move enough.
type Result struct {
	Orientation Orientation
	Sample      Sample
	Outputs
}

// Processor owns the conditioner state and the dispatcher State for one
// session. It is not safe for concurrent use; feed it from one goroutine.
type Processor struct {
	cfg   Config
	cond  *Conditioner
	state State
	host  Host
}

// New validates cfg and returns a Processor that reports to host. host may be
// nil when the caller only consumes the returned Result values.
func New(cfg Config, host Host) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		cfg:   cfg,
		cond:  NewConditioner(cfg.Smoothing),
		state: NewState(),
		host:  host,
	}, nil
}

func (p *Processor) Config() Config { return p.cfg }

// State returns a copy of the dispatcher state.
func (p *Processor) State() State { return p.state }

// OnSample runs the full pipeline for one raw reading. ok is false when no
// heading could be resolved yet (missing input or degenerate geometry).
func (p *Processor) OnSample(kind SensorKind, v r3.Vector, at time.Time) (Result, bool) {
	p.cond.Push(kind, v)

	gravity, haveGravity := p.cond.Latest(Accelerometer)
	geomagnetic, haveGeomagnetic := p.cond.Latest(Magnetometer)
	o, ok := Resolve(p.cfg.Method, gravity, haveGravity, geomagnetic, haveGeomagnetic)
	if !ok {
		return Result{}, false
	}

	next, out := Dispatch(p.cfg, p.state, o.Azimuth, at)
	p.state = next

	if p.host != nil {
		if out.Update != nil {
			p.host.OnHeadingUpdate(*out.Update)
		}
		if out.Aligned != nil {
			p.host.OnCardinalAligned(*out.Aligned)
		}
	}
	return Result{
		Orientation: o,
		Sample:      Sample{Degrees: o.Azimuth, At: at},
		Outputs:     out,
	}, true
}

// Reset drops all session state, as when the screen is recreated.
func (p *Processor) Reset() {
	p.cond.Reset()
	p.state = NewState()
}
