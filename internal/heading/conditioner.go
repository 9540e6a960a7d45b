package heading

import "github.com/golang/geo/r3"

// Smoothing selects the per-axis exponential filter applied to raw samples.
// With Enabled false samples pass through untouched.
type Smoothing struct {
	Enabled bool
	Alpha   float64
}

// Condition returns the next conditioned vector for one sensor kind.
// The first sample (have == false) seeds the filter directly.
func Condition(prev r3.Vector, have bool, raw r3.Vector, s Smoothing) r3.Vector {
	if !have || !s.Enabled {
		return raw
	}
	return prev.Add(raw.Sub(prev).Mul(s.Alpha))
}

// Conditioner keeps the latest conditioned vector per sensor kind.
type Conditioner struct {
	smoothing Smoothing
	latest    [numKinds]r3.Vector
	have      [numKinds]bool
}

func NewConditioner(s Smoothing) *Conditioner {
	return &Conditioner{smoothing: s}
}

// Push filters raw into the state for kind and returns the new value.
func (c *Conditioner) Push(kind SensorKind, raw r3.Vector) r3.Vector {
	if kind < 0 || kind >= numKinds {
		return raw
	}
	v := Condition(c.latest[kind], c.have[kind], raw, c.smoothing)
	c.latest[kind] = v
	c.have[kind] = true
	return v
}

// Latest returns the conditioned vector for kind and whether one was seen yet.
func (c *Conditioner) Latest(kind SensorKind) (r3.Vector, bool) {
	if kind < 0 || kind >= numKinds {
		return r3.Vector{}, false
	}
	return c.latest[kind], c.have[kind]
}

func (c *Conditioner) Reset() {
	c.latest = [numKinds]r3.Vector{}
	c.have = [numKinds]bool{}
}
