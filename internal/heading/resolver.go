package heading

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// AzimuthMethod selects how the raw azimuth is derived.
type AzimuthMethod int

const (
	// MethodRotationMatrix builds a device->world rotation from gravity and the
	// geomagnetic field and reads the azimuth from it. Tilt compensated.
	MethodRotationMatrix AzimuthMethod = iota
	// MethodAtan2 is the legacy direct formula -atan2(magX, magY). It only
	// needs the magnetometer and is only correct with the device held flat.
	MethodAtan2
)

func (m AzimuthMethod) String() string {
	switch m {
	case MethodRotationMatrix:
		return "rotation_matrix"
	case MethodAtan2:
		return "atan2"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

func ParseAzimuthMethod(s string) (AzimuthMethod, error) {
	switch s {
	case "", "rotation_matrix":
		return MethodRotationMatrix, nil
	case "atan2":
		return MethodAtan2, nil
	default:
		return 0, fmt.Errorf("heading: unknown azimuth method %q", s)
	}
}

const (
	standardGravity = 9.80665
	// Below this gravity magnitude the device is treated as in free fall.
	freeFallGravitySquared = 0.01 * standardGravity * standardGravity
	// Minimum |E x A| for a usable east vector; smaller means the field is
	// (nearly) parallel to gravity.
	minEastNorm = 0.1
)

// Orientation is the device attitude in degrees. Azimuth is normalized into
// [0, 360); Pitch and Roll are signed.
type Orientation struct {
	Azimuth float64 `json:"azimuth_deg"`
	Pitch   float64 `json:"pitch_deg"`
	Roll    float64 `json:"roll_deg"`
}

// RotationMatrix returns the 3x3 matrix whose rows are the world east, north
// and up axes expressed in device coordinates. It reports false when the
// inputs cannot define a frame.
func RotationMatrix(gravity, geomagnetic r3.Vector) (*mat.Dense, bool) {
	if gravity.Norm2() < freeFallGravitySquared {
		return nil, false
	}
	east := geomagnetic.Cross(gravity)
	normH := east.Norm()
	if normH < minEastNorm || math.IsNaN(normH) || math.IsInf(normH, 0) {
		return nil, false
	}
	h := east.Mul(1 / normH)
	a := gravity.Mul(1 / gravity.Norm())
	m := a.Cross(h)

	return mat.NewDense(3, 3, []float64{
		h.X, h.Y, h.Z,
		m.X, m.Y, m.Z,
		a.X, a.Y, a.Z,
	}), true
}

// OrientationFromMatrix extracts azimuth, pitch and roll from a rotation
// matrix produced by RotationMatrix.
func OrientationFromMatrix(r mat.Matrix) Orientation {
	azimuth := math.Atan2(r.At(0, 1), r.At(1, 1))
	pitch := math.Asin(clampUnit(-r.At(2, 1)))
	roll := math.Atan2(-r.At(2, 0), r.At(2, 2))
	return Orientation{
		Azimuth: NormalizeDegrees(radToDeg(azimuth)),
		Pitch:   radToDeg(pitch),
		Roll:    radToDeg(roll),
	}
}

// LegacyAzimuth is the flat-device formula: -atan2(magX, magY) in degrees,
// normalized into [0, 360).
func LegacyAzimuth(geomagnetic r3.Vector) (float64, bool) {
	if geomagnetic.X == 0 && geomagnetic.Y == 0 {
		return 0, false
	}
	return NormalizeDegrees(-radToDeg(math.Atan2(geomagnetic.X, geomagnetic.Y))), true
}

// Resolve computes the device orientation from the latest conditioned
// vectors. ok is false when an input is missing or the geometry is
// degenerate; neither case is an error.
func Resolve(method AzimuthMethod, gravity r3.Vector, haveGravity bool, geomagnetic r3.Vector, haveGeomagnetic bool) (Orientation, bool) {
	if !haveGeomagnetic {
		return Orientation{}, false
	}
	if method == MethodAtan2 {
		az, ok := LegacyAzimuth(geomagnetic)
		if !ok {
			return Orientation{}, false
		}
		return Orientation{Azimuth: az}, true
	}
	if !haveGravity {
		return Orientation{}, false
	}
	r, ok := RotationMatrix(gravity, geomagnetic)
	if !ok {
		return Orientation{}, false
	}
	o := OrientationFromMatrix(r)
	if math.IsNaN(o.Azimuth) {
		return Orientation{}, false
	}
	return o, true
}

// NormalizeDegrees maps any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// ShortestArc returns the signed rotation from -> to in (-180, 180].
func ShortestArc(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

func radToDeg(r float64) float64 { return r * 180 / math.Pi }

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
