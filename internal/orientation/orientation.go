// Package orientation converts rotation-vector sensor readings into
// yaw/pitch/roll angles.
package orientation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Estimate is the canonical yaw/pitch/roll representation, in degrees.
type Estimate struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// RotationVector is a device-relative rotation expressed as the vector part
// of a unit quaternion, with an optional scalar part.
type RotationVector struct {
	X, Y, Z float64
	W       float64
	HasW    bool
}

// FromValues builds a RotationVector from a raw sensor sample. Platforms
// deliver 3 to 5 components: x, y, z, an optional scalar w and an optional
// heading accuracy, which is ignored.
func FromValues(values []float32) (RotationVector, error) {
	if len(values) < 3 {
		return RotationVector{}, fmt.Errorf("rotation vector needs at least 3 components, got %d", len(values))
	}
	rv := RotationVector{
		X: float64(values[0]),
		Y: float64(values[1]),
		Z: float64(values[2]),
	}
	if len(values) >= 4 {
		rv.W = float64(values[3])
		rv.HasW = true
	}
	return rv, nil
}

// Quaternion returns the normalised quaternion for rv. A missing scalar part
// is derived from the unit-norm constraint.
func (rv RotationVector) Quaternion() quat.Number {
	w := rv.W
	if !rv.HasW {
		w = 1 - rv.X*rv.X - rv.Y*rv.Y - rv.Z*rv.Z
		if w > 0 {
			w = math.Sqrt(w)
		} else {
			w = 0
		}
	}
	q := quat.Number{Real: w, Imag: rv.X, Jmag: rv.Y, Kmag: rv.Z}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Fuse decomposes the rotation into azimuth (yaw), pitch and roll.
//
// At gimbal lock (pitch of ±90°) yaw and roll are not independent; the values
// returned there are finite but only their sum or difference is meaningful.
func Fuse(rv RotationVector) Estimate {
	q := rv.Quaternion()

	ex := rotate(q, 1, 0, 0)
	ey := rotate(q, 0, 1, 0)
	ez := rotate(q, 0, 0, 1)

	// Columns of the rotation matrix are the rotated basis vectors:
	// R01 = ey.x, R11 = ey.y, R21 = ey.z, R20 = ex.z, R22 = ez.z.
	azimuth := math.Atan2(ey.Imag, ey.Jmag)
	pitch := math.Asin(clamp(-ey.Kmag, -1, 1))
	roll := math.Atan2(-ex.Kmag, ez.Kmag)

	return Estimate{
		Yaw:   toDeg(azimuth),
		Pitch: toDeg(pitch),
		Roll:  toDeg(roll),
	}
}

// FuseValues is FromValues followed by Fuse.
func FuseValues(values []float32) (Estimate, error) {
	rv, err := FromValues(values)
	if err != nil {
		return Estimate{}, err
	}
	return Fuse(rv), nil
}

func rotate(q quat.Number, x, y, z float64) quat.Number {
	v := quat.Number{Imag: x, Jmag: y, Kmag: z}
	return quat.Mul(quat.Mul(q, v), quat.Conj(q))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
