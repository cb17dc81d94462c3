// Package geom holds the pose and rotation helpers shared by the scene, the
// sequencer and the engine backends.
//
// Orientations follow the simulator convention: Euler angles are roll about X,
// pitch about Y and yaw about Z applied extrinsically, so R = Rz * Ry * Rx.
package geom

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Identity is the rotation that leaves vectors unchanged.
var Identity = quat.Number{Real: 1}

// Pose is a position plus an orientation quaternion.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewPose builds a pose from a position and roll/pitch/yaw angles in radians.
func NewPose(point r3.Vector, euler r3.Vector) Pose {
	return Pose{Point: point, Orientation: FromEuler(euler.X, euler.Y, euler.Z)}
}

// Vec converts a 3-element slice into a vector. Missing elements are zero.
func Vec(v []float64) r3.Vector {
	var out r3.Vector
	if len(v) > 0 {
		out.X = v[0]
	}
	if len(v) > 1 {
		out.Y = v[1]
	}
	if len(v) > 2 {
		out.Z = v[2]
	}
	return out
}

// FromEuler converts roll/pitch/yaw into a unit quaternion.
func FromEuler(roll, pitch, yaw float64) quat.Number {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// ToEuler is the inverse of FromEuler. At gimbal lock (pitch of +-pi/2) only
// the sum or difference of roll and yaw is defined; roll is reported as zero.
func ToEuler(q quat.Number) r3.Vector {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	sinp := 2 * (w*y - z*x)
	crcp := 1 - 2*(x*x+y*y)
	srcp := 2 * (w*x + y*z)
	cosp := math.Hypot(crcp, srcp)
	if cosp < gimbalEpsilon {
		pitch := math.Copysign(math.Pi/2, sinp)
		yaw := math.Atan2(-2*(x*y-w*z), 1-2*(x*x+z*z))
		return r3.Vector{X: 0, Y: pitch, Z: yaw}
	}
	roll := math.Atan2(srcp, crcp)
	pitch := math.Atan2(sinp, cosp)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return r3.Vector{X: roll, Y: pitch, Z: yaw}
}

const gimbalEpsilon = 1e-10

// Normalize scales q to unit length. The zero quaternion maps to Identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return Identity
	}
	return quat.Scale(1/n, q)
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Compose returns the pose of child expressed in the frame that parent is expressed in.
func Compose(parent, child Pose) Pose {
	return Pose{
		Point:       parent.Point.Add(Rotate(parent.Orientation, child.Point)),
		Orientation: Normalize(quat.Mul(parent.Orientation, child.Orientation)),
	}
}

// Inverse returns the pose that undoes p.
func Inverse(p Pose) Pose {
	inv := quat.Conj(Normalize(p.Orientation))
	return Pose{
		Point:       Rotate(inv, p.Point).Mul(-1),
		Orientation: inv,
	}
}

// Relative expresses child in the frame of parent.
func Relative(parent, child Pose) Pose {
	return Compose(Inverse(parent), child)
}

// Translate returns p moved by delta in the world frame.
func (p Pose) Translate(delta r3.Vector) Pose {
	return Pose{Point: p.Point.Add(delta), Orientation: p.Orientation}
}

// Euler returns the roll/pitch/yaw of the pose orientation.
func (p Pose) Euler() r3.Vector {
	return ToEuler(p.Orientation)
}

func (p Pose) String() string {
	e := p.Euler()
	return fmt.Sprintf("pos=(%.3f, %.3f, %.3f) rpy=(%.3f, %.3f, %.3f)",
		p.Point.X, p.Point.Y, p.Point.Z, e.X, e.Y, e.Z)
}

// Axis is one of the world axes used for cartesian offsets.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// ParseAxis accepts x, y or z in any case.
func ParseAxis(s string) (Axis, error) {
	switch a := Axis(strings.ToLower(strings.TrimSpace(s))); a {
	case AxisX, AxisY, AxisZ:
		return a, nil
	default:
		return "", fmt.Errorf("unknown axis %q (want x, y or z)", s)
	}
}

// Unit returns delta along the axis as a vector.
func (a Axis) Unit(delta float64) r3.Vector {
	switch a {
	case AxisX:
		return r3.Vector{X: delta}
	case AxisY:
		return r3.Vector{Y: delta}
	case AxisZ:
		return r3.Vector{Z: delta}
	}
	return r3.Vector{}
}
