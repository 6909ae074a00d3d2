// Package spatialmath implements the rigid transforms used to move lidar
// annotations between the global, ego, and sensor frames.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// unitNormEpsilon bounds how far a rotation quaternion may stray from unit
// norm before it is rejected as corrupt rather than silently renormalized.
const unitNormEpsilon = 1e-3

// InvalidRotationError is returned when a rotation quaternion is outside
// unit-norm tolerance. Renormalizing such a quaternion could mask upstream
// data corruption, so it is always an error.
type InvalidRotationError struct {
	Norm float64
}

func (e *InvalidRotationError) Error() string {
	return fmt.Sprintf("rotation quaternion has norm %f, more than %g from unit", e.Norm, unitNormEpsilon)
}

// Pose is a rigid transform: a rotation about the origin followed by a
// translation. The zero value is not valid; use NewZeroPose for identity.
type Pose struct {
	rotation    quat.Number
	translation r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{rotation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a translation and a rotation quaternion,
// rejecting rotations outside unit-norm tolerance.
func NewPose(translation r3.Vector, rotation quat.Number) (Pose, error) {
	n := quat.Abs(rotation)
	if math.Abs(n-1) > unitNormEpsilon {
		return Pose{}, &InvalidRotationError{Norm: n}
	}
	return Pose{rotation: rotation, translation: translation}, nil
}

// NewPoseFromPoint returns a pose with the given translation and no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{rotation: quat.Number{Real: 1}, translation: pt}
}

// NewPoseFromWXYZ returns a pose from a 3-element translation and a
// 4-element scalar-first (w, x, y, z) rotation, the component order used by
// the nuScenes JSON tables.
func NewPoseFromWXYZ(translation, rotation []float64) (Pose, error) {
	if len(translation) != 3 {
		return Pose{}, errors.Errorf("expected 3 translation components but got %d", len(translation))
	}
	if len(rotation) != 4 {
		return Pose{}, errors.Errorf("expected 4 rotation components but got %d", len(rotation))
	}
	return NewPose(
		r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]},
		quat.Number{Real: rotation[0], Imag: rotation[1], Jmag: rotation[2], Kmag: rotation[3]},
	)
}

// Rotation returns the rotation quaternion.
func (p Pose) Rotation() quat.Number {
	return p.rotation
}

// Translation returns the translation vector.
func (p Pose) Translation() r3.Vector {
	return p.translation
}

// Compose returns the pose equivalent to applying b and then a, matching
// the matrix product T_a * T_b.
func Compose(a, b Pose) Pose {
	return Pose{
		rotation:    quat.Mul(a.rotation, b.rotation),
		translation: a.translation.Add(RotateVector(a.rotation, b.translation)),
	}
}

// Invert returns the pose that undoes p.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.rotation)
	return Pose{
		rotation:    inv,
		translation: RotateVector(inv, p.translation).Mul(-1),
	}
}

// TransformPoint applies the pose to a point.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return RotateVector(p.rotation, pt).Add(p.translation)
}

// RotateVector rotates a vector by a quaternion via q * v * q'.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Yaw returns the pose's heading about the vertical axis, computed by
// rotating the unit x axis and projecting it onto the horizontal plane.
// Unlike a naive Euler extraction this stays well behaved under nonzero
// roll and pitch.
func (p Pose) Yaw() float64 {
	fwd := RotateVector(p.rotation, r3.Vector{X: 1})
	return math.Atan2(fwd.Y, fwd.X)
}

// QuaternionAlmostEqual tests equality of two quaternions up to sign, since
// q and -q represent the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	diff := quat.Abs(quat.Sub(a, b))
	sum := quat.Abs(quat.Add(a, b))
	return diff < tol || sum < tol
}

// PoseAlmostEqual tests approximate equality of two poses.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	return QuaternionAlmostEqual(a.rotation, b.rotation, tol) &&
		a.translation.Sub(b.translation).Norm() < tol
}
