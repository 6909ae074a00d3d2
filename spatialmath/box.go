package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Box is an oriented 3D rectangular prism, defined by a pose and a half
// size per local axis.
type Box struct {
	pose     Pose
	halfSize [3]float64
}

// NewBox returns a box with the given pose and full dimensions.
// Negative dimensions are not allowed; zero dimensions are, for degenerate
// bounding boxes.
func NewBox(pose Pose, dims r3.Vector) (Box, error) {
	if dims.X < 0 || dims.Y < 0 || dims.Z < 0 {
		return Box{}, errors.Errorf("box dimensions must be non-negative, got %v", dims)
	}
	return Box{pose: pose, halfSize: [3]float64{dims.X / 2, dims.Y / 2, dims.Z / 2}}, nil
}

// Pose returns the pose of the box center.
func (b Box) Pose() Pose {
	return b.pose
}

// Dims returns the full dimensions of the box along its local axes.
func (b Box) Dims() r3.Vector {
	return r3.Vector{X: 2 * b.halfSize[0], Y: 2 * b.halfSize[1], Z: 2 * b.halfSize[2]}
}

// String returns a human readable string that represents the box.
func (b Box) String() string {
	c := b.pose.Translation()
	return fmt.Sprintf("Type: Box | Position: X:%.1f, Y:%.1f, Z:%.1f | Dims: X:%.1f, Y:%.1f, Z:%.1f",
		c.X, c.Y, c.Z, 2*b.halfSize[0], 2*b.halfSize[1], 2*b.halfSize[2])
}

// axes returns the box's local axes expressed in the frame the box is
// posed in.
func (b Box) axes() [3]r3.Vector {
	q := b.pose.Rotation()
	return [3]r3.Vector{
		RotateVector(q, r3.Vector{X: 1}),
		RotateVector(q, r3.Vector{Y: 1}),
		RotateVector(q, r3.Vector{Z: 1}),
	}
}

// Contains reports whether a point lies inside the box expanded by margin
// on every face. The point's offset from the center is projected onto each
// of the box's local axes and compared against the half size, so the test
// is exact for arbitrarily rotated boxes.
func (b Box) Contains(pt r3.Vector, margin float64) bool {
	direction := pt.Sub(b.pose.Translation())
	for i, axis := range b.axes() {
		if math.Abs(direction.Dot(axis)) > b.halfSize[i]+margin {
			return false
		}
	}
	return true
}
