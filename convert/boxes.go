package convert

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/veloscene/nusclike/nuscenes"
	"github.com/veloscene/nusclike/spatialmath"
)

// Box7 is a detection box in the lidar frame: center, dimensions
// (dx=length, dy=width, dz=height), and heading about the vertical axis.
type Box7 [7]float64

// Object pairs one retained annotation's transformed box with its label
// and point count, so the three output arrays can never desynchronize.
type Object struct {
	Box  Box7
	Name string
	// NumLidarPts is the annotation's point count, or -1 when the
	// annotation omits it and it must be recomputed from the crop.
	NumLidarPts int
}

// Geometry returns the object's box as an oriented volume for cropping.
func (o Object) Geometry() (spatialmath.Box, error) {
	half := o.Box[6] / 2
	pose, err := spatialmath.NewPose(
		r3.Vector{X: o.Box[0], Y: o.Box[1], Z: o.Box[2]},
		quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)},
	)
	if err != nil {
		return spatialmath.Box{}, err
	}
	return spatialmath.NewBox(pose, r3.Vector{X: o.Box[3], Y: o.Box[4], Z: o.Box[5]})
}

// globalToLidar composes the ego and sensor transforms for one frame and
// inverts the result, yielding the pose that pulls global-frame geometry
// into the lidar frame.
func globalToLidar(ep *nuscenes.EgoPose, cs *nuscenes.CalibratedSensor) (spatialmath.Pose, error) {
	egoToGlobal, err := spatialmath.NewPoseFromWXYZ(ep.Translation, ep.Rotation)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(err, "bad ego pose %q", ep.Token)
	}
	lidarToEgo, err := spatialmath.NewPoseFromWXYZ(cs.Translation, cs.Rotation)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(err, "bad calibrated sensor %q", cs.Token)
	}
	return spatialmath.Compose(egoToGlobal, lidarToEgo).Invert(), nil
}

// transformAnnotation expresses one global-frame annotation in the lidar
// frame. The size triple flips from the source (width, length, height)
// convention to (length, width, height).
func transformAnnotation(ann *nuscenes.Annotation, toLidar spatialmath.Pose) (Object, error) {
	if len(ann.Size) != 3 {
		return Object{}, errors.Errorf("annotation %q has %d size components", ann.Token, len(ann.Size))
	}
	boxInGlobal, err := spatialmath.NewPoseFromWXYZ(ann.Translation, ann.Rotation)
	if err != nil {
		return Object{}, errors.Wrapf(err, "bad annotation %q", ann.Token)
	}
	boxInLidar := spatialmath.Compose(toLidar, boxInGlobal)

	center := boxInLidar.Translation()
	obj := Object{
		Box: Box7{
			center.X, center.Y, center.Z,
			ann.Size[1], ann.Size[0], ann.Size[2],
			boxInLidar.Yaw(),
		},
		Name:        ann.CategoryName,
		NumLidarPts: -1,
	}
	if ann.NumLidarPts != nil {
		obj.NumLidarPts = *ann.NumLidarPts
	}
	return obj, nil
}

// inRange reports whether the box center falls inside the configured
// spatial range.
func (c *Config) inRange(b Box7) bool {
	if !c.rangeEnabled() {
		return true
	}
	r := c.PointCloudRange
	return b[0] >= r[0] && b[0] <= r[3] &&
		b[1] >= r[1] && b[1] <= r[4] &&
		b[2] >= r[2] && b[2] <= r[5]
}
