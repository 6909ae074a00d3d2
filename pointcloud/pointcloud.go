// Package pointcloud reads, writes, and crops the raw float32 lidar
// clouds referenced by the nuScenes-style metadata tables.
package pointcloud

import (
	"github.com/golang/geo/r3"

	"github.com/veloscene/nusclike/spatialmath"
)

// Point is one lidar return. Ring carries the fifth column of five column
// files, which holds a ring index or a relative timestamp depending on the
// exporter; four column files leave it zero.
type Point struct {
	X, Y, Z   float32
	Intensity float32
	Ring      float32
}

// Position returns the point's position as a vector.
func (p Point) Position() r3.Vector {
	return r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// Cloud is a dense, ordered collection of lidar returns plus the column
// count of the file it came from.
type Cloud struct {
	Points []Point
	Cols   int
}

// Size returns the number of points in the cloud.
func (c *Cloud) Size() int {
	return len(c.Points)
}

// ShiftZ shifts every point's z coordinate by dz.
func (c *Cloud) ShiftZ(dz float64) {
	for i := range c.Points {
		c.Points[i].Z += float32(dz)
	}
}

// CropBox returns the points falling inside the box expanded by margin on
// every face, preserving point order. The result owns a private copy of
// its points, so entries cropped from overlapping boxes never alias.
func (c *Cloud) CropBox(box spatialmath.Box, margin float64) *Cloud {
	out := &Cloud{Cols: c.Cols}
	for _, pt := range c.Points {
		if box.Contains(pt.Position(), margin) {
			out.Points = append(out.Points, pt)
		}
	}
	return out
}

// CountInBox returns how many points fall inside the box expanded by
// margin on every face.
func (c *Cloud) CountInBox(box spatialmath.Box, margin float64) int {
	n := 0
	for _, pt := range c.Points {
		if box.Contains(pt.Position(), margin) {
			n++
		}
	}
	return n
}
