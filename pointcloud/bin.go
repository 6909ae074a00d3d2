package pointcloud

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
)

const floatSize = 4

// ReadBin reads a raw little-endian float32 point file, detecting whether
// it has five columns (x, y, z, intensity, ring) or four (no ring). Files
// whose float count divides by both are read as five column, matching the
// nuScenes layout.
func ReadBin(path string) (*Cloud, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read point file %q", path)
	}
	if len(data)%floatSize != 0 {
		return nil, errors.Errorf("point file %q has %d bytes, not a whole number of float32s", path, len(data))
	}
	numFloats := len(data) / floatSize
	var cols int
	switch {
	case numFloats%5 == 0:
		cols = 5
	case numFloats%4 == 0:
		cols = 4
	default:
		return nil, errors.Errorf("point file %q has %d floats, not divisible by 4 or 5", path, numFloats)
	}
	return decodeBin(data, cols), nil
}

// ReadBinDims is ReadBin with the column count fixed by the caller.
func ReadBinDims(path string, cols int) (*Cloud, error) {
	if cols != 4 && cols != 5 {
		return nil, errors.Errorf("point files must have 4 or 5 columns, got %d", cols)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read point file %q", path)
	}
	numFloats := len(data) / floatSize
	if len(data)%floatSize != 0 || numFloats%cols != 0 {
		return nil, errors.Errorf("point file %q has %d bytes, not a whole number of %d column points", path, len(data), cols)
	}
	return decodeBin(data, cols), nil
}

func decodeBin(data []byte, cols int) *Cloud {
	numPoints := len(data) / floatSize / cols
	cloud := &Cloud{Points: make([]Point, numPoints), Cols: cols}
	for i := 0; i < numPoints; i++ {
		off := i * cols * floatSize
		at := func(j int) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(data[off+j*floatSize:]))
		}
		pt := Point{X: at(0), Y: at(1), Z: at(2), Intensity: at(3)}
		if cols == 5 {
			pt.Ring = at(4)
		}
		cloud.Points[i] = pt
	}
	return cloud
}

// WriteBin writes the cloud back out in its original column layout.
func WriteBin(cloud *Cloud, path string) error {
	data := make([]byte, 0, len(cloud.Points)*cloud.Cols*floatSize)
	buf := make([]byte, floatSize)
	put := func(v float32) {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		data = append(data, buf...)
	}
	for _, pt := range cloud.Points {
		put(pt.X)
		put(pt.Y)
		put(pt.Z)
		put(pt.Intensity)
		if cloud.Cols == 5 {
			put(pt.Ring)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write point file %q", path)
	}
	return nil
}
