package convert

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/veloscene/nusclike/nuscenes"
	"github.com/veloscene/nusclike/pointcloud"
	"github.com/veloscene/nusclike/spatialmath"
)

func writeTable(t *testing.T, dir, name string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, name), data, 0o644), test.ShouldBeNil)
}

func intPtr(v int) *int { return &v }

// writeFixtureRecord writes one record with a single sample: a car sitting
// exactly at the lidar origin, a pedestrian at (2, 1, -1), and a cloud
// with two car points, one pedestrian point, and one stray far point.
// When breakEgoToken is set the sample_data references a missing ego pose.
func writeFixtureRecord(t *testing.T, root, name string, breakEgoToken bool) {
	t.Helper()
	recDir := filepath.Join(root, name)
	tableDir := filepath.Join(recDir, nuscenes.DefaultVersion)
	test.That(t, os.MkdirAll(tableDir, 0o755), test.ShouldBeNil)
	test.That(t, os.MkdirAll(filepath.Join(recDir, "samples", "LIDAR_TOP"), 0o755), test.ShouldBeNil)

	egoToken := "ep_" + name
	if breakEgoToken {
		egoToken = "missing"
	}
	writeTable(t, tableDir, "sample.json", []nuscenes.Sample{
		{Token: "s_" + name, Timestamp: 100, Data: map[string]string{nuscenes.LidarChannel: "sd_" + name}},
	})
	writeTable(t, tableDir, "sample_data.json", []nuscenes.SampleData{
		{Token: "sd_" + name, SampleToken: "s_" + name, EgoPoseToken: egoToken,
			CalibratedSensorToken: "cs_" + name, Filename: "samples/LIDAR_TOP/frame.bin"},
	})
	writeTable(t, tableDir, "ego_pose.json", []nuscenes.EgoPose{
		{Token: "ep_" + name, Translation: []float64{10, 5, 1}, Rotation: []float64{1, 0, 0, 0}},
	})
	writeTable(t, tableDir, "calibrated_sensor.json", []nuscenes.CalibratedSensor{
		{Token: "cs_" + name, Translation: []float64{0, 0, 2}, Rotation: []float64{1, 0, 0, 0}},
	})
	writeTable(t, tableDir, "sample_annotation.json", []nuscenes.Annotation{
		{Token: "a1_" + name, SampleToken: "s_" + name, CategoryName: "vehicle.car",
			Translation: []float64{10, 5, 3}, Size: []float64{2, 4.5, 1.8}, Rotation: []float64{1, 0, 0, 0}},
		{Token: "a2_" + name, SampleToken: "s_" + name, CategoryName: "human.pedestrian.adult",
			Translation: []float64{12, 6, 2}, Size: []float64{0.6, 0.6, 1.7}, Rotation: []float64{1, 0, 0, 0},
			NumLidarPts: intPtr(7)},
	})

	cloud := &pointcloud.Cloud{
		Points: []pointcloud.Point{
			{X: 0, Y: 0, Z: 0, Intensity: 0.5, Ring: 1},
			{X: 1, Y: 0, Z: 0, Intensity: 0.5, Ring: 2},
			{X: 2, Y: 1, Z: -1, Intensity: 0.2, Ring: 3},
			{X: 50, Y: 50, Z: 5, Intensity: 0.1, Ring: 4},
		},
		Cols: 5,
	}
	test.That(t, pointcloud.WriteBin(cloud, filepath.Join(recDir, "samples", "LIDAR_TOP", "frame.bin")), test.ShouldBeNil)
}

func loadFixtureSample(t *testing.T, root, name string) (*nuscenes.Record, *nuscenes.Sample, spatialmath.Pose) {
	t.Helper()
	rec, err := nuscenes.LoadRecord(filepath.Join(root, name), nuscenes.DefaultVersion)
	test.That(t, err, test.ShouldBeNil)
	sample := &rec.Samples[0]
	sd, err := rec.LidarData(sample)
	test.That(t, err, test.ShouldBeNil)
	ep, err := rec.EgoPose(sd)
	test.That(t, err, test.ShouldBeNil)
	cs, err := rec.CalibratedSensor(sd)
	test.That(t, err, test.ShouldBeNil)
	toLidar, err := globalToLidar(ep, cs)
	test.That(t, err, test.ShouldBeNil)
	return rec, sample, toLidar
}

func TestTransformAnnotationWorkedExample(t *testing.T) {
	root := t.TempDir()
	writeFixtureRecord(t, root, "record_001", false)
	rec, sample, toLidar := loadFixtureSample(t, root, "record_001")

	anns := rec.Annotations(sample)
	obj, err := transformAnnotation(anns[0], toLidar)
	test.That(t, err, test.ShouldBeNil)

	// box at global (10,5,3) under ego (10,5,1) + sensor (0,0,2) sits at
	// the lidar origin
	test.That(t, obj.Box[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, obj.Box[1], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, obj.Box[2], test.ShouldAlmostEqual, 0, 1e-9)

	// size (w,l,h) = (2, 4.5, 1.8) becomes (dx,dy,dz) = (4.5, 2, 1.8)
	test.That(t, obj.Box[3], test.ShouldEqual, 4.5)
	test.That(t, obj.Box[4], test.ShouldEqual, 2.0)
	test.That(t, obj.Box[5], test.ShouldEqual, 1.8)
	test.That(t, obj.Box[6], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, obj.NumLidarPts, test.ShouldEqual, -1)

	// the pedestrian annotation carries its own point count
	obj, err = transformAnnotation(anns[1], toLidar)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obj.Box[0], test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, obj.Box[1], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, obj.Box[2], test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, obj.NumLidarPts, test.ShouldEqual, 7)
}

func TestTransformAnnotationYawUnderRotatedEgo(t *testing.T) {
	theta := math.Pi / 3
	ep := &nuscenes.EgoPose{
		Token:       "ep",
		Translation: []float64{0, 0, 0},
		Rotation:    []float64{math.Cos(theta / 2), 0, 0, math.Sin(theta / 2)},
	}
	cs := &nuscenes.CalibratedSensor{
		Token:       "cs",
		Translation: []float64{0, 0, 2},
		Rotation:    []float64{1, 0, 0, 0},
	}
	toLidar, err := globalToLidar(ep, cs)
	test.That(t, err, test.ShouldBeNil)

	// a box with zero global yaw seen from an ego yawed by theta has
	// heading -theta in the lidar frame
	ann := &nuscenes.Annotation{
		Token: "a", CategoryName: "vehicle.car",
		Translation: []float64{5, 0, 0}, Size: []float64{2, 4, 1.5}, Rotation: []float64{1, 0, 0, 0},
	}
	obj, err := transformAnnotation(ann, toLidar)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obj.Box[6], test.ShouldAlmostEqual, -theta, 1e-9)
}

func TestTransformAnnotationRejectsBadRotation(t *testing.T) {
	ann := &nuscenes.Annotation{
		Token: "a", CategoryName: "vehicle.car",
		Translation: []float64{0, 0, 0}, Size: []float64{1, 1, 1}, Rotation: []float64{2, 0, 0, 0},
	}
	_, err := transformAnnotation(ann, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	var ire *spatialmath.InvalidRotationError
	test.That(t, errors.As(err, &ire), test.ShouldBeTrue)
}

func TestAssembleInfoInvariants(t *testing.T) {
	objects := []Object{
		{Box: Box7{0, 0, 0, 4.5, 2, 1.8, 0}, Name: "vehicle.car", NumLidarPts: 2},
		{Box: Box7{2, 1, -1, 0.6, 0.6, 1.7, 0}, Name: "human.pedestrian.adult", NumLidarPts: 7},
	}
	info := assembleInfo("tok", "record_001/samples/LIDAR_TOP/frame.bin", objects)
	test.That(t, len(info.GTBoxes), test.ShouldEqual, len(info.GTNames))
	test.That(t, len(info.GTNames), test.ShouldEqual, len(info.NumLidarPts))
	test.That(t, info.Sweeps, test.ShouldNotBeNil)
	test.That(t, len(info.Sweeps), test.ShouldEqual, 0)

	// sweeps must serialize as an explicit empty list, not null
	data, err := json.Marshal(info)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"sweeps":[]`)
}

func TestBuildGTEntries(t *testing.T) {
	cloud := &pointcloud.Cloud{
		Points: []pointcloud.Point{
			{X: 0, Y: 0, Z: 0, Intensity: 1},
			{X: 1, Y: 0, Z: 0, Intensity: 1},
			{X: 50, Y: 50, Z: 5, Intensity: 1},
		},
		Cols: 5,
	}
	objects := []Object{
		{Box: Box7{0, 0, 0, 4.5, 2, 1.8, 0}, Name: "vehicle.car", NumLidarPts: 2},
		// nothing anywhere near this one
		{Box: Box7{-20, -20, 0, 1, 1, 1, 0}, Name: "vehicle.car", NumLidarPts: 0},
	}
	entries, emptyCrops, err := buildGTEntries(cloud, objects, 0, "record_001", "tok")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, emptyCrops, test.ShouldEqual, 1)
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].NumPointsInGT, test.ShouldEqual, 2)
	test.That(t, entries[0].GTIdx, test.ShouldEqual, 0)
	test.That(t, entries[0].Path, test.ShouldEqual, "gt_database/tok_vehicle.car_0.bin")

	// the entry's crop is a private copy
	entries[0].crop.Points[0].X = 99
	test.That(t, cloud.Points[0].X, test.ShouldEqual, float32(0))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg.DataRoot = "/data"
	cfg.OutPath = "/out/infos.json"
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.Margin = -1
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg.Margin = 0

	cfg.PointDims = 3
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg.PointDims = 5

	cfg.PointCloudRange = [6]float64{0, 0, 0, -1, 1, 1}
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg.PointCloudRange = [6]float64{-50, -50, -5, 50, 50, 3}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"classes": ["vehicle.car"],
		"margin": 0.25,
		"point_cloud_range": [-50, -50, -5, 50, 50, 3],
		"voxel_size": [0.1, 0.1, 0.2]
	}`), 0o644), test.ShouldBeNil)

	cfg := DefaultConfig()
	test.That(t, ReadConfig(path, cfg), test.ShouldBeNil)
	test.That(t, cfg.Classes, test.ShouldResemble, []string{"vehicle.car"})
	test.That(t, cfg.Margin, test.ShouldEqual, 0.25)
	test.That(t, cfg.Version, test.ShouldEqual, nuscenes.DefaultVersion)
	test.That(t, cfg.VoxelSize, test.ShouldResemble, [3]float64{0.1, 0.1, 0.2})

	test.That(t, ReadConfig(filepath.Join(dir, "nope.json"), cfg), test.ShouldNotBeNil)
}
