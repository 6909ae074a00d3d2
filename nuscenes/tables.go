// Package nuscenes loads the nuScenes-style JSON metadata tables written by
// the CARLA exporter and cross-references them into immutable token indexes.
package nuscenes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// DefaultVersion is the table directory name the CARLA exporter writes
// inside each record.
const DefaultVersion = "v1.0-nusc_like"

// LidarChannel is the only sensor channel these records carry.
const LidarChannel = "LIDAR_TOP"

// Sample is one timestamp's capture. Data maps channel name to the
// sample_data token holding that channel's frame.
type Sample struct {
	Token      string            `json:"token"`
	Timestamp  int64             `json:"timestamp"`
	SceneToken string            `json:"scene_token"`
	Data       map[string]string `json:"data"`
}

// SampleData is one sensor frame: the raw file plus the pose and extrinsic
// tokens active at capture time.
type SampleData struct {
	Token                 string `json:"token"`
	SampleToken           string `json:"sample_token"`
	EgoPoseToken          string `json:"ego_pose_token"`
	CalibratedSensorToken string `json:"calibrated_sensor_token"`
	Filename              string `json:"filename"`
}

// EgoPose is the vehicle-to-global rigid transform at a timestamp.
// Rotation is scalar first (w, x, y, z).
type EgoPose struct {
	Token       string    `json:"token"`
	Translation []float64 `json:"translation"`
	Rotation    []float64 `json:"rotation"`
}

// CalibratedSensor is the fixed sensor-to-vehicle rigid transform.
// Rotation is scalar first (w, x, y, z).
type CalibratedSensor struct {
	Token       string    `json:"token"`
	Translation []float64 `json:"translation"`
	Rotation    []float64 `json:"rotation"`
}

// Annotation is one labeled object in the global frame. Size is
// (width, length, height) per the nuScenes convention.
type Annotation struct {
	Token        string    `json:"token"`
	SampleToken  string    `json:"sample_token"`
	CategoryName string    `json:"category_name"`
	Translation  []float64 `json:"translation"`
	Size         []float64 `json:"size"`
	Rotation     []float64 `json:"rotation"`
	NumLidarPts  *int      `json:"num_lidar_pts,omitempty"`
}

// MissingTokenError is returned when a record references a token absent
// from its target table.
type MissingTokenError struct {
	Table string
	Token string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("token %q not found in table %q", e.Token, e.Table)
}

// NormalizeFilename cleans up exporter filename fields, which may carry
// Windows backslashes and leading slashes.
func NormalizeFilename(s string) string {
	return strings.TrimLeft(strings.ReplaceAll(s, `\`, "/"), "/")
}

func loadTable(dir, name string, target interface{}) error {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open table %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(target); err != nil {
		return errors.Wrapf(err, "cannot decode table %q", path)
	}
	return nil
}
