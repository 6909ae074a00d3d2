package convert

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Sweep describes one aggregated prior frame. The CARLA records are single
// frame captures, so the sweep list is always empty, but the field is
// emitted explicitly because downstream loaders index into it.
type Sweep struct {
	LidarPath string  `json:"lidar_path"`
	TimeLag   float64 `json:"time_lag"`
}

// InfoRecord is the flattened, loader-consumable description of one frame.
// The three per-object arrays are always the same length.
type InfoRecord struct {
	LidarPath   string   `json:"lidar_path"`
	Token       string   `json:"token"`
	Sweeps      []Sweep  `json:"sweeps"`
	GTBoxes     []Box7   `json:"gt_boxes"`
	GTNames     []string `json:"gt_names"`
	NumLidarPts []int    `json:"num_lidar_pts"`
}

// assembleInfo builds the info record for one sample from its already
// filtered and transformed objects. Object order is preserved.
func assembleInfo(token, lidarPath string, objects []Object) *InfoRecord {
	info := &InfoRecord{
		LidarPath:   lidarPath,
		Token:       token,
		Sweeps:      []Sweep{},
		GTBoxes:     make([]Box7, 0, len(objects)),
		GTNames:     make([]string, 0, len(objects)),
		NumLidarPts: make([]int, 0, len(objects)),
	}
	for _, obj := range objects {
		info.GTBoxes = append(info.GTBoxes, obj.Box)
		info.GTNames = append(info.GTNames, obj.Name)
		info.NumLidarPts = append(info.NumLidarPts, obj.NumLidarPts)
	}
	return info
}

// lidarPath rewrites a record-relative filename so it resolves against the
// global data root: <path_prefix>/<record_name>/<filename>.
func (c *Config) lidarPath(recordName, filename string) string {
	if c.PathPrefix != "" {
		return path.Join(c.PathPrefix, recordName, filename)
	}
	return path.Join(recordName, filename)
}

// WriteInfos serializes the aggregated info collection as one JSON array.
func WriteInfos(infos []*InfoRecord, outPath string) (err error) {
	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "cannot create info file %q", outPath)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		return errors.Wrapf(err, "cannot encode info file %q", outPath)
	}
	return nil
}
