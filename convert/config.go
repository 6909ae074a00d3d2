// Package convert turns CARLA-exported, nuScenes-shaped records into the
// flat per-frame info collection and ground-truth crop database consumed
// by lidar detection training pipelines.
package convert

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/veloscene/nusclike/nuscenes"
)

// Config controls one conversion run.
type Config struct {
	// DataRoot holds the record_* directories.
	DataRoot string `json:"data_root"`
	// Version is the table directory name inside each record.
	Version string `json:"version"`
	// OutPath receives the serialized info collection.
	OutPath string `json:"out_path"`
	// GTDBDir receives the ground-truth database; empty disables it.
	GTDBDir string `json:"gtdb_dir"`
	// PathPrefix is prepended (with the record name) to each lidar_path so
	// paths resolve against a global data root rather than the record root.
	PathPrefix string `json:"path_prefix"`
	// Classes is the keep-set of category names; empty keeps everything.
	Classes []string `json:"classes"`
	// Strict promotes any per-sample failure to a whole-run failure.
	Strict bool `json:"strict"`
	// Margin expands each box on every face when cropping points.
	Margin float64 `json:"margin"`
	// Workers caps the worker pool; zero or less means GOMAXPROCS.
	Workers int `json:"workers"`
	// PointCloudRange is (xmin, ymin, zmin, xmax, ymax, zmax); boxes whose
	// centers fall outside are dropped. All zeros disables the filter.
	PointCloudRange [6]float64 `json:"point_cloud_range"`
	// VoxelSize is carried through to downstream consumers untouched.
	VoxelSize [3]float64 `json:"voxel_size"`
	// PointDims fixes the point file column count; zero autodetects.
	PointDims int `json:"point_dims"`
}

// DefaultConfig returns a config with the exporter's defaults filled in.
func DefaultConfig() *Config {
	return &Config{Version: nuscenes.DefaultVersion}
}

// ReadConfig merges a JSON config file over cfg in place.
func ReadConfig(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open config %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrapf(err, "cannot decode config %q", path)
	}
	return nil
}

// Validate checks the config before a run.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return errors.New("data_root is required")
	}
	if c.OutPath == "" {
		return errors.New("out_path is required")
	}
	if c.Version == "" {
		return errors.New("version must not be empty")
	}
	if c.Margin < 0 {
		return errors.Errorf("margin must be non-negative, got %f", c.Margin)
	}
	if c.PointDims != 0 && c.PointDims != 4 && c.PointDims != 5 {
		return errors.Errorf("point_dims must be 0, 4, or 5, got %d", c.PointDims)
	}
	if c.rangeEnabled() {
		for i := 0; i < 3; i++ {
			if c.PointCloudRange[i] >= c.PointCloudRange[i+3] {
				return errors.Errorf("point_cloud_range min %f must be below max %f",
					c.PointCloudRange[i], c.PointCloudRange[i+3])
			}
		}
	}
	return nil
}

func (c *Config) rangeEnabled() bool {
	return c.PointCloudRange != [6]float64{}
}

// keepSet returns the keep-set as a lookup map, or nil when all categories
// are kept.
func (c *Config) keepSet() map[string]bool {
	if len(c.Classes) == 0 {
		return nil
	}
	keep := make(map[string]bool, len(c.Classes))
	for _, name := range c.Classes {
		keep[name] = true
	}
	return keep
}
