// Package main contains a command to convert CARLA-exported, nuScenes-shaped
// records into a training info collection and ground-truth crop database.
package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/veloscene/nusclike/convert"
)

var logger = golog.NewDevelopmentLogger("nusclike_convert")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	DataRoot   string `flag:"0,usage=path to the directory holding record_* folders"`
	OutPath    string `flag:"1,usage=path of the output info JSON"`
	GTDBDir    string `flag:"gtdb,usage=ground-truth database output directory (empty disables)"`
	PathPrefix string `flag:"prefix,usage=prefix for lidar paths relative to the global data root"`
	Version    string `flag:"version,usage=table directory name inside each record"`
	Classes    string `flag:"classes,usage=comma-separated category keep-set (empty keeps all)"`
	Strict     bool   `flag:"strict,usage=abort the whole run on any per-sample failure"`
	Margin     string `flag:"margin,usage=crop margin in meters"`
	Workers    int    `flag:"workers,usage=worker pool size (0 uses all CPUs)"`
	Range      string `flag:"range,usage=point cloud range as xmin,ymin,zmin,xmax,ymax,zmax"`
	Voxel      string `flag:"voxel,usage=voxel size as vx,vy,vz"`
	PointDims  int    `flag:"point_dims,usage=point file columns, 4 or 5 (0 autodetects)"`
	ConfigFile string `flag:"config,usage=optional JSON config file"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := convert.DefaultConfig()
	if argsParsed.ConfigFile != "" {
		if err := convert.ReadConfig(argsParsed.ConfigFile, cfg); err != nil {
			return err
		}
	}
	if err := applyArgs(cfg, &argsParsed); err != nil {
		return err
	}

	converter, err := convert.NewConverter(cfg, logger)
	if err != nil {
		return err
	}
	summary, err := converter.Run(ctx)
	if err != nil {
		return err
	}
	for _, skipped := range summary.SamplesSkipped {
		logger.Warnw("sample skipped", "record", skipped.Record, "token", skipped.Token, "reason", skipped.Reason)
	}
	return nil
}

// applyArgs overlays command line values onto the config; flags left unset
// keep the config file (or default) values.
func applyArgs(cfg *convert.Config, args *Arguments) error {
	if args.DataRoot != "" {
		cfg.DataRoot = args.DataRoot
	}
	if args.OutPath != "" {
		cfg.OutPath = args.OutPath
	}
	if args.GTDBDir != "" {
		cfg.GTDBDir = args.GTDBDir
	}
	if args.PathPrefix != "" {
		cfg.PathPrefix = args.PathPrefix
	}
	if args.Version != "" {
		cfg.Version = args.Version
	}
	if args.Classes != "" {
		cfg.Classes = strings.Split(args.Classes, ",")
	}
	if args.Strict {
		cfg.Strict = true
	}
	if args.Workers != 0 {
		cfg.Workers = args.Workers
	}
	if args.PointDims != 0 {
		cfg.PointDims = args.PointDims
	}
	if args.Margin != "" {
		margin, err := strconv.ParseFloat(args.Margin, 64)
		if err != nil {
			return errors.Wrap(err, "invalid margin")
		}
		cfg.Margin = margin
	}
	if args.Range != "" {
		vals, err := parseFloats(args.Range, 6)
		if err != nil {
			return errors.Wrap(err, "invalid range")
		}
		copy(cfg.PointCloudRange[:], vals)
	}
	if args.Voxel != "" {
		vals, err := parseFloats(args.Voxel, 3)
		if err != nil {
			return errors.Wrap(err, "invalid voxel size")
		}
		copy(cfg.VoxelSize[:], vals)
	}
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, errors.Errorf("expected %d comma-separated values but got %d", n, len(parts))
	}
	vals := make([]float64, n)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %d", i)
		}
		vals[i] = v
	}
	return vals, nil
}
