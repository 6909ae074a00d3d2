// Package main contains a command to vertically shift an exported dataset:
// lidar point z values and annotation translations move together so boxes
// stay aligned with the points after a sensor height correction.
package main

import (
	"context"
	"strconv"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/veloscene/nusclike/convert"
)

var logger = golog.NewDevelopmentLogger("nusclike_shiftz")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	CarlaRoot string `flag:"0,usage=path to the directory holding record_* folders"`
	DeltaZ    string `flag:"delta_z,default=0.4,usage=vertical shift in meters"`
	PointDim  int    `flag:"point_dim,default=5,usage=point file columns, 4 or 5 (0 autodetects)"`
	Version   string `flag:"version,usage=table directory name inside each record"`
	Force     bool   `flag:"force,usage=shift again even if a record's marker says it was already shifted"`
	DryRun    bool   `flag:"dry_run,usage=report what would change without writing"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.CarlaRoot == "" {
		return errors.New("need to specify a data root")
	}
	deltaZ, err := strconv.ParseFloat(argsParsed.DeltaZ, 64)
	if err != nil {
		return errors.Wrap(err, "invalid delta_z")
	}

	_, err = convert.ShiftZ(convert.ShiftConfig{
		CarlaRoot: argsParsed.CarlaRoot,
		Version:   argsParsed.Version,
		DeltaZ:    deltaZ,
		PointDim:  argsParsed.PointDim,
		Force:     argsParsed.Force,
		DryRun:    argsParsed.DryRun,
	}, logger)
	return err
}
