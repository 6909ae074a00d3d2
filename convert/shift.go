package convert

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/veloscene/nusclike/nuscenes"
	"github.com/veloscene/nusclike/pointcloud"
)

// ShiftConfig controls a vertical shift of an exported dataset: lidar
// point z values and annotation translations move together by DeltaZ.
type ShiftConfig struct {
	CarlaRoot string
	Version   string
	DeltaZ    float64
	// PointDim fixes the point file column count; zero autodetects.
	PointDim int
	// Force reapplies the shift even when a record's marker file says it
	// was already shifted.
	Force bool
	// DryRun reports what would change without writing anything.
	DryRun bool
}

// ShiftSummary reports what a shift run touched.
type ShiftSummary struct {
	RecordsShifted     int
	RecordsSkipped     int
	BinsShifted        int
	PointsShifted      int
	AnnotationsShifted int
}

// ShiftZ applies the configured vertical shift to every record under the
// root. A marker file per record guards against accidental double
// application.
func ShiftZ(cfg ShiftConfig, logger golog.Logger) (*ShiftSummary, error) {
	if cfg.Version == "" {
		cfg.Version = nuscenes.DefaultVersion
	}
	recordDirs, err := nuscenes.FindRecordDirs(cfg.CarlaRoot)
	if err != nil {
		return nil, err
	}

	summary := &ShiftSummary{}
	for _, rec := range recordDirs {
		shifted, err := shiftRecord(rec, cfg, summary, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "record %q", filepath.Base(rec))
		}
		if shifted {
			summary.RecordsShifted++
		} else {
			summary.RecordsSkipped++
		}
	}

	logger.Infow("shift finished",
		"records", summary.RecordsShifted,
		"records_skipped", summary.RecordsSkipped,
		"bins", summary.BinsShifted,
		"points", summary.PointsShifted,
		"annotations", summary.AnnotationsShifted,
		"dry_run", cfg.DryRun,
	)
	return summary, nil
}

func markerPath(recordDir string, deltaZ float64) string {
	return filepath.Join(recordDir, fmt.Sprintf(".zshifted_%+.3f", deltaZ))
}

func shiftRecord(recordDir string, cfg ShiftConfig, summary *ShiftSummary, logger golog.Logger) (bool, error) {
	marker := markerPath(recordDir, cfg.DeltaZ)
	if _, err := os.Stat(marker); err == nil && !cfg.Force {
		logger.Infow("record already shifted", "record", filepath.Base(recordDir), "marker", marker)
		return false, nil
	}

	tableDir := filepath.Join(recordDir, cfg.Version)
	if _, err := os.Stat(tableDir); err != nil {
		logger.Warnw("record has no table directory", "record", filepath.Base(recordDir))
		return false, nil
	}

	var sampleData []nuscenes.SampleData
	sdPath := filepath.Join(tableDir, "sample_data.json")
	if err := readJSON(sdPath, &sampleData); err != nil {
		return false, err
	}

	for _, sd := range sampleData {
		fn := nuscenes.NormalizeFilename(sd.Filename)
		if !isLidarFile(fn) {
			continue
		}
		binPath, err := locateBin(recordDir, cfg.CarlaRoot, fn)
		if err != nil {
			return false, err
		}
		summary.BinsShifted++
		if cfg.DryRun {
			continue
		}
		var cloud *pointcloud.Cloud
		if cfg.PointDim != 0 {
			cloud, err = pointcloud.ReadBinDims(binPath, cfg.PointDim)
		} else {
			cloud, err = pointcloud.ReadBin(binPath)
		}
		if err != nil {
			return false, err
		}
		cloud.ShiftZ(cfg.DeltaZ)
		if err := pointcloud.WriteBin(cloud, binPath); err != nil {
			return false, err
		}
		summary.PointsShifted += cloud.Size()
	}

	// annotations are rewritten as raw documents so fields this tool does
	// not model survive the round trip
	var anns []map[string]interface{}
	annPath := filepath.Join(tableDir, "sample_annotation.json")
	if err := readJSON(annPath, &anns); err != nil {
		return false, err
	}
	shiftedAnns := 0
	for _, ann := range anns {
		tr, ok := ann["translation"].([]interface{})
		if !ok || len(tr) != 3 {
			continue
		}
		z, ok := tr[2].(float64)
		if !ok {
			continue
		}
		if !cfg.DryRun {
			tr[2] = z + cfg.DeltaZ
		}
		shiftedAnns++
	}
	summary.AnnotationsShifted += shiftedAnns

	if cfg.DryRun {
		return true, nil
	}
	if err := writeJSON(annPath, anns); err != nil {
		return false, err
	}
	if err := os.WriteFile(marker, []byte("shifted\n"), 0o644); err != nil {
		return false, errors.Wrapf(err, "cannot write marker %q", marker)
	}
	return true, nil
}

func isLidarFile(fn string) bool {
	lower := strings.ToLower(fn)
	return strings.Contains(lower, "lidar") && strings.HasSuffix(lower, ".bin")
}

// locateBin resolves a sample_data filename, which different exporters
// root at either the record or the whole dataset; a basename search is the
// last resort.
func locateBin(recordDir, carlaRoot, fn string) (string, error) {
	candidates := []string{
		filepath.Join(recordDir, filepath.FromSlash(fn)),
		filepath.Join(carlaRoot, filepath.FromSlash(fn)),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	base := filepath.Base(filepath.FromSlash(fn))
	var hits []string
	err := filepath.WalkDir(recordDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == base {
			hits = append(hits, path)
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "searching for %q", base)
	}
	if len(hits) != 1 {
		return "", errors.Errorf("cannot locate point file for %q: tried %v, basename search found %d hits", fn, candidates, len(hits))
	}
	return hits[0], nil
}

func readJSON(path string, target interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open %q", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(target); err != nil {
		return errors.Wrapf(err, "cannot decode %q", path)
	}
	return nil
}

func writeJSON(path string, v interface{}) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "cannot encode %q", path)
	}
	return nil
}
