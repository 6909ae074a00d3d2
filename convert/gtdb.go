package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/veloscene/nusclike/pointcloud"
)

// gtDatabaseDirName is the subdirectory of GTDBDir holding the per-entry
// crop files.
const gtDatabaseDirName = "gt_database"

// dbInfosFileName is the JSON index written next to the crop directory.
const dbInfosFileName = "dbinfos_train.json"

// GTDatabaseEntry is one cropped object: a pointer to its crop file plus
// enough provenance to paste it back into other scenes during
// augmentation.
type GTDatabaseEntry struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	Record        string `json:"record"`
	SampleToken   string `json:"sample_token"`
	GTIdx         int    `json:"gt_idx"`
	Box3DLidar    Box7   `json:"box3d_lidar"`
	NumPointsInGT int    `json:"num_points_in_gt"`

	// crop is carried in memory until the merge stage writes it out.
	crop *pointcloud.Cloud
}

// buildGTEntries crops each retained object's points out of the frame's
// cloud. Objects enclosing zero points are dropped rather than stored as
// empty placeholders. The function has no cross-sample state, so entry
// order depends only on object order.
func buildGTEntries(cloud *pointcloud.Cloud, objects []Object, margin float64, recordName, sampleToken string) ([]GTDatabaseEntry, int, error) {
	var entries []GTDatabaseEntry
	emptyCrops := 0
	for i, obj := range objects {
		geom, err := obj.Geometry()
		if err != nil {
			return nil, 0, errors.Wrapf(err, "object %d of sample %q", i, sampleToken)
		}
		crop := cloud.CropBox(geom, margin)
		if crop.Size() == 0 {
			emptyCrops++
			continue
		}
		entries = append(entries, GTDatabaseEntry{
			Name:          obj.Name,
			Path:          filepath.ToSlash(filepath.Join(gtDatabaseDirName, fmt.Sprintf("%s_%s_%d.bin", sampleToken, obj.Name, i))),
			Record:        recordName,
			SampleToken:   sampleToken,
			GTIdx:         i,
			Box3DLidar:    obj.Box,
			NumPointsInGT: crop.Size(),
			crop:          crop,
		})
	}
	return entries, emptyCrops, nil
}

// WriteGTDatabase writes each entry's crop file and the class-keyed JSON
// index. Entries must already be in their final deterministic order; JSON
// map keys serialize sorted, so the index bytes are reproducible across
// runs.
func WriteGTDatabase(entries []GTDatabaseEntry, dir string) (err error) {
	cropDir := filepath.Join(dir, gtDatabaseDirName)
	if err := os.MkdirAll(cropDir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create ground-truth database directory %q", cropDir)
	}

	byClass := make(map[string][]GTDatabaseEntry)
	for _, entry := range entries {
		if err := pointcloud.WriteBin(entry.crop, filepath.Join(dir, filepath.FromSlash(entry.Path))); err != nil {
			return err
		}
		byClass[entry.Name] = append(byClass[entry.Name], entry)
	}

	indexPath := filepath.Join(dir, dbInfosFileName)
	f, err := os.Create(indexPath)
	if err != nil {
		return errors.Wrapf(err, "cannot create database index %q", indexPath)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(byClass); err != nil {
		return errors.Wrapf(err, "cannot encode database index %q", indexPath)
	}
	return nil
}
