package nuscenes

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Record is one capture session's loaded metadata: the raw tables plus
// token lookup maps. A Record is immutable once loaded and safe to share
// across goroutines.
type Record struct {
	Name    string
	Dir     string
	Samples []Sample

	sampleDataByToken map[string]*SampleData
	egoPoseByToken    map[string]*EgoPose
	calibByToken      map[string]*CalibratedSensor
	annsBySample      map[string][]*Annotation
}

// LoadRecord reads the JSON tables under dir/version and builds the token
// indexes. Sample order follows table file order; annotation order within a
// sample follows annotation table order.
func LoadRecord(dir, version string) (*Record, error) {
	tableDir := filepath.Join(dir, version)
	if _, err := os.Stat(tableDir); err != nil {
		return nil, errors.Wrapf(err, "record %q has no table directory", dir)
	}

	rec := &Record{
		Name: filepath.Base(dir),
		Dir:  dir,
	}

	var sampleData []SampleData
	var egoPoses []EgoPose
	var calibs []CalibratedSensor
	var anns []Annotation
	if err := loadTable(tableDir, "sample.json", &rec.Samples); err != nil {
		return nil, err
	}
	if err := loadTable(tableDir, "sample_data.json", &sampleData); err != nil {
		return nil, err
	}
	if err := loadTable(tableDir, "ego_pose.json", &egoPoses); err != nil {
		return nil, err
	}
	if err := loadTable(tableDir, "calibrated_sensor.json", &calibs); err != nil {
		return nil, err
	}
	if err := loadTable(tableDir, "sample_annotation.json", &anns); err != nil {
		return nil, err
	}

	rec.sampleDataByToken = make(map[string]*SampleData, len(sampleData))
	for i := range sampleData {
		sampleData[i].Filename = NormalizeFilename(sampleData[i].Filename)
		rec.sampleDataByToken[sampleData[i].Token] = &sampleData[i]
	}
	rec.egoPoseByToken = make(map[string]*EgoPose, len(egoPoses))
	for i := range egoPoses {
		rec.egoPoseByToken[egoPoses[i].Token] = &egoPoses[i]
	}
	rec.calibByToken = make(map[string]*CalibratedSensor, len(calibs))
	for i := range calibs {
		rec.calibByToken[calibs[i].Token] = &calibs[i]
	}
	rec.annsBySample = make(map[string][]*Annotation, len(rec.Samples))
	for i := range anns {
		rec.annsBySample[anns[i].SampleToken] = append(rec.annsBySample[anns[i].SampleToken], &anns[i])
	}

	return rec, nil
}

// LidarData resolves a sample's LIDAR_TOP sample_data entry.
func (r *Record) LidarData(s *Sample) (*SampleData, error) {
	token, ok := s.Data[LidarChannel]
	if !ok {
		return nil, &MissingTokenError{Table: "sample.data:" + LidarChannel, Token: s.Token}
	}
	sd, ok := r.sampleDataByToken[token]
	if !ok {
		return nil, &MissingTokenError{Table: "sample_data", Token: token}
	}
	return sd, nil
}

// EgoPose resolves a sample_data entry's ego pose.
func (r *Record) EgoPose(sd *SampleData) (*EgoPose, error) {
	ep, ok := r.egoPoseByToken[sd.EgoPoseToken]
	if !ok {
		return nil, &MissingTokenError{Table: "ego_pose", Token: sd.EgoPoseToken}
	}
	return ep, nil
}

// CalibratedSensor resolves a sample_data entry's sensor extrinsic.
func (r *Record) CalibratedSensor(sd *SampleData) (*CalibratedSensor, error) {
	cs, ok := r.calibByToken[sd.CalibratedSensorToken]
	if !ok {
		return nil, &MissingTokenError{Table: "calibrated_sensor", Token: sd.CalibratedSensorToken}
	}
	return cs, nil
}

// Annotations returns a sample's annotations in table order. The returned
// slice is shared and must not be mutated.
func (r *Record) Annotations(s *Sample) []*Annotation {
	return r.annsBySample[s.Token]
}

// FindRecordDirs returns the record_* directories under root in sorted
// order, so downstream output ordering is stable across runs.
func FindRecordDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read data root %q", root)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "record_") {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	if len(dirs) == 0 {
		return nil, errors.Errorf("no record_* directories found under %q", root)
	}
	return dirs, nil
}
