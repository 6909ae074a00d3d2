package convert

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/veloscene/nusclike/nuscenes"
	"github.com/veloscene/nusclike/pointcloud"
)

// Converter runs one whole conversion: every sample of every record under
// the data root, in parallel, merged in a fixed record-then-sample order.
type Converter struct {
	cfg    *Config
	keep   map[string]bool
	logger golog.Logger
}

// NewConverter validates the config and returns a ready converter.
func NewConverter(cfg *Config, logger golog.Logger) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Converter{cfg: cfg, keep: cfg.keepSet(), logger: logger}, nil
}

// SkippedSample records why one sample (or whole record) was left out of a
// non-strict run.
type SkippedSample struct {
	Record string
	Token  string
	Reason string
}

// Summary is the user-visible outcome of a run.
type Summary struct {
	RecordsProcessed int
	SamplesProcessed int
	SamplesSkipped   []SkippedSample
	BoxesKept        int
	BoxesDropped     int
	EmptyCrops       int
}

type task struct {
	record *nuscenes.Record
	sample *nuscenes.Sample
}

type result struct {
	info       *InfoRecord
	entries    []GTDatabaseEntry
	keptBoxes  int
	dropped    int
	emptyCrops int
	err        error
}

// Run converts everything under the data root and writes the outputs.
// Per-sample failures are skipped and reported in the summary unless the
// config is strict, in which case the first failure aborts the run.
func (c *Converter) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	recordDirs, err := nuscenes.FindRecordDirs(c.cfg.DataRoot)
	if err != nil {
		return nil, err
	}

	var records []*nuscenes.Record
	for _, dir := range recordDirs {
		rec, err := nuscenes.LoadRecord(dir, c.cfg.Version)
		if err != nil {
			if c.cfg.Strict {
				return nil, err
			}
			c.logger.Warnw("skipping record", "record", filepath.Base(dir), "error", err)
			summary.SamplesSkipped = append(summary.SamplesSkipped, SkippedSample{
				Record: filepath.Base(dir),
				Reason: err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}

	var tasks []task
	for _, rec := range records {
		for i := range rec.Samples {
			tasks = append(tasks, task{record: rec, sample: &rec.Samples[i]})
		}
	}

	results := make([]result, len(tasks))
	if err := c.runTasks(ctx, tasks, results); err != nil {
		return nil, err
	}

	infos := make([]*InfoRecord, 0, len(tasks))
	var entries []GTDatabaseEntry
	for i, res := range results {
		if res.err != nil {
			if c.cfg.Strict {
				return nil, errors.Wrapf(res.err, "sample %q of record %q", tasks[i].sample.Token, tasks[i].record.Name)
			}
			c.logger.Warnw("skipping sample",
				"record", tasks[i].record.Name, "token", tasks[i].sample.Token, "error", res.err)
			summary.SamplesSkipped = append(summary.SamplesSkipped, SkippedSample{
				Record: tasks[i].record.Name,
				Token:  tasks[i].sample.Token,
				Reason: res.err.Error(),
			})
			continue
		}
		infos = append(infos, res.info)
		entries = append(entries, res.entries...)
		summary.SamplesProcessed++
		summary.BoxesKept += res.keptBoxes
		summary.BoxesDropped += res.dropped
		summary.EmptyCrops += res.emptyCrops
	}
	summary.RecordsProcessed = len(records)

	if err := WriteInfos(infos, c.cfg.OutPath); err != nil {
		return nil, err
	}
	if c.cfg.GTDBDir != "" {
		if err := WriteGTDatabase(entries, c.cfg.GTDBDir); err != nil {
			return nil, err
		}
	}

	c.logger.Infow("conversion finished",
		"records", summary.RecordsProcessed,
		"samples", summary.SamplesProcessed,
		"skipped", len(summary.SamplesSkipped),
		"boxes_kept", summary.BoxesKept,
		"boxes_dropped", summary.BoxesDropped,
		"empty_crops", summary.EmptyCrops,
	)
	return summary, nil
}

// runTasks fans the tasks out over a worker pool. Each worker writes only
// to its own result slots, so the later merge needs no locking and stays
// deterministic regardless of completion order.
func (c *Converter) runTasks(ctx context.Context, tasks []task, results []result) error {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	indexes := make(chan int)
	var wg sync.WaitGroup
	var taskFailed atomic.Bool
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				results[i] = c.processSample(tasks[i])
				if results[i].err != nil && c.cfg.Strict {
					// stop feeding; the merge reports the first failure
					taskFailed.Store(true)
					cancel()
				}
			}
		})
	}

feed:
	for i := range tasks {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	if err := ctx.Err(); err != nil && !taskFailed.Load() {
		return err
	}
	return nil
}

// processSample does all of one sample's work: token resolution, transform
// composition, annotation filtering, and point cropping. It shares nothing
// mutable with other samples.
func (c *Converter) processSample(t task) result {
	rec, sample := t.record, t.sample

	sd, err := rec.LidarData(sample)
	if err != nil {
		return result{err: err}
	}
	ep, err := rec.EgoPose(sd)
	if err != nil {
		return result{err: err}
	}
	cs, err := rec.CalibratedSensor(sd)
	if err != nil {
		return result{err: err}
	}

	toLidar, err := globalToLidar(ep, cs)
	if err != nil {
		return result{err: err}
	}

	binPath := filepath.Join(rec.Dir, filepath.FromSlash(sd.Filename))
	var cloud *pointcloud.Cloud
	if c.cfg.PointDims != 0 {
		cloud, err = pointcloud.ReadBinDims(binPath, c.cfg.PointDims)
	} else {
		cloud, err = pointcloud.ReadBin(binPath)
	}
	if err != nil {
		return result{err: err}
	}

	var res result
	var objects []Object
	for _, ann := range rec.Annotations(sample) {
		if c.keep != nil && !c.keep[ann.CategoryName] {
			res.dropped++
			continue
		}
		obj, err := transformAnnotation(ann, toLidar)
		if err != nil {
			return result{err: err}
		}
		if !c.cfg.inRange(obj.Box) {
			res.dropped++
			continue
		}
		if obj.NumLidarPts < 0 {
			geom, err := obj.Geometry()
			if err != nil {
				return result{err: err}
			}
			obj.NumLidarPts = cloud.CountInBox(geom, 0)
		}
		objects = append(objects, obj)
	}
	res.keptBoxes = len(objects)
	res.info = assembleInfo(sample.Token, c.cfg.lidarPath(rec.Name, sd.Filename), objects)

	if c.cfg.GTDBDir != "" {
		entries, emptyCrops, err := buildGTEntries(cloud, objects, c.cfg.Margin, rec.Name, sample.Token)
		if err != nil {
			return result{err: err}
		}
		res.entries = entries
		res.emptyCrops = emptyCrops
		if emptyCrops > 0 {
			c.logger.Debugw("dropped empty crops", "record", rec.Name, "token", sample.Token, "count", emptyCrops)
		}
	}
	return res
}
