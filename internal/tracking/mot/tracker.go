package mot

import (
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/association"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
	"github.com/banshee-data/scenetrack/internal/tracking/trackmgr"
)

var logf = monitoring.Component("mot")

// Tracker is the surface shared by both tracking modes.
type Tracker interface {
	Track(objects []object.TrackedObject, ts time.Time) error
	Timestamp() time.Time
	GetTracks() []object.TrackedObject
	GetReliableTracks() []object.TrackedObject
	UpdateTrackerConfig(fps float64) error
}

// DebugCollector receives per-cycle algorithm internals. It decouples the
// tracker from the debug package; *debug.Collector satisfies it.
type DebugCollector interface {
	IsEnabled() bool
	RecordAssociation(trackID int64, camera, measurement int, distance float64, accepted bool)
	RecordGatingRegion(trackID int64, x, y, sxx, sxy, syy, threshold float64)
	RecordInnovation(trackID int64, predX, predY, measX, measY float64)
	RecordPrediction(trackID int64, x, y, vx, vy float64)
	RecordModelProbabilities(trackID int64, probs []float64)
	RecordLifecycle(created, deleted []int64)
}

var (
	_ Tracker = (*MultipleObjectTracker)(nil)
	_ Tracker = (*TrackTracker)(nil)
)

// MultipleObjectTracker associates each batch with the live tracks before
// updating them. Calls must come from one goroutine at a time; the query
// accessors are safe to call concurrently.
type MultipleObjectTracker struct {
	mgr  *trackmgr.Manager
	opts Options

	// DebugCollector captures algorithm internals for visualisation (optional).
	DebugCollector DebugCollector
}

// NewMultipleObjectTracker returns a tracker with auto-assigned track ids.
func NewMultipleObjectTracker(cfg trackmgr.Config, opts Options) (*MultipleObjectTracker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	mgr, err := trackmgr.NewManager(cfg, true)
	if err != nil {
		return nil, err
	}
	return &MultipleObjectTracker{mgr: mgr, opts: opts}, nil
}

// Manager exposes the underlying track manager.
func (t *MultipleObjectTracker) Manager() *trackmgr.Manager { return t.mgr }

// Options returns the default association options used by Track.
func (t *MultipleObjectTracker) Options() Options { return t.opts }

// Timestamp returns the time of the last processed batch.
func (t *MultipleObjectTracker) Timestamp() time.Time { return t.mgr.Timestamp() }

// GetTracks returns every active track.
func (t *MultipleObjectTracker) GetTracks() []object.TrackedObject { return t.mgr.GetTracks() }

// GetReliableTracks returns the reliable tracks.
func (t *MultipleObjectTracker) GetReliableTracks() []object.TrackedObject {
	return t.mgr.GetReliableTracks()
}

// UpdateTrackerConfig re-derives frame thresholds for the given frame rate.
func (t *MultipleObjectTracker) UpdateTrackerConfig(fps float64) error {
	return t.mgr.UpdateTrackerConfig(fps)
}

// Track runs one cycle over a single camera's detections with the default options.
func (t *MultipleObjectTracker) Track(objects []object.TrackedObject, ts time.Time) error {
	return t.TrackPerCameraWith([][]object.TrackedObject{objects}, ts, t.opts)
}

// TrackWith runs one cycle over a single camera's detections with opts.
func (t *MultipleObjectTracker) TrackWith(objects []object.TrackedObject, ts time.Time, opts Options) error {
	return t.TrackPerCameraWith([][]object.TrackedObject{objects}, ts, opts)
}

// TrackPerCamera runs one cycle over several cameras' simultaneous
// detections with the default options.
func (t *MultipleObjectTracker) TrackPerCamera(objectsPerCamera [][]object.TrackedObject, ts time.Time) error {
	return t.TrackPerCameraWith(objectsPerCamera, ts, t.opts)
}

// TrackPerCameraWith runs one cycle over several cameras' detections.
//
// Each camera's detections are matched against the same pool of live
// tracks, so one track can collect a detection from every camera; those are
// fused into one measurement. Unmatched detections from different cameras
// that lie within DuplicateDistance of each other seed a single new track.
// Malformed detections are dropped and counted. Errors are returned only for
// invalid options or a batch older than the previous one.
func (t *MultipleObjectTracker) TrackPerCameraWith(objectsPerCamera [][]object.TrackedObject, ts time.Time, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := t.mgr.PredictTo(ts); err != nil {
		return err
	}

	candidates := t.mgr.MatchCandidates()
	t.recordPredictions(candidates, opts)

	matched := make(map[int64][]object.TrackedObject)
	var births []birth
	for cam, objects := range objectsPerCamera {
		valid := t.validMeasurements(cam, objects)
		if len(valid) == 0 {
			continue
		}

		unmatched := make([]int, 0, len(valid))
		if len(candidates) == 0 {
			for j := range valid {
				unmatched = append(unmatched, j)
			}
		} else {
			res, err := association.Match(candidates, valid, opts.DistanceType, opts.DistanceThreshold)
			if err != nil {
				return fmt.Errorf("associate camera %d: %w", cam, err)
			}
			t.recordAssociations(cam, candidates, valid, res, opts)
			for _, a := range res.Assignments {
				id := candidates[a.Track].ID
				matched[id] = append(matched[id], valid[a.Measurement])
			}
			unmatched = res.UnassignedMeasurements
		}

		births = t.collectBirths(births, valid, unmatched, opts)
	}

	ids := make([]int64, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	byID := make(map[int64]object.TrackedObject, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	for _, id := range ids {
		meas := fuseMeasurements(matched[id])
		if err := t.mgr.SetMeasurement(id, meas); err != nil {
			logf("track %d: measurement rejected: %v", id, err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		if t.debugging() {
			pred := byID[id]
			t.DebugCollector.RecordInnovation(id, pred.X, pred.Y, meas.X, meas.Y)
		}
	}

	var created []int64
	for _, b := range births {
		seed := fuseMeasurements(b.members)
		id, err := t.mgr.CreateTrack(seed, ts)
		if err != nil {
			logf("dropped new track seed %s: %v", seed.String(), err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		created = append(created, id)
	}

	t.mgr.Correct()
	t.recordOutcome(created)
	return nil
}

// birth is a group of unmatched detections, at most one per camera, that
// will seed one new track.
type birth struct {
	members []object.TrackedObject
}

// collectBirths folds the confident unmatched detections of one camera into
// births, joining an earlier camera's group when close enough.
func (t *MultipleObjectTracker) collectBirths(births []birth, valid []object.TrackedObject, unmatched []int, opts Options) []birth {
	var fresh []object.TrackedObject
	for _, j := range unmatched {
		if confident(valid[j], opts.ProbabilityThreshold) {
			fresh = append(fresh, valid[j])
		}
	}
	if len(fresh) == 0 {
		return births
	}
	if len(births) == 0 || opts.DuplicateDistance == 0 {
		for _, m := range fresh {
			births = append(births, birth{members: []object.TrackedObject{m}})
		}
		return births
	}

	reps := make([]object.TrackedObject, len(births))
	for i := range births {
		reps[i] = births[i].members[0]
	}
	res, err := association.Match(reps, fresh, association.MultiClassEuclidean, opts.DuplicateDistance)
	if err != nil {
		// Inputs are non-empty and the gate positive; nothing else fails.
		logf("duplicate detection matching failed: %v", err)
		res = association.Result{}
		for j := range fresh {
			res.UnassignedMeasurements = append(res.UnassignedMeasurements, j)
		}
	}
	for _, a := range res.Assignments {
		births[a.Track].members = append(births[a.Track].members, fresh[a.Measurement])
	}
	for _, j := range res.UnassignedMeasurements {
		births = append(births, birth{members: []object.TrackedObject{fresh[j]}})
	}
	return births
}

// confident reports whether m's top class probability reaches threshold.
func confident(m object.TrackedObject, threshold float64) bool {
	p, _ := m.Classification.Max()
	return p >= threshold
}

// validMeasurements returns copies of the usable detections of one camera.
func (t *MultipleObjectTracker) validMeasurements(cam int, objects []object.TrackedObject) []object.TrackedObject {
	return filterMeasurements(cam, objects, t.mgr.ClassCount())
}

func filterMeasurements(cam int, objects []object.TrackedObject, classCount int) []object.TrackedObject {
	out := make([]object.TrackedObject, 0, len(objects))
	for i := range objects {
		m := &objects[i]
		if err := m.Validate(); err != nil {
			logf("camera %d: dropped measurement %d: %v", cam, i, err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		if classCount > 0 && len(m.Classification) != classCount {
			logf("camera %d: dropped measurement %d: %d classes, want %d", cam, i, len(m.Classification), classCount)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func (t *MultipleObjectTracker) debugging() bool {
	return t.DebugCollector != nil && t.DebugCollector.IsEnabled()
}

func (t *MultipleObjectTracker) recordPredictions(candidates []object.TrackedObject, opts Options) {
	if !t.debugging() {
		return
	}
	const n = object.MeasurementSize
	mahalanobis := opts.DistanceType == association.Mahalanobis || opts.DistanceType == association.MCEMahalanobis
	for i := range candidates {
		c := &candidates[i]
		t.DebugCollector.RecordPrediction(c.ID, c.X, c.Y, c.VX, c.VY)
		if mahalanobis && len(c.PredictedMeasurementCov) == n*n {
			s := c.PredictedMeasurementCov
			t.DebugCollector.RecordGatingRegion(c.ID, c.X, c.Y,
				s[object.MeasX*n+object.MeasX], s[object.MeasX*n+object.MeasY], s[object.MeasY*n+object.MeasY],
				opts.DistanceThreshold)
		}
	}
}

func (t *MultipleObjectTracker) recordAssociations(cam int, candidates, valid []object.TrackedObject, res association.Result, opts Options) {
	if !t.debugging() {
		return
	}
	accepted := make(map[[2]int]bool, len(res.Assignments))
	for _, a := range res.Assignments {
		accepted[[2]int{a.Track, a.Measurement}] = true
	}
	cost := association.CostMatrix(candidates, valid, opts.DistanceType)
	for i := range cost {
		for j, d := range cost[i] {
			t.DebugCollector.RecordAssociation(candidates[i].ID, cam, j, d, accepted[[2]int{i, j}])
		}
	}
}

func (t *MultipleObjectTracker) recordOutcome(created []int64) {
	if !t.debugging() {
		return
	}
	for _, tr := range t.mgr.MatchCandidates() {
		est, err := t.mgr.Estimator(tr.ID)
		if err != nil {
			continue
		}
		t.DebugCollector.RecordModelProbabilities(tr.ID, est.ModelProbability())
	}
	var deleted []int64
	for _, d := range t.mgr.DeletedTracks() {
		deleted = append(deleted, d.ID)
	}
	t.DebugCollector.RecordLifecycle(created, deleted)
}
