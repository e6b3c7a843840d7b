package trackmgr

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/imm"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var (
	// ErrTrackNotFound is returned for ids that are not live tracks.
	ErrTrackNotFound = errors.New("track not found")
	// ErrDuplicateID is returned when a caller-supplied id is already in use.
	ErrDuplicateID = errors.New("track id already in use")
	// ErrInvalidFrameRate is returned by UpdateTrackerConfig for fps <= 0.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
	// ErrClassCountMismatch is returned when a measurement's classification
	// vector does not match the class list the manager was seeded with.
	ErrClassCountMismatch = errors.New("classification length does not match existing tracks")
)

var logf = monitoring.Component("trackmgr")

// Manager owns all tracks of one tracker. Mutating calls are expected from a
// single goroutine per cycle; read accessors may be called concurrently.
type Manager struct {
	mu sync.RWMutex

	base   Config // as constructed; time thresholds are re-derived from it
	cfg    Config
	autoID bool
	nextID int64

	tracks  map[int64]*Track
	pending map[int64]object.TrackedObject
	deleted []object.TrackedObject

	timestamp  time.Time
	classCount int
}

// NewManager validates cfg and returns an empty manager. With autoID the
// manager assigns ids on creation; otherwise the seed's ID is used.
func NewManager(cfg Config, autoID bool) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid track manager config: %w", err)
	}
	cfg.MotionModels = append([]imm.MotionModel(nil), cfg.MotionModels...)
	return &Manager{
		base:    cfg,
		cfg:     cfg,
		autoID:  autoID,
		nextID:  1,
		tracks:  make(map[int64]*Track),
		pending: make(map[int64]object.TrackedObject),
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	cfg.MotionModels = append([]imm.MotionModel(nil), cfg.MotionModels...)
	return cfg
}

// AutoIDGeneration reports whether the manager assigns track ids.
func (m *Manager) AutoIDGeneration() bool { return m.autoID }

// Timestamp returns the time of the latest prediction or creation.
func (m *Manager) Timestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timestamp
}

// ClassCount returns the classification length fixed by the first track, or 0.
func (m *Manager) ClassCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classCount
}

// Len returns the number of live (non-deleted) tracks, suspended included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// UpdateTrackerConfig re-derives the frame thresholds from the configured
// time thresholds at the given frame rate.
func (m *Manager) UpdateTrackerConfig(fps float64) error {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, fps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = m.base.withFrameRate(fps)
	return nil
}

// CreateTrack starts a new track from seed at ts and returns its id.
func (m *Manager) CreateTrack(seed object.TrackedObject, ts time.Time) (int64, error) {
	if err := seed.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.classCount > 0 && len(seed.Classification) != m.classCount {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrClassCountMismatch, len(seed.Classification), m.classCount)
	}

	id := seed.ID
	if m.autoID {
		id = m.nextID
	} else if _, exists := m.tracks[id]; exists {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	seed.ID = id

	est := imm.NewEstimator()
	if err := est.Initialize(seed, ts, m.cfg.estimatorParams()); err != nil {
		return 0, fmt.Errorf("initialize track %d: %w", id, err)
	}

	m.tracks[id] = &Track{
		id:           id,
		status:       StatusNew,
		estimator:    est,
		created:      ts,
		lastMeasured: ts,
		streakStart:  ts,
	}
	if id >= m.nextID {
		m.nextID = id + 1
	}
	if ts.After(m.timestamp) {
		m.timestamp = ts
	}
	if m.classCount == 0 {
		m.classCount = len(seed.Classification)
	}
	return id, nil
}

// Predict advances every live track by dt seconds.
func (m *Manager) Predict(dt float64) error {
	if !(dt >= 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: %v", imm.ErrNegativeTimeStep, dt)
	}
	m.mu.RLock()
	ts := m.timestamp.Add(time.Duration(math.Round(dt * float64(time.Second))))
	m.mu.RUnlock()
	return m.PredictTo(ts)
}

// PredictTo advances every live track to ts.
func (m *Manager) PredictTo(ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts.Before(m.timestamp) {
		return fmt.Errorf("%w: %s is before %s", imm.ErrStaleTimestamp,
			ts.Format(time.RFC3339Nano), m.timestamp.Format(time.RFC3339Nano))
	}

	tracks := m.sortedLocked()
	if m.cfg.ParallelPredictMinTracks > 0 && len(tracks) >= m.cfg.ParallelPredictMinTracks {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, t := range tracks {
			g.Go(func() error {
				if err := t.estimator.PredictTo(ts); err != nil {
					return fmt.Errorf("predict track %d: %w", t.id, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, t := range tracks {
			if err := t.estimator.PredictTo(ts); err != nil {
				return fmt.Errorf("predict track %d: %w", t.id, err)
			}
		}
	}
	m.timestamp = ts
	return nil
}

// SetMeasurement buffers the measurement for track id until Correct.
func (m *Manager) SetMeasurement(id int64, meas object.TrackedObject) error {
	if err := meas.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracks[id]; !ok {
		return fmt.Errorf("%w: %d", ErrTrackNotFound, id)
	}
	if m.classCount > 0 && len(meas.Classification) != m.classCount {
		return fmt.Errorf("%w: got %d, want %d", ErrClassCountMismatch, len(meas.Classification), m.classCount)
	}
	m.pending[id] = meas
	return nil
}

// Correct absorbs the buffered measurements, counts a miss for every other
// track and runs the status sweep. Tracks created at the current timestamp
// without a measurement are left untouched.
func (m *Manager) Correct() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleted = m.deleted[:0]
	now := m.timestamp
	for _, t := range m.sortedLocked() {
		meas, hit := m.pending[t.id]
		if !hit && t.created.Equal(now) && t.status == StatusNew {
			continue
		}
		if hit {
			if err := t.estimator.Correct(meas); err != nil {
				logf("track %d: correction failed, counted as a miss: %v", t.id, err)
				monitoring.Default.Inc(monitoring.FailedCorrections)
				hit = false
			}
		}
		t.record(hit, now)
		t.sweep(hit, now, m.cfg)
		if t.status == StatusDeleted {
			m.removeLocked(t)
		}
	}
	clear(m.pending)
}

func (m *Manager) removeLocked(t *Track) {
	t.status = StatusDeleted
	m.deleted = append(m.deleted, t.state())
	delete(m.tracks, t.id)
	delete(m.pending, t.id)
}

func (m *Manager) sortedLocked() []*Track {
	out := make([]*Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Track) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

func (m *Manager) collect(keep func(Status) bool) []object.TrackedObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []object.TrackedObject
	for _, t := range m.sortedLocked() {
		if keep(t.status) {
			out = append(out, t.state())
		}
	}
	return out
}

// GetTracks returns snapshots of every active (non-suspended) track by id.
func (m *Manager) GetTracks() []object.TrackedObject {
	return m.collect(Status.Active)
}

// GetReliableTracks returns the reliable tracks by id.
func (m *Manager) GetReliableTracks() []object.TrackedObject {
	return m.collect(func(s Status) bool { return s == StatusReliable })
}

// GetUnreliableTracks returns the tracks not yet promoted to reliable.
func (m *Manager) GetUnreliableTracks() []object.TrackedObject {
	return m.collect(func(s Status) bool { return s == StatusNew || s == StatusUnreliable })
}

// GetDriftingTracks returns reliable tracks that have been coasting.
func (m *Manager) GetDriftingTracks() []object.TrackedObject {
	return m.collect(func(s Status) bool { return s == StatusDrifting })
}

// GetSuspendedTracks returns the suspended tracks by id.
func (m *Manager) GetSuspendedTracks() []object.TrackedObject {
	return m.collect(func(s Status) bool { return s == StatusSuspended })
}

// MatchCandidates returns every track a measurement may be associated with:
// active and suspended tracks, ordered by id.
func (m *Manager) MatchCandidates() []object.TrackedObject {
	return m.collect(func(s Status) bool { return s != StatusDeleted })
}

// DeletedTracks returns the final snapshots of tracks deleted by the last
// Correct or by DeleteTrack since then.
func (m *Manager) DeletedTracks() []object.TrackedObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]object.TrackedObject, len(m.deleted))
	for i := range m.deleted {
		out[i] = m.deleted[i].Clone()
	}
	return out
}

func (m *Manager) lookup(id int64) (*Track, error) {
	t, ok := m.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTrackNotFound, id)
	}
	return t, nil
}

// HasID reports whether id is a live track.
func (m *Manager) HasID(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tracks[id]
	return ok
}

// GetTrack returns a snapshot of track id.
func (m *Manager) GetTrack(id int64) (object.TrackedObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.lookup(id)
	if err != nil {
		return object.TrackedObject{}, err
	}
	return t.state(), nil
}

// TrackInfo returns the lifecycle bookkeeping of track id.
func (m *Manager) TrackInfo(id int64) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return t.info(), nil
}

// Status returns the status of track id.
func (m *Manager) Status(id int64) (Status, error) {
	info, err := m.TrackInfo(id)
	if err != nil {
		return StatusDeleted, err
	}
	return info.Status, nil
}

// IsReliable reports whether track id exists and is reliable.
func (m *Manager) IsReliable(id int64) bool {
	s, err := m.Status(id)
	return err == nil && s == StatusReliable
}

// IsSuspended reports whether track id exists and is suspended.
func (m *Manager) IsSuspended(id int64) bool {
	s, err := m.Status(id)
	return err == nil && s == StatusSuspended
}

// Estimator returns an independent copy of the estimator of track id.
func (m *Manager) Estimator(id int64) (*imm.Estimator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.estimator.Clone(), nil
}

// DeleteTrack removes track id immediately.
func (m *Manager) DeleteTrack(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.removeLocked(t)
	return nil
}

// SuspendTrack moves track id to Suspended.
func (m *Manager) SuspendTrack(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	t.suspend()
	return nil
}

// ReactivateTrack moves a suspended track id back to Reliable.
func (m *Manager) ReactivateTrack(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	if t.status != StatusSuspended {
		return fmt.Errorf("track %d is %s, not suspended", id, t.status)
	}
	t.status = StatusReliable
	t.misses = 0
	t.reactivationHits = 0
	return nil
}
