package mot

import (
	"time"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
	"github.com/banshee-data/scenetrack/internal/tracking/trackmgr"
)

// TrackTracker routes each measurement to the track carrying its ID,
// creating the track on first sight. It is used when identities are
// resolved upstream, for example by re-identification.
type TrackTracker struct {
	mgr *trackmgr.Manager
}

// NewTrackTracker returns a tracker keyed by caller-supplied ids.
func NewTrackTracker(cfg trackmgr.Config) (*TrackTracker, error) {
	mgr, err := trackmgr.NewManager(cfg, false)
	if err != nil {
		return nil, err
	}
	return &TrackTracker{mgr: mgr}, nil
}

// Manager exposes the underlying track manager.
func (t *TrackTracker) Manager() *trackmgr.Manager { return t.mgr }

// Timestamp returns the time of the last processed batch.
func (t *TrackTracker) Timestamp() time.Time { return t.mgr.Timestamp() }

// GetTracks returns every active track.
func (t *TrackTracker) GetTracks() []object.TrackedObject { return t.mgr.GetTracks() }

// GetReliableTracks returns the reliable tracks.
func (t *TrackTracker) GetReliableTracks() []object.TrackedObject { return t.mgr.GetReliableTracks() }

// UpdateTrackerConfig re-derives frame thresholds for the given frame rate.
func (t *TrackTracker) UpdateTrackerConfig(fps float64) error {
	return t.mgr.UpdateTrackerConfig(fps)
}

// Track predicts to ts, then buffers each object against the track with its
// ID (creating unknown ids) and corrects. When an ID repeats within a batch
// only the last repeat is applied as a correction.
func (t *TrackTracker) Track(objects []object.TrackedObject, ts time.Time) error {
	if err := t.mgr.PredictTo(ts); err != nil {
		return err
	}

	for _, m := range filterMeasurements(0, objects, t.mgr.ClassCount()) {
		if t.mgr.HasID(m.ID) {
			if err := t.mgr.SetMeasurement(m.ID, m); err != nil {
				logf("track %d: measurement rejected: %v", m.ID, err)
				monitoring.Default.Inc(monitoring.DroppedMeasurements)
			}
			continue
		}
		if _, err := t.mgr.CreateTrack(m, ts); err != nil {
			logf("track %d: not created: %v", m.ID, err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
		}
	}

	t.mgr.Correct()
	return nil
}
