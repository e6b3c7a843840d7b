package trackmgr

import (
	"time"

	"github.com/banshee-data/scenetrack/internal/tracking/imm"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// Track is one managed track: an estimator plus lifecycle counters.
type Track struct {
	id        int64
	status    Status
	estimator *imm.Estimator

	hits             int // consecutive corrected cycles
	misses           int // consecutive cycles without a measurement
	reactivationHits int // consecutive hits while suspended

	created      time.Time
	lastMeasured time.Time
	streakStart  time.Time
}

// Info is a read-only summary of a track's bookkeeping.
type Info struct {
	ID           int64
	Status       Status
	Hits         int
	Misses       int
	Created      time.Time
	LastMeasured time.Time
}

func (t *Track) info() Info {
	return Info{
		ID:           t.id,
		Status:       t.status,
		Hits:         t.hits,
		Misses:       t.misses,
		Created:      t.created,
		LastMeasured: t.lastMeasured,
	}
}

func (t *Track) state() object.TrackedObject {
	s := t.estimator.CurrentState()
	s.ID = t.id
	return s
}

func (t *Track) record(hit bool, now time.Time) {
	if hit {
		if t.hits == 0 {
			t.streakStart = now
		}
		t.hits++
		t.misses = 0
		t.lastMeasured = now
		return
	}
	t.misses++
	t.hits = 0
}

func (t *Track) missedTooLong(frames int, limit time.Duration, now time.Time) bool {
	if t.misses == 0 {
		return false
	}
	if t.misses >= frames {
		return true
	}
	return limit > 0 && now.Sub(t.lastMeasured) >= limit
}

// sweep applies one cycle's status transition.
func (t *Track) sweep(hit bool, now time.Time, cfg Config) {
	switch t.status {
	case StatusSuspended:
		if !hit {
			t.reactivationHits = 0
			if cfg.MaxSuspendedFrames > 0 && t.misses >= cfg.MaxSuspendedFrames {
				t.status = StatusDeleted
			}
			return
		}
		t.reactivationHits++
		if t.reactivationHits >= cfg.ReactivationFrames {
			t.status = StatusReliable
			t.reactivationHits = 0
		}

	case StatusNew, StatusUnreliable:
		switch {
		case t.missedTooLong(cfg.NonMeasurementFramesDynamic, cfg.NonMeasurementTimeDynamic, now):
			t.status = StatusDeleted
		case hit && (t.hits >= cfg.MaxNumberOfUnreliableFrames ||
			(cfg.MaxUnreliableTime > 0 && now.Sub(t.streakStart) >= cfg.MaxUnreliableTime)):
			t.status = StatusReliable
		default:
			t.status = StatusUnreliable
		}

	case StatusReliable, StatusDrifting:
		if hit {
			t.status = StatusReliable
			return
		}
		s := t.estimator.CurrentState()
		if s.IsDynamic(cfg.DynamicSpeedThreshold) {
			switch {
			case t.missedTooLong(cfg.NonMeasurementFramesDynamic, cfg.NonMeasurementTimeDynamic, now):
				t.status = StatusDeleted
			case 2*t.misses > cfg.NonMeasurementFramesDynamic:
				t.status = StatusDrifting
			}
			return
		}
		if t.missedTooLong(cfg.NonMeasurementFramesStatic, cfg.NonMeasurementTimeStatic, now) {
			t.suspend()
		}
	}
}

func (t *Track) suspend() {
	t.status = StatusSuspended
	t.misses = 0
	t.hits = 0
	t.reactivationHits = 0
}
