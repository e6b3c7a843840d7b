// Package debug provides instrumentation for the tracking engine.
// The Collector captures algorithm internals (association decisions,
// gating ellipses, innovations, model probabilities) for visualisation and
// tuning.
package debug

import (
	"math"
	"time"
)

// Pre-allocation capacities for debug frame slices, sized for a busy
// intersection: ~20 live tracks against ~2-3 detections each.
const (
	defaultAssociationCapacity = 64
	defaultTrackCapacity       = 24
)

// Collector accumulates debug artifacts during one tracking cycle.
//
// The collector is stateful: call Record*() methods during processing, then
// Emit() at cycle completion to extract the artifacts. Reset() discards a
// half-built frame.
type Collector struct {
	enabled bool
	current *Frame
	nextID  uint64
}

// Frame contains all debug artifacts for a single tracking cycle.
type Frame struct {
	FrameID   uint64
	Timestamp time.Time

	AssociationCandidates []AssociationRecord
	GatingRegions         []GatingRegion
	Innovations           []Innovation
	StatePredictions      []StatePrediction
	ModelProbabilities    []ModelProbabilities

	CreatedTracks []int64
	DeletedTracks []int64
}

// AssociationRecord captures one track-measurement pair considered during association.
type AssociationRecord struct {
	TrackID     int64
	Camera      int
	Measurement int
	Distance    float64
	Accepted    bool
}

// GatingRegion is the planar ellipse inside which a measurement passes the
// gate of a Mahalanobis metric.
type GatingRegion struct {
	TrackID     int64
	CenterX     float64
	CenterY     float64
	SemiMajorM  float64
	SemiMinorM  float64
	RotationRad float64
}

// Innovation is a measurement residual applied to a track.
type Innovation struct {
	TrackID     int64
	PredictedX  float64
	PredictedY  float64
	MeasuredX   float64
	MeasuredY   float64
	ResidualMag float64
}

// StatePrediction is a track's predicted state before correction.
type StatePrediction struct {
	TrackID int64
	X, Y    float64
	VX, VY  float64
}

// ModelProbabilities is the motion-model weighting of one track after correction.
type ModelProbabilities struct {
	TrackID       int64
	Probabilities []float64
}

// NewCollector creates a collector that's initially disabled.
func NewCollector() *Collector {
	return &Collector{}
}

// SetEnabled controls whether the collector records artifacts.
// When disabled, all Record*() calls are no-ops.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *Collector) IsEnabled() bool {
	return c != nil && c.enabled
}

// BeginFrame starts collection for a new cycle at ts.
func (c *Collector) BeginFrame(ts time.Time) {
	if !c.IsEnabled() {
		return
	}
	c.nextID++
	c.current = &Frame{
		FrameID:               c.nextID,
		Timestamp:             ts,
		AssociationCandidates: make([]AssociationRecord, 0, defaultAssociationCapacity),
		GatingRegions:         make([]GatingRegion, 0, defaultTrackCapacity),
		Innovations:           make([]Innovation, 0, defaultTrackCapacity),
		StatePredictions:      make([]StatePrediction, 0, defaultTrackCapacity),
	}
}

func (c *Collector) recording() bool {
	return c.IsEnabled() && c.current != nil
}

// RecordAssociation captures a pair evaluation from camera's batch.
func (c *Collector) RecordAssociation(trackID int64, camera, measurement int, distance float64, accepted bool) {
	if !c.recording() {
		return
	}
	c.current.AssociationCandidates = append(c.current.AssociationCandidates, AssociationRecord{
		TrackID:     trackID,
		Camera:      camera,
		Measurement: measurement,
		Distance:    distance,
		Accepted:    accepted,
	})
}

// RecordGatingRegion derives the gate ellipse for threshold from the planar
// 2×2 block [sxx sxy; sxy syy] of a predicted measurement covariance.
func (c *Collector) RecordGatingRegion(trackID int64, x, y, sxx, sxy, syy, threshold float64) {
	if !c.recording() {
		return
	}
	// Closed-form eigen decomposition of a symmetric 2×2 matrix.
	mean := 0.5 * (sxx + syy)
	diff := 0.5 * (sxx - syy)
	radius := math.Hypot(diff, sxy)
	l1, l2 := mean+radius, math.Max(mean-radius, 0)
	c.current.GatingRegions = append(c.current.GatingRegions, GatingRegion{
		TrackID:     trackID,
		CenterX:     x,
		CenterY:     y,
		SemiMajorM:  threshold * math.Sqrt(l1),
		SemiMinorM:  threshold * math.Sqrt(l2),
		RotationRad: 0.5 * math.Atan2(2*sxy, sxx-syy),
	})
}

// RecordInnovation captures the planar residual of a correction.
func (c *Collector) RecordInnovation(trackID int64, predX, predY, measX, measY float64) {
	if !c.recording() {
		return
	}
	c.current.Innovations = append(c.current.Innovations, Innovation{
		TrackID:     trackID,
		PredictedX:  predX,
		PredictedY:  predY,
		MeasuredX:   measX,
		MeasuredY:   measY,
		ResidualMag: math.Hypot(measX-predX, measY-predY),
	})
}

// RecordPrediction captures a track's predicted state.
func (c *Collector) RecordPrediction(trackID int64, x, y, vx, vy float64) {
	if !c.recording() {
		return
	}
	c.current.StatePredictions = append(c.current.StatePredictions, StatePrediction{
		TrackID: trackID, X: x, Y: y, VX: vx, VY: vy,
	})
}

// RecordModelProbabilities captures a track's model weighting.
func (c *Collector) RecordModelProbabilities(trackID int64, probs []float64) {
	if !c.recording() {
		return
	}
	c.current.ModelProbabilities = append(c.current.ModelProbabilities, ModelProbabilities{
		TrackID:       trackID,
		Probabilities: append([]float64(nil), probs...),
	})
}

// RecordLifecycle captures the tracks created and deleted in this cycle.
func (c *Collector) RecordLifecycle(created, deleted []int64) {
	if !c.recording() {
		return
	}
	c.current.CreatedTracks = append(c.current.CreatedTracks, created...)
	c.current.DeletedTracks = append(c.current.DeletedTracks, deleted...)
}

// Emit returns the accumulated frame and prepares for the next one.
// Returns nil if collection is disabled or no frame was begun.
func (c *Collector) Emit() *Frame {
	if !c.recording() {
		return nil
	}
	frame := c.current
	c.current = nil
	return frame
}

// Reset clears any pending artifacts without emitting them.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.current = nil
}
