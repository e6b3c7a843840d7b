package debug

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_InitiallyDisabled(t *testing.T) {
	t.Parallel()
	assert.False(t, NewCollector().IsEnabled())

	var nilCollector *Collector
	assert.False(t, nilCollector.IsEnabled())
	nilCollector.RecordAssociation(1, 0, 0, 1, true)
	nilCollector.Reset()
	assert.Nil(t, nilCollector.Emit())
}

func TestCollector_DisabledIsNoOp(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.BeginFrame(time.Unix(1, 0))
	c.RecordAssociation(1, 0, 0, 2.5, true)
	c.RecordPrediction(1, 0, 0, 1, 1)
	assert.Nil(t, c.Emit())
}

func TestCollector_RecordsFrame(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.SetEnabled(true)
	ts := time.Unix(10, 0)
	c.BeginFrame(ts)

	c.RecordAssociation(7, 1, 0, 0.4, true)
	c.RecordAssociation(8, 1, 0, 3.1, false)
	c.RecordPrediction(7, 1, 2, 0.5, 0)
	c.RecordInnovation(7, 0, 0, 3, 4)
	probs := []float64{0.7, 0.2, 0.1}
	c.RecordModelProbabilities(7, probs)
	probs[0] = 0
	c.RecordLifecycle([]int64{9}, []int64{3})

	frame := c.Emit()
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), frame.FrameID)
	assert.Equal(t, ts, frame.Timestamp)
	require.Len(t, frame.AssociationCandidates, 2)
	assert.Equal(t, AssociationRecord{TrackID: 8, Camera: 1, Distance: 3.1}, frame.AssociationCandidates[1])
	require.Len(t, frame.Innovations, 1)
	assert.InDelta(t, 5.0, frame.Innovations[0].ResidualMag, 1e-12)
	require.Len(t, frame.ModelProbabilities, 1)
	assert.Equal(t, 0.7, frame.ModelProbabilities[0].Probabilities[0], "probabilities are copied")
	assert.Equal(t, []int64{9}, frame.CreatedTracks)
	assert.Equal(t, []int64{3}, frame.DeletedTracks)

	assert.Nil(t, c.Emit(), "emit consumes the frame")

	c.BeginFrame(ts.Add(time.Second))
	assert.Equal(t, uint64(2), c.Emit().FrameID)
}

func TestCollector_GatingRegion(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.SetEnabled(true)
	c.BeginFrame(time.Unix(0, 0))

	c.RecordGatingRegion(1, 5, 6, 4, 0, 1, 2)
	c.RecordGatingRegion(2, 0, 0, 1, 0, 4, 1)

	frame := c.Emit()
	require.Len(t, frame.GatingRegions, 2)
	g := frame.GatingRegions[0]
	assert.InDelta(t, 4.0, g.SemiMajorM, 1e-12)
	assert.InDelta(t, 2.0, g.SemiMinorM, 1e-12)
	assert.InDelta(t, 0.0, g.RotationRad, 1e-12)
	assert.Equal(t, 5.0, g.CenterX)

	g = frame.GatingRegions[1]
	assert.InDelta(t, 2.0, g.SemiMajorM, 1e-12)
	assert.InDelta(t, 1.0, g.SemiMinorM, 1e-12)
	assert.InDelta(t, math.Pi/2, math.Abs(g.RotationRad), 1e-12)
}

func TestCollector_Reset(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.SetEnabled(true)
	c.BeginFrame(time.Unix(0, 0))
	c.RecordAssociation(1, 0, 0, 1, true)
	c.Reset()
	assert.Nil(t, c.Emit())
}
