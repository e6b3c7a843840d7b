package scene

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenetrack/internal/config"
	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/timeutil"
	"github.com/banshee-data/scenetrack/internal/tracking/debug"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func at(k int) time.Time {
	return t0.Add(time.Duration(k) * 100 * time.Millisecond)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recordingSink) Publish(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *recordingSink) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func ptr[T any](v T) *T { return &v }

func person(x, y float64) Detection {
	return Detection{
		Translation: [3]float64{x, y, 0},
		Size:        [3]float64{0.5, 0.5, 1.8},
		Confidence:  ptr(0.9),
		Attributes:  map[string]string{"age": "30", "secret": "x"},
	}
}

func frame(cam string, k int, dets ...Detection) CameraFrame {
	return CameraFrame{
		CameraID:  cam,
		Timestamp: at(k),
		FrameRate: 10,
		Objects:   map[string][]Detection{"person": dets},
	}
}

func trackerConfig() *config.TrackerConfig {
	return &config.TrackerConfig{
		PersistAttributes: map[string][]string{"person": {"age"}},
		Classes:           []string{"person", "car"},
	}
}

func TestScene_TracksAndPublishes(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s, err := New(Options{Name: "lobby", Tracker: trackerConfig(), UseTracker: true, Sink: sink})
	require.NoError(t, err)
	ctx := context.Background()

	for k := 0; k < 8; k++ {
		require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam1", k, person(2, 3))))
	}

	assert.Equal(t, 10.0, s.RefFrameRate())
	assert.Equal(t, []string{"person"}, s.Categories())

	snaps := sink.all()
	require.Len(t, snaps, 8)
	assert.Empty(t, snaps[0].Tracks)
	last := snaps[7]
	assert.Equal(t, s.ID(), last.SceneID)
	assert.Equal(t, "lobby", last.SceneName)
	assert.Equal(t, "person", last.Category)
	assert.Equal(t, at(7), last.Timestamp)
	require.Len(t, last.Tracks, 1)

	trk := last.Tracks[0]
	assert.InDelta(t, 2.0, trk.X, 1e-3)
	assert.InDelta(t, 3.0, trk.Y, 1e-3)
	cls, err := s.Classes().GetClass(trk.Classification)
	require.NoError(t, err)
	assert.Equal(t, "person", cls)

	cam, _ := trk.Attributes.Get(object.AttrCameraID)
	assert.Equal(t, "cam1", cam)
	cat, _ := trk.Attributes.Get(object.AttrCategory)
	assert.Equal(t, "person", cat)
	age, _ := trk.Attributes.Get("age")
	assert.Equal(t, "30", age)
	_, leaked := trk.Attributes.Get("secret")
	assert.False(t, leaked)

	assert.Len(t, s.Tracks("person"), 1)
	assert.Nil(t, s.Tracks("car"))
}

func TestScene_RefFrameRateIsSlowestCamera(t *testing.T) {
	t.Parallel()
	s, err := New(Options{UseTracker: true})
	require.NoError(t, err)
	ctx := context.Background()

	for i, fps := range []float64{15, 10, 20, 0} {
		f := frame("cam", i)
		f.FrameRate = fps
		require.NoError(t, s.ProcessCameraFrame(ctx, f))
	}
	assert.Equal(t, 10.0, s.RefFrameRate())
}

func TestScene_RejectsUnknownCamera(t *testing.T) {
	t.Parallel()
	s, err := New(Options{Cameras: []string{"cam1"}, UseTracker: true})
	require.NoError(t, err)

	err = s.ProcessCameraFrame(context.Background(), frame("cam2", 0, person(0, 0)))
	assert.ErrorIs(t, err, ErrUnknownCamera)
	assert.Empty(t, s.Categories())
}

func TestScene_DropsMalformedDetections(t *testing.T) {
	t.Parallel()
	s, err := New(Options{Tracker: trackerConfig(), UseTracker: true})
	require.NoError(t, err)

	negative := person(1, 1)
	negative.Size[0] = -1
	overconfident := person(5, 5)
	overconfident.Confidence = ptr(1.5)

	before := monitoring.Default.Get(monitoring.DroppedMeasurements)
	require.NoError(t, s.ProcessCameraFrame(context.Background(),
		frame("cam1", 0, negative, person(9, 9), overconfident)))
	assert.GreaterOrEqual(t, monitoring.Default.Get(monitoring.DroppedMeasurements)-before, int64(2))

	meas := s.measurements("cam1", "person", []Detection{negative, person(9, 9), overconfident})
	require.Len(t, meas, 1)
	assert.Equal(t, 9.0, meas[0].X)
}

func TestScene_UnknownCategoryClassification(t *testing.T) {
	t.Parallel()

	withUnknown, err := New(Options{Tracker: &config.TrackerConfig{Classes: []string{"person", "Unknown"}}, UseTracker: true})
	require.NoError(t, err)
	v, err := withUnknown.classify("forklift", 0.8)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, v, 1e-12)

	without, err := New(Options{Tracker: trackerConfig(), UseTracker: true})
	require.NoError(t, err)
	v, err = without.classify("forklift", 0.8)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, v, 1e-12)
}

func TestScene_IDRoutedTracking(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s, err := New(Options{Tracker: trackerConfig(), UseTracker: false, Sink: sink})
	require.NoError(t, err)
	ctx := context.Background()

	for k := 0; k < 8; k++ {
		a := person(0, 0)
		a.ID = 42
		b := person(0.2, 0)
		b.ID = 7
		require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam1", k, a, b)))
	}

	tracks := s.Tracks("person")
	require.Len(t, tracks, 2)
	assert.Equal(t, int64(7), tracks[0].ID)
	assert.Equal(t, int64(42), tracks[1].ID)
}

func TestScene_ChunkedMultiCamera(t *testing.T) {
	t.Parallel()
	tc := trackerConfig()
	tc.TimeChunkingEnabled = ptr(true)
	clock := timeutil.NewMockClock(t0)
	sink := &recordingSink{}
	var frames []*debug.Frame
	onDebug := func(category string, f *debug.Frame) {
		assert.Equal(t, "person", category)
		frames = append(frames, f)
	}

	s, err := New(Options{Tracker: tc, UseTracker: true, Sink: sink, Clock: clock, OnDebugFrame: onDebug})
	require.NoError(t, err)
	ctx := context.Background()

	for k := 0; k < 8; k++ {
		// A stale frame from cam1 is superseded before dispatch.
		require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam1", k, person(50, 50))))
		require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam1", k, person(0, 0))))
		require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam2", k, person(0.2, 0.1))))
		assert.Empty(t, sink.all()[k:], "nothing is tracked before dispatch")

		s.Flush(ctx)
		require.Len(t, frames, k+1)
		assert.Equal(t, at(k), frames[k].Timestamp)
		if k == 0 {
			assert.Equal(t, []int64{1}, frames[k].CreatedTracks, "both cameras seed one track")
		}
	}

	require.Len(t, sink.all(), 8)
	assert.NotEmpty(t, frames[7].AssociationCandidates)
	tracks := s.Tracks("person")
	require.Len(t, tracks, 1)
	assert.InDelta(t, 0.1, tracks[0].X, 1e-3)
	assert.InDelta(t, 0.05, tracks[0].Y, 1e-3)
	require.NoError(t, s.Run(canceled()))
}

func canceled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestScene_BusyCategoryIsDropped(t *testing.T) {
	t.Parallel()
	tc := trackerConfig()
	tc.TimeChunkingEnabled = ptr(true)
	s, err := New(Options{Tracker: tc, UseTracker: true, Clock: timeutil.NewMockClock(t0)})
	require.NoError(t, err)
	ctx := context.Background()

	ct, err := s.tracker("person")
	require.NoError(t, err)
	ct.mu.Lock()

	require.NoError(t, s.ProcessCameraFrame(ctx, frame("cam1", 0, person(0, 0))))
	before := monitoring.Default.Get(monitoring.DroppedChunks)
	s.chunker.Flush(ctx)
	assert.GreaterOrEqual(t, monitoring.Default.Get(monitoring.DroppedChunks)-before, int64(1))
	assert.Zero(t, s.chunker.Pending())

	ct.mu.Unlock()
	s.Flush(ctx)
	assert.Empty(t, ct.tracker.GetTracks())
}

func TestScene_ChunkingRequiresAssociation(t *testing.T) {
	t.Parallel()
	tc := &config.TrackerConfig{TimeChunkingEnabled: ptr(true)}
	_, err := New(Options{Tracker: tc, UseTracker: false})
	assert.Error(t, err)

	_, err = New(Options{Tracker: &config.TrackerConfig{Classes: []string{"a", "a"}}})
	assert.Error(t, err)
}

func TestScene_Close(t *testing.T) {
	t.Parallel()
	s, err := New(Options{UseTracker: true})
	require.NoError(t, err)
	s.Close()
	assert.ErrorIs(t, s.ProcessCameraFrame(context.Background(), frame("cam1", 0)), ErrClosed)
}
