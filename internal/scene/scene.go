package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/scenetrack/internal/config"
	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/timeutil"
	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/debug"
	"github.com/banshee-data/scenetrack/internal/tracking/mot"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
	"github.com/banshee-data/scenetrack/internal/tracking/trackmgr"
)

var logf = monitoring.Component("scene")

const unknownClass = "Unknown"

// Options configure a Scene.
type Options struct {
	Name    string
	Cameras []string // accepted camera ids; empty accepts any
	Tracker *config.TrackerConfig
	// UseTracker selects association-based tracking. When false incoming
	// detection ids are trusted and routed directly to their tracks.
	UseTracker bool
	Sink       Sink
	Clock      timeutil.Clock
	// OnDebugFrame, when set, receives the association internals of every
	// tracking cycle. It is called with the category's tracker lock held.
	OnDebugFrame func(category string, f *debug.Frame)
}

// Scene tracks the objects seen by a group of cameras.
type Scene struct {
	id         uuid.UUID
	name       string
	useTracker bool
	sink       Sink
	onDebug    func(string, *debug.Frame)

	mgrCfg            trackmgr.Config
	trackOpts         mot.Options
	classes           *classification.Data
	persistAttributes map[string][]string

	cameras map[string]bool
	chunker *Chunker

	mu           sync.Mutex
	trackers     map[string]*categoryTracker
	refFrameRate float64
	closed       bool

	inflight sync.WaitGroup
}

// categoryTracker serialises the cycles of one category's tracker.
type categoryTracker struct {
	mu      sync.Mutex
	tracker mot.Tracker
	debug   *debug.Collector // nil unless OnDebugFrame is set
	fps     float64          // frame rate the thresholds were last derived at
}

// New validates opts and returns an empty scene.
func New(opts Options) (*Scene, error) {
	tc := opts.Tracker
	if tc == nil {
		tc = &config.TrackerConfig{}
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	mgrCfg, err := tc.ManagerConfig()
	if err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	trackOpts, err := tc.TrackingOptions()
	if err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	classes, err := tc.ClassificationData()
	if err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}

	s := &Scene{
		id:                uuid.New(),
		name:              opts.Name,
		useTracker:        opts.UseTracker,
		sink:              opts.Sink,
		onDebug:           opts.OnDebugFrame,
		mgrCfg:            mgrCfg,
		trackOpts:         trackOpts,
		classes:           classes,
		persistAttributes: make(map[string][]string),
		cameras:           make(map[string]bool, len(opts.Cameras)),
		trackers:          make(map[string]*categoryTracker),
	}
	for cat := range tc.PersistAttributes {
		s.persistAttributes[cat] = tc.GetPersistAttributes(cat)
	}
	for _, cam := range opts.Cameras {
		s.cameras[cam] = true
	}
	if tc.GetTimeChunkingEnabled() {
		if !opts.UseTracker {
			return nil, errors.New("time chunking requires association-based tracking")
		}
		s.chunker = NewChunker(opts.Clock, tc.GetTimeChunkingInterval(), s)
	}
	logf("new scene %s (%s): chunking=%t use_tracker=%t", s.name, s.id, s.chunker != nil, s.useTracker)
	return s, nil
}

// ID returns the scene's instance id.
func (s *Scene) ID() uuid.UUID { return s.id }

// Name returns the scene name.
func (s *Scene) Name() string { return s.name }

// Classes returns the classification class list.
func (s *Scene) Classes() *classification.Data { return s.classes }

// RefFrameRate returns the lowest frame rate reported by any camera, or 0.
func (s *Scene) RefFrameRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refFrameRate
}

// Categories returns the categories that have a tracker, sorted.
func (s *Scene) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.trackers))
	for cat := range s.trackers {
		out = append(out, cat)
	}
	slices.Sort(out)
	return out
}

// Tracks returns the reliable tracks of category.
func (s *Scene) Tracks(category string) []object.TrackedObject {
	s.mu.Lock()
	ct, ok := s.trackers[category]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return ct.tracker.GetReliableTracks()
}

// Run drives time-chunked dispatch until ctx is cancelled. Without chunking
// it returns immediately.
func (s *Scene) Run(ctx context.Context) error {
	if s.chunker == nil {
		return nil
	}
	err := s.chunker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Flush dispatches any chunked frames now and waits for them to be tracked.
func (s *Scene) Flush(ctx context.Context) {
	if s.chunker != nil {
		s.chunker.Flush(ctx)
	}
	s.inflight.Wait()
}

// Close waits for in-flight batches. Later frames are rejected.
func (s *Scene) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// ProcessCameraFrame converts the frame's detections and tracks them, per
// category. With time chunking the frame is buffered instead and tracked on
// the next dispatch. Malformed detections are dropped and counted.
func (s *Scene) ProcessCameraFrame(ctx context.Context, f CameraFrame) error {
	if len(s.cameras) > 0 && !s.cameras[f.CameraID] {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, f.CameraID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if f.FrameRate > 0 && (s.refFrameRate == 0 || f.FrameRate < s.refFrameRate) {
		s.refFrameRate = f.FrameRate
	}
	s.mu.Unlock()

	categories := make([]string, 0, len(f.Objects))
	for cat := range f.Objects {
		categories = append(categories, cat)
	}
	slices.Sort(categories)

	var errs []error
	for _, cat := range categories {
		meas := s.measurements(f.CameraID, cat, f.Objects[cat])
		if s.chunker != nil {
			s.chunker.Add(f.CameraID, cat, meas, f.Timestamp)
			continue
		}
		ct, err := s.tracker(cat)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ct.mu.Lock()
		err = s.runCycle(ctx, ct, Batch{
			Category:  cat,
			Cameras:   []string{f.CameraID},
			PerCamera: [][]object.TrackedObject{meas},
			Timestamp: f.Timestamp,
		})
		ct.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", cat, err))
		}
	}
	return errors.Join(errs...)
}

// TryDispatch tracks b asynchronously unless its category is still busy.
func (s *Scene) TryDispatch(ctx context.Context, b Batch) bool {
	ct, err := s.tracker(b.Category)
	if err != nil {
		logf("category %q: %v", b.Category, err)
		return true
	}
	if !ct.mu.TryLock() {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer ct.mu.Unlock()
		if err := s.runCycle(ctx, ct, b); err != nil {
			logf("category %q: %v", b.Category, err)
			monitoring.Default.Add(monitoring.DroppedChunks, int64(len(b.Cameras)))
		}
	}()
	return true
}

// tracker returns the tracker of category, creating it on first use.
func (s *Scene) tracker(category string) (*categoryTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ct, ok := s.trackers[category]; ok {
		return ct, nil
	}

	ct := &categoryTracker{}
	if s.useTracker {
		m, err := mot.NewMultipleObjectTracker(s.mgrCfg, s.trackOpts)
		if err != nil {
			return nil, err
		}
		if s.onDebug != nil {
			ct.debug = debug.NewCollector()
			ct.debug.SetEnabled(true)
			m.DebugCollector = ct.debug
		}
		ct.tracker = m
	} else {
		tt, err := mot.NewTrackTracker(s.mgrCfg)
		if err != nil {
			return nil, err
		}
		ct.tracker = tt
	}
	s.trackers[category] = ct
	logf("created %s tracker for category %q", trackerKind(s.useTracker), category)
	return ct, nil
}

func trackerKind(useTracker bool) string {
	if useTracker {
		return "association"
	}
	return "id-routed"
}

// runCycle tracks one batch and publishes the result. ct.mu must be held.
func (s *Scene) runCycle(ctx context.Context, ct *categoryTracker, b Batch) error {
	if fps := s.RefFrameRate(); fps > 0 && fps != ct.fps {
		if err := ct.tracker.UpdateTrackerConfig(fps); err != nil {
			return err
		}
		ct.fps = fps
	}

	ct.debug.BeginFrame(b.Timestamp)
	var err error
	switch t := ct.tracker.(type) {
	case *mot.MultipleObjectTracker:
		err = t.TrackPerCamera(b.PerCamera, b.Timestamp)
	default:
		err = ct.tracker.Track(slices.Concat(b.PerCamera...), b.Timestamp)
	}
	if err != nil {
		ct.debug.Reset()
		return err
	}
	if f := ct.debug.Emit(); f != nil {
		s.onDebug(b.Category, f)
	}

	if s.sink == nil {
		return nil
	}
	return s.sink.Publish(ctx, Snapshot{
		SceneID:   s.id,
		SceneName: s.name,
		Category:  b.Category,
		Timestamp: b.Timestamp,
		Tracks:    ct.tracker.GetReliableTracks(),
	})
}

// measurements converts one camera's detections of category into tracker
// measurements, dropping the malformed ones.
func (s *Scene) measurements(camera, category string, dets []Detection) []object.TrackedObject {
	keep := s.persistAttributes[category]
	out := make([]object.TrackedObject, 0, len(dets))
	for i, d := range dets {
		m := object.TrackedObject{
			ID:     d.ID,
			X:      d.Translation[0],
			Y:      d.Translation[1],
			Z:      d.Translation[2],
			Length: d.Size[0],
			Width:  d.Size[1],
			Height: d.Size[2],
			Yaw:    object.WrapAngle(d.Yaw),
		}
		if d.Velocity != nil {
			m.VX, m.VY = d.Velocity[0], d.Velocity[1]
		}

		confidence := 1.0
		if d.Confidence != nil {
			confidence = *d.Confidence
		}
		cls, err := s.classify(category, confidence)
		if err != nil {
			logf("camera %s: dropped %s detection %d: %v", camera, category, i, err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		m.Classification = cls

		m.Attributes = &object.Attributes{}
		m.Attributes.Set(object.AttrCameraID, camera)
		m.Attributes.Set(object.AttrCategory, category)
		for _, k := range keep {
			if v, ok := d.Attributes[k]; ok {
				m.Attributes.Set(k, v)
			}
		}

		if err := m.Validate(); err != nil {
			logf("camera %s: dropped %s detection %d: %v", camera, category, i, err)
			monitoring.Default.Inc(monitoring.DroppedMeasurements)
			continue
		}
		out = append(out, m)
	}
	return out
}

// classify builds the class vector of a detection. Categories outside the
// class list are attributed to the "Unknown" class when listed, otherwise
// to the uniform prior.
func (s *Scene) classify(category string, confidence float64) (classification.Vector, error) {
	if !(confidence >= 0 && confidence <= 1) {
		return nil, fmt.Errorf("confidence %v outside [0, 1]", confidence)
	}
	v, err := s.classes.Classification(category, confidence)
	if !errors.Is(err, classification.ErrUnknownClass) {
		return v, err
	}
	v, err = s.classes.Classification(unknownClass, confidence)
	if errors.Is(err, classification.ErrUnknownClass) {
		return s.classes.Prior(), nil
	}
	return v, err
}
