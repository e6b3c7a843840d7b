package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/scenetrack/internal/tracking/association"
	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/imm"
	"github.com/banshee-data/scenetrack/internal/tracking/mot"
	"github.com/banshee-data/scenetrack/internal/tracking/trackmgr"
)

// DefaultConfigPath is the path to the canonical tracker defaults file.
const DefaultConfigPath = "config/tracker.defaults.json"

// DefaultChunkingInterval is the dispatch period of time-chunked tracking.
const DefaultChunkingInterval = 50 * time.Millisecond

// TrackerConfig is the JSON tracker tuning file. Every field is optional;
// the Get* methods supply defaults for omitted ones.
//
// Frame counts are given at baseline_frame_rate and converted into time
// thresholds, which each scene turns back into frame counts once it knows
// its cameras' frame rate.
type TrackerConfig struct {
	// Lifecycle
	MaxUnreliableFrames         *int     `json:"max_unreliable_frames,omitempty"`
	NonMeasurementFramesDynamic *int     `json:"non_measurement_frames_dynamic,omitempty"`
	NonMeasurementFramesStatic  *int     `json:"non_measurement_frames_static,omitempty"`
	BaselineFrameRate           *float64 `json:"baseline_frame_rate,omitempty"`
	ReactivationFrames          *int     `json:"reactivation_frames,omitempty"`
	MaxSuspendedFrames          *int     `json:"max_suspended_frames,omitempty"`
	DynamicSpeedThreshold       *float64 `json:"dynamic_speed_threshold,omitempty"`

	// Estimator
	DefaultProcessNoise     *float64 `json:"default_process_noise,omitempty"`
	DefaultMeasurementNoise *float64 `json:"default_measurement_noise,omitempty"`
	InitStateCovariance     *float64 `json:"init_state_covariance,omitempty"`
	MotionModels            []string `json:"motion_models,omitempty"`
	ModelStayProbability    *float64 `json:"model_stay_probability,omitempty"`

	// Association
	DistanceType         *string  `json:"distance_type,omitempty"`
	DistanceThreshold    *float64 `json:"distance_threshold,omitempty"`
	ProbabilityThreshold *float64 `json:"probability_threshold,omitempty"`
	DuplicateDistance    *float64 `json:"duplicate_distance,omitempty"`

	// Scene
	TimeChunkingEnabled      *bool               `json:"time_chunking_enabled,omitempty"`
	TimeChunkingIntervalMs   *int                `json:"time_chunking_interval_milliseconds,omitempty"`
	ParallelPredictMinTracks *int                `json:"parallel_predict_min_tracks,omitempty"`
	PersistAttributes        map[string][]string `json:"persist_attributes,omitempty"`
	Classes                  []string            `json:"classes,omitempty"`
}

// LoadTrackerConfig loads a TrackerConfig from a JSON file. The file must
// have a .json extension and be under 1 MB. Unknown fields are rejected.
func LoadTrackerConfig(path string) (*TrackerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := &TrackerConfig{}
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests
// and tools.
func MustLoadDefaultConfig() *TrackerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the fields that are set.
func (c *TrackerConfig) Validate() error {
	positiveInts := []struct {
		name string
		v    *int
	}{
		{"max_unreliable_frames", c.MaxUnreliableFrames},
		{"non_measurement_frames_dynamic", c.NonMeasurementFramesDynamic},
		{"non_measurement_frames_static", c.NonMeasurementFramesStatic},
		{"reactivation_frames", c.ReactivationFrames},
		{"time_chunking_interval_milliseconds", c.TimeChunkingIntervalMs},
	}
	for _, f := range positiveInts {
		if f.v != nil && *f.v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", f.name, *f.v)
		}
	}
	if c.MaxSuspendedFrames != nil && *c.MaxSuspendedFrames < 0 {
		return fmt.Errorf("max_suspended_frames must be >= 0, got %d", *c.MaxSuspendedFrames)
	}
	if c.ParallelPredictMinTracks != nil && *c.ParallelPredictMinTracks < 0 {
		return fmt.Errorf("parallel_predict_min_tracks must be >= 0, got %d", *c.ParallelPredictMinTracks)
	}

	positiveFloats := []struct {
		name string
		v    *float64
	}{
		{"baseline_frame_rate", c.BaselineFrameRate},
		{"default_process_noise", c.DefaultProcessNoise},
		{"default_measurement_noise", c.DefaultMeasurementNoise},
		{"init_state_covariance", c.InitStateCovariance},
		{"distance_threshold", c.DistanceThreshold},
	}
	for _, f := range positiveFloats {
		if f.v != nil && (!(*f.v > 0) || math.IsInf(*f.v, 0)) {
			return fmt.Errorf("%s must be a positive number, got %v", f.name, *f.v)
		}
	}
	if c.DynamicSpeedThreshold != nil && !(*c.DynamicSpeedThreshold >= 0) {
		return fmt.Errorf("dynamic_speed_threshold must be >= 0, got %v", *c.DynamicSpeedThreshold)
	}
	if c.DuplicateDistance != nil && !(*c.DuplicateDistance >= 0) {
		return fmt.Errorf("duplicate_distance must be >= 0, got %v", *c.DuplicateDistance)
	}
	if c.ModelStayProbability != nil && !(*c.ModelStayProbability > 0 && *c.ModelStayProbability <= 1) {
		return fmt.Errorf("model_stay_probability must be in (0, 1], got %v", *c.ModelStayProbability)
	}
	if c.ProbabilityThreshold != nil && !(*c.ProbabilityThreshold >= 0 && *c.ProbabilityThreshold <= 1) {
		return fmt.Errorf("probability_threshold must be in [0, 1], got %v", *c.ProbabilityThreshold)
	}

	if _, err := c.GetMotionModels(); err != nil {
		return fmt.Errorf("motion_models: %w", err)
	}
	if _, err := c.GetDistanceType(); err != nil {
		return fmt.Errorf("distance_type: %w", err)
	}
	if _, err := c.ClassificationData(); err != nil {
		return fmt.Errorf("classes: %w", err)
	}
	for category, keys := range c.PersistAttributes {
		for _, k := range keys {
			if k == "" {
				return fmt.Errorf("persist_attributes[%q] contains an empty key", category)
			}
		}
	}
	return nil
}

// GetMaxUnreliableFrames returns the max_unreliable_frames value or the default.
func (c *TrackerConfig) GetMaxUnreliableFrames() int {
	if c.MaxUnreliableFrames == nil {
		return 10
	}
	return *c.MaxUnreliableFrames
}

// GetNonMeasurementFramesDynamic returns the non_measurement_frames_dynamic value or the default.
func (c *TrackerConfig) GetNonMeasurementFramesDynamic() int {
	if c.NonMeasurementFramesDynamic == nil {
		return 8
	}
	return *c.NonMeasurementFramesDynamic
}

// GetNonMeasurementFramesStatic returns the non_measurement_frames_static value or the default.
func (c *TrackerConfig) GetNonMeasurementFramesStatic() int {
	if c.NonMeasurementFramesStatic == nil {
		return 16
	}
	return *c.NonMeasurementFramesStatic
}

// GetBaselineFrameRate returns the baseline_frame_rate value or the default.
func (c *TrackerConfig) GetBaselineFrameRate() float64 {
	if c.BaselineFrameRate == nil {
		return 30
	}
	return *c.BaselineFrameRate
}

// GetReactivationFrames returns the reactivation_frames value or the default.
func (c *TrackerConfig) GetReactivationFrames() int {
	if c.ReactivationFrames == nil {
		return 3
	}
	return *c.ReactivationFrames
}

// GetMaxSuspendedFrames returns the max_suspended_frames value or 0 (never deleted).
func (c *TrackerConfig) GetMaxSuspendedFrames() int {
	if c.MaxSuspendedFrames == nil {
		return 0
	}
	return *c.MaxSuspendedFrames
}

// GetDynamicSpeedThreshold returns the dynamic_speed_threshold value or the default.
func (c *TrackerConfig) GetDynamicSpeedThreshold() float64 {
	if c.DynamicSpeedThreshold == nil {
		return trackmgr.DefaultConfig().DynamicSpeedThreshold
	}
	return *c.DynamicSpeedThreshold
}

// GetMotionModels parses motion_models, defaulting to imm.DefaultMotionModels.
func (c *TrackerConfig) GetMotionModels() ([]imm.MotionModel, error) {
	if len(c.MotionModels) == 0 {
		return imm.DefaultMotionModels(), nil
	}
	out := make([]imm.MotionModel, 0, len(c.MotionModels))
	for _, name := range c.MotionModels {
		m, err := imm.ParseMotionModel(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetDistanceType parses distance_type, defaulting to MultiClassEuclidean.
func (c *TrackerConfig) GetDistanceType() (association.DistanceType, error) {
	if c.DistanceType == nil || *c.DistanceType == "" {
		return mot.DefaultOptions().DistanceType, nil
	}
	return association.ParseDistanceType(*c.DistanceType)
}

// GetTimeChunkingEnabled returns the time_chunking_enabled value or false.
func (c *TrackerConfig) GetTimeChunkingEnabled() bool {
	if c.TimeChunkingEnabled == nil {
		return false
	}
	return *c.TimeChunkingEnabled
}

// GetTimeChunkingInterval returns the dispatch interval of time-chunked tracking.
func (c *TrackerConfig) GetTimeChunkingInterval() time.Duration {
	if c.TimeChunkingIntervalMs == nil {
		return DefaultChunkingInterval
	}
	return time.Duration(*c.TimeChunkingIntervalMs) * time.Millisecond
}

// GetPersistAttributes returns the attribute keys to carry for category.
func (c *TrackerConfig) GetPersistAttributes(category string) []string {
	return append([]string(nil), c.PersistAttributes[category]...)
}

// ClassificationData returns the class list, ["Unknown"] when unset.
func (c *TrackerConfig) ClassificationData() (*classification.Data, error) {
	return classification.NewData(c.Classes)
}

func orFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func framesToTime(frames int, fps float64) time.Duration {
	return time.Duration(math.Round(float64(frames) / fps * float64(time.Second)))
}

// ManagerConfig converts the file into a track manager configuration. The
// frame thresholds are kept at the baseline rate and also expressed as time
// thresholds for UpdateTrackerConfig to rescale.
func (c *TrackerConfig) ManagerConfig() (trackmgr.Config, error) {
	models, err := c.GetMotionModels()
	if err != nil {
		return trackmgr.Config{}, err
	}
	def := trackmgr.DefaultConfig()
	fps := c.GetBaselineFrameRate()

	cfg := trackmgr.Config{
		MaxNumberOfUnreliableFrames: c.GetMaxUnreliableFrames(),
		NonMeasurementFramesDynamic: c.GetNonMeasurementFramesDynamic(),
		NonMeasurementFramesStatic:  c.GetNonMeasurementFramesStatic(),
		ReactivationFrames:          c.GetReactivationFrames(),
		MaxSuspendedFrames:          c.GetMaxSuspendedFrames(),

		MaxUnreliableTime:         framesToTime(c.GetMaxUnreliableFrames(), fps),
		NonMeasurementTimeDynamic: framesToTime(c.GetNonMeasurementFramesDynamic(), fps),
		NonMeasurementTimeStatic:  framesToTime(c.GetNonMeasurementFramesStatic(), fps),

		DefaultProcessNoise:     orFloat(c.DefaultProcessNoise, def.DefaultProcessNoise),
		DefaultMeasurementNoise: orFloat(c.DefaultMeasurementNoise, def.DefaultMeasurementNoise),
		InitStateCovariance:     orFloat(c.InitStateCovariance, def.InitStateCovariance),
		MotionModels:            models,
		ModelStayProbability:    orFloat(c.ModelStayProbability, def.ModelStayProbability),

		DynamicSpeedThreshold:    c.GetDynamicSpeedThreshold(),
		ParallelPredictMinTracks: orInt(c.ParallelPredictMinTracks, def.ParallelPredictMinTracks),
	}
	if err := cfg.Validate(); err != nil {
		return trackmgr.Config{}, err
	}
	return cfg, nil
}

// TrackingOptions returns the association options.
func (c *TrackerConfig) TrackingOptions() (mot.Options, error) {
	dt, err := c.GetDistanceType()
	if err != nil {
		return mot.Options{}, err
	}
	def := mot.DefaultOptions()
	opts := mot.Options{
		DistanceType:         dt,
		DistanceThreshold:    orFloat(c.DistanceThreshold, def.DistanceThreshold),
		ProbabilityThreshold: orFloat(c.ProbabilityThreshold, def.ProbabilityThreshold),
		DuplicateDistance:    orFloat(c.DuplicateDistance, def.DuplicateDistance),
	}
	if err := opts.Validate(); err != nil {
		return mot.Options{}, err
	}
	return opts, nil
}
