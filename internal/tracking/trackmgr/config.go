package trackmgr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/scenetrack/internal/tracking/imm"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// Config holds the lifecycle thresholds and estimator defaults. Frame counts
// drive the status sweep; the time thresholds, when set, are converted into
// frame counts by UpdateTrackerConfig once the frame rate is known and are
// also checked directly against elapsed time.
type Config struct {
	MaxNumberOfUnreliableFrames int // consecutive hits before New/Unreliable → Reliable
	NonMeasurementFramesDynamic int // consecutive misses before a dynamic track is deleted
	NonMeasurementFramesStatic  int // consecutive misses before a static reliable track is suspended
	ReactivationFrames          int // consecutive hits before Suspended → Reliable
	MaxSuspendedFrames          int // misses before a suspended track is deleted; 0 keeps it

	MaxUnreliableTime         time.Duration // 0 disables
	NonMeasurementTimeDynamic time.Duration // 0 disables
	NonMeasurementTimeStatic  time.Duration // 0 disables

	DefaultProcessNoise     float64
	DefaultMeasurementNoise float64
	InitStateCovariance     float64
	MotionModels            []imm.MotionModel
	ModelStayProbability    float64

	DynamicSpeedThreshold    float64 // m/s; above this a track is dynamic
	ParallelPredictMinTracks int     // fan prediction out over goroutines from this many tracks
}

// DefaultConfig returns the standard lifecycle tuning.
func DefaultConfig() Config {
	p := imm.DefaultParams()
	return Config{
		MaxNumberOfUnreliableFrames: 5,
		NonMeasurementFramesDynamic: 8,
		NonMeasurementFramesStatic:  16,
		ReactivationFrames:          3,

		DefaultProcessNoise:     p.ProcessNoise,
		DefaultMeasurementNoise: p.MeasurementNoise,
		InitStateCovariance:     p.InitStateCovariance,
		MotionModels:            p.MotionModels,
		ModelStayProbability:    p.StayProbability,

		DynamicSpeedThreshold:    object.DefaultDynamicSpeed,
		ParallelPredictMinTracks: 64,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.MaxNumberOfUnreliableFrames < 1:
		return fmt.Errorf("MaxNumberOfUnreliableFrames must be >= 1, got %d", c.MaxNumberOfUnreliableFrames)
	case c.NonMeasurementFramesDynamic < 1:
		return fmt.Errorf("NonMeasurementFramesDynamic must be >= 1, got %d", c.NonMeasurementFramesDynamic)
	case c.NonMeasurementFramesStatic < 1:
		return fmt.Errorf("NonMeasurementFramesStatic must be >= 1, got %d", c.NonMeasurementFramesStatic)
	case c.ReactivationFrames < 1:
		return fmt.Errorf("ReactivationFrames must be >= 1, got %d", c.ReactivationFrames)
	case c.MaxSuspendedFrames < 0:
		return fmt.Errorf("MaxSuspendedFrames must be >= 0, got %d", c.MaxSuspendedFrames)
	case c.MaxUnreliableTime < 0 || c.NonMeasurementTimeDynamic < 0 || c.NonMeasurementTimeStatic < 0:
		return errors.New("time thresholds must be >= 0")
	case !(c.DynamicSpeedThreshold >= 0) || math.IsInf(c.DynamicSpeedThreshold, 0):
		return fmt.Errorf("DynamicSpeedThreshold must be finite and >= 0, got %v", c.DynamicSpeedThreshold)
	case c.ParallelPredictMinTracks < 0:
		return fmt.Errorf("ParallelPredictMinTracks must be >= 0, got %d", c.ParallelPredictMinTracks)
	}
	if err := c.estimatorParams().Validate(); err != nil {
		return err
	}
	return nil
}

func (c Config) estimatorParams() imm.Params {
	return imm.Params{
		ProcessNoise:        c.DefaultProcessNoise,
		MeasurementNoise:    c.DefaultMeasurementNoise,
		InitStateCovariance: c.InitStateCovariance,
		MotionModels:        append([]imm.MotionModel(nil), c.MotionModels...),
		StayProbability:     c.ModelStayProbability,
	}
}

// withFrameRate returns c with every configured time threshold converted
// into a frame count at fps.
func (c Config) withFrameRate(fps float64) Config {
	frames := func(d time.Duration, current int) int {
		if d <= 0 {
			return current
		}
		return max(1, int(math.Ceil(d.Seconds()*fps-1e-9)))
	}
	c.MaxNumberOfUnreliableFrames = frames(c.MaxUnreliableTime, c.MaxNumberOfUnreliableFrames)
	c.NonMeasurementFramesDynamic = frames(c.NonMeasurementTimeDynamic, c.NonMeasurementFramesDynamic)
	c.NonMeasurementFramesStatic = frames(c.NonMeasurementTimeStatic, c.NonMeasurementFramesStatic)
	return c
}
