// Package scene feeds camera frames into per-category trackers and
// publishes the reliable tracks.
//
// A Scene owns one tracker per object category, created on first use. It
// converts world-frame detections into tracker measurements, learns the
// reference frame rate from the slowest camera, and optionally batches
// frames in time chunks so each category is tracked at a fixed cadence
// rather than once per camera frame.
package scene

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var (
	// ErrUnknownCamera is returned for frames from cameras not registered with the scene.
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scene closed")
)

// CameraFrame is one camera's detections at one instant, already projected
// into the scene's world frame.
type CameraFrame struct {
	CameraID  string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	FrameRate float64                `json:"frame_rate,omitempty"`
	Objects   map[string][]Detection `json:"objects"`
}

// Detection is one detected object. Size is length, width, height in metres.
type Detection struct {
	ID          int64             `json:"id,omitempty"`
	Translation [3]float64        `json:"translation"`
	Size        [3]float64        `json:"size"`
	Yaw         float64           `json:"yaw,omitempty"`
	Velocity    *[2]float64       `json:"velocity,omitempty"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Snapshot is the set of reliable tracks of one category after a cycle.
type Snapshot struct {
	SceneID   uuid.UUID
	SceneName string
	Category  string
	Timestamp time.Time
	Tracks    []object.TrackedObject
}

// Sink receives snapshots. Publish may be called from several goroutines
// when time chunking is enabled.
type Sink interface {
	Publish(ctx context.Context, s Snapshot) error
}
