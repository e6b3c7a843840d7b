package object

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/scenetrack/internal/tracking/classification"
)

// State vector layout. Every motion model shares this layout; components a
// model does not drive are held at zero by its transition.
const (
	IdxX = iota
	IdxY
	IdxZ
	IdxVX
	IdxVY
	IdxAX
	IdxAY
	IdxLength
	IdxWidth
	IdxHeight
	IdxYaw
	IdxTurnRate

	StateSize
)

// Measurement vector layout: the directly observed components.
const (
	MeasX = iota
	MeasY
	MeasZ
	MeasLength
	MeasWidth
	MeasHeight
	MeasYaw

	MeasurementSize
)

// MeasurementStateIndex maps each measurement component to its state index.
var MeasurementStateIndex = [MeasurementSize]int{
	MeasX:      IdxX,
	MeasY:      IdxY,
	MeasZ:      IdxZ,
	MeasLength: IdxLength,
	MeasWidth:  IdxWidth,
	MeasHeight: IdxHeight,
	MeasYaw:    IdxYaw,
}

// DefaultDynamicSpeed is the speed (m/s) above which an object counts as moving.
const DefaultDynamicSpeed = 0.05

// ErrInvalidObject is returned by Validate and SetStateVector.
var ErrInvalidObject = errors.New("invalid tracked object")

// TrackedObject is both a measurement fed to a tracker and the estimate
// reported back. Positions are metres in the scene frame, angles radians,
// velocities m/s and accelerations m/s².
type TrackedObject struct {
	ID int64

	X, Y, Z               float64
	Length, Width, Height float64
	Yaw                   float64
	TurnRate              float64
	VX, VY                float64
	AX, AY                float64

	// Corrected is true when the last estimator step absorbed a measurement.
	Corrected bool

	Classification classification.Vector
	Attributes     *Attributes

	// Filled on estimates only. Row-major StateSize² and MeasurementSize².
	ErrorCovariance          []float64
	PredictedMeasurementMean []float64
	PredictedMeasurementCov  []float64
}

// StateVector returns the StateSize-length state view.
func (o *TrackedObject) StateVector() []float64 {
	v := make([]float64, StateSize)
	v[IdxX], v[IdxY], v[IdxZ] = o.X, o.Y, o.Z
	v[IdxVX], v[IdxVY] = o.VX, o.VY
	v[IdxAX], v[IdxAY] = o.AX, o.AY
	v[IdxLength], v[IdxWidth], v[IdxHeight] = o.Length, o.Width, o.Height
	v[IdxYaw] = o.Yaw
	v[IdxTurnRate] = o.TurnRate
	return v
}

// SetStateVector writes a StateSize-length state view back into o. The yaw
// is wrapped; other fields (id, classification, attributes) are untouched.
func (o *TrackedObject) SetStateVector(v []float64) error {
	if len(v) != StateSize {
		return fmt.Errorf("%w: state vector has %d entries, want %d", ErrInvalidObject, len(v), StateSize)
	}
	o.X, o.Y, o.Z = v[IdxX], v[IdxY], v[IdxZ]
	o.VX, o.VY = v[IdxVX], v[IdxVY]
	o.AX, o.AY = v[IdxAX], v[IdxAY]
	o.Length, o.Width, o.Height = v[IdxLength], v[IdxWidth], v[IdxHeight]
	o.Yaw = WrapAngle(v[IdxYaw])
	o.TurnRate = v[IdxTurnRate]
	return nil
}

// MeasurementVector returns the observed components in measurement layout.
func (o *TrackedObject) MeasurementVector() []float64 {
	return []float64{o.X, o.Y, o.Z, o.Length, o.Width, o.Height, o.Yaw}
}

// Speed returns the planar speed.
func (o *TrackedObject) Speed() float64 {
	return math.Hypot(o.VX, o.VY)
}

// IsDynamic reports whether the planar speed exceeds eps.
func (o *TrackedObject) IsDynamic(eps float64) bool {
	return o.Speed() > eps
}

// Clone returns a deep copy of o.
func (o *TrackedObject) Clone() TrackedObject {
	out := *o
	out.Classification = o.Classification.Clone()
	out.Attributes = o.Attributes.Clone()
	out.ErrorCovariance = cloneFloats(o.ErrorCovariance)
	out.PredictedMeasurementMean = cloneFloats(o.PredictedMeasurementMean)
	out.PredictedMeasurementCov = cloneFloats(o.PredictedMeasurementCov)
	return out
}

// Validate checks that o is usable as a measurement: finite kinematics,
// non-negative extents and a valid classification vector.
func (o *TrackedObject) Validate() error {
	for i, f := range o.StateVector() {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: state component %d is %v", ErrInvalidObject, i, f)
		}
	}
	if o.Length < 0 || o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("%w: negative extent %vx%vx%v", ErrInvalidObject, o.Length, o.Width, o.Height)
	}
	if err := o.Classification.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidObject, err)
	}
	return nil
}

func (o *TrackedObject) String() string {
	return fmt.Sprintf("object %d at (%.2f, %.2f, %.2f) v=(%.2f, %.2f) yaw=%.2f",
		o.ID, o.X, o.Y, o.Z, o.VX, o.VY, o.Yaw)
}

func cloneFloats(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}
