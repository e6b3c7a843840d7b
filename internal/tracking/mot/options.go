package mot

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/scenetrack/internal/tracking/association"
)

// ErrInvalidOptions is returned for out-of-range association options.
var ErrInvalidOptions = errors.New("invalid tracking options")

// Options tune one association cycle.
type Options struct {
	DistanceType         association.DistanceType
	DistanceThreshold    float64 // gate, in the unit of DistanceType
	ProbabilityThreshold float64 // minimum top class probability to start a track
	// DuplicateDistance is the class-scaled planar distance in metres under
	// which unmatched detections from different cameras are taken to be the
	// same new object.
	DuplicateDistance float64
}

// DefaultOptions returns the association defaults.
func DefaultOptions() Options {
	return Options{
		DistanceType:         association.MultiClassEuclidean,
		DistanceThreshold:    1.0,
		ProbabilityThreshold: 0.5,
		DuplicateDistance:    1.0,
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	switch {
	case !o.DistanceType.Valid():
		return fmt.Errorf("%w: unknown distance type %d", ErrInvalidOptions, int(o.DistanceType))
	case !(o.DistanceThreshold > 0) || math.IsInf(o.DistanceThreshold, 0):
		return fmt.Errorf("%w: distance threshold %v", ErrInvalidOptions, o.DistanceThreshold)
	case !(o.ProbabilityThreshold >= 0 && o.ProbabilityThreshold <= 1):
		return fmt.Errorf("%w: probability threshold %v", ErrInvalidOptions, o.ProbabilityThreshold)
	case o.DuplicateDistance < 0 || math.IsNaN(o.DuplicateDistance):
		return fmt.Errorf("%w: duplicate distance %v", ErrInvalidOptions, o.DuplicateDistance)
	}
	return nil
}
