package mot

import (
	"errors"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// fuseMeasurements merges detections of one object seen by several cameras
// in the same cycle into a single measurement. Kinematics and extents are
// averaged, yaw is averaged relative to the first detection modulo π, class
// vectors are combined and attributes merged with later cameras winning.
func fuseMeasurements(ms []object.TrackedObject) object.TrackedObject {
	out := ms[0].Clone()
	if len(ms) == 1 {
		return out
	}

	sum := out.StateVector()
	yawRef := out.Yaw
	yawOffset := 0.0
	for i := 1; i < len(ms); i++ {
		floats.Add(sum, ms[i].StateVector())
		yawOffset += object.DeltaTheta(ms[i].Yaw, yawRef)

		switch {
		case len(ms[i].Classification) == 0:
		case len(out.Classification) == 0:
			out.Classification = ms[i].Classification.Clone()
		default:
			combined, err := classification.Combine(out.Classification, ms[i].Classification)
			switch {
			case err == nil:
				out.Classification = combined
			case errors.Is(err, classification.ErrDegenerate):
				monitoring.Default.Inc(monitoring.DegenerateClassUpdate)
			}
		}
		if ms[i].Attributes != nil {
			if out.Attributes == nil {
				out.Attributes = &object.Attributes{}
			}
			out.Attributes.Merge(ms[i].Attributes)
		}
	}
	n := float64(len(ms))
	floats.Scale(1/n, sum)
	sum[object.IdxYaw] = yawRef + yawOffset/n
	_ = out.SetStateVector(sum)
	return out
}
