package association

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// DistanceType selects the metric used to build the cost matrix.
type DistanceType int

const (
	// MultiClassEuclidean is the planar distance divided by the class
	// similarity, so class-incompatible pairs are pushed past any gate.
	MultiClassEuclidean DistanceType = iota
	// Euclidean is the planar (x, y) distance in metres.
	Euclidean
	// Mahalanobis is √(νᵀS⁻¹ν) over the full measurement vector using the
	// track's predicted measurement mean and covariance.
	Mahalanobis
	// MCEMahalanobis is the Mahalanobis distance divided by the class similarity.
	MCEMahalanobis
)

// minSimilarity below which a pair counts as class-incompatible.
const minSimilarity = 1e-9

var distanceTypeNames = map[DistanceType]string{
	MultiClassEuclidean: "MultiClassEuclidean",
	Euclidean:           "Euclidean",
	Mahalanobis:         "Mahalanobis",
	MCEMahalanobis:      "MCEMahalanobis",
}

func (d DistanceType) String() string {
	if name, ok := distanceTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DistanceType(%d)", int(d))
}

// Valid reports whether d is one of the defined metrics.
func (d DistanceType) Valid() bool {
	_, ok := distanceTypeNames[d]
	return ok
}

// ParseDistanceType accepts the names returned by String, case-insensitively.
func ParseDistanceType(s string) (DistanceType, error) {
	for d, name := range distanceTypeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown distance type %q", s)
}

// Distance returns the distance between a track estimate and a measurement.
// Undefined results (missing predicted covariance, mismatched class vectors,
// NaN) are +Inf, and counted, so the pair is simply never matched.
func Distance(track, measurement *object.TrackedObject, dt DistanceType) float64 {
	var d float64
	switch dt {
	case Euclidean:
		d = planar(track, measurement)
	case MultiClassEuclidean:
		d = classScaled(planar(track, measurement), track, measurement)
	case Mahalanobis:
		d = mahalanobis(track, measurement)
	case MCEMahalanobis:
		d = classScaled(mahalanobis(track, measurement), track, measurement)
	default:
		d = math.NaN()
	}
	if math.IsNaN(d) {
		monitoring.Default.Inc(monitoring.NonFiniteDistances)
		return math.Inf(1)
	}
	return d
}

func planar(a, b *object.TrackedObject) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func classScaled(d float64, track, measurement *object.TrackedObject) float64 {
	sim, err := classification.Similarity(track.Classification, measurement.Classification)
	if err != nil {
		return math.NaN()
	}
	if sim < minSimilarity {
		return math.Inf(1)
	}
	return d / sim
}

func mahalanobis(track, measurement *object.TrackedObject) float64 {
	const n = object.MeasurementSize
	if len(track.PredictedMeasurementMean) != n || len(track.PredictedMeasurementCov) != n*n {
		return math.NaN()
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(track.PredictedMeasurementCov[i*n+j]+track.PredictedMeasurementCov[j*n+i]))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return math.NaN()
	}

	z := measurement.MeasurementVector()
	nu := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		nu.SetVec(i, z[i]-track.PredictedMeasurementMean[i])
	}
	// Wrapped as in the filter's innovation.
	nu.SetVec(object.MeasYaw, object.AngleDifference(z[object.MeasYaw], track.PredictedMeasurementMean[object.MeasYaw]))

	var w mat.VecDense
	if err := chol.SolveVecTo(&w, nu); err != nil {
		return math.NaN()
	}
	return math.Sqrt(math.Max(0, mat.Dot(nu, &w)))
}
