package association

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var car = classification.Vector{0.9, 0.05, 0.05}

func obj(x, y float64, class classification.Vector) object.TrackedObject {
	return object.TrackedObject{X: x, Y: y, Length: 4, Width: 2, Height: 1.5, Classification: class}
}

func TestHungarianAssign_Empty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, HungarianAssign(nil))
	assert.Equal(t, []int{-1, -1}, HungarianAssign([][]float64{{}, {}}))
}

func TestHungarianAssign_SingleElement(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{0}, HungarianAssign([][]float64{{5}}))
}

func TestHungarianAssign_SquareOptimal(t *testing.T) {
	t.Parallel()

	// Optimal: row0→col0 (1), row1→col1 (4), row2→col2 (5) = 10.
	// Greedy row-by-row would pick 1 + 4 + 5 as well, but the permutation
	// row0→col1, row1→col0 (2 + 4) must not be preferred.
	cost := [][]float64{
		{1, 2, 3},
		{4, 4, 6},
		{9, 8, 5},
	}
	result := HungarianAssign(cost)
	require.Len(t, result, 3)

	var total float64
	for i, j := range result {
		require.GreaterOrEqual(t, j, 0, "row %d unassigned", i)
		total += cost[i][j]
	}
	assert.Equal(t, 10.0, total)
}

func TestHungarianAssign_GlobalBeatsGreedy(t *testing.T) {
	t.Parallel()

	// Greedy takes row0→col0 (1) and leaves row1 with 100.
	cost := [][]float64{
		{1, 2},
		{2, 100},
	}
	assert.Equal(t, []int{1, 0}, HungarianAssign(cost))
}

func TestHungarianAssign_Forbidden(t *testing.T) {
	t.Parallel()

	inf := math.Inf(1)
	cost := [][]float64{
		{inf, inf},
		{inf, 1},
	}
	assert.Equal(t, []int{-1, 1}, HungarianAssign(cost))

	// A forbidden cheap pair must not displace an admissible one.
	cost = [][]float64{
		{1, inf},
		{2, inf},
	}
	result := HungarianAssign(cost)
	assert.Equal(t, 1, countAssigned(result))
}

func TestHungarianAssign_Rectangular(t *testing.T) {
	t.Parallel()

	moreRows := HungarianAssign([][]float64{{1}, {0.5}, {2}})
	assert.Equal(t, []int{-1, 0, -1}, moreRows)

	moreCols := HungarianAssign([][]float64{{3, 1, 2}})
	assert.Equal(t, []int{1}, moreCols)
}

func countAssigned(r []int) int {
	n := 0
	for _, j := range r {
		if j >= 0 {
			n++
		}
	}
	return n
}

func TestMatch_Gating(t *testing.T) {
	t.Parallel()

	tracks := []object.TrackedObject{obj(0, 0, car), obj(10, 10, car)}
	measurements := []object.TrackedObject{obj(-1, 1, car), obj(10.5, 9.5, car), obj(5, 5, car)}

	t.Run("wide gate", func(t *testing.T) {
		res, err := Match(tracks, measurements, MultiClassEuclidean, 10)
		require.NoError(t, err)
		require.Len(t, res.Assignments, 2)
		assert.Equal(t, 0, res.Assignments[0].Track)
		assert.Equal(t, 0, res.Assignments[0].Measurement)
		assert.Equal(t, 1, res.Assignments[1].Track)
		assert.Equal(t, 1, res.Assignments[1].Measurement)
		assert.Empty(t, res.UnassignedTracks)
		assert.Equal(t, []int{2}, res.UnassignedMeasurements)
	})

	t.Run("narrow gate", func(t *testing.T) {
		res, err := Match(tracks, measurements, MultiClassEuclidean, 1)
		require.NoError(t, err)
		require.Len(t, res.Assignments, 1)
		assert.Equal(t, Assignment{Track: 1, Measurement: 1, Distance: res.Assignments[0].Distance}, res.Assignments[0])
		assert.InDelta(t, math.Sqrt(0.5), res.Assignments[0].Distance, 1e-9)
		assert.Equal(t, []int{0}, res.UnassignedTracks)
		assert.Equal(t, []int{0, 2}, res.UnassignedMeasurements)
	})
}

func TestMatch_FarMeasurementIsNeverForced(t *testing.T) {
	t.Parallel()

	res, err := Match([]object.TrackedObject{obj(0, 0, car)}, []object.TrackedObject{obj(100, 0, car)}, Euclidean, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Equal(t, []int{0}, res.UnassignedTracks)
	assert.Equal(t, []int{0}, res.UnassignedMeasurements)
}

func TestMatch_Partition(t *testing.T) {
	t.Parallel()

	tracks := []object.TrackedObject{obj(0, 0, car), obj(3, 0, car), obj(6, 0, car), obj(50, 50, car)}
	measurements := []object.TrackedObject{obj(0.2, 0, car), obj(5.9, 0.1, car), obj(3.1, 0, car), obj(-40, 0, car), obj(3.3, 0.2, car)}

	res, err := Match(tracks, measurements, Euclidean, 1)
	require.NoError(t, err)

	seenT := map[int]int{}
	seenM := map[int]int{}
	for _, a := range res.Assignments {
		seenT[a.Track]++
		seenM[a.Measurement]++
	}
	for _, i := range res.UnassignedTracks {
		seenT[i]++
	}
	for _, j := range res.UnassignedMeasurements {
		seenM[j]++
	}
	for i := range tracks {
		assert.Equal(t, 1, seenT[i], "track %d", i)
	}
	for j := range measurements {
		assert.Equal(t, 1, seenM[j], "measurement %d", j)
	}
	assert.Equal(t, []int{3}, res.UnassignedTracks)
	assert.Equal(t, []int{3, 4}, res.UnassignedMeasurements)
}

func TestMatch_TieGoesToEarlierTrack(t *testing.T) {
	t.Parallel()

	// Both tracks are exactly 1 m from the only measurement.
	tracks := []object.TrackedObject{obj(-1, 0, car), obj(1, 0, car)}
	res, err := Match(tracks, []object.TrackedObject{obj(0, 0, car)}, Euclidean, 2)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, 0, res.Assignments[0].Track)
	assert.Equal(t, []int{1}, res.UnassignedTracks)
}

func TestMatch_Errors(t *testing.T) {
	t.Parallel()

	one := []object.TrackedObject{obj(0, 0, car)}
	_, err := Match(nil, one, Euclidean, 1)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = Match(one, nil, Euclidean, 1)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = Match(one, one, Euclidean, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	_, err = Match(one, one, Euclidean, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestDistance_ClassAware(t *testing.T) {
	t.Parallel()

	bike := classification.Vector{0.05, 0.9, 0.05}
	track := obj(0, 0, car)
	sameClass := obj(3, 4, car)
	otherClass := obj(3, 4, bike)

	assert.InDelta(t, 5.0, Distance(&track, &sameClass, Euclidean), 1e-12)
	assert.InDelta(t, 5.0, Distance(&track, &otherClass, Euclidean), 1e-12)
	assert.InDelta(t, 5.0, Distance(&track, &sameClass, MultiClassEuclidean), 1e-6)
	assert.Greater(t, Distance(&track, &otherClass, MultiClassEuclidean), 5.0)

	oneHotCar := obj(0, 0, classification.Vector{1, 0, 0})
	oneHotBike := obj(0.1, 0, classification.Vector{0, 1, 0})
	assert.True(t, math.IsInf(Distance(&oneHotCar, &oneHotBike, MultiClassEuclidean), 1))

	mismatched := obj(0, 0, classification.Vector{1})
	assert.True(t, math.IsInf(Distance(&track, &mismatched, MultiClassEuclidean), 1))
}

func withPrediction(o object.TrackedObject, variance float64) object.TrackedObject {
	const n = object.MeasurementSize
	o.PredictedMeasurementMean = o.MeasurementVector()
	o.PredictedMeasurementCov = make([]float64, n*n)
	for i := 0; i < n; i++ {
		o.PredictedMeasurementCov[i*n+i] = variance
	}
	return o
}

func TestDistance_Mahalanobis(t *testing.T) {
	t.Parallel()

	track := withPrediction(obj(0, 0, car), 4) // σ = 2
	m := obj(2, 0, car)

	assert.InDelta(t, 1.0, Distance(&track, &m, Mahalanobis), 1e-9)
	assert.InDelta(t, 1.0, Distance(&track, &m, MCEMahalanobis), 1e-6)

	// a front-to-back flip is a full π yaw innovation, as in the filter
	flipped := obj(0, 0, car)
	flipped.Yaw = math.Pi
	assert.InDelta(t, math.Pi/2, Distance(&track, &flipped, Mahalanobis), 1e-9)

	// headings either side of the branch cut are close
	nearCut := withPrediction(obj(0, 0, car), 4)
	nearCut.PredictedMeasurementMean[object.MeasYaw] = math.Pi - 0.1
	acrossCut := obj(0, 0, car)
	acrossCut.Yaw = -math.Pi + 0.1
	assert.InDelta(t, 0.1, Distance(&nearCut, &acrossCut, Mahalanobis), 1e-9)

	// tighter uncertainty means a larger distance for the same offset
	tight := withPrediction(obj(0, 0, car), 1)
	assert.InDelta(t, 2.0, Distance(&tight, &m, Mahalanobis), 1e-9)

	unpredicted := obj(0, 0, car)
	assert.True(t, math.IsInf(Distance(&unpredicted, &m, Mahalanobis), 1))
}

func TestDistanceType_Parse(t *testing.T) {
	t.Parallel()

	for _, d := range []DistanceType{MultiClassEuclidean, Euclidean, Mahalanobis, MCEMahalanobis} {
		got, err := ParseDistanceType(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDistanceType("manhattan")
	assert.Error(t, err)
	assert.True(t, math.IsInf(Distance(&object.TrackedObject{}, &object.TrackedObject{}, DistanceType(42)), 1))
}
