package association

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var (
	// ErrEmptyInput is returned when Match is given no tracks or no
	// measurements; callers short-circuit those cases themselves.
	ErrEmptyInput = errors.New("match needs at least one track and one measurement")
	// ErrInvalidThreshold is returned for a non-positive or NaN gate.
	ErrInvalidThreshold = errors.New("distance threshold must be positive")
)

// tieBreak scales the per-row offset that resolves equal-cost alternatives
// in favour of earlier rows (lower track ids when rows are id-ordered).
const tieBreak = 1e-9

// Assignment pairs a track index with a measurement index.
type Assignment struct {
	Track       int
	Measurement int
	Distance    float64
}

// Result is the outcome of one Match call. Every track and every
// measurement index appears exactly once across the three lists, and all
// lists are in ascending index order.
type Result struct {
	Assignments            []Assignment
	UnassignedTracks       []int
	UnassignedMeasurements []int
}

// Match assigns measurements to tracks minimising the total distance, with
// every pair whose distance exceeds threshold forbidden. Tracks should be
// ordered by ascending id: on exact cost ties the earlier track wins.
func Match(tracks, measurements []object.TrackedObject, dt DistanceType, threshold float64) (Result, error) {
	if len(tracks) == 0 || len(measurements) == 0 {
		return Result{}, fmt.Errorf("%w: %d tracks, %d measurements", ErrEmptyInput, len(tracks), len(measurements))
	}
	if !(threshold > 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}

	dist := CostMatrix(tracks, measurements, dt)

	gated := make([][]float64, len(tracks))
	for i, row := range dist {
		gated[i] = make([]float64, len(row))
		for j, d := range row {
			if d > threshold || math.IsInf(d, 0) || math.IsNaN(d) {
				gated[i][j] = math.Inf(1)
				continue
			}
			gated[i][j] = d + tieBreak*threshold*float64(i)
		}
	}

	rows := HungarianAssign(gated)

	var res Result
	assigned := make([]bool, len(measurements))
	for i, j := range rows {
		if j < 0 {
			res.UnassignedTracks = append(res.UnassignedTracks, i)
			continue
		}
		assigned[j] = true
		res.Assignments = append(res.Assignments, Assignment{Track: i, Measurement: j, Distance: dist[i][j]})
	}
	for j, ok := range assigned {
		if !ok {
			res.UnassignedMeasurements = append(res.UnassignedMeasurements, j)
		}
	}
	return res, nil
}

// CostMatrix returns the ungated distance of every track/measurement pair.
func CostMatrix(tracks, measurements []object.TrackedObject, dt DistanceType) [][]float64 {
	out := make([][]float64, len(tracks))
	for i := range tracks {
		out[i] = make([]float64, len(measurements))
		for j := range measurements {
			out[i][j] = Distance(&tracks[i], &measurements[j], dt)
		}
	}
	return out
}
