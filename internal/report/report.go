package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/security"
	"github.com/banshee-data/scenetrack/internal/trackstore"
)

var logf = monitoring.Component("report")

// CountChartFile is the name of the track-count chart within the output
// directory.
const CountChartFile = "track_counts.html"

// Files lists what Generate wrote.
type Files struct {
	Trajectories []string
	CountChart   string
}

// Generate writes one trajectory plot per category and a track-count chart
// for runID into dir, creating dir if needed. Categories without recorded
// positions get no plot.
func Generate(ctx context.Context, store *trackstore.Store, runID uuid.UUID, dir string) (Files, error) {
	var out Files
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("create report dir: %w", err)
	}

	keys, err := store.RunTrackIDs(ctx, runID)
	if err != nil {
		return out, err
	}
	byCategory := make(map[string][]Trajectory)
	var categories []string
	for _, k := range keys {
		hist, err := store.TrackHistory(ctx, runID, k)
		if err != nil {
			return out, err
		}
		if _, ok := byCategory[k.Category]; !ok {
			categories = append(categories, k.Category)
		}
		byCategory[k.Category] = append(byCategory[k.Category], Trajectory{
			Label:  fmt.Sprintf("%s/%d", k.Category, k.TrackID),
			Points: hist,
		})
	}

	// RunTrackIDs orders by category, so categories is already sorted.
	for _, cat := range categories {
		path := filepath.Join(dir, "trajectories_"+security.SanitizeFilename(cat)+".png")
		title := fmt.Sprintf("%s trajectories (run %s)", cat, runID)
		err := WriteTrajectoryPlot(path, title, byCategory[cat])
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return out, err
		}
		out.Trajectories = append(out.Trajectories, path)
	}

	samples, err := store.TrackCounts(ctx, runID)
	if err != nil {
		return out, err
	}
	if len(samples) == 0 {
		logf("run %s has no snapshots; skipping count chart", runID)
		return out, nil
	}
	path := filepath.Join(dir, CountChartFile)
	f, err := os.Create(path)
	if err != nil {
		return out, fmt.Errorf("create count chart: %w", err)
	}
	if err := WriteCountChart(f, fmt.Sprintf("Reliable tracks (run %s)", runID), samples); err != nil {
		f.Close()
		return out, err
	}
	if err := f.Close(); err != nil {
		return out, fmt.Errorf("close count chart: %w", err)
	}
	out.CountChart = path
	return out, nil
}
