package report

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scenetrack/internal/trackstore"
)

// WriteCountChart renders the reliable-track count per category over time as
// an HTML line chart. Categories not sampled at an instant carry their
// previous count forward.
func WriteCountChart(w io.Writer, title string, samples []trackstore.CountSample) error {
	if len(samples) == 0 {
		return ErrNoData
	}

	var (
		instants   []time.Time
		categories []string
		counts     = make(map[string]map[time.Time]int)
	)
	for _, s := range samples {
		if _, ok := counts[s.Category]; !ok {
			counts[s.Category] = make(map[time.Time]int)
			categories = append(categories, s.Category)
		}
		counts[s.Category][s.Timestamp] = s.Tracks
		instants = append(instants, s.Timestamp)
	}
	slices.SortFunc(instants, time.Time.Compare)
	instants = slices.CompactFunc(instants, time.Time.Equal)
	slices.Sort(categories)

	start := instants[0]
	xAxis := make([]string, len(instants))
	for i, ts := range instants {
		xAxis[i] = fmt.Sprintf("%.2f", ts.Sub(start).Seconds())
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("from %s", start.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "reliable tracks"}),
	)
	line.SetXAxis(xAxis)
	for _, cat := range categories {
		data := make([]opts.LineData, len(instants))
		last := 0
		for i, ts := range instants {
			if n, ok := counts[cat][ts]; ok {
				last = n
			}
			data[i] = opts.LineData{Value: last}
		}
		line.AddSeries(cat, data)
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(line)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render count chart: %w", err)
	}
	return nil
}
