// Package report renders persisted tracking runs as a trajectory plot (PNG,
// gonum/plot) and a track-count chart (HTML, go-echarts).
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scenetrack/internal/trackstore"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("report: no data")

// Trajectory is the ground-plane path of one track.
type Trajectory struct {
	Label  string
	Points []trackstore.Point
}

// WriteTrajectoryPlot draws every trajectory as a line in the X/Y plane with
// a marker at its latest position and saves the plot to path. The image
// format follows the file extension.
func WriteTrajectoryPlot(path, title string, trajectories []Trajectory) error {
	n := 0
	for _, tr := range trajectories {
		n += len(tr.Points)
	}
	if n == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	colors := palette(len(trajectories))
	for i, tr := range trajectories {
		if len(tr.Points) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(tr.Points))
		for j, pt := range tr.Points {
			xys[j].X, xys[j].Y = pt.X, pt.Y
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("trajectory %s: %w", tr.Label, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)

		head, err := plotter.NewScatter(xys[len(xys)-1:])
		if err != nil {
			return fmt.Errorf("trajectory %s head: %w", tr.Label, err)
		}
		head.GlyphStyle.Color = colors[i]
		head.GlyphStyle.Shape = draw.CircleGlyph{}
		head.GlyphStyle.Radius = vg.Points(2.5)

		p.Add(line, head)
		p.Legend.Add(tr.Label, line)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// palette returns n visually distinct colours spaced by the golden angle in
// hue.
func palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	const goldenAngle = 0.381966
	out := make([]color.Color, n)
	for i := range out {
		h := math.Mod(float64(i)*goldenAngle, 1)
		r, g, b := hslToRGB(h, 0.65, 0.45)
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	channel := func(t float64) uint8 {
		t = t - math.Floor(t)
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}
	return channel(h + 1.0/3), channel(h), channel(h - 1.0/3)
}
