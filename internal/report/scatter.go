package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/clem-data/clempick/internal/geom"
)

// SaveMarkerScatter renders the fit-quality plot: measured overview
// markers against the LM markers pushed through the fitted transform.
// Tight overlap means a good fit; systematic offsets show up directly.
func SaveMarkerScatter(path string, overview, transformedLM geom.Points) error {
	p := plot.New()
	p.Title.Text = "Marker residuals"
	p.X.Label.Text = "X (overview px)"
	p.Y.Label.Text = "Y (overview px)"

	measured, err := plotter.NewScatter(toXYs(overview))
	if err != nil {
		return fmt.Errorf("measured series: %w", err)
	}
	measured.GlyphStyle.Color = color.RGBA{B: 200, A: 255}
	measured.GlyphStyle.Radius = vg.Points(3)

	projected, err := plotter.NewScatter(toXYs(transformedLM))
	if err != nil {
		return fmt.Errorf("projected series: %w", err)
	}
	projected.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	projected.GlyphStyle.Radius = vg.Points(2)

	p.Add(measured, projected)
	p.Legend.Add("overview markers", measured)
	p.Legend.Add("transformed LM markers", projected)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save marker scatter: %w", err)
	}
	return nil
}

func toXYs(points geom.Points) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
	}
	return xys
}
