package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/clem-data/clempick/internal/correlation"
)

// RenderSpotChart writes an HTML scatter of all projected spots in
// search-system coordinates, one series per source spot set.
func RenderSpotChart(w io.Writer, projections []*correlation.SpotProjection) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Projected spots (search system)",
			Width:     "900px",
			Height:    "900px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Projected spots",
			Subtitle: fmt.Sprintf("%d spot sets in search coordinates", len(projections)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (search px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (search px)", NameLocation: "middle", NameGap: 30}),
	)

	for _, p := range projections {
		data := make([]opts.ScatterData, 0, len(p.Search))
		for i, pt := range p.Search {
			d := opts.ScatterData{Value: []interface{}{pt.X, pt.Y}}
			if i < len(p.Labels) {
				d.Name = p.Labels[i]
			}
			data = append(data, d)
		}
		scatter.AddSeries(string(p.System), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render spot chart: %w", err)
	}
	return nil
}
