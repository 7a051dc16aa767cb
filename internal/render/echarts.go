// Package render draws the sorted class probability chart for the web page,
// PNG export and the terminal.
package render

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/claimtype/internal/predictor"
)

// DefaultAssetsHost serves the echarts JavaScript.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ChartOptions controls the HTML chart.
type ChartOptions struct {
	Title      string
	Subtitle   string
	Width      string
	Height     string
	AssetsHost string
}

func (o ChartOptions) withDefaults() ChartOptions {
	if o.Title == "" {
		o.Title = "Probability Distribution"
	}
	if o.Width == "" {
		o.Width = "100%"
	}
	if o.Height == "" {
		o.Height = "360px"
	}
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	return o
}

// BarChart builds a bar chart of probs in the order given, which callers
// keep sorted from most to least likely.
func BarChart(probs []predictor.Probability, o ChartOptions) *charts.Bar {
	o = o.withDefaults()

	x := make([]string, len(probs))
	y := make([]opts.BarData, len(probs))
	for i, p := range probs {
		x[i] = p.Label
		y[i] = opts.BarData{Name: p.Label, Value: math.Round(p.Probability*1e4) / 1e4}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: o.Width, Height: o.Height, AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Claim Type", AxisLabel: &opts.AxisLabel{Interval: "0", Rotate: 30}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Probability", Min: 0, Max: 1}),
	)
	bar.SetXAxis(x).
		AddSeries("Probability", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// ChartHTML renders BarChart as a standalone HTML page.
func ChartHTML(probs []predictor.Probability, o ChartOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := BarChart(probs, o).Render(&buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}
