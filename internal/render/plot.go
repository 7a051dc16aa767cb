package render

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/claimtype/internal/predictor"
)

// Default PNG size.
const (
	DefaultPNGWidth  = 8 * vg.Inch
	DefaultPNGHeight = 4 * vg.Inch
)

var barColor = color.RGBA{R: 0x54, G: 0x70, B: 0xc6, A: 0xff}

// PNG writes the probability bar chart as a PNG image.
func PNG(w io.Writer, probs []predictor.Probability, width, height vg.Length) error {
	if len(probs) == 0 {
		return fmt.Errorf("no probabilities to plot")
	}
	if width <= 0 {
		width = DefaultPNGWidth
	}
	if height <= 0 {
		height = DefaultPNGHeight
	}

	p := plot.New()
	p.Title.Text = "Probability Distribution"
	p.Y.Label.Text = "Probability"
	p.Y.Min = 0
	p.Y.Max = 1

	values := make(plotter.Values, len(probs))
	labels := make([]string, len(probs))
	for i, pr := range probs {
		values[i] = pr.Probability
		labels[i] = pr.Label
	}

	bars, err := plotter.NewBarChart(values, vg.Points(28))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
