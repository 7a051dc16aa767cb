package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/claimtype/internal/predictor"
)

// TextBars renders one line per class: label, a bar of up to width cells and
// the probability.
func TextBars(probs []predictor.Probability, width int) string {
	if width <= 0 {
		width = 40
	}
	labelWidth := 0
	for _, p := range probs {
		labelWidth = max(labelWidth, len(p.Label))
	}

	var b strings.Builder
	for _, p := range probs {
		v := p.Probability
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(0, math.Min(1, v))
		n := int(math.Round(v * float64(width)))
		fmt.Fprintf(&b, "%-*s %s%s %.4f\n", labelWidth, p.Label,
			strings.Repeat("█", n), strings.Repeat(" ", width-n), p.Probability)
	}
	return b.String()
}
