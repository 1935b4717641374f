package sink

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/dekoninglab/grandconv/conv"
)

// writeScatter renders the divergence/convergence scatter with the
// fitted null line to convergence.png.
func (s *Sink) writeScatter(res *conv.Result, slope, intercept float64) error {
	p := plot.New()
	p.Title.Text = "Convergence vs divergence"
	p.X.Label.Text = "P(divergent)"
	p.Y.Label.Text = "P(convergent)"

	pts := make(plotter.XYs, len(res.Pairs))
	for i := range res.Pairs {
		pts[i].X = res.PDivergent[i]
		pts[i].Y = res.PConvergent[i]
	}

	if err := plotutil.AddScatters(p, "branch pairs", pts); err != nil {
		return fmt.Errorf("building scatter: %w", err)
	}

	if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
		fit := plotter.NewFunction(func(x float64) float64 {
			return slope*x + intercept
		})
		p.Add(fit)
		p.Legend.Add("null expectation", fit)
	}

	path := filepath.Join(s.userDir(), "convergence.png")
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	return writeFile(path, buf.Bytes())
}
