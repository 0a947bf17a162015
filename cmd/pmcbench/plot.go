package main

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/viam-modules/pmsm-foc/bench"
)

// savePlot draws the named trace signals against time into a PNG file.
func savePlot(tr *bench.Trace, title, path string, names ...string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Add(plotter.NewGrid())

	for i, name := range names {
		ys := tr.Series(name)
		if len(ys) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(ys))
		for k, y := range ys {
			pts[k].X = float64(k) / tr.Freq
			pts[k].Y = y
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "plotting %s", name)
		}
		line.LineStyle.Width = vg.Points(1)
		line.Color = plotutil.Color(i)

		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "saving %s", path)
}
