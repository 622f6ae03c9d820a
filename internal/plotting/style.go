// Package plotting saves figures of traces, peak fits and calibrations, and
// animates a scan from its step figures.
package plotting

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Size is the edge length of saved figures.
const Size = 15 * vg.Inch

// Formats are the file types each figure is saved as.
var Formats = []string{".png", ".svg", ".pdf"}

func prepPlot(
	title, xlabel, ylabel string,
	xrange, yrange [2]float64,
	slide bool,
) (
	*plot.Plot,
	*plotter.Line, *plotter.Line,
	error,
) {

	p := plot.New()
	p.BackgroundColor = color.RGBA{A: 0}
	p.Title.Text = title
	p.Title.TextStyle.Font.Typeface = "liberation"
	p.Title.TextStyle.Font.Variant = "Sans"

	p.X.Label.Text = xlabel
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.X.LineStyle.Width = vg.Points(1.5)
	p.X.Min = xrange[0]
	p.X.Max = xrange[1]
	p.X.Tick.LineStyle.Width = vg.Points(1.5)
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Padding = vg.Points(-8)

	p.Y.Label.Text = ylabel
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.Y.LineStyle.Width = vg.Points(1.5)
	p.Y.Min = yrange[0]
	p.Y.Max = yrange[1]
	p.Y.Tick.LineStyle.Width = vg.Points(1.5)
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Padding = vg.Points(-6)

	p.Legend.TextStyle.Font.Variant = "Sans"
	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(-25)
	p.Legend.YOffs = vg.Points(25)
	p.Legend.Padding = vg.Points(10)
	p.Legend.ThumbnailWidth = vg.Points(50)

	if slide {
		p.Title.TextStyle.Font.Size = 80
		p.Title.Padding = font.Length(80)
		p.X.Label.TextStyle.Font.Size = 56
		p.X.Label.Padding = font.Length(40)
		p.X.Tick.Label.Font.Size = 56
		p.Y.Label.TextStyle.Font.Size = 56
		p.Y.Label.Padding = font.Length(40)
		p.Y.Tick.Label.Font.Size = 56
		p.Legend.TextStyle.Font.Size = 56
	} else {
		p.Title.TextStyle.Font.Size = 50
		p.Title.Padding = font.Length(50)
		p.X.Label.TextStyle.Font.Size = 36
		p.X.Label.Padding = font.Length(20)
		p.X.Tick.Label.Font.Size = 36
		p.Y.Label.TextStyle.Font.Size = 36
		p.Y.Label.Padding = font.Length(20)
		p.Y.Tick.Label.Font.Size = 36
		p.Legend.TextStyle.Font.Size = 28
	}

	// Enclose plot
	top, err := plotter.NewLine(plotter.XYs{
		{X: xrange[0], Y: yrange[1]},
		{X: xrange[1], Y: yrange[1]},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	right, err := plotter.NewLine(plotter.XYs{
		{X: xrange[1], Y: yrange[0]},
		{X: xrange[1], Y: yrange[1]},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	top.Width = vg.Points(1.5)
	right.Width = vg.Points(1.5)

	return p, top, right, nil
}

func palette(
	brush int,
	dark bool,
) (
	color.RGBA,
) {

	if dark {
		darkColor := []color.RGBA{
			{R: 27, G: 170, B: 139, A: 255},
			{R: 201, G: 104, B: 146, A: 255},
			{R: 99, G: 124, B: 198, A: 255},
			{R: 183, G: 139, B: 89, A: 255},
			{R: 18, G: 102, B: 99, A: 255},
		}
		return darkColor[brush%len(darkColor)]
	}

	col := []color.RGBA{
		{R: 31, G: 211, B: 172, A: 255},
		{R: 255, G: 122, B: 180, A: 255},
		{R: 122, G: 156, B: 255, A: 255},
		{R: 255, G: 193, B: 122, A: 255},
		{R: 27, G: 150, B: 146, A: 255},
	}
	return col[brush%len(col)]
}

// Save writes p into dir as name.png, name.svg and name.pdf and returns
// the paths written.
func Save(
	p *plot.Plot,
	dir, name string,
) (
	[]string, error,
) {

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	var paths []string
	for _, ext := range Formats {
		path := filepath.Join(dir, name+ext)
		if err := p.Save(Size, Size, path); err != nil {
			return paths, fmt.Errorf("save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// padded widens [lo, hi] by frac of its span on each side.
func padded(lo, hi, frac float64) [2]float64 {
	d := (hi - lo) * frac
	if d == 0 {
		d = 1
	}
	return [2]float64{lo - d, hi + d}
}
