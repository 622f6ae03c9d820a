package plotting

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/peak"
)

// TracePlot draws a spectrum with the fitted line shape over it.
func TracePlot(
	title string,
	x, y []float64,
	fit peak.Params,
	slide bool,
) (
	*plot.Plot, error,
) {

	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("plotting: trace has %d wavelengths and %d intensities", len(x), len(y))
	}

	xrange := [2]float64{floats.Min(x), floats.Max(x)}
	yrange := padded(0, floats.Max(y), 0.05)
	yrange[0] = 0

	p, t, r, err := prepPlot(title, "Wavelength (nm)", "Counts", xrange, yrange, slide)
	if err != nil {
		return nil, err
	}

	spectrum, err := plotter.NewLine(xys(x, y))
	if err != nil {
		return nil, err
	}
	spectrum.Color = palette(2, false)
	spectrum.Width = vg.Points(2)

	curve, err := plotter.NewLine(xys(x, fit.Curve(x)))
	if err != nil {
		return nil, err
	}
	curve.Color = palette(1, true)
	curve.Width = vg.Points(3)

	p.Add(spectrum, curve, t, r)
	p.Legend.Add("Spectrum", spectrum)
	p.Legend.Add(fmt.Sprintf("Fit: %.2f nm, width %.2f nm", fit.Center, fit.FWHM()), curve)
	return p, nil
}

// CalibrationPlot draws the observations as position against wavelength
// with the fitted line through them.
func CalibrationPlot(
	obs []calibration.Observation,
	fit calibration.Fit,
	slide bool,
) (
	*plot.Plot, error,
) {

	if len(obs) == 0 {
		return nil, fmt.Errorf("plotting: no observations")
	}

	w := make([]float64, len(obs))
	pos := make([]float64, len(obs))
	for i, o := range obs {
		w[i], pos[i] = o.Wavelength, o.Position
	}

	xrange := padded(floats.Min(w), floats.Max(w), 0.1)
	lo, hi := fit.Position(xrange[0]), fit.Position(xrange[1])
	if lo > hi {
		lo, hi = hi, lo
	}
	yrange := padded(min(lo, floats.Min(pos)), max(hi, floats.Max(pos)), 0.05)

	p, t, r, err := prepPlot("Calibration", "Wavelength (nm)", "Stage position (mm)", xrange, yrange, slide)
	if err != nil {
		return nil, err
	}

	points, err := plotter.NewScatter(xys(w, pos))
	if err != nil {
		return nil, err
	}
	points.GlyphStyle.Color = palette(0, false)
	points.GlyphStyle.Radius = vg.Points(5)
	points.Shape = draw.CircleGlyph{}

	line, err := plotter.NewLine(plotter.XYs{
		{X: xrange[0], Y: fit.Position(xrange[0])},
		{X: xrange[1], Y: fit.Position(xrange[1])},
	})
	if err != nil {
		return nil, err
	}
	line.Color = palette(0, true)
	line.Width = vg.Points(2)

	p.Add(line, points, t, r)
	p.Legend.Add("Observations", points)
	p.Legend.Add(fmt.Sprintf("%.4g + %.4g λ", fit.Intercept, fit.Slope), line)
	return p, nil
}

// SaveTrace renders TracePlot into dir.
func SaveTrace(dir, name string, x, y []float64, fit peak.Params, slide bool) ([]string, error) {
	p, err := TracePlot(name, x, y, fit, slide)
	if err != nil {
		return nil, err
	}
	return Save(p, dir, name)
}

// SaveCalibration renders CalibrationPlot into dir.
func SaveCalibration(dir, name string, obs []calibration.Observation, fit calibration.Fit, slide bool) ([]string, error) {
	p, err := CalibrationPlot(obs, fit, slide)
	if err != nil {
		return nil, err
	}
	return Save(p, dir, name)
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}
