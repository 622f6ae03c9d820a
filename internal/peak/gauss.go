// Package peak fits a single Gaussian line to a spectral trace.
package peak

import "math"

// NumParams is the number of free parameters in the line model.
const NumParams = 4

// Params are the parameters of
//
//	I(x) = |Baseline| + |Amplitude| * exp(-((x - Center)/Width)^2)
type Params struct {
	Baseline  float64
	Amplitude float64
	Center    float64
	Width     float64
}

// Gauss evaluates the line model at x.
func Gauss(
	x float64,
	p Params,
) (
	float64,
) {
	u := (x - p.Center) / p.Width
	return math.Abs(p.Baseline) + math.Abs(p.Amplitude)*math.Exp(-u*u)
}

// Curve evaluates the model at every x.
func (p Params) Curve(xs []float64) []float64 {
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = Gauss(x, p)
	}
	return ys
}

// FWHM is the width proxy recorded for a calibration point.
func (p Params) FWHM() float64 {
	return math.Abs(p.Width)
}

// normalized returns the equivalent parameters with non-negative
// baseline, amplitude and width.
func (p Params) normalized() Params {
	return Params{
		Baseline:  math.Abs(p.Baseline),
		Amplitude: math.Abs(p.Amplitude),
		Center:    p.Center,
		Width:     math.Abs(p.Width),
	}
}

func (p Params) slice() []float64 {
	return []float64{p.Baseline, p.Amplitude, p.Center, p.Width}
}

func fromSlice(x []float64) Params {
	return Params{Baseline: x[0], Amplitude: x[1], Center: x[2], Width: x[3]}
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
