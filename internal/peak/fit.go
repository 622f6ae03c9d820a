package peak

import (
	"errors"
	"fmt"
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	// DefaultHalfWindow bounds the residuals to |x - x0| < DefaultHalfWindow.
	DefaultHalfWindow = 50.

	// DefaultSeedWidth is the width every automatic seed starts from.
	DefaultSeedWidth = 1.

	// DefaultIterations caps the Levenberg-Marquardt iterations.
	DefaultIterations = 1000
)

// ErrInvalidTrace is returned for traces that cannot determine the four
// line parameters.
var ErrInvalidTrace = errors.New("peak: invalid trace")

// ConvergenceWarning reports a fit whose optimizer did not converge. The
// parameters in the Result are the best available.
type ConvergenceWarning struct {
	Params Params
	Reason string
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("peak: fit did not converge (%s), center %.4g width %.4g",
		w.Reason, w.Params.Center, w.Params.Width)
}

// Result is the outcome of a fit.
type Result struct {
	Params    Params
	Seed      Params
	Converged bool
	// SSR is the sum of squared residuals over the window.
	SSR float64
	// Points is the number of samples inside the window.
	Points int

	reason string
}

// Warning returns a *ConvergenceWarning when the fit did not converge,
// otherwise nil.
func (r Result) Warning() error {
	if r.Converged {
		return nil
	}
	return &ConvergenceWarning{Params: r.Params, Reason: r.reason}
}

// Fitter fits the line model to traces. It remembers the parameters of
// the last fit or reseed so an operator can nudge them and refit.
type Fitter struct {
	HalfWindow float64
	Iterations int

	current Params
}

// NewFitter returns a fitter with the default window and iteration cap.
func NewFitter() *Fitter {
	return &Fitter{
		HalfWindow: DefaultHalfWindow,
		Iterations: DefaultIterations,
		current:    Params{Center: 500, Width: 5},
	}
}

// Current returns the parameters of the last fit or reseed.
func (f *Fitter) Current() Params { return f.current }

// Reseed overrides the center and amplitude of the current parameters
// without fitting, as when an operator clicks on the peak. It returns the
// parameters so the seeded curve can be drawn.
func (f *Fitter) Reseed(center, amplitude float64) Params {
	f.current.Center = center
	f.current.Amplitude = amplitude
	return f.current
}

// Seed is the automatic starting point: baseline from the first sample,
// amplitude and center from the maximum.
func Seed(x, y []float64) (Params, error) {
	if err := checkTrace(x, y); err != nil {
		return Params{}, err
	}
	i := floats.MaxIdx(y)
	return Params{
		Baseline:  y[0],
		Amplitude: y[i],
		Center:    x[i],
		Width:     DefaultSeedWidth,
	}, nil
}

// Fit fits the trace from the automatic seed.
func (f *Fitter) Fit(x, y []float64) (Result, error) {
	seed, err := Seed(x, y)
	if err != nil {
		return Result{}, err
	}
	return f.FitFrom(x, y, seed)
}

// Refit fits the trace starting from the current parameters, typically
// after Reseed.
func (f *Fitter) Refit(x, y []float64) (Result, error) {
	return f.FitFrom(x, y, f.current)
}

// FitFrom fits the trace starting from seed. Only samples within
// HalfWindow of seed.Center take part.
func (f *Fitter) FitFrom(x, y []float64, seed Params) (Result, error) {
	if err := checkTrace(x, y); err != nil {
		return Result{}, err
	}
	if seed.Width == 0 {
		seed.Width = DefaultSeedWidth
	}

	wx, wy := window(x, y, seed.Center, f.halfWindow())
	if len(wx) < NumParams {
		return Result{}, fmt.Errorf("%w: %d samples within %g of %g, need %d",
			ErrInvalidTrace, len(wx), f.halfWindow(), seed.Center, NumParams)
	}

	p, converged, reason := f.minimize(wx, wy, seed)
	res := Result{
		Params:    p.normalized(),
		Seed:      seed,
		Converged: converged,
		SSR:       ssr(wx, wy, p),
		Points:    len(wx),
		reason:    reason,
	}
	f.current = res.Params
	return res, nil
}

func (f *Fitter) halfWindow() float64 {
	if f.HalfWindow <= 0 {
		return DefaultHalfWindow
	}
	return f.HalfWindow
}

func (f *Fitter) iterations() int {
	if f.Iterations <= 0 {
		return DefaultIterations
	}
	return f.Iterations
}

// minimize runs Levenberg-Marquardt. A run that stops at the iteration cap
// keeps its parameters but is reported as not converged; one that fails
// outright falls back to Nelder-Mead from the seed.
func (f *Fitter) minimize(
	wx, wy []float64,
	seed Params,
) (
	Params, bool, string,
) {

	resFunc := func(dst, guess []float64) {
		p := fromSlice(guess)
		for i := range wx {
			dst[i] = Gauss(wx[i], p) - wy[i]
		}
	}

	jacobian := &lm.NumJac{Func: resFunc}

	problem := lm.LMProblem{
		Dim:        NumParams,
		Size:       len(wx),
		Func:       resFunc,
		Jac:        jacobian.Jac,
		InitParams: seed.slice(),
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}

	x, status, err := levenbergMarquardt(problem, &lm.Settings{Iterations: f.iterations(), ObjectiveTol: 1e-16})
	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case len(x) != NumParams || !finite(x):
		reason = "levenberg-marquardt produced non-finite parameters"
	case status == optimize.StepConvergence:
		return fromSlice(x), true, ""
	default:
		return fromSlice(x), false, fmt.Sprintf("levenberg-marquardt: %v after %d iterations", status, f.iterations())
	}

	objective := optimize.Problem{
		Func: func(guess []float64) float64 {
			return ssr(wx, wy, fromSlice(guess))
		},
	}
	nm, err := optimize.Minimize(
		objective,
		seed.slice(),
		&optimize.Settings{MajorIterations: 50 * f.iterations()},
		&optimize.NelderMead{},
	)
	if nm == nil || !finite(nm.X) {
		return seed, false, reason + "; nelder-mead failed"
	}
	p := fromSlice(nm.X)
	if err != nil {
		return p, false, fmt.Sprintf("%s; nelder-mead: %v", reason, err)
	}
	if nm.Status.Early() {
		return p, false, fmt.Sprintf("%s; nelder-mead: %v", reason, nm.Status)
	}
	return p, true, ""
}

// levenbergMarquardt runs lm.LM, turning its panic on a singular normal
// matrix into an error.
func levenbergMarquardt(
	problem lm.LMProblem,
	settings *lm.Settings,
) (
	x []float64, status optimize.Status, err error,
) {

	defer func() {
		if r := recover(); r != nil {
			x, status, err = nil, optimize.Failure, fmt.Errorf("levenberg-marquardt: %v", r)
		}
	}()

	res, err := lm.LM(problem, settings)
	if err != nil {
		return nil, optimize.Failure, fmt.Errorf("levenberg-marquardt: %w", err)
	}
	return res.X, res.Status, nil
}

func checkTrace(x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d x values, %d y values", ErrInvalidTrace, len(x), len(y))
	}
	if len(x) < NumParams {
		return fmt.Errorf("%w: %d samples, need at least %d", ErrInvalidTrace, len(x), NumParams)
	}
	return nil
}

func window(
	x, y []float64,
	center, half float64,
) (
	[]float64, []float64,
) {
	var wx, wy []float64
	for i := range x {
		if math.Abs(x[i]-center) < half {
			wx = append(wx, x[i])
			wy = append(wy, y[i])
		}
	}
	return wx, wy
}

func ssr(x, y []float64, p Params) float64 {
	var sum float64
	for i := range x {
		r := Gauss(x[i], p) - y[i]
		sum += r * r
	}
	return sum
}
