// Package scan runs the calibration sequence: move, settle, capture, fit,
// record, and finally fit the calibration.
package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/HamletTheHamster/monocal/internal/acquire"
	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/peak"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

const (
	MinSteps     = 2
	MaxSteps     = 10
	DefaultSteps = 5

	// DefaultSettle is the pause after a move on stages that cannot report
	// completion.
	DefaultSettle = 100 * time.Millisecond
)

// ClampSteps limits the operator's step count to [MinSteps, MaxSteps].
func ClampSteps(n int) int {
	switch {
	case n < MinSteps:
		return MinSteps
	case n > MaxSteps:
		return MaxSteps
	}
	return n
}

// Positions returns the n stage positions visited by a scan, evenly spaced
// from 5 to span-4 units below the lower bound.
func Positions(
	lower, span float64,
	n int,
) (
	[]float64,
) {
	n = ClampSteps(n)
	pos := floats.Span(make([]float64, n), 5, span-4)
	for i := range pos {
		pos[i] = lower - pos[i]
	}
	return pos
}

// Step is reported after each observation is recorded.
type Step struct {
	Index    int
	Position float64
	Trace    acquire.Trace
	Result   peak.Result
}

// Runner holds the collaborators of a scan. Model is reset at the start
// of Run and holds the observations afterwards.
type Runner struct {
	Stage        stage.Driver
	Spectrometer spectrometer.Device
	Fitter       *peak.Fitter
	Model        *calibration.Model

	Steps  int
	Settle time.Duration
	Logger *log.Logger

	// OnStep, if set, is called after each step.
	OnStep func(Step)
}

// Run scans the stage and fits the calibration. Peak fits that do not
// converge are logged and kept; any hard error aborts the scan.
func (r *Runner) Run(ctx context.Context) (calibration.Fit, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	fitter := r.Fitter
	if fitter == nil {
		fitter = peak.NewFitter()
	}

	rng := r.Model.Range()
	positions := Positions(rng.LowerBound, rng.SpanWidth, r.steps())

	r.Model.Reset()
	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return calibration.Fit{}, err
		}

		if err := r.Stage.MoveAbsolute(ctx, pos); err != nil {
			return calibration.Fit{}, fmt.Errorf("step %d: move to %g: %w", i+1, pos, err)
		}
		if err := r.settle(ctx); err != nil {
			return calibration.Fit{}, fmt.Errorf("step %d: settle: %w", i+1, err)
		}

		tr, err := acquire.Capture(r.Spectrometer)
		if err != nil {
			return calibration.Fit{}, fmt.Errorf("step %d: %w", i+1, err)
		}

		res, err := fitter.Fit(tr.Wavelengths, tr.Intensities)
		if err != nil {
			return calibration.Fit{}, fmt.Errorf("step %d: fit peak: %w", i+1, err)
		}
		if w := res.Warning(); w != nil {
			logger.Printf("step %d at %g: %v", i+1, pos, w)
		}

		r.Model.AddPoint(pos, res.Params.Center, res.Params.FWHM())
		logger.Printf("step %d/%d: position %g, center %.4f nm, width %.4f nm",
			i+1, len(positions), pos, res.Params.Center, res.Params.FWHM())

		if r.OnStep != nil {
			r.OnStep(Step{Index: i, Position: pos, Trace: tr, Result: res})
		}
	}

	return r.Model.Fit()
}

func (r *Runner) steps() int {
	if r.Steps == 0 {
		return DefaultSteps
	}
	return r.Steps
}

func (r *Runner) settle(ctx context.Context) error {
	if w, ok := r.Stage.(stage.Waiter); ok {
		return w.WaitMoveComplete(ctx)
	}

	d := r.Settle
	if d == 0 {
		d = DefaultSettle
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
