// Package liveview shows live spectra with the fitter's line shape over
// them and lets an operator reseed and refit from the keyboard.
//
// The gnuplot window is only built in with the gnuplot build tag: the
// plotting library refuses to load without gnuplot installed.
package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HamletTheHamster/monocal/internal/acquire"
	"github.com/HamletTheHamster/monocal/internal/peak"
)

const (
	spectrumGroup = "spectrum"
	fitGroup      = "fit"
)

// ErrNoDisplay is returned by Open in builds without the gnuplot tag.
var ErrNoDisplay = errors.New("liveview: built without gnuplot support, rebuild with -tags gnuplot")

// Canvas is what the view draws on. *glot.Plot satisfies it.
type Canvas interface {
	AddPointGroup(name string, style string, data interface{}) error
	RemovePointGroup(name string)
}

// Live draws the newest trace together with the fitter's current line
// shape. Reseed and AutoFit play the part of the operator's clicks on the
// plot.
type Live struct {
	Fitter *peak.Fitter

	mu     sync.Mutex
	canvas Canvas
	close  func() error
	last   acquire.Trace
	drawn  map[string]bool
}

// New returns a view drawing on c. A nil fitter gets the defaults.
func New(c Canvas, fitter *peak.Fitter) *Live {
	if fitter == nil {
		fitter = peak.NewFitter()
	}
	return &Live{Fitter: fitter, canvas: c, drawn: map[string]bool{}}
}

// Run draws every trace published to src until ctx is done.
func (l *Live) Run(ctx context.Context, src *acquire.Mailbox[acquire.Trace]) error {
	var seq uint64
	for {
		tr, s, err := src.Next(ctx, seq)
		if err != nil {
			return err
		}
		seq = s
		if err := l.Show(tr); err != nil {
			return err
		}
	}
}

// Show draws tr and the current line shape.
func (l *Live) Show(tr acquire.Trace) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = tr
	if err := l.draw(spectrumGroup, tr.Wavelengths, tr.Intensities); err != nil {
		return err
	}
	return l.drawFit(l.Fitter.Current())
}

// Reseed moves the drawn line shape to the operator's chosen center and
// amplitude without fitting.
func (l *Live) Reseed(center, amplitude float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drawFit(l.Fitter.Reseed(center, amplitude))
}

// Refit fits the last trace from the current (possibly reseeded) shape.
func (l *Live) Refit() (peak.Result, error) {
	return l.fit(l.Fitter.Refit)
}

// AutoFit fits the last trace from the automatic seed.
func (l *Live) AutoFit() (peak.Result, error) {
	return l.fit(l.Fitter.Fit)
}

func (l *Live) fit(fn func(x, y []float64) (peak.Result, error)) (peak.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := fn(l.last.Wavelengths, l.last.Intensities)
	if err != nil {
		return res, err
	}
	return res, l.drawFit(res.Params)
}

// Close closes the window, if the view has one.
func (l *Live) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

func (l *Live) drawFit(p peak.Params) error {
	x := l.last.Wavelengths
	if len(x) == 0 {
		return nil
	}
	return l.draw(fitGroup, x, p.Curve(x))
}

func (l *Live) draw(name string, x, y []float64) error {
	if l.drawn[name] {
		l.canvas.RemovePointGroup(name)
	}
	if err := l.canvas.AddPointGroup(name, "lines", [][]float64{x, y}); err != nil {
		return fmt.Errorf("draw %s: %w", name, err)
	}
	l.drawn[name] = true
	return nil
}
