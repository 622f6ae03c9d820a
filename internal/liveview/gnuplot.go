//go:build gnuplot

package liveview

import (
	"fmt"

	"github.com/Arafatk/glot"

	"github.com/HamletTheHamster/monocal/internal/peak"
)

// Open opens a gnuplot window for the view.
func Open(fitter *peak.Fitter) (*Live, error) {
	p, err := glot.NewPlot(2, false, false)
	if err != nil {
		return nil, fmt.Errorf("start gnuplot: %w", err)
	}
	p.SetTitle("Spectrum")
	p.SetXLabel("Wavelength (nm)")
	p.SetYLabel("Counts")
	p.SetYrange(0, 4000)

	l := New(p, fitter)
	l.close = p.Close
	return l, nil
}
