//go:build !gnuplot

package liveview

import "github.com/HamletTheHamster/monocal/internal/peak"

// Open reports ErrNoDisplay; this build has no gnuplot window.
func Open(*peak.Fitter) (*Live, error) {
	return nil, ErrNoDisplay
}
