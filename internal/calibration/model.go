// Package calibration holds the stage-position/wavelength observations of a
// calibration run and the linear fit derived from them.
package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultLowerBound is the stage lower bound used when none is set.
	DefaultLowerBound = 10.

	// DefaultSpanWidth is the physical travel window of the stage.
	DefaultSpanWidth = 31.
)

// Observation is one calibration point.
type Observation struct {
	Position   float64 // stage position, instrument units
	Wavelength float64 // fitted center, nm
	Width      float64 // fitted width (FWHM proxy), nm
}

// ScanRange is the physical travel window of the stage.
type ScanRange struct {
	LowerBound float64
	SpanWidth  float64
}

// StageBounds projects the travel window through position = a + b*w and
// returns the wavelengths at its two ends.
func (r ScanRange) StageBounds(a, b float64) (lower, upper float64) {
	lower = math.Ceil((r.LowerBound - a) / b)
	upper = math.Floor((r.LowerBound - r.SpanWidth - a) / b)
	return lower, upper
}

// DefaultScanRange returns the window the instrument ships with.
func DefaultScanRange() ScanRange {
	return ScanRange{LowerBound: DefaultLowerBound, SpanWidth: DefaultSpanWidth}
}

// Fit is the affine relation position = Intercept + Slope*wavelength
// together with the wavelengths the travel window maps to.
type Fit struct {
	Slope           float64
	Intercept       float64
	LowerStageBound float64
	UpperStageBound float64
}

// Values returns the fit in file order: b, a, lower, upper.
func (f Fit) Values() [4]float64 {
	return [4]float64{f.Slope, f.Intercept, f.LowerStageBound, f.UpperStageBound}
}

// Position maps a wavelength to a stage position.
func (f Fit) Position(wavelength float64) float64 {
	return f.Intercept + f.Slope*wavelength
}

// State is the lifecycle of a Model.
type State int

const (
	Empty State = iota
	Accumulating
	Fitted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Fitted:
		return "fitted"
	}
	return "unknown"
}

// Model accumulates observations and derives a Fit from them. It is not
// safe for concurrent use; the orchestration layer owns it.
type Model struct {
	rng   ScanRange
	obs   []Observation
	fit   Fit
	state State
}

// New returns an empty model for the given travel window.
func New(rng ScanRange) *Model {
	return &Model{rng: rng}
}

// Reset discards every observation and any fit.
func (m *Model) Reset() {
	m.obs = nil
	m.fit = Fit{}
	m.state = Empty
}

// AddPoint appends an observation. Any previous fit becomes stale.
func (m *Model) AddPoint(position, wavelength, width float64) {
	m.obs = append(m.obs, Observation{
		Position:   position,
		Wavelength: wavelength,
		Width:      width,
	})
	m.state = Accumulating
}

// Len is the number of observations.
func (m *Model) Len() int { return len(m.obs) }

// State reports where the model is in its lifecycle.
func (m *Model) State() State { return m.state }

// Range returns the travel window used for the stage bounds.
func (m *Model) Range() ScanRange { return m.rng }

// SetLowerBound moves the travel window. The bounds of a current fit
// depend on it, so the fit is invalidated.
func (m *Model) SetLowerBound(mm float64) {
	m.rng.LowerBound = mm
	if m.state == Fitted {
		m.state = Accumulating
	}
}

// Observations returns a copy of the observations in insertion order.
func (m *Model) Observations() []Observation {
	out := make([]Observation, len(m.obs))
	copy(out, m.obs)
	return out
}

// Columns splits the observations into positions, wavelengths and widths.
func (m *Model) Columns() (
	positions, wavelengths, widths []float64,
) {
	positions = make([]float64, len(m.obs))
	wavelengths = make([]float64, len(m.obs))
	widths = make([]float64, len(m.obs))
	for i, o := range m.obs {
		positions[i] = o.Position
		wavelengths[i] = o.Wavelength
		widths[i] = o.Width
	}
	return positions, wavelengths, widths
}

// Fit regresses position on wavelength by ordinary least squares and
// derives the stage bounds from the travel window. The result is cached
// until the next AddPoint, Reset or SetLowerBound.
func (m *Model) Fit() (Fit, error) {
	if len(m.obs) < 2 {
		return Fit{}, ErrInsufficientData
	}

	positions, wavelengths, _ := m.Columns()
	if degenerate(wavelengths) {
		return Fit{}, ErrDegenerateFit
	}

	a, b := stat.LinearRegression(wavelengths, positions, nil, false)
	// The bounds divide by the slope.
	if b == 0 || math.IsNaN(b) || math.IsInf(b, 0) {
		return Fit{}, ErrDegenerateFit
	}

	lower, upper := m.rng.StageBounds(a, b)
	m.fit = Fit{
		Slope:           b,
		Intercept:       a,
		LowerStageBound: lower,
		UpperStageBound: upper,
	}
	m.state = Fitted
	return m.fit, nil
}

// Current returns the cached fit, or ErrNotFitted.
func (m *Model) Current() (Fit, error) {
	if m.state != Fitted {
		return Fit{}, ErrNotFitted
	}
	return m.fit, nil
}

// PositionForWavelength maps a wavelength through the current fit. No
// range check is made; see InRange.
func (m *Model) PositionForWavelength(lam float64) (float64, error) {
	if m.state != Fitted {
		return 0, ErrNotFitted
	}
	return m.fit.Position(lam), nil
}

// InRange reports whether lam lies between the stage bounds of the
// current fit. It is false when the model is not fitted.
func (m *Model) InRange(lam float64) bool {
	if m.state != Fitted {
		return false
	}
	lo := math.Min(m.fit.LowerStageBound, m.fit.UpperStageBound)
	hi := math.Max(m.fit.LowerStageBound, m.fit.UpperStageBound)
	return lam >= lo && lam <= hi
}

func degenerate(wavelengths []float64) bool {
	return floats.Min(wavelengths) == floats.Max(wavelengths)
}
