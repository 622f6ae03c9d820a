package spectrometer

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Line describes the spectral line a simulated spectrometer sees.
type Line struct {
	Baseline  float64
	Amplitude float64 // counts at the default integration time
	Width     float64 // nm
}

// Simulated is a spectrometer that sees one line whose wavelength follows
// the monochromator setting. Wavelength maps the current setting to the
// line center.
type Simulated struct {
	Wavelength func() float64
	Line       Line
	Noise      float64 // standard deviation of additive noise, counts
	Saturation float64

	mu     sync.Mutex
	axis   []float64
	micros int
	rnd    *rand.Rand
}

// NewSimulated returns a simulated spectrometer with n pixels spanning
// [lo, hi] nm.
func NewSimulated(lo, hi float64, n int, wavelength func() float64) *Simulated {
	return &Simulated{
		Wavelength: wavelength,
		Line:       Line{Baseline: 200, Amplitude: 2700, Width: 5},
		Saturation: 4000,
		axis:       floats.Span(make([]float64, n), lo, hi),
		micros:     DefaultIntegrationMicros,
		rnd:        rand.New(rand.NewSource(1)),
	}
}

// SetIntegrationTime scales the simulated signal.
func (s *Simulated) SetIntegrationTime(micros int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micros = ClampMicros(micros)
	return nil
}

// Wavelengths returns the pixel axis.
func (s *Simulated) Wavelengths() ([]float64, error) {
	out := make([]float64, len(s.axis))
	copy(out, s.axis)
	return out, nil
}

// Intensities renders the line at the current monochromator setting.
func (s *Simulated) Intensities() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	center := s.Wavelength()
	gain := float64(s.micros) / DefaultIntegrationMicros

	out := make([]float64, len(s.axis))
	for i, x := range s.axis {
		u := (x - center) / s.Line.Width
		v := s.Line.Baseline + gain*s.Line.Amplitude*math.Exp(-u*u)
		if s.Noise > 0 {
			v += s.rnd.NormFloat64() * s.Noise
		}
		if s.Saturation > 0 {
			v = math.Min(v, s.Saturation)
		}
		out[i] = v
	}
	return out, nil
}
