package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearModel(a, b float64, wavelengths ...float64) *Model {
	m := New(DefaultScanRange())
	for _, w := range wavelengths {
		m.AddPoint(a+b*w, w, 1.5)
	}
	return m
}

func TestFitRecoversExactLine(t *testing.T) {
	sets := [][]float64{
		{400, 500},
		{400, 450, 500, 620},
		{531.2, 402.7, 655.1, 580.9, 499.3, 610.4},
	}
	for _, ws := range sets {
		m := linearModel(3, 2, ws...)
		fit, err := m.Fit()
		require.NoError(t, err)
		assert.InDelta(t, 2.0, fit.Slope, 1e-9, "slope for %v", ws)
		assert.InDelta(t, 3.0, fit.Intercept, 1e-9, "intercept for %v", ws)
		assert.Equal(t, Fitted, m.State())
	}
}

func TestFitIgnoresObservationOrder(t *testing.T) {
	fwd := linearModel(-4, 0.3, 410, 470, 530, 590)
	rev := linearModel(-4, 0.3, 590, 530, 470, 410)

	a, err := fwd.Fit()
	require.NoError(t, err)
	b, err := rev.Fit()
	require.NoError(t, err)

	assert.InDelta(t, a.Slope, b.Slope, 1e-12)
	assert.InDelta(t, a.Intercept, b.Intercept, 1e-9)
}

func TestStageBounds(t *testing.T) {
	rng := ScanRange{LowerBound: 10, SpanWidth: 31}
	cases := []struct {
		a, b         float64
		lower, upper float64
	}{
		{a: 3, b: 2, lower: 4, upper: -12},          // ceil(3.5), floor(-12)
		{a: 20, b: -0.5, lower: 20, upper: 82},      // ceil(20), floor(82)
		{a: -100, b: 0.25, lower: 440, upper: 316},  // ceil(440), floor(316)
		{a: 1.5, b: -0.04, lower: -212, upper: 562}, // ceil(-212.5), floor(562.5)
		{a: 0, b: 0.375, lower: 27, upper: -56},     // ceil(26.7), floor(-56)
	}
	for _, c := range cases {
		lower, upper := rng.StageBounds(c.a, c.b)
		assert.Equal(t, c.lower, lower, "lower for a=%g b=%g", c.a, c.b)
		assert.Equal(t, c.upper, upper, "upper for a=%g b=%g", c.a, c.b)
	}
}

func TestFitDerivesBounds(t *testing.T) {
	// Non-integer quotients so regression rounding cannot move ceil/floor.
	m := linearModel(-100, 0.3, 400, 500, 600)
	fit, err := m.Fit()
	require.NoError(t, err)

	assert.Equal(t, 367., fit.LowerStageBound) // ceil(366.67)
	assert.Equal(t, 263., fit.UpperStageBound) // floor(263.33)
}

func TestFitInsufficientData(t *testing.T) {
	m := New(DefaultScanRange())
	_, err := m.Fit()
	require.ErrorIs(t, err, ErrInsufficientData)

	m.AddPoint(12, 500, 1)
	_, err = m.Fit()
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, Accumulating, m.State())
}

func TestFitDegenerate(t *testing.T) {
	m := New(DefaultScanRange())
	m.AddPoint(12, 500.1, 1)
	m.AddPoint(14, 500.1, 1)
	m.AddPoint(16, 500.1, 1)

	_, err := m.Fit()
	require.ErrorIs(t, err, ErrDegenerateFit)
	assert.Equal(t, 3, m.Len())
}

func TestLifecycle(t *testing.T) {
	m := New(DefaultScanRange())
	assert.Equal(t, Empty, m.State())

	_, err := m.PositionForWavelength(500)
	require.ErrorIs(t, err, ErrNotFitted)

	m.AddPoint(5, 400, 1)
	m.AddPoint(7, 500, 1)
	assert.Equal(t, Accumulating, m.State())

	_, err = m.Fit()
	require.NoError(t, err)
	assert.Equal(t, Fitted, m.State())

	pos, err := m.PositionForWavelength(450)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, pos, 1e-9)

	// A new point makes the fit stale.
	m.AddPoint(9, 600, 1)
	assert.Equal(t, Accumulating, m.State())
	_, err = m.Current()
	require.ErrorIs(t, err, ErrNotFitted)

	m.Reset()
	assert.Equal(t, Empty, m.State())
	assert.Zero(t, m.Len())
}

func TestPositionForWavelengthExtrapolates(t *testing.T) {
	m := linearModel(3, 2, 400, 500)
	_, err := m.Fit()
	require.NoError(t, err)

	pos, err := m.PositionForWavelength(2000)
	require.NoError(t, err)
	assert.InDelta(t, 4003.0, pos, 1e-6)
	assert.False(t, m.InRange(2000))
}

func TestInRange(t *testing.T) {
	m := linearModel(-100, 0.3, 400, 500, 600)
	assert.False(t, m.InRange(300), "unfitted model")

	_, err := m.Fit()
	require.NoError(t, err)

	assert.True(t, m.InRange(300))
	assert.True(t, m.InRange(263))
	assert.False(t, m.InRange(262))
	assert.False(t, m.InRange(368))
}

func TestSetLowerBoundInvalidatesFit(t *testing.T) {
	m := linearModel(3, 2, 400, 500)
	before, err := m.Fit()
	require.NoError(t, err)

	m.SetLowerBound(12)
	assert.Equal(t, Accumulating, m.State())

	after, err := m.Fit()
	require.NoError(t, err)
	assert.Equal(t, before.Slope, after.Slope)
	assert.Equal(t, 5., after.LowerStageBound) // ceil((12-3)/2)
}

func TestObservationsAreCopies(t *testing.T) {
	m := linearModel(3, 2, 400, 500)
	obs := m.Observations()
	obs[0].Position = -1

	assert.Equal(t, 803., m.Observations()[0].Position)
}
