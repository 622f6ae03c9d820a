package monochromator

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

func newTest(start float64) (*Monochromator, *stage.Simulated, *bytes.Buffer) {
	st := stage.NewSimulated(start)
	var buf bytes.Buffer
	return New(st, nil, log.New(&buf, "", 0)), st, &buf
}

// calibrate fills m with observations lying on position = 100.3 - 0.2*w.
func calibrate(t *testing.T, m *Monochromator) {
	t.Helper()
	for _, w := range []float64{476.5, 504, 531.5, 559, 586.5} {
		m.Model().AddPoint(100.3-0.2*w, w, 5)
	}
	_, err := m.Model().Fit()
	require.NoError(t, err)
}

func TestGoHome(t *testing.T) {
	m, st, _ := newTest(3)
	m.SetLowerBound(12)

	require.NoError(t, m.GoHome(context.Background()))
	assert.Equal(t, 1, st.Homes())

	pos, err := m.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17., pos)
}

func TestDefaultLowerBound(t *testing.T) {
	m, _, _ := newTest(0)
	assert.Equal(t, calibration.DefaultLowerBound, m.LowerBound())
}

func TestGoToWavelength(t *testing.T) {
	m, st, logs := newTest(40)
	calibrate(t, m)

	pos, err := m.GoToWavelength(context.Background(), 500)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, pos, 1e-9)

	// Downward move: backlash overshoot first.
	moves := st.Moves()
	require.Len(t, moves, 2)
	assert.InDelta(t, 0.2, moves[0], 1e-9)
	assert.Empty(t, logs.String())
}

func TestGoToWavelengthOutOfRange(t *testing.T) {
	m, _, logs := newTest(40)
	calibrate(t, m)

	pos, err := m.GoToWavelength(context.Background(), 700)
	require.NoError(t, err)
	assert.InDelta(t, -39.7, pos, 1e-9)
	assert.Contains(t, logs.String(), "outside the calibrated range")
}

func TestGoToWavelengthUncalibrated(t *testing.T) {
	m, st, _ := newTest(40)

	_, err := m.GoToWavelength(context.Background(), 500)
	require.ErrorIs(t, err, calibration.ErrNotFitted)
	assert.Empty(t, st.Moves())
}

func TestSaveAndLoadCalibration(t *testing.T) {
	dir := t.TempDir()
	m, _, _ := newTest(0)
	calibrate(t, m)
	want, _ := m.Model().Current()

	path, err := m.SaveCalibration(dir, time.Date(2026, 10, 15, 9, 30, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "261015-093000.cal"), path)

	other, _, logs := newTest(0)
	ok, err := other.LoadCalibration(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, logs.String())

	got, err := other.Model().Current()
	require.NoError(t, err)
	assert.InDelta(t, want.Slope, got.Slope, 1e-12)
	assert.Equal(t, want.LowerStageBound, got.LowerStageBound)
}

func TestLoadInconsistentCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cal")
	text := "1,2,3\n400,500,600\n1,1,1\n0.5,-199,20,-40\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	m, _, logs := newTest(0)
	ok, err := m.LoadCalibration(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "warning")

	// The refit is in use.
	got, err := m.Model().Current()
	require.NoError(t, err)
	assert.InDelta(t, 0.01, got.Slope, 1e-12)
}

func TestLoadMalformedKeepsModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cal")
	require.NoError(t, os.WriteFile(path, []byte("1,2\n3\n"), 0o644))

	m, _, _ := newTest(0)
	before := m.Model()
	_, err := m.LoadCalibration(path)
	require.ErrorIs(t, err, calibration.ErrMalformedFile)
	assert.Same(t, before, m.Model())
}

type closingStage struct {
	*stage.Simulated
	err    error
	closed int
}

func (c *closingStage) Close() error {
	c.closed++
	return c.err
}

func TestShutdown(t *testing.T) {
	m, _, _ := newTest(0)
	require.NoError(t, m.Shutdown())

	cs := &closingStage{Simulated: stage.NewSimulated(0)}
	require.NoError(t, New(cs, nil, nil).Shutdown())
	assert.Equal(t, 1, cs.closed)

	cs.err = stage.ErrNotConnected
	require.NoError(t, New(cs, nil, nil).Shutdown())

	cs.err = errors.New("port busy")
	require.Error(t, New(cs, nil, nil).Shutdown())
}
