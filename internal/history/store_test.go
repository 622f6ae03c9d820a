package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/monocal/internal/calibration"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fittedModel(t *testing.T) *calibration.Model {
	t.Helper()
	m := calibration.New(calibration.DefaultScanRange())
	m.AddPoint(5, 476.5, 5.1)
	m.AddPoint(-6, 531.5, 4.9)
	m.AddPoint(-17, 586.5, 5)
	_, err := m.Fit()
	require.NoError(t, err)
	return m
}

func TestRecordAndGet(t *testing.T) {
	s := tempStore(t)
	m := fittedModel(t)

	run, err := s.Record(KindCalibrate, "/tmp/261015-093000.cal", m, true)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)

	got, err := s.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, KindCalibrate, got.Kind)
	assert.Equal(t, "/tmp/261015-093000.cal", got.Path)
	assert.True(t, got.Consistent)
	assert.Equal(t, m.Range(), got.Range)
	assert.Equal(t, run.Fit, got.Fit)
	assert.Equal(t, m.Observations(), got.Observations)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Millisecond)

	rebuilt, err := got.Model()
	require.NoError(t, err)
	fit, _ := rebuilt.Current()
	assert.Equal(t, run.Fit, fit)
}

func TestRecordRequiresFit(t *testing.T) {
	s := tempStore(t)
	m := calibration.New(calibration.DefaultScanRange())
	m.AddPoint(1, 400, 1)

	_, err := s.Record(KindCalibrate, "", m, true)
	require.ErrorIs(t, err, calibration.ErrNotFitted)
}

func TestListNewestFirst(t *testing.T) {
	s := tempStore(t)
	m := fittedModel(t)

	first, err := s.Record(KindCalibrate, "a.cal", m, true)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Record(KindLoad, "b.cal", m, false)
	require.NoError(t, err)

	runs, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.False(t, runs[0].Consistent)
	assert.Empty(t, runs[0].Observations)

	runs, err = s.List(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGetUnknown(t *testing.T) {
	s := tempStore(t)
	_, err := s.Get("no-such-run")
	require.ErrorIs(t, err, ErrNotFound)
}
