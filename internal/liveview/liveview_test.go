package liveview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/HamletTheHamster/monocal/internal/acquire"
	"github.com/HamletTheHamster/monocal/internal/peak"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
)

func gaussTrace(center float64) ([]float64, []float64, peak.Params) {
	p := peak.Params{Baseline: 200, Amplitude: 2700, Center: center, Width: 5}
	x := floats.Span(make([]float64, 301), 400, 700)
	return x, p.Curve(x), p
}

type group struct {
	style string
	x, y  []float64
}

// fakeCanvas behaves like glot: adding an existing group fails.
type fakeCanvas struct {
	mu      sync.Mutex
	groups  map[string]group
	removed int
	fail    error
}

func (f *fakeCanvas) AddPointGroup(name string, style string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.groups[name]; ok {
		return fmt.Errorf("a point group with the name %s already exists", name)
	}
	xy := data.([][]float64)
	f.groups[name] = group{style: style, x: xy[0], y: xy[1]}
	return nil
}

func (f *fakeCanvas) RemovePointGroup(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, name)
	f.removed++
}

func (f *fakeCanvas) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups)
}

func newFakeLive() (*Live, *fakeCanvas) {
	c := &fakeCanvas{groups: map[string]group{}}
	return New(c, nil), c
}

// lockedBuffer is a log destination shared with the view goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShowRedraws(t *testing.T) {
	l, c := newFakeLive()
	x, y, _ := gaussTrace(500)

	require.NoError(t, l.Show(acquire.Trace{Wavelengths: x, Intensities: y}))
	require.NoError(t, l.Show(acquire.Trace{Wavelengths: x, Intensities: y}))

	assert.Len(t, c.groups, 2)
	assert.Equal(t, 2, c.removed)
	assert.Equal(t, y, c.groups[spectrumGroup].y)
	assert.Equal(t, "lines", c.groups[fitGroup].style)
}

func TestReseedAndRefit(t *testing.T) {
	l, c := newFakeLive()
	x, y, want := gaussTrace(580)
	require.NoError(t, l.Show(acquire.Trace{Wavelengths: x, Intensities: y}))

	require.NoError(t, l.Reseed(575, 2500))
	fit := c.groups[fitGroup]
	assert.Equal(t, x[floats.MaxIdx(fit.y)], 575.)

	res, err := l.Refit()
	require.NoError(t, err)
	assert.InDelta(t, want.Center, res.Params.Center, 0.05)
	assert.InDelta(t, want.Center, x[floats.MaxIdx(c.groups[fitGroup].y)], 1)
}

func TestAutoFitWithoutTrace(t *testing.T) {
	l, _ := newFakeLive()
	_, err := l.AutoFit()
	require.ErrorIs(t, err, peak.ErrInvalidTrace)
}

func TestRun(t *testing.T) {
	l, c := newFakeLive()
	src := acquire.NewMailbox[acquire.Trace]()
	x, y, _ := gaussTrace(520)
	src.Publish(acquire.Trace{Wavelengths: x, Intensities: y})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, src) }()

	require.Eventually(t, func() bool { return c.count() == 2 }, 5*time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func newOperator(center float64) (*Operator, *fakeCanvas, *lockedBuffer) {
	l, c := newFakeLive()
	var out lockedBuffer
	dev := spectrometer.NewSimulated(400, 700, 301, func() float64 { return center })
	return &Operator{
		View:         l,
		Spectrometer: dev,
		Logger:       log.New(&out, "", 0),
		Interval:     time.Millisecond,
	}, c, &out
}

func TestExec(t *testing.T) {
	op, c, out := newOperator(560)
	x, y, _ := gaussTrace(560)
	require.NoError(t, op.View.Show(acquire.Trace{Wavelengths: x, Intensities: y}))

	require.NoError(t, op.Exec("it 250"))
	assert.Contains(t, out.String(), "integration time 250 ms")

	require.NoError(t, op.Exec("  "))
	require.Error(t, op.Exec("seed 500"))
	require.Error(t, op.Exec("seed 500 x"))
	require.Error(t, op.Exec("jump"))

	require.NoError(t, op.Exec("seed 555 2000"))
	assert.Equal(t, 555., x[floats.MaxIdx(c.groups[fitGroup].y)])

	require.NoError(t, op.Exec("refit"))
	assert.Contains(t, out.String(), "center 560.0000 nm")
}

func TestDriveQuits(t *testing.T) {
	op, c, out := newOperator(540)

	// The view must have drawn before quit is read.
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- op.Drive(context.Background(), pr) }()

	require.Eventually(t, func() bool { return c.count() == 2 }, 5*time.Second, time.Millisecond)
	_, err := io.WriteString(pw, "fit\nquit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Drive did not return after quit")
	}
	assert.Contains(t, out.String(), "center 540.0000 nm")
	pw.Close()
}

func TestDriveStopsOnCancel(t *testing.T) {
	op, _, _ := newOperator(540)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- op.Drive(ctx, pr) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Drive did not return after cancel")
	}
}

func TestDriveLogsViewFailure(t *testing.T) {
	op, c, out := newOperator(540)
	c.fail = errors.New("gnuplot gone")
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- op.Drive(context.Background(), pr) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "live view stopped: draw spectrum: gnuplot gone")
	}, 5*time.Second, time.Millisecond)

	pw.Close()
	require.NoError(t, <-done)
}
