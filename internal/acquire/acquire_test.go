package acquire

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/monocal/internal/spectrometer"
)

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox[int]()

	_, seq := m.Latest()
	assert.Zero(t, seq)

	m.Publish(1)
	m.Publish(2)
	assert.Equal(t, uint64(3), m.Publish(3))

	v, seq := m.Latest()
	assert.Equal(t, 3, v)
	assert.Equal(t, uint64(3), seq)
}

func TestMailboxUpdates(t *testing.T) {
	m := NewMailbox[string]()
	ch := m.Updates()

	select {
	case <-ch:
		t.Fatal("notified before publish")
	default:
	}

	m.Publish("a")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("not notified")
	}
}

func TestMailboxNext(t *testing.T) {
	m := NewMailbox[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Publish(42)
	}()

	v, seq, err := m.Next(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, uint64(1), seq)

	// Already newer than after: no wait.
	v, _, err = m.Next(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestMailboxNextCancelled(t *testing.T) {
	m := NewMailbox[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.Next(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoopPublishesUntilCancelled(t *testing.T) {
	center := 500.
	dev := spectrometer.NewSimulated(400, 600, 201, func() float64 { return center })
	out := NewMailbox[Trace]()
	loop := &Loop{Device: dev, Out: out, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := loop.Start(ctx)

	wait, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	tr, seq, err := out.Next(wait, 0)
	require.NoError(t, err)
	assert.Len(t, tr.Intensities, 201)

	_, _, err = out.Next(wait, seq)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

type failingDevice struct{ *spectrometer.Recorded }

func (failingDevice) Intensities() ([]float64, error) { return nil, errors.New("usb timeout") }

func TestLoopReportsErrors(t *testing.T) {
	var failures atomic.Int32
	out := NewMailbox[Trace]()
	loop := &Loop{
		Device:   failingDevice{spectrometer.NewRecorded([]float64{1}, []float64{1})},
		Out:      out,
		Interval: time.Millisecond,
		OnError:  func(error) { failures.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := loop.Start(ctx)
	require.Eventually(t, func() bool { return failures.Load() >= 2 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	_, seq := out.Latest()
	assert.Zero(t, seq)
}

func TestCaptureMismatch(t *testing.T) {
	dev := spectrometer.NewRecorded([]float64{1, 2, 3}, []float64{1, 2})
	_, err := Capture(dev)
	require.Error(t, err)
}
