package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/HamletTheHamster/monocal/internal/spectrometer"
)

// Trace is one spectrometer read.
type Trace struct {
	Wavelengths []float64
	Intensities []float64
	At          time.Time
}

// Capture reads a single trace from dev.
func Capture(dev spectrometer.Device) (Trace, error) {
	x, err := dev.Wavelengths()
	if err != nil {
		return Trace{}, fmt.Errorf("read wavelengths: %w", err)
	}
	y, err := dev.Intensities()
	if err != nil {
		return Trace{}, fmt.Errorf("read intensities: %w", err)
	}
	if len(x) != len(y) {
		return Trace{}, fmt.Errorf("trace has %d wavelengths and %d intensities", len(x), len(y))
	}
	return Trace{Wavelengths: x, Intensities: y, At: time.Now()}, nil
}

// Loop reads dev every Interval and publishes each trace to Out until its
// context is cancelled. A read that has started always completes.
type Loop struct {
	Device   spectrometer.Device
	Out      *Mailbox[Trace]
	Interval time.Duration

	// OnError is called for failed reads; the loop keeps going.
	OnError func(error)
}

// Run blocks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		tr, err := Capture(l.Device)
		if err != nil {
			if l.OnError != nil {
				l.OnError(err)
			}
		} else {
			l.Out.Publish(tr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Start runs the loop in its own goroutine. The returned channel yields the
// loop's exit error once it has stopped.
func (l *Loop) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()
	return done
}
