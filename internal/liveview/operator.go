package liveview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/HamletTheHamster/monocal/internal/acquire"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
)

// Operator runs the commands typed at the live view, one per line:
//
//	seed <nm> <counts>   move the drawn line shape
//	refit                fit from the drawn line shape
//	fit                  fit from the automatic seed
//	it <ms>              set the integration time
//	quit
type Operator struct {
	View         *Live
	Spectrometer spectrometer.Device
	Logger       *log.Logger

	// Interval is the acquisition period; zero uses the loop default.
	Interval time.Duration
}

func (o *Operator) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// Exec runs one command line. Blank lines are ignored.
func (o *Operator) Exec(line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}

	switch f[0] {
	case "seed":
		if len(f) != 3 {
			return errors.New("seed <nm> <counts>")
		}
		nm, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return err
		}
		counts, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return err
		}
		return o.View.Reseed(nm, counts)
	case "refit", "fit":
		fit := o.View.Refit
		if f[0] == "fit" {
			fit = o.View.AutoFit
		}
		res, err := fit()
		if err != nil {
			return err
		}
		if w := res.Warning(); w != nil {
			o.logger().Printf("%v", w)
		}
		o.logger().Printf("center %.4f nm, width %.4f nm", res.Params.Center, res.Params.FWHM())
	case "it":
		if len(f) != 2 {
			return errors.New("it <ms>")
		}
		micros := spectrometer.ClampIntegrationTime(f[1])
		if err := o.Spectrometer.SetIntegrationTime(micros); err != nil {
			return err
		}
		o.logger().Printf("integration time %d ms", micros/1000)
	default:
		return fmt.Errorf("unknown command %q", f[0])
	}
	return nil
}

// Drive acquires from the spectrometer into the view and runs the commands
// read from in until quit, the end of in, or ctx is done. Everything it
// started has stopped when it returns.
func (o *Operator) Drive(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)

	traces := acquire.NewMailbox[acquire.Trace]()
	loop := &acquire.Loop{
		Device:   o.Spectrometer,
		Out:      traces,
		Interval: o.Interval,
		OnError:  func(err error) { o.logger().Printf("acquire: %v", err) },
	}
	loopDone := loop.Start(ctx)

	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		if err := o.View.Run(ctx, traces); err != nil && ctx.Err() == nil {
			o.logger().Printf("live view stopped: %v", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		cancel()
		<-loopDone
		<-viewDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "quit" {
				return nil
			}
			if err := o.Exec(line); err != nil {
				o.logger().Printf("%v", err)
			}
		}
	}
}
