package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/HamletTheHamster/monocal/internal/config"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

// bench is the connected hardware, real or simulated.
type bench struct {
	stage stage.Driver
	spec  spectrometer.Device
}

func openBench(
	ctx context.Context,
	opts options,
	logger *log.Logger,
) (
	*bench, error,
) {

	cfg := opts.cfg

	var st stage.Driver
	if cfg.Stage.Port == "" {
		sim := stage.NewSimulated(cfg.Simulation.Start)
		sim.Backlash = cfg.Stage.Backlash
		st = sim
		logger.Printf("no stage port set, simulating the bench")
	} else {
		apt, err := stage.OpenAPT(ctx, cfg.APT())
		if err != nil {
			return nil, err
		}
		st = apt
		logger.Printf("stage on %s", cfg.Stage.Port)
	}

	dev, err := spectrometer.Select(spectrometers(cfg, st), cfg.Spectrometer)
	if err != nil {
		closeStage(st)
		return nil, err
	}

	micros := spectrometer.ClampIntegrationTime(opts.it)
	if err := dev.SetIntegrationTime(micros); err != nil {
		closeStage(st)
		return nil, fmt.Errorf("set integration time: %w", err)
	}
	logger.Printf("integration time %d ms", micros/1000)

	return &bench{stage: st, spec: dev}, nil
}

// spectrometers lists the devices that can be opened. A name ending in
// .csv replays a recorded trace.
func spectrometers(cfg config.Config, st stage.Driver) []spectrometer.Candidate {
	var out []spectrometer.Candidate

	if strings.HasSuffix(cfg.Spectrometer, ".csv") {
		path := cfg.Spectrometer
		out = append(out, spectrometer.Candidate{
			Name: path,
			Open: func() (spectrometer.Device, error) { return spectrometer.OpenRecorded(path) },
		})
	}

	sim := cfg.Simulation
	out = append(out, spectrometer.Candidate{
		Name: "simulated",
		Open: func() (spectrometer.Device, error) {
			dev := spectrometer.NewSimulated(400, 700, 1024, func() float64 {
				pos, err := st.Position(context.Background())
				if err != nil {
					return 0
				}
				return (pos - sim.Intercept) / sim.Slope
			})
			dev.Noise = sim.Noise
			return dev, nil
		},
	})
	return out
}

func closeStage(st stage.Driver) {
	if c, ok := st.(io.Closer); ok {
		c.Close()
	}
}
