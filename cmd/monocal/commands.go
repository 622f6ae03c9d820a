package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/HamletTheHamster/monocal/internal/acquire"
	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/history"
	"github.com/HamletTheHamster/monocal/internal/liveview"
	"github.com/HamletTheHamster/monocal/internal/monochromator"
	"github.com/HamletTheHamster/monocal/internal/peak"
	"github.com/HamletTheHamster/monocal/internal/plotting"
	"github.com/HamletTheHamster/monocal/internal/runlog"
	"github.com/HamletTheHamster/monocal/internal/scan"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

var errUsage = errors.New("wrong arguments, see monocal -h")

func run(ctx context.Context, opts options, args []string) error {
	switch args[0] {
	case "calibrate":
		return calibrate(ctx, opts)
	case "load":
		if len(args) != 2 {
			return errUsage
		}
		return load(ctx, opts, args[1])
	case "goto":
		if len(args) != 3 {
			return errUsage
		}
		nm, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("wavelength %q: %w", args[2], err)
		}
		return goTo(ctx, opts, args[1], nm)
	case "fit":
		if len(args) != 2 {
			return errUsage
		}
		return fitTrace(opts, args[1])
	case "history":
		if len(args) > 2 {
			return errUsage
		}
		return showHistory(opts, args[1:])
	case "live":
		return live(ctx, opts)
	case "ports":
		return ports(opts)
	}
	return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
}

// session is the state of one run: its log, hardware and calibration.
type session struct {
	log    *runlog.Log
	logger *log.Logger
	bench  *bench
	mono   *monochromator.Monochromator
}

func openSession(ctx context.Context, opts options, note string) (*session, error) {
	rl := runlog.New(opts.cfg.PlotDir, note, time.Now())
	logger := log.New(io.MultiWriter(opts.out, rl), "", log.LstdFlags)

	b, err := openBench(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	mono := monochromator.New(b.stage, calibration.New(opts.cfg.ScanRange()), logger)

	if opts.home {
		logger.Printf("homing stage")
		if err := mono.GoHome(ctx); err != nil {
			mono.Shutdown()
			return nil, err
		}
	}
	return &session{log: rl, logger: logger, bench: b, mono: mono}, nil
}

// close shuts the stage down and writes the run log.
func (s *session) close() error {
	err := s.mono.Shutdown()
	if ferr := s.log.Flush(); err == nil {
		err = ferr
	}
	return err
}

func calibrate(ctx context.Context, opts options) (err error) {
	note := opts.note
	if note == "" {
		note = "calibration"
	}
	s, err := openSession(ctx, opts, note)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	dir, err := s.log.Mkdir()
	if err != nil {
		return err
	}

	fitter := peak.NewFitter()
	fitter.HalfWindow = opts.cfg.HalfWindow

	var frames []string
	runner := &scan.Runner{
		Stage:        s.bench.stage,
		Spectrometer: s.bench.spec,
		Fitter:       fitter,
		Model:        s.mono.Model(),
		Steps:        scan.ClampSteps(opts.cfg.Steps),
		Settle:       opts.cfg.Settle(),
		Logger:       s.logger,
		OnStep: func(st scan.Step) {
			name := fmt.Sprintf("step-%d", st.Index+1)
			paths, err := plotting.SaveTrace(dir, name, st.Trace.Wavelengths, st.Trace.Intensities, st.Result.Params, opts.slide)
			if err != nil {
				s.logger.Printf("plot %s: %v", name, err)
				return
			}
			frames = append(frames, paths[0])
		},
	}

	s.logger.Printf("scanning %d steps below %g mm", runner.Steps, s.mono.LowerBound())
	fit, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	s.logger.Printf("fit: position = %.6g + %.6g * wavelength, range [%g, %g] nm",
		fit.Intercept, fit.Slope, fit.LowerStageBound, fit.UpperStageBound)

	path, err := s.mono.SaveCalibration(opts.cfg.CalDir, time.Now())
	if err != nil {
		return err
	}

	if _, err := plotting.SaveCalibration(dir, "calibration", s.mono.Model().Observations(), fit, opts.slide); err != nil {
		s.logger.Printf("plot calibration: %v", err)
	}
	if err := plotting.Animate(filepath.Join(dir, "scan.gif"), frames, 50); err != nil {
		s.logger.Printf("animate scan: %v", err)
	}

	return record(opts, s.logger, history.KindCalibrate, path, s.mono.Model(), true)
}

func load(ctx context.Context, opts options, path string) (err error) {
	opts.home = false
	s, err := openSession(ctx, opts, "load")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	ok, err := s.mono.LoadCalibration(path)
	if err != nil {
		return err
	}
	fit, _ := s.mono.Model().Current()
	fmt.Fprintf(opts.out, "%s: %d points, consistent=%t\n", path, s.mono.Model().Len(), ok)
	fmt.Fprintf(opts.out, "slope %g  intercept %g  range [%g, %g] nm\n",
		fit.Slope, fit.Intercept, fit.LowerStageBound, fit.UpperStageBound)

	return record(opts, s.logger, history.KindLoad, path, s.mono.Model(), ok)
}

func goTo(ctx context.Context, opts options, path string, nm float64) (err error) {
	s, err := openSession(ctx, opts, fmt.Sprintf("goto %g nm", nm))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	if _, err := s.mono.LoadCalibration(path); err != nil {
		return err
	}
	pos, err := s.mono.GoToWavelength(ctx, nm)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.out, "%g nm at stage position %.4f mm\n", nm, pos)
	return nil
}

func fitTrace(opts options, path string) error {
	dev, err := spectrometer.OpenRecorded(path)
	if err != nil {
		return err
	}
	tr, err := acquire.Capture(dev)
	if err != nil {
		return err
	}

	fitter := peak.NewFitter()
	fitter.HalfWindow = opts.cfg.HalfWindow
	res, err := fitter.Fit(tr.Wavelengths, tr.Intensities)
	if err != nil {
		return err
	}
	if w := res.Warning(); w != nil {
		fmt.Fprintln(opts.out, "warning:", w)
	}

	p := res.Params
	fmt.Fprintf(opts.out, "baseline %.4g  amplitude %.4g  center %.4f nm  width %.4f nm  (%d points, ssr %.4g)\n",
		p.Baseline, p.Amplitude, p.Center, p.FWHM(), res.Points, res.SSR)
	return nil
}

func showHistory(opts options, args []string) error {
	store, err := history.NewStore(opts.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 1 {
		run, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "run\t%s\nkind\t%s\nat\t%s\nfile\t%s\nconsistent\t%t\n",
			run.ID, run.Kind, run.CreatedAt.Local().Format(time.DateTime), run.Path, run.Consistent)
		fmt.Fprintf(w, "fit\t%v\n\nposition\twavelength\twidth\n", run.Fit.Values())
		for _, o := range run.Observations {
			fmt.Fprintf(w, "%g\t%g\t%g\n", o.Position, o.Wavelength, o.Width)
		}
		return nil
	}

	runs, err := store.List(50)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tKIND\tAT\tSLOPE\tINTERCEPT\tCONSISTENT\tFILE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6g\t%.6g\t%t\t%s\n",
			r.ID, r.Kind, r.CreatedAt.Local().Format(time.DateTime),
			r.Fit.Slope, r.Fit.Intercept, r.Consistent, r.Path)
	}
	return nil
}

func record(
	opts options,
	logger *log.Logger,
	kind, path string,
	m *calibration.Model,
	consistent bool,
) error {

	store, err := history.NewStore(opts.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Record(kind, path, m, consistent)
	if err != nil {
		return err
	}
	logger.Printf("recorded run %s", run.ID)
	return nil
}

// live runs acquisition into a gnuplot window, reading operator commands
// from stdin. Builds without the gnuplot tag report liveview.ErrNoDisplay
// before touching the hardware.
func live(ctx context.Context, opts options) (err error) {
	fitter := peak.NewFitter()
	fitter.HalfWindow = opts.cfg.HalfWindow
	view, err := liveview.Open(fitter)
	if err != nil {
		return err
	}
	defer view.Close()

	opts.home = false
	s, err := openSession(ctx, opts, "live")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	op := &liveview.Operator{
		View:         view,
		Spectrometer: s.bench.spec,
		Logger:       s.logger,
	}
	return op.Drive(ctx, opts.stdin)
}

func ports(opts options) error {
	list, err := stage.Ports()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(opts.out, "no serial ports found")
	}
	for _, p := range list {
		fmt.Fprintln(opts.out, p)
	}
	return nil
}
