// Command monocal calibrates a scanning monochromator against a
// spectrometer and drives it to calibrated wavelengths.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/HamletTheHamster/monocal/internal/config"
)

const usage = `usage: monocal [flags] <command>

commands:
  calibrate              home, scan, fit and save a calibration
  load <file.cal>        load a calibration and check its consistency
  goto <file.cal> <nm>   load a calibration and move to a wavelength
  fit <trace.csv>        fit the peak of a recorded trace
  history [run-id]       list recorded runs, or show one
  live                   show live spectra; reads operator commands on stdin
                         (needs a build with -tags gnuplot)
  ports                  list serial ports

flags:
`

// options are the per-invocation settings on top of the configuration.
type options struct {
	cfg   config.Config
	it    string
	note  string
	slide bool
	home  bool

	stdin io.Reader
	out   io.Writer
}

func main() {

	opts, args := flags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func flags() (
	options, []string,
) {

	var cfgPath, port, spec, it, note, calDir, plotDir, db string
	var lower, halfWindow float64
	var steps, settle int
	var slide, noHome bool

	flag.StringVar(&cfgPath, "config", config.DefaultPath(), "configuration file")
	flag.StringVar(&port, "port", "", "APT controller serial port; empty simulates the bench")
	flag.StringVar(&spec, "spectrometer", "", "spectrometer to use when several are found")
	flag.StringVar(&it, "it", "", "integration time in ms")
	flag.StringVar(&note, "note", "", "note to append folder name")
	flag.StringVar(&calDir, "caldir", "", "directory calibration files are saved in")
	flag.StringVar(&plotDir, "plots", "", "root of the dated run directories")
	flag.StringVar(&db, "db", "", "run history database")
	flag.Float64Var(&lower, "lower", 0, "lower bound of the scan range (mm)")
	flag.Float64Var(&halfWindow, "window", 0, "half width of the peak fit window (nm)")
	flag.IntVar(&steps, "steps", 0, "number of calibration steps, 2 to 10")
	flag.IntVar(&settle, "settle", 0, "settle delay after a move (ms)")
	flag.BoolVar(&slide, "slide", false, "format figures for slide presentation")
	flag.BoolVar(&noHome, "nohome", false, "do not home the stage first")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Stage.Port = port
		case "spectrometer":
			cfg.Spectrometer = spec
		case "caldir":
			cfg.CalDir = calDir
		case "plots":
			cfg.PlotDir = plotDir
		case "db":
			cfg.HistoryDB = db
		case "lower":
			cfg.LowerBound = lower
		case "window":
			cfg.HalfWindow = halfWindow
		case "steps":
			cfg.Steps = steps
		case "settle":
			cfg.SettleMS = settle
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if it == "" {
		it = fmt.Sprint(cfg.IntegrationMS)
	}

	return options{
		cfg:   cfg,
		it:    it,
		note:  note,
		slide: slide,
		home:  !noHome,
		stdin: os.Stdin,
		out:   os.Stdout,
	}, flag.Args()
}
