// Package config holds the instrument settings. Defaults are overridden by
// an optional JSON file, then MONOCAL_* environment variables, then
// command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/peak"
	"github.com/HamletTheHamster/monocal/internal/scan"
	"github.com/HamletTheHamster/monocal/internal/spectrometer"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

const fileName = "config.json"

// Stage settings. An empty Port selects the simulated stage.
type Stage struct {
	Port          string  `json:"port"`
	Dest          byte    `json:"dest"`
	Channel       uint16  `json:"channel"`
	CountsPerUnit float64 `json:"counts_per_unit"`
	Backlash      float64 `json:"backlash"`
	MoveTimeoutS  float64 `json:"move_timeout_s"`
}

// Simulation describes the bench simulated when no stage port is set.
type Simulation struct {
	// Intercept and Slope are the true dispersion, position = a + b*nm.
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`
	Noise     float64 `json:"noise"`
	Start     float64 `json:"start"`
}

// Config is the full set of settings.
type Config struct {
	LowerBound    float64 `json:"lower_bound"`
	SpanWidth     float64 `json:"span_width"`
	Steps         int     `json:"steps"`
	IntegrationMS int     `json:"integration_ms"`
	HalfWindow    float64 `json:"half_window"`
	SettleMS      int     `json:"settle_ms"`
	Spectrometer  string  `json:"spectrometer"`

	Stage      Stage      `json:"stage"`
	Simulation Simulation `json:"simulation"`

	CalDir    string `json:"cal_dir"`
	PlotDir   string `json:"plot_dir"`
	HistoryDB string `json:"history_db"`
}

// Default returns the settings the instrument shipped with.
func Default() Config {
	apt := stage.DefaultAPTConfig()
	return Config{
		LowerBound:    calibration.DefaultLowerBound,
		SpanWidth:     calibration.DefaultSpanWidth,
		Steps:         scan.DefaultSteps,
		IntegrationMS: spectrometer.DefaultIntegrationMicros / 1000,
		HalfWindow:    peak.DefaultHalfWindow,
		SettleMS:      int(scan.DefaultSettle / time.Millisecond),
		Stage: Stage{
			Dest:          apt.Dest,
			Channel:       apt.Channel,
			CountsPerUnit: apt.CountsPerUnit,
			Backlash:      apt.Backlash,
			MoveTimeoutS:  apt.MoveTimeout.Seconds(),
		},
		Simulation: Simulation{Intercept: 100.3, Slope: -0.2, Noise: 5, Start: 20},
		CalDir:     ".",
		PlotDir:    "plots",
		HistoryDB:  "monocal.db",
	}
}

// DefaultPath is config.json in the user's configuration directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "monocal", fileName)
}

// Load returns the defaults overlaid with the file at path, if it exists,
// and then with the environment.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Save writes c as indented JSON, creating the directory if needed.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no run could use.
func (c Config) Validate() error {
	switch {
	case c.SpanWidth <= 0:
		return fmt.Errorf("config: span_width must be positive, got %g", c.SpanWidth)
	case c.HalfWindow <= 0:
		return fmt.Errorf("config: half_window must be positive, got %g", c.HalfWindow)
	case c.Stage.CountsPerUnit <= 0:
		return fmt.Errorf("config: counts_per_unit must be positive, got %g", c.Stage.CountsPerUnit)
	case c.Stage.Port == "" && c.Simulation.Slope == 0:
		return errors.New("config: simulation slope must be non-zero")
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Stage.Port = envOr("MONOCAL_PORT", c.Stage.Port)
	c.Spectrometer = envOr("MONOCAL_SPECTROMETER", c.Spectrometer)
	c.CalDir = envOr("MONOCAL_CAL_DIR", c.CalDir)
	c.PlotDir = envOr("MONOCAL_PLOT_DIR", c.PlotDir)
	c.HistoryDB = envOr("MONOCAL_HISTORY_DB", c.HistoryDB)

	if v := os.Getenv("MONOCAL_LOWER_BOUND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MONOCAL_LOWER_BOUND: %w", err)
		}
		c.LowerBound = f
	}
	return nil
}

// ScanRange is the calibration scan range.
func (c Config) ScanRange() calibration.ScanRange {
	return calibration.ScanRange{LowerBound: c.LowerBound, SpanWidth: c.SpanWidth}
}

// APT is the controller configuration.
func (c Config) APT() stage.APTConfig {
	return stage.APTConfig{
		Port:          c.Stage.Port,
		Dest:          c.Stage.Dest,
		Channel:       c.Stage.Channel,
		CountsPerUnit: c.Stage.CountsPerUnit,
		Backlash:      c.Stage.Backlash,
		MoveTimeout:   time.Duration(c.Stage.MoveTimeoutS * float64(time.Second)),
	}
}

// Settle is the settle delay after a move.
func (c Config) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
