// Package monochromator owns a stage and its wavelength calibration and
// exposes the operations an operator performs on the instrument.
package monochromator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/HamletTheHamster/monocal/internal/calibration"
	"github.com/HamletTheHamster/monocal/internal/stage"
)

// HomeOffset is how far above the lower bound the stage parks after homing.
const HomeOffset = 5.

// Monochromator pairs a stage driver with the calibration that maps
// wavelengths to stage positions.
type Monochromator struct {
	stage  stage.Driver
	model  *calibration.Model
	logger *log.Logger
}

// New returns a monochromator driving st. If model is nil an empty model
// with the default scan range is created.
func New(
	st stage.Driver,
	model *calibration.Model,
	logger *log.Logger,
) (
	*Monochromator,
) {
	if model == nil {
		model = calibration.New(calibration.DefaultScanRange())
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Monochromator{stage: st, model: model, logger: logger}
}

// Model returns the calibration currently in use.
func (m *Monochromator) Model() *calibration.Model { return m.model }

// Stage returns the stage driver.
func (m *Monochromator) Stage() stage.Driver { return m.stage }

// GoHome homes the stage and parks it HomeOffset above the lower bound.
func (m *Monochromator) GoHome(ctx context.Context) error {
	if err := m.stage.Home(ctx); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	return m.Move(ctx, m.LowerBound()+HomeOffset)
}

// Move moves the stage to mm with backlash compensation.
func (m *Monochromator) Move(ctx context.Context, mm float64) error {
	if err := m.stage.MoveAbsolute(ctx, mm); err != nil {
		return fmt.Errorf("move to %g: %w", mm, err)
	}
	return nil
}

// Position reads the stage position.
func (m *Monochromator) Position(ctx context.Context) (float64, error) {
	return m.stage.Position(ctx)
}

// LowerBound is the stage position the scan range is measured from.
func (m *Monochromator) LowerBound() float64 { return m.model.Range().LowerBound }

// SetLowerBound changes the lower bound. A fitted calibration must be
// refitted afterwards since its stage bounds depend on it.
func (m *Monochromator) SetLowerBound(mm float64) { m.model.SetLowerBound(mm) }

// PositionFor returns the stage position for a wavelength.
func (m *Monochromator) PositionFor(nm float64) (float64, error) {
	return m.model.PositionForWavelength(nm)
}

// GoToWavelength moves the stage to the position calibrated for nm and
// returns that position. Wavelengths outside the calibrated range are
// logged but still attempted.
func (m *Monochromator) GoToWavelength(ctx context.Context, nm float64) (float64, error) {
	pos, err := m.model.PositionForWavelength(nm)
	if err != nil {
		return 0, err
	}
	if !m.model.InRange(nm) {
		fit, _ := m.model.Current()
		m.logger.Printf("warning: %g nm is outside the calibrated range [%g, %g] nm",
			nm, fit.LowerStageBound, fit.UpperStageBound)
	}
	if err := m.Move(ctx, pos); err != nil {
		return pos, err
	}
	return pos, nil
}

// SaveCalibration fits the current observations and writes them to dir.
func (m *Monochromator) SaveCalibration(dir string, now time.Time) (string, error) {
	path, err := m.model.Save(dir, now)
	if err != nil {
		return "", err
	}
	m.logger.Printf("calibration saved to %s", path)
	return path, nil
}

// LoadCalibration replaces the calibration with the one stored at path,
// refitted against the current lower bound. ok is false when the stored
// fit disagrees with the refit; the refit is used either way.
func (m *Monochromator) LoadCalibration(path string) (ok bool, err error) {
	loaded, warn, err := calibration.LoadChecked(path, m.model.Range())
	if err != nil {
		return false, err
	}
	if warn != nil {
		m.logger.Printf("warning: %s: %v", path, warn)
	}
	m.model = loaded
	return warn == nil, nil
}

// Shutdown releases the stage connection if the driver holds one.
func (m *Monochromator) Shutdown() error {
	c, ok := m.stage.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, stage.ErrNotConnected) {
		return fmt.Errorf("close stage: %w", err)
	}
	return nil
}
