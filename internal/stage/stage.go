// Package stage drives the linear stage that sets the monochromator
// grating.
package stage

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBacklash is the backlash correction in instrument units (100 µm).
const DefaultBacklash = 0.10

// ErrNotConnected is returned by a driver whose connection is closed.
var ErrNotConnected = errors.New("stage: not connected")

// Driver is the capability the calibration needs from a stage.
// MoveAbsolute applies backlash compensation.
type Driver interface {
	MoveAbsolute(ctx context.Context, target float64) error
	Position(ctx context.Context) (float64, error)
	Home(ctx context.Context) error
}

// Waiter is implemented by drivers that can tell when a move has
// physically completed. Callers fall back to a fixed settle delay for
// drivers that do not implement it.
type Waiter interface {
	WaitMoveComplete(ctx context.Context) error
}

// Axis is an uncompensated stage axis.
type Axis interface {
	MoveTo(ctx context.Context, target float64) error
	Position(ctx context.Context) (float64, error)
}

// MoveWithBacklash moves a to target. When the target is below the current
// position the axis first goes to target-backlash, so every move ends
// travelling upward.
//
// The direction follows the instrument this was written for; whether it
// matches the backlash of every hardware unit has not been validated.
func MoveWithBacklash(
	ctx context.Context,
	a Axis,
	target, backlash float64,
) error {

	current, err := a.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	if target < current {
		if err := a.MoveTo(ctx, target-backlash); err != nil {
			return fmt.Errorf("backlash move to %g: %w", target-backlash, err)
		}
	}

	if err := a.MoveTo(ctx, target); err != nil {
		return fmt.Errorf("move to %g: %w", target, err)
	}
	return nil
}
