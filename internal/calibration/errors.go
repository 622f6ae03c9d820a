package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a fit is requested with fewer
	// than two observations.
	ErrInsufficientData = errors.New("calibration: at least 2 observations required")

	// ErrDegenerateFit is returned when every observed wavelength is the
	// same, which leaves the slope undefined.
	ErrDegenerateFit = errors.New("calibration: wavelengths have zero variance")

	// ErrNotFitted is returned by operations that need a current fit.
	ErrNotFitted = errors.New("calibration: model has no current fit")

	// ErrMalformedFile is wrapped by every MalformedFileError.
	ErrMalformedFile = errors.New("calibration: malformed calibration file")
)

// MalformedFileError reports where a calibration file failed to parse.
// Line is 1-based; 0 means the file as a whole.
type MalformedFileError struct {
	Line   int
	Reason string
}

func (e *MalformedFileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%v: %s", ErrMalformedFile, e.Reason)
	}
	return fmt.Sprintf("%v: line %d: %s", ErrMalformedFile, e.Line, e.Reason)
}

func (e *MalformedFileError) Unwrap() error { return ErrMalformedFile }

// ConsistencyWarning describes a stored fit that disagrees with the fit
// recomputed from the stored observations. It is advisory; the model that
// produced it is still usable.
type ConsistencyWarning struct {
	Stored     Fit
	Recomputed Fit
	// Fields names the fit values outside tolerance.
	Fields []string
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf(
		"calibration: stored fit differs from recomputed fit in %v (stored %v, recomputed %v)",
		w.Fields, w.Stored.Values(), w.Recomputed.Values(),
	)
}
