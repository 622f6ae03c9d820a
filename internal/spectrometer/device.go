// Package spectrometer abstracts the spectrometer read by the calibration.
package spectrometer

import (
	"strconv"
	"strings"
)

// Integration time limits in microseconds.
const (
	MinIntegrationMicros     = 10 * 1000
	MaxIntegrationMicros     = 10 * 1000 * 1000
	DefaultIntegrationMicros = 100 * 1000
)

// Device is the capability the calibration needs from a spectrometer.
type Device interface {
	SetIntegrationTime(micros int) error
	Wavelengths() ([]float64, error)
	Intensities() ([]float64, error)
}

// ClampIntegrationTime converts an operator entry in milliseconds to
// microseconds within the device limits. Entries that do not parse give
// the default of 100 ms.
func ClampIntegrationTime(ms string) int {
	n, err := strconv.Atoi(strings.TrimSpace(ms))
	if err != nil {
		return DefaultIntegrationMicros
	}
	return ClampMicros(n * 1000)
}

// ClampMicros limits an integration time in microseconds.
func ClampMicros(us int) int {
	switch {
	case us < MinIntegrationMicros:
		return MinIntegrationMicros
	case us > MaxIntegrationMicros:
		return MaxIntegrationMicros
	}
	return us
}
