package spectrometer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoDevice is wrapped when no spectrometer is available.
var ErrNoDevice = errors.New("spectrometer: no device available")

// Candidate is a spectrometer that can be opened by name.
type Candidate struct {
	Name string
	Open func() (Device, error)
}

// DeviceSelectionError explains why no spectrometer was opened. The caller
// decides whether to rescan, prompt or give up.
type DeviceSelectionError struct {
	Name      string
	Available []string
	Err       error
}

func (e *DeviceSelectionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("spectrometer: select from [%s]: %v", strings.Join(e.Available, ", "), e.Err)
	}
	return fmt.Sprintf("spectrometer: select %q from [%s]: %v", e.Name, strings.Join(e.Available, ", "), e.Err)
}

func (e *DeviceSelectionError) Unwrap() error { return e.Err }

// Select opens a spectrometer. With a single candidate and no name it is
// opened directly; otherwise name must match one of the candidates.
func Select(candidates []Candidate, name string) (Device, error) {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}

	if len(candidates) == 0 {
		return nil, &DeviceSelectionError{Name: name, Err: ErrNoDevice}
	}

	var pick *Candidate
	switch {
	case name == "" && len(candidates) == 1:
		pick = &candidates[0]
	case name == "":
		return nil, &DeviceSelectionError{
			Available: names,
			Err:       fmt.Errorf("%d devices found, choose one", len(candidates)),
		}
	default:
		for i := range candidates {
			if candidates[i].Name == name {
				pick = &candidates[i]
				break
			}
		}
		if pick == nil {
			return nil, &DeviceSelectionError{Name: name, Available: names, Err: errors.New("no such device")}
		}
	}

	dev, err := pick.Open()
	if err != nil {
		return nil, &DeviceSelectionError{Name: pick.Name, Available: names, Err: err}
	}
	return dev, nil
}
