package spectrometer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Recorded replays a trace saved as CSV. It lets fits be checked offline
// against spectra captured on the bench.
type Recorded struct {
	wavelengths []float64
	intensities []float64
}

// OpenRecorded reads a two column (wavelength, intensity) CSV file, with
// or without a header row.
func OpenRecorded(path string) (*Recorded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, y, err := ReadTrace(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Recorded{wavelengths: x, intensities: y}, nil
}

// NewRecorded wraps an in-memory trace.
func NewRecorded(wavelengths, intensities []float64) *Recorded {
	return &Recorded{wavelengths: wavelengths, intensities: intensities}
}

// SetIntegrationTime is a no-op; the exposure is fixed by the recording.
func (r *Recorded) SetIntegrationTime(int) error { return nil }

func (r *Recorded) Wavelengths() ([]float64, error) {
	return append([]float64(nil), r.wavelengths...), nil
}

func (r *Recorded) Intensities() ([]float64, error) {
	return append([]float64(nil), r.intensities...), nil
}

// ReadTrace parses a CSV trace. A first row whose wavelength is not a
// number is taken as a header and skipped. Errors name the file line.
func ReadTrace(
	r io.Reader,
) (
	[]float64, []float64, error,
) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var x, y []float64
	for first := true; ; first = false {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read trace: %w", err)
		}
		line, _ := cr.FieldPos(0)

		w, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			if first {
				continue
			}
			return nil, nil, fmt.Errorf("row %d: %w", line, err)
		}
		if len(row) < 2 {
			return nil, nil, fmt.Errorf("row %d: want 2 columns, got %d", line, len(row))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", line, err)
		}
		x = append(x, w)
		y = append(y, v)
	}
	if len(x) == 0 {
		return nil, nil, errors.New("read trace: no samples")
	}
	return x, y, nil
}

// WriteTrace writes a trace in the format ReadTrace accepts.
func WriteTrace(w io.Writer, wavelengths, intensities []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"wavelength_nm", "intensity"}); err != nil {
		return err
	}
	for i := range wavelengths {
		rec := []string{
			strconv.FormatFloat(wavelengths[i], 'g', -1, 64),
			strconv.FormatFloat(intensities[i], 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
