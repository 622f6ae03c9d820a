package calibration

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Tolerance is the relative difference allowed between a stored fit value
// and its recomputed counterpart.
const Tolerance = 0.1

// Ext is the calibration file extension.
const Ext = ".cal"

// FileName names a calibration file after the time it was written,
// YYMMDD-HHMMSS.cal.
func FileName(t time.Time) string {
	return t.Format("060102-150405") + Ext
}

// Serialize renders the model in the calibration file format: positions,
// wavelengths and widths on one line each, then b,a,lower,upper.
func (m *Model) Serialize() (string, error) {
	var sb strings.Builder
	if _, err := m.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteTo writes the calibration file format to w. The model must be
// fitted.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	if m.state != Fitted {
		return 0, ErrNotFitted
	}

	positions, wavelengths, widths := m.Columns()
	fit := m.fit.Values()

	bw := bufio.NewWriter(w)
	var n int64
	for _, row := range [][]float64{positions, wavelengths, widths, fit[:]} {
		k, err := bw.WriteString(joinFloats(row) + "\n")
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Deserialize parses a calibration file. The observations are rebuilt
// from the first three lines and the fit is recomputed for rng; ok is
// false when the recomputed fit disagrees with the stored fourth line.
// The returned model always carries the recomputed fit.
func Deserialize(text string, rng ScanRange) (m *Model, ok bool, err error) {
	return Read(strings.NewReader(text), rng)
}

// Read is Deserialize over a reader.
func Read(r io.Reader, rng ScanRange) (*Model, bool, error) {
	m, warn, err := ReadChecked(r, rng)
	return m, err == nil && warn == nil, err
}

// ReadChecked is Read returning the consistency mismatch, if any, instead
// of a flag.
func ReadChecked(r io.Reader, rng ScanRange) (*Model, *ConsistencyWarning, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read calibration: %w", err)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != 4 {
		return nil, nil, &MalformedFileError{Reason: fmt.Sprintf("expected 4 lines, got %d", len(lines))}
	}

	rows := make([][]float64, 4)
	for i, line := range lines {
		row, err := parseFloats(line)
		if err != nil {
			return nil, nil, &MalformedFileError{Line: i + 1, Reason: err.Error()}
		}
		rows[i] = row
	}

	n := len(rows[0])
	for i := 1; i < 3; i++ {
		if len(rows[i]) != n {
			return nil, nil, &MalformedFileError{
				Line:   i + 1,
				Reason: fmt.Sprintf("has %d values, line 1 has %d", len(rows[i]), n),
			}
		}
	}
	if len(rows[3]) != 4 {
		return nil, nil, &MalformedFileError{
			Line:   4,
			Reason: fmt.Sprintf("expected 4 fit values, got %d", len(rows[3])),
		}
	}

	m := New(rng)
	for i := 0; i < n; i++ {
		m.AddPoint(rows[0][i], rows[1][i], rows[2][i])
	}
	fresh, err := m.Fit()
	if err != nil {
		return nil, nil, err
	}

	stored := Fit{
		Slope:           rows[3][0],
		Intercept:       rows[3][1],
		LowerStageBound: rows[3][2],
		UpperStageBound: rows[3][3],
	}
	if err := CompareFits(stored, fresh); err != nil {
		return m, err.(*ConsistencyWarning), nil
	}
	return m, nil, nil
}

// CompareFits checks every recomputed value against the stored one with
// relative tolerance Tolerance. It returns a *ConsistencyWarning naming the
// values out of tolerance, or nil.
func CompareFits(stored, recomputed Fit) error {
	names := [4]string{"slope", "intercept", "lower bound", "upper bound"}
	old, fresh := stored.Values(), recomputed.Values()

	var bad []string
	for i := range old {
		if !withinTolerance(old[i], fresh[i]) {
			bad = append(bad, names[i])
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return &ConsistencyWarning{Stored: stored, Recomputed: recomputed, Fields: bad}
}

func withinTolerance(old, fresh float64) bool {
	if old == 0 {
		return fresh == 0
	}
	return math.Abs(old-fresh)/math.Abs(old) < Tolerance
}

// Save fits the model and writes it to dir under FileName(now). It returns
// the path written.
func (m *Model) Save(dir string, now time.Time) (string, error) {
	if _, err := m.Fit(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName(now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create calibration file: %w", err)
	}
	if _, err := m.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write calibration file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close calibration file: %w", err)
	}
	return path, nil
}

// Load reads the calibration file at path. See Deserialize for ok.
func Load(path string, rng ScanRange) (*Model, bool, error) {
	m, warn, err := LoadChecked(path, rng)
	return m, err == nil && warn == nil, err
}

// LoadChecked is Load returning the consistency mismatch, if any.
func LoadChecked(path string, rng ScanRange) (*Model, *ConsistencyWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open calibration file: %w", err)
	}
	defer f.Close()
	return ReadChecked(f, rng)
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func parseFloats(line string) ([]float64, error) {
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}
	fields := strings.Split(line, ",")
	vals := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %q is not a number", i+1, field)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("field %d: %q is not finite", i+1, field)
		}
		vals[i] = v
	}
	return vals, nil
}
