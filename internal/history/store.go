// Package history keeps a SQLite record of calibration runs.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/HamletTheHamster/monocal/internal/calibration"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	file_path    TEXT,
	lower_limit  REAL NOT NULL,
	span_width   REAL NOT NULL,
	slope        REAL NOT NULL,
	intercept    REAL NOT NULL,
	lower_bound  REAL NOT NULL,
	upper_bound  REAL NOT NULL,
	consistent   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	position     REAL NOT NULL,
	wavelength   REAL NOT NULL,
	width        REAL NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS observations_run ON observations(run_id, seq);
`

// Kinds of run.
const (
	KindCalibrate = "calibrate"
	KindLoad      = "load"
)

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("history: run not found")

// Run is one recorded calibration.
type Run struct {
	ID         string
	Kind       string
	CreatedAt  time.Time
	Path       string
	Range      calibration.ScanRange
	Fit        calibration.Fit
	Consistent bool

	// Observations is filled by Get only.
	Observations []calibration.Observation
}

// Store records runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at dbPath and creates the tables.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a fitted model as a new run and returns it.
func (s *Store) Record(
	kind, path string,
	m *calibration.Model,
	consistent bool,
) (
	Run, error,
) {
	fit, err := m.Current()
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:           uuid.New().String(),
		Kind:         kind,
		CreatedAt:    time.Now().UTC(),
		Path:         path,
		Range:        m.Range(),
		Fit:          fit,
		Consistent:   consistent,
		Observations: m.Observations(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Run{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, kind, created_at, file_path, lower_limit, span_width,
		                   slope, intercept, lower_bound, upper_bound, consistent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.CreatedAt.Format(timeFormat), run.Path,
		run.Range.LowerBound, run.Range.SpanWidth,
		fit.Slope, fit.Intercept, fit.LowerStageBound, fit.UpperStageBound,
		consistent,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	for i, o := range run.Observations {
		_, err := tx.Exec(
			`INSERT INTO observations (run_id, seq, position, wavelength, width) VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, o.Position, o.Wavelength, o.Width,
		)
		if err != nil {
			return Run{}, fmt.Errorf("insert observation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first, without observations.
func (s *Store) List(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, kind, created_at, file_path, lower_limit, span_width,
		        slope, intercept, lower_bound, upper_bound, consistent
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns a run with its observations in recorded order.
func (s *Store) Get(id string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, kind, created_at, file_path, lower_limit, span_width,
		        slope, intercept, lower_bound, upper_bound, consistent
		 FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.Query(
		`SELECT position, wavelength, width FROM observations WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return Run{}, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o calibration.Observation
		if err := rows.Scan(&o.Position, &o.Wavelength, &o.Width); err != nil {
			return Run{}, fmt.Errorf("scan observation: %w", err)
		}
		r.Observations = append(r.Observations, o)
	}
	return r, rows.Err()
}

// Model rebuilds the calibration model recorded for a run.
func (r Run) Model() (*calibration.Model, error) {
	m := calibration.New(r.Range)
	for _, o := range r.Observations {
		m.AddPoint(o.Position, o.Wavelength, o.Width)
	}
	if _, err := m.Fit(); err != nil {
		return nil, err
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r          Run
		createdAt  string
		path       sql.NullString
		consistent bool
	)
	err := sc.Scan(&r.ID, &r.Kind, &createdAt, &path,
		&r.Range.LowerBound, &r.Range.SpanWidth,
		&r.Fit.Slope, &r.Fit.Intercept, &r.Fit.LowerStageBound, &r.Fit.UpperStageBound,
		&consistent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	r.Path = path.String
	r.Consistent = consistent
	return r, nil
}
