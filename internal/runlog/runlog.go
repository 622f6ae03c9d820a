// Package runlog collects the log of one run and writes it, next to the
// run's plots and calibration file, into a dated run directory.
package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the name of the log inside the run directory.
const FileName = "log.txt"

// Path returns the run directory for a run started at t:
// <root>/<date>/<time>: <note>.
func Path(
	root, note string,
	t time.Time,
) (
	string,
) {
	dir := t.Format("15:04:05")
	if note != "" {
		dir += ": " + note
	}
	return filepath.Join(root, t.Format("2006-Jan-02"), dir)
}

// Log accumulates lines in memory until Flush. It implements io.Writer so
// it can sit behind a *log.Logger.
type Log struct {
	dir string

	mu    sync.Mutex
	lines []string
}

// New returns a log for a run started at t.
func New(root, note string, t time.Time) *Log {
	return &Log{dir: Path(root, note, t)}
}

// Dir returns the run directory. It may not exist before Mkdir or Flush.
func (l *Log) Dir() string { return l.dir }

// Mkdir creates the run directory and returns it.
func (l *Log) Mkdir() (string, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return l.dir, nil
}

// Printf appends a line.
func (l *Log) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *Log) Write(p []byte) (int, error) {
	l.Printf("%s", p)
	return len(p), nil
}

// Lines returns a copy of the lines so far.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Flush writes every line to log.txt in the run directory, replacing any
// previous contents.
func (l *Log) Flush() error {
	dir, err := l.Mkdir()
	if err != nil {
		return err
	}

	txt, err := os.Create(filepath.Join(dir, FileName))
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	defer txt.Close()

	w := bufio.NewWriter(txt)
	for _, line := range l.Lines() {
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return txt.Close()
}
