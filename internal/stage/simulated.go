package stage

import (
	"context"
	"fmt"
	"sync"
)

// Limits bounds the travel of a simulated stage. The zero value is
// unlimited.
type Limits struct {
	Min, Max float64
}

func (l Limits) contains(x float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return x >= l.Min && x <= l.Max
}

// Simulated is an in-memory stage. It is safe for concurrent use so a
// simulated spectrometer can read its position from another goroutine.
type Simulated struct {
	Backlash float64
	Limits   Limits

	mu    sync.Mutex
	pos   float64
	moves []float64
	homes int
}

// NewSimulated returns a stage sitting at start with the default backlash.
func NewSimulated(start float64) *Simulated {
	return &Simulated{Backlash: DefaultBacklash, pos: start}
}

// MoveAbsolute moves to target with backlash compensation.
func (s *Simulated) MoveAbsolute(ctx context.Context, target float64) error {
	return MoveWithBacklash(ctx, s, target, s.Backlash)
}

// MoveTo moves without compensation.
func (s *Simulated) MoveTo(ctx context.Context, target float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Limits.contains(target) {
		return fmt.Errorf("stage: %g outside travel [%g, %g]", target, s.Limits.Min, s.Limits.Max)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = target
	s.moves = append(s.moves, target)
	return nil
}

// Position returns the current position.
func (s *Simulated) Position(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

// Home moves to zero.
func (s *Simulated) Home(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.homes++
	return nil
}

// Moves returns every uncompensated move made so far, in order.
func (s *Simulated) Moves() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.moves))
	copy(out, s.moves)
	return out
}

// Homes counts Home calls.
func (s *Simulated) Homes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homes
}
