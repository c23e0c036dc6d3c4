// Package timeline holds the fixed six-step milestone model of a trust case.
// All functions are pure: they take a step set and return a new one.
package timeline

import (
	"errors"
	"fmt"
	"time"

	"trustroom/internal/domain"
)

var (
	ErrStepOutOfRange   = errors.New("步驟編號超出範圍")
	ErrStepNotDone      = errors.New("步驟尚未完成，無法確認")
	ErrAlreadyConfirmed = errors.New("步驟已確認")
	ErrConfirmedLocked  = errors.New("步驟已確認，無法取消完成")
)

// Initial returns the step set of a freshly created case.
func Initial() []domain.Step {
	steps := make([]domain.Step, domain.StepCount)
	for i := range steps {
		steps[i] = domain.Step{Number: i + 1, Name: domain.StepNames[i]}
	}
	return steps
}

// CurrentStep is the lowest step number that is not done, or the last step
// when every step is done.
func CurrentStep(steps []domain.Step) int {
	for _, s := range steps {
		if !s.Done {
			return s.Number
		}
	}
	return domain.StepCount
}

// AllConfirmed reports whether every step is both done and confirmed.
func AllConfirmed(steps []domain.Step) bool {
	if len(steps) != domain.StepCount {
		return false
	}
	for _, s := range steps {
		if !s.Done || !s.Confirmed {
			return false
		}
	}
	return true
}

// ToggleDone flips the done flag of step n and returns the new step set and
// current step.
func ToggleDone(steps []domain.Step, n int, now time.Time) ([]domain.Step, int, error) {
	idx, err := index(steps, n)
	if err != nil {
		return nil, 0, err
	}
	next := clone(steps)
	s := &next[idx]
	if s.Done {
		if s.Confirmed {
			return nil, 0, ErrConfirmedLocked
		}
		s.Done = false
		s.Date = nil
	} else {
		ts := now.UTC()
		s.Done = true
		s.Date = &ts
	}
	return next, CurrentStep(next), nil
}

// Confirm marks step n confirmed. Only a done, unconfirmed step can be
// confirmed.
func Confirm(steps []domain.Step, n int, now time.Time) ([]domain.Step, error) {
	idx, err := index(steps, n)
	if err != nil {
		return nil, err
	}
	if !steps[idx].Done {
		return nil, ErrStepNotDone
	}
	if steps[idx].Confirmed {
		return nil, ErrAlreadyConfirmed
	}
	next := clone(steps)
	ts := now.UTC()
	next[idx].Confirmed = true
	next[idx].ConfirmedAt = &ts
	return next, nil
}

// Validate checks the structural invariants of a stored step set.
func Validate(steps []domain.Step) error {
	if len(steps) != domain.StepCount {
		return fmt.Errorf("expected %d steps, got %d", domain.StepCount, len(steps))
	}
	for i, s := range steps {
		if s.Number != i+1 {
			return fmt.Errorf("step %d out of order (found %d)", i+1, s.Number)
		}
		if !s.Done && s.Date != nil {
			return fmt.Errorf("step %d has a date but is not done", s.Number)
		}
		if s.Confirmed && !s.Done {
			return fmt.Errorf("step %d confirmed but not done", s.Number)
		}
	}
	return nil
}

func index(steps []domain.Step, n int) (int, error) {
	if n < 1 || n > domain.StepCount || len(steps) != domain.StepCount {
		return 0, ErrStepOutOfRange
	}
	return n - 1, nil
}

func clone(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	return out
}
