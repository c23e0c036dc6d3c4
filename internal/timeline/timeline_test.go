package timeline

import (
	"errors"
	"testing"
	"time"

	"trustroom/internal/domain"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestInitialSteps(t *testing.T) {
	steps := Initial()
	if len(steps) != domain.StepCount {
		t.Fatalf("expected %d steps, got %d", domain.StepCount, len(steps))
	}
	for i, s := range steps {
		if s.Number != i+1 || s.Name != domain.StepNames[i] {
			t.Fatalf("unexpected step %d: %+v", i, s)
		}
		if s.Done || s.Confirmed || s.Date != nil {
			t.Fatalf("step %d should start untouched: %+v", i+1, s)
		}
	}
	if CurrentStep(steps) != 1 {
		t.Fatalf("expected current step 1")
	}
	if err := Validate(steps); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestToggleDoneRecomputesCurrentStep(t *testing.T) {
	steps := Initial()
	steps, cur, err := ToggleDone(steps, 1, now)
	if err != nil {
		t.Fatalf("toggle 1: %v", err)
	}
	if cur != 2 || steps[0].Date == nil || !steps[0].Date.Equal(now) {
		t.Fatalf("unexpected state after toggle 1: cur=%d step=%+v", cur, steps[0])
	}
	// Skipping ahead never moves the current step past a not-done step.
	steps, cur, err = ToggleDone(steps, 3, now)
	if err != nil {
		t.Fatalf("toggle 3: %v", err)
	}
	if cur != 2 {
		t.Fatalf("expected current step 2, got %d", cur)
	}
	steps, cur, err = ToggleDone(steps, 1, now)
	if err != nil {
		t.Fatalf("untoggle 1: %v", err)
	}
	if cur != 1 || steps[0].Done || steps[0].Date != nil {
		t.Fatalf("untoggle should clear date: cur=%d step=%+v", cur, steps[0])
	}
	if err := Validate(steps); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestToggleAllDoneCapsAtLastStep(t *testing.T) {
	steps := Initial()
	var cur int
	var err error
	for n := 1; n <= domain.StepCount; n++ {
		steps, cur, err = ToggleDone(steps, n, now)
		if err != nil {
			t.Fatalf("toggle %d: %v", n, err)
		}
	}
	if cur != domain.StepCount {
		t.Fatalf("expected current step %d, got %d", domain.StepCount, cur)
	}
}

func TestToggleDoesNotMutateInput(t *testing.T) {
	steps := Initial()
	if _, _, err := ToggleDone(steps, 2, now); err != nil {
		t.Fatal(err)
	}
	if steps[1].Done {
		t.Fatalf("input slice was modified")
	}
}

func TestToggleRejectsConfirmedStep(t *testing.T) {
	steps, _, _ := ToggleDone(Initial(), 1, now)
	steps, err := Confirm(steps, 1, now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, _, err := ToggleDone(steps, 1, now); !errors.Is(err, ErrConfirmedLocked) {
		t.Fatalf("expected ErrConfirmedLocked, got %v", err)
	}
}

func TestConfirmPreconditions(t *testing.T) {
	steps := Initial()
	if _, err := Confirm(steps, 2, now); !errors.Is(err, ErrStepNotDone) {
		t.Fatalf("expected ErrStepNotDone, got %v", err)
	}
	steps, _, _ = ToggleDone(steps, 2, now)
	steps, err := Confirm(steps, 2, now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !steps[1].Confirmed || steps[1].ConfirmedAt == nil {
		t.Fatalf("step not confirmed: %+v", steps[1])
	}
	if _, err := Confirm(steps, 2, now); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}
	for _, n := range []int{0, 7, -1} {
		if _, err := Confirm(steps, n, now); !errors.Is(err, ErrStepOutOfRange) {
			t.Fatalf("step %d: expected ErrStepOutOfRange, got %v", n, err)
		}
	}
}

func TestAllConfirmed(t *testing.T) {
	steps := Initial()
	for n := 1; n <= domain.StepCount; n++ {
		steps, _, _ = ToggleDone(steps, n, now)
	}
	if AllConfirmed(steps) {
		t.Fatalf("done but unconfirmed steps are not all confirmed")
	}
	for n := 1; n <= domain.StepCount; n++ {
		var err error
		steps, err = Confirm(steps, n, now)
		if err != nil {
			t.Fatalf("confirm %d: %v", n, err)
		}
	}
	if !AllConfirmed(steps) {
		t.Fatalf("expected all confirmed")
	}
}

func TestValidateCatchesBrokenInvariants(t *testing.T) {
	steps := Initial()
	steps[2].Date = &now
	if err := Validate(steps); err == nil {
		t.Fatalf("expected date-without-done error")
	}
	steps = Initial()
	steps[3].Confirmed = true
	if err := Validate(steps); err == nil {
		t.Fatalf("expected confirmed-without-done error")
	}
	if err := Validate(Initial()[:5]); err == nil {
		t.Fatalf("expected partial array error")
	}
}
