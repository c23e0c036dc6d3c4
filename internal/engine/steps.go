package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"trustroom/internal/domain"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
	"trustroom/internal/repo"
	"trustroom/internal/timeline"
)

func validStep(caseID string, step int) error {
	if strings.TrimSpace(caseID) == "" {
		return invalidInput(errors.New("caseId is required"))
	}
	if step < 1 || step > domain.StepCount {
		return invalidInput(timeline.ErrStepOutOfRange)
	}
	return nil
}

// casPredicate pins a step mutation to the version that was read and to the
// active status.
func casPredicate(tc domain.TrustCase) repo.Predicate {
	active := domain.StatusActive
	version := tc.Version
	return repo.Predicate{Status: &active, Version: &version}
}

// ToggleStepDone flips the done flag of one step. Agents only.
func (e Engine) ToggleStepDone(ctx context.Context, caseID string, step int, creds access.Credentials) (out domain.TrustCase, err error) {
	ctx, done := e.observe(ctx, "toggle", caseID)
	defer done(&err)

	if err := validStep(caseID, step); err != nil {
		return domain.TrustCase{}, err
	}
	tc, p, role, err := e.authorize(ctx, creds, caseID, access.ActionToggle)
	if err != nil {
		return domain.TrustCase{}, err
	}
	if err := ensureStepsMutable(tc.Status); err != nil {
		return domain.TrustCase{}, err
	}
	now := e.now()
	steps, current, err := timeline.ToggleDone(tc.Steps, step, now)
	if err != nil {
		return domain.TrustCase{}, stepErr(err)
	}
	err = e.commit(ctx, "toggle", tc.ID, casPredicate(tc), repo.Patch{
		CurrentStep: &current,
		Steps:       steps,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.TrustCase{}, err
	}

	tc.Steps, tc.CurrentStep = steps, current
	tc.Version++
	tc.UpdatedAt = now
	e.publish(tc, events.ActionToggleStep)
	e.record(ctx, tc.ID, p, role, events.ActionToggleStep, events.EventPayload{
		"step":        step,
		"done":        steps[step-1].Done,
		"currentStep": current,
	})
	return tc, nil
}

// ConfirmStep confirms a done step. Confirming the last open step completes
// the case in the same write.
func (e Engine) ConfirmStep(ctx context.Context, caseID string, step int, creds access.Credentials) (out domain.TrustCase, err error) {
	ctx, done := e.observe(ctx, "confirm", caseID)
	defer done(&err)

	if err := validStep(caseID, step); err != nil {
		return domain.TrustCase{}, err
	}
	tc, p, role, err := e.authorize(ctx, creds, caseID, access.ActionConfirm)
	if err != nil {
		return domain.TrustCase{}, err
	}
	if err := ensureStepsMutable(tc.Status); err != nil {
		return domain.TrustCase{}, err
	}
	now := e.now()
	steps, err := timeline.Confirm(tc.Steps, step, now)
	if err != nil {
		return domain.TrustCase{}, stepErr(err)
	}
	completed := timeline.AllConfirmed(steps)
	patch := repo.Patch{Steps: steps, UpdatedAt: now}
	next := afterConfirm(tc.Status, completed)
	if next != tc.Status {
		patch.Status = &next
	}
	if err := e.commit(ctx, "confirm", tc.ID, casPredicate(tc), patch); err != nil {
		return domain.TrustCase{}, err
	}

	tc.Steps, tc.Status = steps, next
	tc.Version++
	tc.UpdatedAt = now
	e.publish(tc, events.ActionConfirmStep)
	e.record(ctx, tc.ID, p, role, events.ActionConfirmStep, events.EventPayload{"step": step})
	if completed {
		e.record(ctx, tc.ID, p, role, events.ActionCompleteCase, events.EventPayload{
			"completedAt": now.Format(time.RFC3339),
		})
		e.Logger.Info("trust case completed", "case_id", tc.ID)
	}
	return tc, nil
}
