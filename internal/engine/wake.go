package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"trustroom/internal/domain"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
	"trustroom/internal/notify"
	"trustroom/internal/repo"
)

type WakeResult struct {
	CaseID         string        `json:"caseId"`
	PreviousStatus domain.Status `json:"previousStatus"`
	Status         domain.Status `json:"status"`
	WokenAt        time.Time     `json:"wokenAt"`
}

// WakeCase moves a dormant case back to active. The write is conditioned on
// the dormant status and, for identity callers, on their ownership of the
// case.
func (e Engine) WakeCase(ctx context.Context, caseID string, creds access.Credentials) (out WakeResult, err error) {
	ctx, done := e.observe(ctx, "wake", caseID)
	defer done(&err)

	if strings.TrimSpace(caseID) == "" {
		return WakeResult{}, invalidInput(errors.New("caseId is required"))
	}
	tc, p, role, err := e.authorize(ctx, creds, caseID, access.ActionWake)
	if err != nil {
		return WakeResult{}, err
	}
	if err := ensureWake(tc.Status); err != nil {
		return WakeResult{}, err
	}

	dormant, active := domain.StatusDormant, domain.StatusActive
	pred := repo.Predicate{Status: &dormant}
	switch role {
	case access.RoleAgent:
		pred.AgentID = &p.Identity.ID
	case access.RoleBuyer:
		pred.BuyerID = &p.Identity.ID
	}
	now := e.now()
	err = e.commit(ctx, "wake", tc.ID, pred, repo.Patch{
		Status:         &active,
		ClearDormantAt: true,
		UpdatedAt:      now,
	})
	if err != nil {
		return WakeResult{}, err
	}

	out = WakeResult{CaseID: tc.ID, PreviousStatus: dormant, Status: active, WokenAt: now}
	actor := access.ActorKind(role)
	title := tc.PropertyTitle
	tc.Status, tc.DormantAt = active, nil
	tc.Version++
	tc.UpdatedAt = now
	e.publish(tc, events.WakeAction(actor))
	e.record(ctx, tc.ID, p, role, events.WakeAction(actor), events.EventPayload{
		"previousStatus": string(dormant),
		"status":         string(active),
		"wokenAt":        now.Format(time.RFC3339),
	})
	if e.Notifier != nil {
		n := notify.WakeNotification(tc.ID, title)
		e.Effects.Go(ctx, tc.ID, "notify:"+n.Type, func(ctx context.Context) error {
			return e.Notifier.Dispatch(ctx, n)
		})
	}
	e.Logger.Info("trust case woken", "case_id", tc.ID, "actor", string(actor))
	return out, nil
}
