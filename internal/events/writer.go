package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustroom/internal/domain"
)

// Audit action names.
const (
	ActionCreateCase    = "CREATE_TRUST_CASE"
	ActionToggleStep    = "TOGGLE_TRUST_STEP"
	ActionConfirmStep   = "CONFIRM_TRUST_STEP"
	ActionCompleteCase  = "COMPLETE_TRUST_CASE"
	ActionCompleteBuyer = "COMPLETE_BUYER_INFO"
	ActionUpgradeCase   = "UPGRADE_TRUST_CASE"
	ActionStartCase     = "AUTO_CREATE_CASE"
	wakePrefix          = "WAKE_TRUST_CASE_"
)

// WakeAction returns the wake audit action for an actor kind, e.g.
// WAKE_TRUST_CASE_AGENT.
func WakeAction(kind domain.ActorKind) string {
	switch kind {
	case domain.ActorAgent:
		return wakePrefix + "AGENT"
	case domain.ActorBuyer:
		return wakePrefix + "BUYER"
	default:
		return wakePrefix + "SYSTEM"
	}
}

type Store interface {
	InsertAuditEvent(ctx context.Context, evt domain.AuditEvent) (int64, error)
}

type Writer struct {
	Store Store
	Now   func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, caseID string, actor domain.ActorKind, action, reference, ip, userAgent string, payload EventPayload) error {
	if w.Store == nil {
		return errors.New("audit store not configured")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	switch actor {
	case domain.ActorAgent, domain.ActorBuyer, domain.ActorSystem:
	default:
		return fmt.Errorf("unknown actor kind %q", actor)
	}
	_, err := w.Store.InsertAuditEvent(ctx, domain.AuditEvent{
		CaseID:    caseID,
		ActorKind: actor,
		Action:    action,
		TS:        w.Now().UTC(),
		Detail:    payload,
		Reference: reference,
		IP:        ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return fmt.Errorf("append audit %s for %s: %w", action, caseID, err)
	}
	return nil
}
