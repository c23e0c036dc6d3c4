package engine

import (
	"trustroom/internal/apperr"
	"trustroom/internal/domain"
)

// Only dormant cases can be woken.
func ensureWake(s domain.Status) error {
	if s != domain.StatusDormant {
		return apperr.New(apperr.KindInvalidTransition, apperr.MsgWakeNotDormant)
	}
	return nil
}

// Steps only move while the case is active. Completed, dormant and closed
// cases are frozen.
func ensureStepsMutable(s domain.Status) error {
	if s != domain.StatusActive {
		return apperr.New(apperr.KindInvalidTransition, apperr.MsgStepNotAllowed)
	}
	return nil
}

var buyerInfoStatuses = []domain.Status{domain.StatusActive, domain.StatusDormant}

func ensureBuyerInfo(s domain.Status) error {
	for _, ok := range buyerInfoStatuses {
		if s == ok {
			return nil
		}
	}
	return apperr.New(apperr.KindInvalidTransition, apperr.MsgBuyerInfoStatus)
}

// Buyers can bind to any case that is still open.
func ensureUpgrade(s domain.Status) error {
	if s.IsClosed() || s == domain.StatusExpired {
		return apperr.New(apperr.KindInvalidTransition, apperr.MsgStepNotAllowed)
	}
	return nil
}

// afterConfirm is the status a case takes once a confirmation lands.
func afterConfirm(current domain.Status, allConfirmed bool) domain.Status {
	if allConfirmed {
		return domain.StatusCompleted
	}
	return current
}
