package engine

import (
	"errors"

	"trustroom/internal/apperr"
	"trustroom/internal/repo"
	"trustroom/internal/timeline"
)

// storeErr maps a CaseStore failure onto the public taxonomy. Malformed rows
// are internal failures like any other store error.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, apperr.MsgNotFound, err)
	}
	return apperr.Wrap(apperr.KindInternal, apperr.MsgInternal, err)
}

func stepErr(err error) error {
	switch {
	case errors.Is(err, timeline.ErrStepOutOfRange),
		errors.Is(err, timeline.ErrStepNotDone),
		errors.Is(err, timeline.ErrAlreadyConfirmed),
		errors.Is(err, timeline.ErrConfirmedLocked):
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return apperr.Wrap(apperr.KindInternal, apperr.MsgInternal, err)
}

func invalidInput(err error) error {
	return apperr.Wrap(apperr.KindValidation, apperr.MsgInvalidBody, err)
}
