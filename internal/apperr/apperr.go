// Package apperr defines the closed set of failures returned by the trust
// workflow engine.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidTransition
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidTransition:
		return "invalid_state_transition"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a typed engine failure. Message is user-facing; Err is the
// underlying cause kept for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Fixed user-facing messages.
const (
	MsgInvalidBody      = "請求參數格式錯誤"
	MsgUnauthorized     = "未授權的存取"
	MsgTokenInvalid     = "未登入或 Token 已過期"
	MsgForbidden        = "無權限操作此案件"
	MsgNotFound         = "找不到案件"
	MsgConflict         = "案件狀態已變更，請重新操作"
	MsgWakeNotDormant   = "案件狀態不允許喚醒（必須為休眠狀態）"
	MsgStepNotAllowed   = "案件狀態不允許此操作"
	MsgBuyerInfoStatus  = "案件狀態不允許更新買方資訊"
	MsgGuestTokenExpire = "案件 Token 已過期"
	MsgInternal         = "伺服器內部錯誤"
)
