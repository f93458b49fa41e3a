package game

import (
	"errors"
	"fmt"
)

// Kind groups failures by how the caller should react.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTiming     Kind = "timing"
	KindResource   Kind = "resource"
	KindDependency Kind = "dependency"
)

// Error is the session-level failure type. Two errors match under
// errors.Is when their codes match; the cause (e.g. board.ErrKo) stays
// reachable through Unwrap.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

var (
	ErrWrongTurn          = &Error{Kind: KindValidation, Code: "WRONG_TURN", Message: "not your turn"}
	ErrIllegalMove        = &Error{Kind: KindValidation, Code: "ILLEGAL_MOVE", Message: "illegal move"}
	ErrInvalidPhaseAction = &Error{Kind: KindValidation, Code: "INVALID_PHASE_ACTION", Message: "action not allowed in this phase"}
	ErrInvalidConfig      = &Error{Kind: KindValidation, Code: "INVALID_CONFIG", Message: "invalid rule configuration"}

	ErrTimeExpired        = &Error{Kind: KindTiming, Code: "TIME_EXPIRED", Message: "time expired"}
	ErrNegotiationExpired = &Error{Kind: KindTiming, Code: "NEGOTIATION_EXPIRED", Message: "negotiation expired"}

	ErrSessionNotFound         = &Error{Kind: KindResource, Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrSeatUnavailable         = &Error{Kind: KindResource, Code: "SEAT_UNAVAILABLE", Message: "seat unavailable"}
	ErrInsufficientEntitlement = &Error{Kind: KindResource, Code: "INSUFFICIENT_ENTITLEMENT", Message: "insufficient entitlement"}

	ErrAIUnavailable = &Error{Kind: KindDependency, Code: "AI_UNAVAILABLE", Message: "ai engine unavailable", Retryable: true}
	ErrPersistence   = &Error{Kind: KindDependency, Code: "PERSISTENCE_FAILURE", Message: "persistence failure", Retryable: true}
)

// IllegalMove wraps a board engine rejection.
func IllegalMove(cause error) error { return ErrIllegalMove.Wrap(cause) }

// KindOf reports the taxonomy kind of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CodeOf returns the error code, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
