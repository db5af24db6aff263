package konsultasi

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick a response without parsing messages.
type Kind string

const (
	KindNotFound                 Kind = "NOT_FOUND"
	KindInvalidTimeRange         Kind = "INVALID_TIME_RANGE"
	KindPastDate                 Kind = "PAST_DATE"
	KindScheduleConflict         Kind = "SCHEDULE_CONFLICT"
	KindScheduleNotAvailable     Kind = "SCHEDULE_NOT_AVAILABLE" // date-time outside the recurrence
	KindScheduleClosed           Kind = "SCHEDULE_CLOSED"        // schedule is booked or unavailable
	KindInvalidStateTransition   Kind = "INVALID_STATE_TRANSITION"
	KindWithinCancellationWindow Kind = "WITHIN_CANCELLATION_WINDOW"
	KindUnauthorized             Kind = "UNAUTHORIZED"
	KindActiveConsultationBlock  Kind = "ACTIVE_CONSULTATION_BLOCK"
	KindInvalidSchedule          Kind = "INVALID_SCHEDULE"
	KindBusy                     Kind = "BUSY"
)

type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return e.Reason
}

// Is matches any *Error of the same kind when target has no reason,
// and only the identical kind and reason otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a core error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrInvalidTimeRange         = &Error{Kind: KindInvalidTimeRange}
	ErrPastDate                 = &Error{Kind: KindPastDate}
	ErrScheduleConflict         = &Error{Kind: KindScheduleConflict}
	ErrScheduleNotAvailable     = &Error{Kind: KindScheduleNotAvailable}
	ErrScheduleClosed           = &Error{Kind: KindScheduleClosed}
	ErrInvalidStateTransition   = &Error{Kind: KindInvalidStateTransition}
	ErrWithinCancellationWindow = &Error{Kind: KindWithinCancellationWindow}
	ErrUnauthorized             = &Error{Kind: KindUnauthorized}
	ErrActiveConsultationBlock  = &Error{Kind: KindActiveConsultationBlock}
	ErrInvalidSchedule          = &Error{Kind: KindInvalidSchedule}
	ErrBusy                     = &Error{Kind: KindBusy}
)

var (
	ErrScheduleNotFound   = &Error{Kind: KindNotFound, Reason: "schedule not found"}
	ErrKonsultasiNotFound = &Error{Kind: KindNotFound, Reason: "konsultasi not found"}
)
