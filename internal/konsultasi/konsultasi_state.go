package konsultasi

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate           Action = "create"
	ActionConfirm          Action = "confirm"
	ActionCancel           Action = "cancel"
	ActionComplete         Action = "complete"
	ActionReschedule       Action = "reschedule"
	ActionAcceptReschedule Action = "accept_reschedule"
	ActionRejectReschedule Action = "reject_reschedule"
)

func (a Action) verb() string {
	switch a {
	case ActionAcceptReschedule:
		return "accept a reschedule of"
	case ActionRejectReschedule:
		return "reject a reschedule of"
	}
	return string(a)
}

// Proposal is the target of a reschedule.
type Proposal struct {
	ScheduleID uuid.UUID
	DateTime   time.Time
}

type transitionInput struct {
	Action   Action
	Now      time.Time
	Window   time.Duration
	Proposal *Proposal
}

// transition is the single transition table for consultations. It mutates k in
// place, so callers hand it a copy and persist only on success.
func transition(k *Konsultasi, in transitionInput) error {
	if in.Action == ActionReschedule && in.Proposal == nil {
		return newError(KindInvalidStateTransition, "reschedule requires a proposed date-time")
	}

	switch k.Status {
	case StatusRequested:
		switch in.Action {
		case ActionConfirm:
			k.Status = StatusConfirmed
		case ActionCancel:
			k.Status = StatusCancelled
		case ActionReschedule:
			k.ScheduleID = in.Proposal.ScheduleID
			k.ScheduleDateTime = in.Proposal.DateTime
		case ActionComplete:
			return newError(KindInvalidStateTransition, "konsultasi is not yet confirmed")
		case ActionAcceptReschedule, ActionRejectReschedule:
			return newError(KindInvalidStateTransition, "konsultasi has no pending reschedule")
		default:
			return unknownAction(in.Action)
		}

	case StatusConfirmed:
		switch in.Action {
		case ActionConfirm:
			return newError(KindInvalidStateTransition, "konsultasi is already confirmed")
		case ActionCancel:
			if err := checkWindow(k.ScheduleDateTime, in); err != nil {
				return err
			}
			k.Status = StatusCancelled
		case ActionComplete:
			k.Status = StatusDone
		case ActionReschedule:
			if err := checkWindow(k.ScheduleDateTime, in); err != nil {
				return err
			}
			original := k.ScheduleDateTime
			originalID := k.ScheduleID
			k.OriginalScheduleDateTime = &original
			k.OriginalScheduleID = &originalID
			k.ScheduleID = in.Proposal.ScheduleID
			k.ScheduleDateTime = in.Proposal.DateTime
			k.Status = StatusRescheduled
		case ActionAcceptReschedule, ActionRejectReschedule:
			return newError(KindInvalidStateTransition, "konsultasi has no pending reschedule")
		default:
			return unknownAction(in.Action)
		}

	case StatusRescheduled:
		switch in.Action {
		case ActionConfirm, ActionAcceptReschedule:
			k.OriginalScheduleDateTime = nil
			k.OriginalScheduleID = nil
			k.Status = StatusConfirmed
		case ActionRejectReschedule:
			if k.OriginalScheduleDateTime != nil {
				k.ScheduleDateTime = *k.OriginalScheduleDateTime
			}
			if k.OriginalScheduleID != nil {
				k.ScheduleID = *k.OriginalScheduleID
			}
			k.OriginalScheduleDateTime = nil
			k.OriginalScheduleID = nil
			k.Status = StatusConfirmed
		case ActionReschedule:
			// The window counts from the confirmed time, not the pending proposal.
			anchor := k.ScheduleDateTime
			if k.OriginalScheduleDateTime != nil {
				anchor = *k.OriginalScheduleDateTime
			}
			if err := checkWindow(anchor, in); err != nil {
				return err
			}
			k.ScheduleID = in.Proposal.ScheduleID
			k.ScheduleDateTime = in.Proposal.DateTime
		case ActionCancel, ActionComplete:
			return newError(KindInvalidStateTransition,
				"cannot %s konsultasi: pending reschedule must be accepted or rejected first", in.Action.verb())
		default:
			return unknownAction(in.Action)
		}

	case StatusCancelled, StatusDone:
		return newError(KindInvalidStateTransition, "cannot %s a %s konsultasi",
			in.Action.verb(), strings.ToLower(string(k.Status)))

	default:
		return newError(KindInvalidStateTransition, "unknown konsultasi status %q", k.Status)
	}

	k.LastUpdated = in.Now
	return nil
}

// checkWindow allows the action only when strictly more than the window remains.
func checkWindow(scheduled time.Time, in transitionInput) error {
	if scheduled.Sub(in.Now) > in.Window {
		return nil
	}
	return newError(KindWithinCancellationWindow,
		"cannot %s within %s of the scheduled time", in.Action.verb(), in.Window)
}

func unknownAction(a Action) error {
	return newError(KindInvalidStateTransition, "unknown action %q", a)
}
