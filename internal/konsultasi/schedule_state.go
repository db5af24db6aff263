package konsultasi

import "time"

type ScheduleAction string

const (
	ScheduleBook            ScheduleAction = "book"
	ScheduleMakeAvailable   ScheduleAction = "make_available"
	ScheduleMakeUnavailable ScheduleAction = "make_unavailable"
)

// CanBeBooked reports whether a new booking may reference the schedule.
func (s *Schedule) CanBeBooked() bool {
	return s.Status == ScheduleAvailable
}

// nextScheduleStatus is the single transition table for schedules.
// It returns the current status unchanged for the documented no-ops.
func nextScheduleStatus(current ScheduleStatus, action ScheduleAction) (ScheduleStatus, error) {
	switch current {
	case ScheduleAvailable:
		switch action {
		case ScheduleBook:
			return ScheduleBooked, nil
		case ScheduleMakeAvailable:
			return ScheduleAvailable, nil
		case ScheduleMakeUnavailable:
			return ScheduleUnavailable, nil
		}
	case ScheduleBooked:
		switch action {
		case ScheduleBook:
			return current, newError(KindInvalidStateTransition, "schedule is already booked")
		case ScheduleMakeAvailable:
			return ScheduleAvailable, nil
		case ScheduleMakeUnavailable:
			return ScheduleUnavailable, nil
		}
	case ScheduleUnavailable:
		switch action {
		case ScheduleBook:
			return current, newError(KindInvalidStateTransition, "schedule is unavailable")
		case ScheduleMakeAvailable:
			return ScheduleAvailable, nil
		case ScheduleMakeUnavailable:
			return ScheduleUnavailable, nil
		}
	default:
		return current, newError(KindInvalidStateTransition, "unknown schedule status %q", current)
	}
	return current, newError(KindInvalidStateTransition, "unknown schedule action %q", action)
}

// Apply runs action against the schedule, updating status and UpdatedAt together.
func (s *Schedule) Apply(action ScheduleAction, now time.Time) error {
	next, err := nextScheduleStatus(s.Status, action)
	if err != nil {
		return err
	}
	if next != s.Status {
		s.Status = next
		s.UpdatedAt = now
	}
	return nil
}
