package konsultasi

import (
	"time"

	"github.com/google/uuid"
)

// ClockRangesOverlap is the half-open [start,end) intersection test.
func ClockRangesOverlap(aStart, aEnd, bStart, bEnd Clock) bool {
	return aStart < bEnd && bStart < aEnd
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// validateSchedule checks the shape of a candidate schedule. today is midnight
// of the current date in the service location.
func validateSchedule(s *Schedule, today time.Time) error {
	if !s.StartTime.Valid() || !s.EndTime.Valid() {
		return newError(KindInvalidTimeRange, "time of day must be between 00:00 and 23:59")
	}
	if s.EndTime <= s.StartTime {
		return newError(KindInvalidTimeRange, "end time %s must be after start time %s", s.EndTime, s.StartTime)
	}

	switch s.Recurrence {
	case RecurrenceWeekly:
		if s.DayOfWeek == nil || s.SpecificDate != nil {
			return newError(KindInvalidSchedule, "weekly schedule requires a day of week and no specific date")
		}
		if *s.DayOfWeek < time.Sunday || *s.DayOfWeek > time.Saturday {
			return newError(KindInvalidSchedule, "invalid day of week %d", int(*s.DayOfWeek))
		}
	case RecurrenceOneTime:
		if s.SpecificDate == nil || s.DayOfWeek != nil {
			return newError(KindInvalidSchedule, "one-time schedule requires a specific date and no day of week")
		}
		if civilDate(*s.SpecificDate) < civilDate(today) {
			return newError(KindPastDate, "specific date %s is in the past", s.SpecificDate.Format(time.DateOnly))
		}
	default:
		return newError(KindInvalidSchedule, "unknown recurrence %q", s.Recurrence)
	}
	return nil
}

// checkScheduleConflict rejects a candidate whose recurrence key and time range
// collide with one of the caregiver's existing schedules.
func checkScheduleConflict(existing []Schedule, candidate *Schedule) error {
	key := candidate.RecurrenceKey()
	for i := range existing {
		s := &existing[i]
		if s.ID == candidate.ID || s.CaregiverID != candidate.CaregiverID {
			continue
		}
		if s.RecurrenceKey() != key {
			continue
		}
		if ClockRangesOverlap(s.StartTime, s.EndTime, candidate.StartTime, candidate.EndTime) {
			return newError(KindScheduleConflict, "overlaps schedule %s (%s-%s)", s.ID, s.StartTime, s.EndTime)
		}
	}
	return nil
}

// matchesRecurrence reports whether dt falls inside one occurrence of s.
// dt must already be expressed in the service location.
func matchesRecurrence(s *Schedule, dt time.Time) bool {
	clock := ClockOf(dt)
	if clock < s.StartTime || clock >= s.EndTime {
		return false
	}

	switch s.Recurrence {
	case RecurrenceWeekly:
		return s.DayOfWeek != nil && dt.Weekday() == *s.DayOfWeek
	case RecurrenceOneTime:
		if s.SpecificDate == nil {
			return false
		}
		return civilDate(dt) == civilDate(*s.SpecificDate)
	}
	return false
}

// civilDate orders calendar days independent of location and time of day.
func civilDate(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

type interval struct {
	start, end time.Time
}

// occupiedIntervals lists the instants a non-terminal consultation holds.
// A pending reschedule holds both the proposal and the confirmed original.
func occupiedIntervals(k *Konsultasi, duration time.Duration) []interval {
	if k.Status.IsTerminal() {
		return nil
	}
	out := []interval{{k.ScheduleDateTime, k.ScheduleDateTime.Add(duration)}}
	if k.OriginalScheduleDateTime != nil {
		o := *k.OriginalScheduleDateTime
		out = append(out, interval{o, o.Add(duration)})
	}
	return out
}

// checkKonsultasiConflict rejects start when it overlaps any non-terminal
// consultation in existing other than exclude.
func checkKonsultasiConflict(existing []Konsultasi, start time.Time, duration time.Duration, exclude uuid.UUID) error {
	end := start.Add(duration)
	for i := range existing {
		k := &existing[i]
		if k.ID == exclude {
			continue
		}
		for _, iv := range occupiedIntervals(k, duration) {
			if timeRangesOverlap(iv.start, iv.end, start, end) {
				return newError(KindScheduleConflict, "overlaps konsultasi %s at %s", k.ID, iv.start.Format(time.RFC3339))
			}
		}
	}
	return nil
}
