package konsultasi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCaregiver Role = "CAREGIVER"
	RolePacilian  Role = "PACILIAN"
	RoleSystem    Role = "SYSTEM"
)

// ParseRole accepts the role names issued by the identity service, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleCaregiver:
		return RoleCaregiver, nil
	case RolePacilian:
		return RolePacilian, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is an already-authenticated caller.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Recurrence string

const (
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceOneTime Recurrence = "one-time"
)

type ScheduleStatus string

const (
	ScheduleAvailable   ScheduleStatus = "AVAILABLE"
	ScheduleBooked      ScheduleStatus = "BOOKED"
	ScheduleUnavailable ScheduleStatus = "UNAVAILABLE"
)

type Status string

const (
	StatusRequested   Status = "REQUESTED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusCancelled   Status = "CANCELLED"
	StatusDone        Status = "DONE"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusDone
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusRequested, StatusConfirmed, StatusRescheduled, StatusCancelled, StatusDone:
		return st, nil
	}
	return "", fmt.Errorf("unknown konsultasi status %q", s)
}

// Clock is a time of day in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// At returns the instant on the calendar day of date at this time of day.
func (c Clock) At(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

type Schedule struct {
	ID           uuid.UUID
	CaregiverID  uuid.UUID
	Recurrence   Recurrence
	DayOfWeek    *time.Weekday // set iff weekly
	SpecificDate *time.Time    // set iff one-time, midnight in the service location
	StartTime    Clock
	EndTime      Clock
	Status       ScheduleStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecurrenceKey identifies the calendar occurrences the schedule governs.
func (s *Schedule) RecurrenceKey() string {
	switch s.Recurrence {
	case RecurrenceWeekly:
		if s.DayOfWeek != nil {
			return "weekly:" + s.DayOfWeek.String()
		}
	case RecurrenceOneTime:
		if s.SpecificDate != nil {
			return "date:" + s.SpecificDate.Format(time.DateOnly)
		}
	}
	return ""
}

func (s *Schedule) clone() *Schedule {
	c := *s
	if s.DayOfWeek != nil {
		d := *s.DayOfWeek
		c.DayOfWeek = &d
	}
	if s.SpecificDate != nil {
		d := *s.SpecificDate
		c.SpecificDate = &d
	}
	return &c
}

type Konsultasi struct {
	ID                       uuid.UUID
	ScheduleID               uuid.UUID
	CaregiverID              uuid.UUID
	PacilianID               uuid.UUID
	ScheduleDateTime         time.Time
	OriginalScheduleDateTime *time.Time // set only while RESCHEDULED
	OriginalScheduleID       *uuid.UUID // set only while RESCHEDULED
	Notes                    string
	Status                   Status
	CreatedAt                time.Time
	LastUpdated              time.Time
}

// IsParticipant reports whether the actor is the caregiver or pacilian of k.
func (k *Konsultasi) IsParticipant(a Actor) bool {
	switch a.Role {
	case RoleCaregiver:
		return a.ID == k.CaregiverID
	case RolePacilian:
		return a.ID == k.PacilianID
	}
	return false
}

func (k *Konsultasi) clone() *Konsultasi {
	c := *k
	if k.OriginalScheduleDateTime != nil {
		t := *k.OriginalScheduleDateTime
		c.OriginalScheduleDateTime = &t
	}
	if k.OriginalScheduleID != nil {
		id := *k.OriginalScheduleID
		c.OriginalScheduleID = &id
	}
	return &c
}

type HistoryRecord struct {
	ID             uuid.UUID
	KonsultasiID   uuid.UUID
	PreviousStatus Status // empty for the creation record
	NewStatus      Status
	Timestamp      time.Time
	ActorID        uuid.UUID
	ActorRole      Role
	Note           string
}
