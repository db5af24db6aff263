package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/profile"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := parseWeekday(fl.Field().String())
		return err == nil
	})
	return v
}

func parseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown day of week %q", s)
}

type CreateScheduleRequest struct {
	Recurrence   string  `json:"recurrence" validate:"required,oneof=weekly one-time"`
	DayOfWeek    *string `json:"day_of_week,omitempty" validate:"omitempty,weekday"`
	SpecificDate *string `json:"specific_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartTime    string  `json:"start_time" validate:"required,datetime=15:04"`
	EndTime      string  `json:"end_time" validate:"required,datetime=15:04"`
}

// toInput converts the request, interpreting specific_date in loc.
func (r CreateScheduleRequest) toInput(loc *time.Location) (konsultasi.CreateScheduleInput, error) {
	in := konsultasi.CreateScheduleInput{Recurrence: konsultasi.Recurrence(r.Recurrence)}

	var err error
	if in.StartTime, err = konsultasi.ParseClock(r.StartTime); err != nil {
		return in, err
	}
	if in.EndTime, err = konsultasi.ParseClock(r.EndTime); err != nil {
		return in, err
	}
	if r.DayOfWeek != nil {
		d, err := parseWeekday(*r.DayOfWeek)
		if err != nil {
			return in, err
		}
		in.DayOfWeek = &d
	}
	if r.SpecificDate != nil {
		d, err := time.ParseInLocation(time.DateOnly, *r.SpecificDate, loc)
		if err != nil {
			return in, fmt.Errorf("invalid specific_date: %w", err)
		}
		in.SpecificDate = &d
	}
	return in, nil
}

type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type CreateKonsultasiRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required,uuid"`
	DateTime   string `json:"date_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Notes      string `json:"notes" validate:"max=1000"`
}

func (r CreateKonsultasiRequest) toInput() (konsultasi.CreateKonsultasiInput, error) {
	id, err := uuid.Parse(r.ScheduleID)
	if err != nil {
		return konsultasi.CreateKonsultasiInput{}, fmt.Errorf("invalid schedule_id: %w", err)
	}
	at, err := time.Parse(time.RFC3339, r.DateTime)
	if err != nil {
		return konsultasi.CreateKonsultasiInput{}, fmt.Errorf("invalid date_time: %w", err)
	}
	return konsultasi.CreateKonsultasiInput{ScheduleID: id, DateTime: at, Notes: r.Notes}, nil
}

type RescheduleRequest struct {
	DateTime   string  `json:"date_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	ScheduleID *string `json:"schedule_id,omitempty" validate:"omitempty,uuid"`
}

func (r RescheduleRequest) toInput() (konsultasi.RescheduleInput, error) {
	at, err := time.Parse(time.RFC3339, r.DateTime)
	if err != nil {
		return konsultasi.RescheduleInput{}, fmt.Errorf("invalid date_time: %w", err)
	}
	in := konsultasi.RescheduleInput{DateTime: at}
	if r.ScheduleID != nil {
		id, err := uuid.Parse(*r.ScheduleID)
		if err != nil {
			return in, fmt.Errorf("invalid schedule_id: %w", err)
		}
		in.NewScheduleID = &id
	}
	return in, nil
}

type ScheduleResponse struct {
	ID           uuid.UUID `json:"id"`
	CaregiverID  uuid.UUID `json:"caregiver_id"`
	Recurrence   string    `json:"recurrence"`
	DayOfWeek    string    `json:"day_of_week,omitempty"`
	SpecificDate string    `json:"specific_date,omitempty"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Status       string    `json:"status"`
}

func newScheduleResponse(s *konsultasi.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:          s.ID,
		CaregiverID: s.CaregiverID,
		Recurrence:  string(s.Recurrence),
		StartTime:   s.StartTime.String(),
		EndTime:     s.EndTime.String(),
		Status:      string(s.Status),
	}
	if s.DayOfWeek != nil {
		resp.DayOfWeek = strings.ToUpper(s.DayOfWeek.String())
	}
	if s.SpecificDate != nil {
		resp.SpecificDate = s.SpecificDate.Format(time.DateOnly)
	}
	return resp
}

func newScheduleList(list []konsultasi.Schedule) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(list))
	for i := range list {
		out = append(out, newScheduleResponse(&list[i]))
	}
	return out
}

type KonsultasiResponse struct {
	ID                       uuid.UUID        `json:"id"`
	ScheduleID               uuid.UUID        `json:"schedule_id"`
	CaregiverID              uuid.UUID        `json:"caregiver_id"`
	PacilianID               uuid.UUID        `json:"pacilian_id"`
	ScheduleDateTime         time.Time        `json:"schedule_date_time"`
	OriginalScheduleDateTime *time.Time       `json:"original_schedule_date_time,omitempty"`
	OriginalScheduleID       *uuid.UUID       `json:"original_schedule_id,omitempty"`
	Notes                    string           `json:"notes,omitempty"`
	Status                   string           `json:"status"`
	CreatedAt                time.Time        `json:"created_at"`
	LastUpdated              time.Time        `json:"last_updated"`
	Caregiver                *profile.Profile `json:"caregiver,omitempty"`
	Pacilian                 *profile.Profile `json:"pacilian,omitempty"`
}

func newKonsultasiResponse(k *konsultasi.Konsultasi) KonsultasiResponse {
	return KonsultasiResponse{
		ID:                       k.ID,
		ScheduleID:               k.ScheduleID,
		CaregiverID:              k.CaregiverID,
		PacilianID:               k.PacilianID,
		ScheduleDateTime:         k.ScheduleDateTime,
		OriginalScheduleDateTime: k.OriginalScheduleDateTime,
		OriginalScheduleID:       k.OriginalScheduleID,
		Notes:                    k.Notes,
		Status:                   string(k.Status),
		CreatedAt:                k.CreatedAt,
		LastUpdated:              k.LastUpdated,
	}
}

type HistoryResponse struct {
	ID             uuid.UUID `json:"id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
	ActorID        uuid.UUID `json:"actor_id"`
	ActorRole      string    `json:"actor_role"`
	Note           string    `json:"note,omitempty"`
}

func newHistoryList(records []konsultasi.HistoryRecord) []HistoryResponse {
	out := make([]HistoryResponse, 0, len(records))
	for _, h := range records {
		out = append(out, HistoryResponse{
			ID:             h.ID,
			PreviousStatus: string(h.PreviousStatus),
			NewStatus:      string(h.NewStatus),
			Timestamp:      h.Timestamp,
			ActorID:        h.ActorID,
			ActorRole:      string(h.ActorRole),
			Note:           h.Note,
		})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
