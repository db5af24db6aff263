package konsultasi

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent is emitted after a transition has been committed.
type TransitionEvent struct {
	KonsultasiID     uuid.UUID `json:"konsultasi_id"`
	ScheduleID       uuid.UUID `json:"schedule_id"`
	CaregiverID      uuid.UUID `json:"caregiver_id"`
	PacilianID       uuid.UUID `json:"pacilian_id"`
	Action           Action    `json:"action"`
	PreviousStatus   Status    `json:"previous_status,omitempty"`
	NewStatus        Status    `json:"new_status"`
	ScheduleDateTime time.Time `json:"schedule_date_time"`
	ActorID          uuid.UUID `json:"actor_id"`
	ActorRole        Role      `json:"actor_role"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, TransitionEvent) error { return nil }
