package konsultasi

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Get methods return ErrScheduleNotFound / ErrKonsultasiNotFound for unknown ids.
type Repository interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedulesByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]Schedule, error)
	SaveSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	GetKonsultasi(ctx context.Context, id uuid.UUID) (*Konsultasi, error)
	ListKonsultasiByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]Konsultasi, error)
	ListKonsultasiByPacilian(ctx context.Context, pacilianID uuid.UUID) ([]Konsultasi, error)
	ListKonsultasiByStatusAndCaregiver(ctx context.Context, status Status, caregiverID uuid.UUID) ([]Konsultasi, error)
	// For deletion/deactivation blocks
	ListKonsultasiBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]Konsultasi, error)
	SaveKonsultasi(ctx context.Context, k *Konsultasi) error

	// Audit trail, newest first
	AppendHistory(ctx context.Context, h HistoryRecord) error
	ListHistory(ctx context.Context, konsultasiID uuid.UUID) ([]HistoryRecord, error)

	// Expiry worker
	FindStaleRequested(ctx context.Context, before time.Time) ([]Konsultasi, error)

	// WithinTx runs fn against a transactional view; nothing fn wrote is
	// visible if it returns an error.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
