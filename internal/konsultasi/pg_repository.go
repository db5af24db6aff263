package konsultasi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// Helpers

const scheduleColumns = `id, caregiver_id, recurrence, day_of_week, specific_date, start_minute, end_minute, status, created_at, updated_at`

const konsultasiColumns = `id, schedule_id, caregiver_id, pacilian_id, schedule_date_time, original_schedule_date_time,
	original_schedule_id, notes, status, created_at, last_updated`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var dayOfWeek *int16
	var specificDate *time.Time
	var start, end int16

	err := row.Scan(
		&s.ID,
		&s.CaregiverID,
		&s.Recurrence,
		&dayOfWeek,
		&specificDate,
		&start,
		&end,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	if dayOfWeek != nil {
		d := time.Weekday(*dayOfWeek)
		s.DayOfWeek = &d
	}
	s.SpecificDate = specificDate
	s.StartTime = Clock(start)
	s.EndTime = Clock(end)
	return &s, nil
}

func scanKonsultasi(row pgx.Row) (*Konsultasi, error) {
	var k Konsultasi
	var originalAt *time.Time
	var originalID *uuid.UUID

	err := row.Scan(
		&k.ID,
		&k.ScheduleID,
		&k.CaregiverID,
		&k.PacilianID,
		&k.ScheduleDateTime,
		&originalAt,
		&originalID,
		&k.Notes,
		&k.Status,
		&k.CreatedAt,
		&k.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKonsultasiNotFound
		}
		return nil, err
	}

	k.OriginalScheduleDateTime = originalAt
	k.OriginalScheduleID = originalID
	return &k, nil
}

func collectRows[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) listKonsultasi(ctx context.Context, where string, args ...any) ([]Konsultasi, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+konsultasiColumns+`
		FROM konsultasi
		WHERE `+where+`
		ORDER BY schedule_date_time, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query konsultasi: %w", err)
	}
	return collectRows(rows, scanKonsultasi)
}

// Interface methods

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *PgRepository) ListSchedulesByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]Schedule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE caregiver_id = $1
		ORDER BY created_at, id
	`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	return collectRows(rows, scanSchedule)
}

func (r *PgRepository) SaveSchedule(ctx context.Context, s *Schedule) error {
	var dayOfWeek *int16
	if s.DayOfWeek != nil {
		d := int16(*s.DayOfWeek)
		dayOfWeek = &d
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO schedules (id, caregiver_id, recurrence, day_of_week, specific_date, start_minute, end_minute, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET caregiver_id = EXCLUDED.caregiver_id,
		    recurrence = EXCLUDED.recurrence,
		    day_of_week = EXCLUDED.day_of_week,
		    specific_date = EXCLUDED.specific_date,
		    start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
	`, s.ID, s.CaregiverID, s.Recurrence, dayOfWeek, s.SpecificDate, int16(s.StartTime), int16(s.EndTime), s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgRepository) GetKonsultasi(ctx context.Context, id uuid.UUID) (*Konsultasi, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+konsultasiColumns+`
		FROM konsultasi
		WHERE id = $1
	`, id)
	return scanKonsultasi(row)
}

func (r *PgRepository) ListKonsultasiByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]Konsultasi, error) {
	return r.listKonsultasi(ctx, `caregiver_id = $1`, caregiverID)
}

func (r *PgRepository) ListKonsultasiByPacilian(ctx context.Context, pacilianID uuid.UUID) ([]Konsultasi, error) {
	return r.listKonsultasi(ctx, `pacilian_id = $1`, pacilianID)
}

func (r *PgRepository) ListKonsultasiByStatusAndCaregiver(ctx context.Context, status Status, caregiverID uuid.UUID) ([]Konsultasi, error) {
	return r.listKonsultasi(ctx, `status = $1 AND caregiver_id = $2`, status, caregiverID)
}

func (r *PgRepository) ListKonsultasiBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]Konsultasi, error) {
	return r.listKonsultasi(ctx, `schedule_id = $1 OR original_schedule_id = $1`, scheduleID)
}

func (r *PgRepository) SaveKonsultasi(ctx context.Context, k *Konsultasi) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO konsultasi (id, schedule_id, caregiver_id, pacilian_id, schedule_date_time, original_schedule_date_time,
		                        original_schedule_id, notes, status, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET schedule_id = EXCLUDED.schedule_id,
		    schedule_date_time = EXCLUDED.schedule_date_time,
		    original_schedule_date_time = EXCLUDED.original_schedule_date_time,
		    original_schedule_id = EXCLUDED.original_schedule_id,
		    notes = EXCLUDED.notes,
		    status = EXCLUDED.status,
		    last_updated = EXCLUDED.last_updated
	`, k.ID, k.ScheduleID, k.CaregiverID, k.PacilianID, k.ScheduleDateTime, k.OriginalScheduleDateTime,
		k.OriginalScheduleID, k.Notes, k.Status, k.CreatedAt, k.LastUpdated)
	if err != nil {
		return fmt.Errorf("save konsultasi: %w", err)
	}
	return nil
}

func (r *PgRepository) AppendHistory(ctx context.Context, h HistoryRecord) error {
	var previous *string
	if h.PreviousStatus != "" {
		p := string(h.PreviousStatus)
		previous = &p
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO konsultasi_history (id, konsultasi_id, previous_status, new_status, created_at, actor_id, actor_role, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.KonsultasiID, previous, h.NewStatus, h.Timestamp, h.ActorID, h.ActorRole, h.Note)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHistory(ctx context.Context, konsultasiID uuid.UUID) ([]HistoryRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, konsultasi_id, previous_status, new_status, created_at, actor_id, actor_role, note
		FROM konsultasi_history
		WHERE konsultasi_id = $1
		ORDER BY seq DESC
	`, konsultasiID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectRows(rows, func(row pgx.Row) (*HistoryRecord, error) {
		var h HistoryRecord
		var previous *string
		if err := row.Scan(&h.ID, &h.KonsultasiID, &previous, &h.NewStatus, &h.Timestamp, &h.ActorID, &h.ActorRole, &h.Note); err != nil {
			return nil, err
		}
		if previous != nil {
			h.PreviousStatus = Status(*previous)
		}
		return &h, nil
	})
}

func (r *PgRepository) FindStaleRequested(ctx context.Context, before time.Time) ([]Konsultasi, error) {
	return r.listKonsultasi(ctx, `status = 'REQUESTED' AND schedule_date_time < $1`, before)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
