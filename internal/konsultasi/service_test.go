package konsultasi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/konsultasi-scheduling/internal/config"
	redisclient "github.com/hackgods/konsultasi-scheduling/internal/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev TransitionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *recordingMetrics) IncOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[op+"/"+outcome]++
}

func (m *recordingMetrics) ObserveDuration(string, time.Duration) {}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type serviceFixture struct {
	svc       *Service
	repo      *MemoryRepository
	events    *recordingPublisher
	metrics   *recordingMetrics
	now       time.Time
	caregiver Actor
	pacilian  Actor
}

// Monday 2 March 2026, 08:00 UTC
var fixtureNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:      NewMemoryRepository(),
		events:    &recordingPublisher{},
		metrics:   &recordingMetrics{counts: map[string]int{}},
		now:       fixtureNow,
		caregiver: Actor{ID: uuid.New(), Role: RoleCaregiver},
		pacilian:  Actor{ID: uuid.New(), Role: RolePacilian},
	}
	cfg := config.Config{
		Location:             time.UTC,
		CancellationWindow:   24 * time.Hour,
		ConsultationDuration: 30 * time.Minute,
	}
	f.svc = NewService(f.repo, NewLocalLocker(), cfg,
		WithClock(func() time.Time { return f.now }),
		WithPublisher(f.events),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *serviceFixture) weekly(t *testing.T, caregiver Actor, day time.Weekday, start, end Clock) *Schedule {
	t.Helper()
	s, err := f.svc.CreateSchedule(context.Background(), caregiver, CreateScheduleInput{
		Recurrence: RecurrenceWeekly,
		DayOfWeek:  &day,
		StartTime:  start,
		EndTime:    end,
	})
	require.NoError(t, err)
	return s
}

func (f *serviceFixture) oneTime(t *testing.T, caregiver Actor, on time.Time, start, end Clock) *Schedule {
	t.Helper()
	s, err := f.svc.CreateSchedule(context.Background(), caregiver, CreateScheduleInput{
		Recurrence:   RecurrenceOneTime,
		SpecificDate: &on,
		StartTime:    start,
		EndTime:      end,
	})
	require.NoError(t, err)
	return s
}

func (f *serviceFixture) book(t *testing.T, pacilian Actor, sched *Schedule, at time.Time) *Konsultasi {
	t.Helper()
	k, err := f.svc.CreateConsultation(context.Background(), pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at})
	require.NoError(t, err)
	return k
}

func (f *serviceFixture) confirmed(t *testing.T, pacilian Actor, sched *Schedule, at time.Time) *Konsultasi {
	t.Helper()
	k := f.book(t, pacilian, sched, at)
	k, err := f.svc.Confirm(context.Background(), k.ID, f.caregiver)
	require.NoError(t, err)
	return k
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sched := f.weekly(t, f.caregiver, time.Monday, NewClock(9, 0), NewClock(10, 0))

	k := f.book(t, f.pacilian, sched, at(9, 9, 30))
	assert.Equal(t, StatusRequested, k.Status)
	assert.Equal(t, f.caregiver.ID, k.CaregiverID)

	k, err := f.svc.Confirm(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, k.Status)

	_, err = f.svc.Confirm(ctx, k.ID, f.caregiver)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	k, err = f.svc.Complete(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, k.Status)

	_, err = f.svc.Cancel(ctx, k.ID, f.pacilian)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	history, err := f.svc.History(ctx, k.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, Status(""), history[2].PreviousStatus)
	assert.Equal(t, StatusRequested, history[2].NewStatus)
	assert.Equal(t, f.pacilian.ID, history[2].ActorID)
	assert.Equal(t, StatusRequested, history[1].PreviousStatus)
	assert.Equal(t, StatusConfirmed, history[1].NewStatus)
	assert.Equal(t, StatusConfirmed, history[0].PreviousStatus)
	assert.Equal(t, StatusDone, history[0].NewStatus)
	assert.Equal(t, RoleCaregiver, history[0].ActorRole)
}

func TestCreateScheduleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	monday := time.Monday

	_, err := f.svc.CreateSchedule(ctx, f.caregiver, CreateScheduleInput{
		Recurrence: RecurrenceWeekly, DayOfWeek: &monday, StartTime: NewClock(10, 0), EndTime: NewClock(10, 0),
	})
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	past := at(1, 0, 0)
	_, err = f.svc.CreateSchedule(ctx, f.caregiver, CreateScheduleInput{
		Recurrence: RecurrenceOneTime, SpecificDate: &past, StartTime: NewClock(9, 0), EndTime: NewClock(10, 0),
	})
	assert.ErrorIs(t, err, ErrPastDate)

	_, err = f.svc.CreateSchedule(ctx, f.pacilian, CreateScheduleInput{
		Recurrence: RecurrenceWeekly, DayOfWeek: &monday, StartTime: NewClock(9, 0), EndTime: NewClock(10, 0),
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	list, err := f.svc.ListSchedulesByCaregiver(ctx, f.caregiver.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "failed creations persist nothing")

	f.weekly(t, f.caregiver, time.Monday, NewClock(9, 0), NewClock(10, 0))
	_, err = f.svc.CreateSchedule(ctx, f.caregiver, CreateScheduleInput{
		Recurrence: RecurrenceWeekly, DayOfWeek: &monday, StartTime: NewClock(9, 30), EndTime: NewClock(11, 0),
	})
	assert.ErrorIs(t, err, ErrScheduleConflict)

	f.weekly(t, f.caregiver, time.Monday, NewClock(10, 0), NewClock(11, 0))
	other := Actor{ID: uuid.New(), Role: RoleCaregiver}
	f.weekly(t, other, time.Monday, NewClock(9, 0), NewClock(10, 0))
}

func TestCreateConsultationValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Monday, NewClock(9, 0), NewClock(12, 0))
	f.book(t, f.pacilian, sched, at(9, 9, 0))

	tests := []struct {
		name  string
		actor Actor
		in    CreateKonsultasiInput
		err   error
	}{
		{"unknown schedule", f.pacilian, CreateKonsultasiInput{ScheduleID: uuid.New(), DateTime: at(9, 10, 0)}, ErrScheduleNotFound},
		{"wrong weekday", f.pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(10, 10, 0)}, ErrScheduleNotAvailable},
		{"outside hours", f.pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(9, 12, 0)}, ErrScheduleNotAvailable},
		{"in the past", f.pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(2, 7, 0)}, ErrPastDate},
		{"caregiver cannot request", f.caregiver, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(9, 10, 0)}, ErrUnauthorized},
		{"pacilian overlap", f.pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(9, 9, 15)}, ErrScheduleConflict},
		{"caregiver overlap", Actor{ID: uuid.New(), Role: RolePacilian}, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(9, 9, 20)}, ErrScheduleConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateConsultation(ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	list, err := f.svc.ListKonsultasiByActor(ctx, f.caregiver, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// back to back with the existing booking is fine
	f.book(t, Actor{ID: uuid.New(), Role: RolePacilian}, sched, at(9, 9, 30))
}

func TestOneTimeScheduleIsBookedAndReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.oneTime(t, f.caregiver, at(10, 0, 0), NewClock(13, 0), NewClock(15, 0))

	k := f.book(t, f.pacilian, sched, at(10, 13, 0))
	stored, err := f.svc.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleBooked, stored.Status)

	_, err = f.svc.CreateConsultation(ctx, Actor{ID: uuid.New(), Role: RolePacilian},
		CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(10, 14, 0)})
	assert.ErrorIs(t, err, ErrScheduleClosed)
	assert.NotErrorIs(t, err, ErrScheduleNotAvailable, "the time itself matches the schedule")

	available, err := f.svc.ListAvailableSchedules(ctx, f.caregiver.ID)
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = f.svc.Cancel(ctx, k.ID, f.pacilian)
	require.NoError(t, err)

	stored, err = f.svc.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleAvailable, stored.Status)
}

func TestRescheduleConflictLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))

	k1 := f.confirmed(t, f.pacilian, sched, at(4, 10, 0))
	f.confirmed(t, Actor{ID: uuid.New(), Role: RolePacilian}, sched, at(4, 11, 0))

	before, err := f.repo.GetKonsultasi(ctx, k1.ID)
	require.NoError(t, err)
	historyBefore, err := f.svc.History(ctx, k1.ID)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, k1.ID, f.pacilian, RescheduleInput{DateTime: at(4, 11, 15)})
	assert.ErrorIs(t, err, ErrScheduleConflict)

	after, err := f.repo.GetKonsultasi(ctx, k1.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	historyAfter, err := f.svc.History(ctx, k1.ID)
	require.NoError(t, err)
	assert.Equal(t, historyBefore, historyAfter)
}

func TestRescheduleRejectAndAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	k := f.confirmed(t, f.pacilian, sched, at(4, 10, 0))

	k, err := f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(11, 10, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, k.Status)
	require.NotNil(t, k.OriginalScheduleDateTime)
	assert.True(t, at(4, 10, 0).Equal(*k.OriginalScheduleDateTime))

	// pending reschedule must be resolved before cancelling
	_, err = f.svc.Cancel(ctx, k.ID, f.pacilian)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// only the caregiver decides
	_, err = f.svc.RejectReschedule(ctx, k.ID, f.pacilian)
	assert.ErrorIs(t, err, ErrUnauthorized)

	k, err = f.svc.RejectReschedule(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, k.Status)
	assert.True(t, at(4, 10, 0).Equal(k.ScheduleDateTime))
	assert.Nil(t, k.OriginalScheduleDateTime)

	k, err = f.svc.Reschedule(ctx, k.ID, f.caregiver, RescheduleInput{DateTime: at(11, 11, 0)})
	require.NoError(t, err)
	k, err = f.svc.AcceptReschedule(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, k.Status)
	assert.True(t, at(11, 11, 0).Equal(k.ScheduleDateTime))

	history, err := f.svc.History(ctx, k.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, StatusRescheduled, history[0].PreviousStatus)
	assert.Equal(t, StatusConfirmed, history[0].NewStatus)
}

func TestRescheduleWhileRescheduledHoldsOriginalSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	k := f.confirmed(t, f.pacilian, sched, at(4, 10, 0))

	_, err := f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(11, 10, 0)})
	require.NoError(t, err)

	// the confirmed original stays occupied until the proposal is resolved
	_, err = f.svc.CreateConsultation(ctx, Actor{ID: uuid.New(), Role: RolePacilian},
		CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(4, 10, 0)})
	assert.ErrorIs(t, err, ErrScheduleConflict)

	// a consultation may move within its own occupied range
	_, err = f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(11, 10, 15)})
	require.NoError(t, err)
}

func TestRescheduleAcrossOneTimeSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.oneTime(t, f.caregiver, at(10, 0, 0), NewClock(13, 0), NewClock(15, 0))
	second := f.oneTime(t, f.caregiver, at(12, 0, 0), NewClock(13, 0), NewClock(15, 0))

	status := func(id uuid.UUID) ScheduleStatus {
		s, err := f.svc.GetSchedule(ctx, id)
		require.NoError(t, err)
		return s.Status
	}

	k := f.confirmed(t, f.pacilian, first, at(10, 13, 0))
	assert.Equal(t, ScheduleBooked, status(first.ID))

	k, err := f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(12, 13, 0), NewScheduleID: &second.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, k.ScheduleID)
	assert.Equal(t, ScheduleBooked, status(first.ID))
	assert.Equal(t, ScheduleBooked, status(second.ID))

	_, err = f.svc.RejectReschedule(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, ScheduleBooked, status(first.ID))
	assert.Equal(t, ScheduleAvailable, status(second.ID))

	_, err = f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(12, 14, 0), NewScheduleID: &second.ID})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, ScheduleAvailable, status(first.ID))
	assert.Equal(t, ScheduleBooked, status(second.ID))
}

func TestRescheduleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	k := f.confirmed(t, f.pacilian, sched, at(4, 10, 0))

	other := Actor{ID: uuid.New(), Role: RoleCaregiver}
	foreign := f.weekly(t, other, time.Thursday, NewClock(9, 0), NewClock(12, 0))

	_, err := f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(5, 10, 0), NewScheduleID: &foreign.ID})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(5, 10, 0)})
	assert.ErrorIs(t, err, ErrScheduleNotAvailable, "thursday does not match a wednesday schedule")

	missing := uuid.New()
	_, err = f.svc.Reschedule(ctx, k.ID, f.pacilian, RescheduleInput{DateTime: at(11, 10, 0), NewScheduleID: &missing})
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	_, err = f.svc.Reschedule(ctx, k.ID, Actor{ID: uuid.New(), Role: RolePacilian}, RescheduleInput{DateTime: at(11, 10, 0)})
	assert.ErrorIs(t, err, ErrUnauthorized)

	stored, err := f.repo.GetKonsultasi(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

func TestCancellationWindowThroughService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Tuesday, NewClock(7, 0), NewClock(8, 0))

	// Tuesday 07:00 is 23h away
	k := f.confirmed(t, f.pacilian, sched, at(3, 7, 0))

	_, err := f.svc.Cancel(ctx, k.ID, f.pacilian)
	assert.ErrorIs(t, err, ErrWithinCancellationWindow)

	_, err = f.svc.Reschedule(ctx, k.ID, f.caregiver, RescheduleInput{DateTime: at(10, 7, 0)})
	assert.ErrorIs(t, err, ErrWithinCancellationWindow, "window is reported before the proposal is validated")

	// a week later the next Tuesday is 24h+1s away
	k2 := f.confirmed(t, f.pacilian, sched, at(10, 7, 0))
	f.now = at(9, 7, 0).Add(-time.Second)
	_, err = f.svc.Cancel(ctx, k2.ID, f.pacilian)
	require.NoError(t, err)
}

func TestRoleEnforcement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	k := f.book(t, f.pacilian, sched, at(4, 10, 0))

	stranger := Actor{ID: uuid.New(), Role: RoleCaregiver}
	otherPacilian := Actor{ID: uuid.New(), Role: RolePacilian}

	calls := map[string]func() error{
		"pacilian confirms":      func() error { _, err := f.svc.Confirm(ctx, k.ID, f.pacilian); return err },
		"stranger confirms":      func() error { _, err := f.svc.Confirm(ctx, k.ID, stranger); return err },
		"pacilian completes":     func() error { _, err := f.svc.Complete(ctx, k.ID, f.pacilian); return err },
		"stranger cancels":       func() error { _, err := f.svc.Cancel(ctx, k.ID, stranger); return err },
		"other pacilian cancels": func() error { _, err := f.svc.Cancel(ctx, k.ID, otherPacilian); return err },
		"pacilian accepts":       func() error { _, err := f.svc.AcceptReschedule(ctx, k.ID, f.pacilian); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), ErrUnauthorized)
		})
	}

	history, err := f.svc.History(ctx, k.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.svc.GetKonsultasi(ctx, k.ID, otherPacilian)
	assert.ErrorIs(t, err, ErrUnauthorized)
	got, err := f.svc.GetKonsultasi(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)

	// either participant may cancel
	_, err = f.svc.Cancel(ctx, k.ID, f.caregiver)
	require.NoError(t, err)
}

func TestScheduleAvailabilityAndDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	k := f.book(t, f.pacilian, sched, at(4, 10, 0))

	_, err := f.svc.SetScheduleAvailability(ctx, f.caregiver, sched.ID, false)
	assert.ErrorIs(t, err, ErrActiveConsultationBlock)
	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, f.caregiver, sched.ID), ErrActiveConsultationBlock)

	stranger := Actor{ID: uuid.New(), Role: RoleCaregiver}
	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, stranger, sched.ID), ErrUnauthorized)

	_, err = f.svc.Cancel(ctx, k.ID, f.pacilian)
	require.NoError(t, err)

	closed, err := f.svc.SetScheduleAvailability(ctx, f.caregiver, sched.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ScheduleUnavailable, closed.Status)

	_, err = f.svc.CreateConsultation(ctx, f.pacilian, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(4, 10, 0)})
	assert.ErrorIs(t, err, ErrScheduleClosed)

	require.NoError(t, f.svc.DeleteSchedule(ctx, f.caregiver, sched.ID))
	_, err = f.svc.GetSchedule(ctx, sched.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	// terminal consultations keep their history after the schedule is gone
	history, err := f.svc.History(ctx, k.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMakeAvailableIgnoresLiveReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))
	f.book(t, f.pacilian, sched, at(4, 10, 0))

	opened, err := f.svc.SetScheduleAvailability(ctx, f.caregiver, sched.ID, true)
	require.NoError(t, err)
	assert.Equal(t, ScheduleAvailable, opened.Status)
	assert.Equal(t, sched.UpdatedAt, opened.UpdatedAt, "no-op leaves the schedule untouched")

	// a one-time slot stays booked while its holder is live
	slot := f.oneTime(t, f.caregiver, at(10, 0, 0), NewClock(13, 0), NewClock(15, 0))
	k := f.book(t, f.pacilian, slot, at(10, 13, 0))
	_, err = f.svc.SetScheduleAvailability(ctx, f.caregiver, slot.ID, true)
	assert.ErrorIs(t, err, ErrActiveConsultationBlock)

	_, err = f.svc.Cancel(ctx, k.ID, f.pacilian)
	require.NoError(t, err)
	reopened, err := f.svc.SetScheduleAvailability(ctx, f.caregiver, slot.ID, true)
	require.NoError(t, err)
	assert.Equal(t, ScheduleAvailable, reopened.Status)
}

func TestListAvailableSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := Actor{ID: uuid.New(), Role: RoleCaregiver}

	open := f.weekly(t, f.caregiver, time.Monday, NewClock(9, 0), NewClock(10, 0))
	closed := f.weekly(t, f.caregiver, time.Tuesday, NewClock(9, 0), NewClock(10, 0))
	today := f.oneTime(t, f.caregiver, at(2, 0, 0), NewClock(18, 0), NewClock(19, 0))
	theirs := f.weekly(t, other, time.Monday, NewClock(9, 0), NewClock(10, 0))

	_, err := f.svc.SetScheduleAvailability(ctx, f.caregiver, closed.ID, false)
	require.NoError(t, err)

	list, err := f.svc.ListAvailableSchedules(ctx, f.caregiver.ID, other.ID, f.caregiver.ID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{open.ID, today.ID, theirs.ID}, ids)

	f.now = at(3, 8, 0)
	list, err = f.svc.ListAvailableSchedules(ctx, f.caregiver.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	empty, err := f.svc.ListAvailableSchedules(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestListKonsultasiByActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))

	f.confirmed(t, f.pacilian, sched, at(4, 9, 0))
	f.book(t, f.pacilian, sched, at(4, 10, 0))
	f.book(t, Actor{ID: uuid.New(), Role: RolePacilian}, sched, at(4, 11, 0))

	requested := StatusRequested
	confirmed := StatusConfirmed

	all, err := f.svc.ListKonsultasiByActor(ctx, f.caregiver, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := f.svc.ListKonsultasiByActor(ctx, f.caregiver, &requested)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	mine, err := f.svc.ListKonsultasiByActor(ctx, f.pacilian, nil)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	mineConfirmed, err := f.svc.ListKonsultasiByActor(ctx, f.pacilian, &confirmed)
	require.NoError(t, err)
	require.Len(t, mineConfirmed, 1)
	assert.Equal(t, StatusConfirmed, mineConfirmed[0].Status)

	_, err = f.svc.ListKonsultasiByActor(ctx, Actor{ID: uuid.New(), Role: RoleSystem}, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExpireStaleRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Monday, NewClock(9, 0), NewClock(10, 0))

	stale := f.book(t, f.pacilian, sched, at(2, 9, 0))
	kept := f.confirmed(t, Actor{ID: uuid.New(), Role: RolePacilian}, sched, at(2, 9, 30))
	later := f.book(t, f.pacilian, sched, at(9, 9, 0))

	f.now = at(2, 10, 0)
	n, err := f.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetKonsultasi(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	history, err := f.svc.History(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleSystem, history[0].ActorRole)
	assert.Equal(t, StatusRequested, history[0].PreviousStatus)

	for _, id := range []uuid.UUID{kept.ID, later.ID} {
		k, err := f.repo.GetKonsultasi(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, StatusCancelled, k.Status)
	}

	n, err = f.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentBookingsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))

	const callers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := Actor{ID: uuid.New(), Role: RolePacilian}
			_, err := f.svc.CreateConsultation(ctx, p, CreateKonsultasiInput{ScheduleID: sched.ID, DateTime: at(4, 10, 0)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrScheduleConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)

	list, err := f.svc.ListKonsultasiByActor(ctx, f.caregiver, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEventsAndMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := f.weekly(t, f.caregiver, time.Wednesday, NewClock(9, 0), NewClock(12, 0))

	k := f.book(t, f.pacilian, sched, at(4, 10, 0))
	f.events.err = errors.New("broker down")
	_, err := f.svc.Confirm(ctx, k.ID, f.caregiver)
	require.NoError(t, err, "publish failures never fail a committed transition")

	_, err = f.svc.Confirm(ctx, k.ID, f.caregiver)
	require.Error(t, err)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, ActionCreate, f.events.events[0].Action)
	assert.Equal(t, Status(""), f.events.events[0].PreviousStatus)
	assert.Equal(t, StatusRequested, f.events.events[1].PreviousStatus)
	assert.Equal(t, StatusConfirmed, f.events.events[1].NewStatus)

	assert.Equal(t, 1, f.metrics.counts["create/success"])
	assert.Equal(t, 1, f.metrics.counts["confirm/success"])
	assert.Equal(t, 1, f.metrics.counts["confirm/failure"])
	assert.Equal(t, 1, f.metrics.counts["create_schedule/success"])
}

func TestContendedDistributedLockReportsBusy(t *testing.T) {
	f := newFixture(t)
	monday := time.Monday
	svc := NewService(f.repo, busyLocker{}, config.Config{Location: time.UTC}, WithClock(func() time.Time { return f.now }))

	_, err := svc.CreateSchedule(context.Background(), f.caregiver, CreateScheduleInput{
		Recurrence: RecurrenceWeekly, DayOfWeek: &monday, StartTime: NewClock(9, 0), EndTime: NewClock(10, 0),
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, KindBusy, KindOf(err))
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Confirm(ctx, uuid.New(), f.caregiver)
	assert.ErrorIs(t, err, ErrKonsultasiNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrKonsultasiNotFound)

	_, err = f.svc.GetSchedule(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.NotErrorIs(t, err, ErrKonsultasiNotFound)
}
