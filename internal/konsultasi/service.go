package konsultasi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/config"
	redisclient "github.com/hackgods/konsultasi-scheduling/internal/redis"
)

type Service struct {
	repo      Repository
	locker    Locker
	cfg       config.Config
	loc       *time.Location
	log       *zap.Logger
	metrics   Metrics
	publisher EventPublisher
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		locker:    locker,
		cfg:       cfg,
		loc:       cfg.Location,
		log:       zap.NewNop(),
		metrics:   nopMetrics{},
		publisher: nopPublisher{},
		now:       time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.cfg.CancellationWindow <= 0 {
		s.cfg.CancellationWindow = 24 * time.Hour
	}
	if s.cfg.ConsultationDuration <= 0 {
		s.cfg.ConsultationDuration = 30 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) today() time.Time {
	y, m, d := s.clock().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// observe records outcome and latency for one operation.
func (s *Service) observe(op string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	s.metrics.IncOperation(op, outcome)
	s.metrics.ObserveDuration(op, time.Since(start))
}

// withLocks serialises on the caregiver first and then on each extra key, in
// the order given. Every caller uses the same order so nesting cannot deadlock.
func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, keys[0], func(lockCtx context.Context) error {
		return s.withLocks(lockCtx, keys[1:], fn)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return newError(KindBusy, "another request for this caregiver is in progress, please retry")
	}
	return err
}

// -- Schedule --

type CreateScheduleInput struct {
	Recurrence   Recurrence
	DayOfWeek    *time.Weekday
	SpecificDate *time.Time
	StartTime    Clock
	EndTime      Clock
}

// CreateSchedule publishes a bookable window for the calling caregiver.
func (s *Service) CreateSchedule(ctx context.Context, actor Actor, in CreateScheduleInput) (sched *Schedule, err error) {
	defer func(start time.Time) { s.observe("create_schedule", start, err) }(time.Now())

	if actor.Role != RoleCaregiver {
		return nil, newError(KindUnauthorized, "only caregivers can create schedules")
	}

	now := s.clock()
	candidate := &Schedule{
		ID:          uuid.New(),
		CaregiverID: actor.ID,
		Recurrence:  in.Recurrence,
		DayOfWeek:   in.DayOfWeek,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Status:      ScheduleAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.SpecificDate != nil {
		y, m, d := in.SpecificDate.Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		candidate.SpecificDate = &date
	}

	if err := validateSchedule(candidate, s.today()); err != nil {
		return nil, err
	}

	err = s.withLocks(ctx, []string{caregiverLockKey(actor.ID)}, func(lockCtx context.Context) error {
		existing, err := s.repo.ListSchedulesByCaregiver(lockCtx, actor.ID)
		if err != nil {
			return fmt.Errorf("list caregiver schedules: %w", err)
		}
		if err := checkScheduleConflict(existing, candidate); err != nil {
			return err
		}
		return s.repo.WithinTx(lockCtx, func(tx Repository) error {
			return tx.SaveSchedule(lockCtx, candidate)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("schedule created",
		zap.String("schedule_id", candidate.ID.String()),
		zap.String("caregiver_id", actor.ID.String()),
		zap.String("recurrence_key", candidate.RecurrenceKey()),
	)
	return candidate, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *Service) ListSchedulesByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]Schedule, error) {
	schedules, err := s.repo.ListSchedulesByCaregiver(ctx, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list schedules by caregiver: %w", err)
	}
	return schedules, nil
}

// ListAvailableSchedules returns the bookable schedules of the given caregivers.
// One-time schedules dated before today are left out.
func (s *Service) ListAvailableSchedules(ctx context.Context, caregiverIDs ...uuid.UUID) ([]Schedule, error) {
	today := civilDate(s.today())
	seen := make(map[uuid.UUID]bool, len(caregiverIDs))

	result := []Schedule{}
	for _, id := range caregiverIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		schedules, err := s.repo.ListSchedulesByCaregiver(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list schedules for caregiver %s: %w", id, err)
		}
		for _, sc := range schedules {
			if !sc.CanBeBooked() {
				continue
			}
			if sc.SpecificDate != nil && civilDate(*sc.SpecificDate) < today {
				continue
			}
			result = append(result, sc)
		}
	}
	return result, nil
}

func (s *Service) ownedSchedule(ctx context.Context, actor Actor, id uuid.UUID) (*Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleCaregiver || sched.CaregiverID != actor.ID {
		return nil, newError(KindUnauthorized, "schedule belongs to another caregiver")
	}
	return sched, nil
}

func (s *Service) ensureUnreferenced(ctx context.Context, scheduleID uuid.UUID) error {
	refs, err := s.repo.ListKonsultasiBySchedule(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("list konsultasi by schedule: %w", err)
	}
	for _, k := range refs {
		if !k.Status.IsTerminal() {
			return newError(KindActiveConsultationBlock, "schedule is referenced by %s konsultasi %s", k.Status, k.ID)
		}
	}
	return nil
}

// SetScheduleAvailability opens or closes a schedule for new bookings.
// Opening an already available schedule is a no-op even when it is referenced.
func (s *Service) SetScheduleAvailability(ctx context.Context, actor Actor, scheduleID uuid.UUID, available bool) (sched *Schedule, err error) {
	defer func(start time.Time) { s.observe("set_schedule_availability", start, err) }(time.Now())

	if _, err := s.ownedSchedule(ctx, actor, scheduleID); err != nil {
		return nil, err
	}

	action := ScheduleMakeUnavailable
	if available {
		action = ScheduleMakeAvailable
	}

	err = s.withLocks(ctx, []string{caregiverLockKey(actor.ID)}, func(lockCtx context.Context) error {
		current, err := s.ownedSchedule(lockCtx, actor, scheduleID)
		if err != nil {
			return err
		}
		// Reopening is blocked only while a live booking still holds a one-time slot.
		if !available || current.Status == ScheduleBooked {
			if err := s.ensureUnreferenced(lockCtx, scheduleID); err != nil {
				return err
			}
		}
		if err := current.Apply(action, s.clock()); err != nil {
			return err
		}
		if err := s.repo.WithinTx(lockCtx, func(tx Repository) error {
			return tx.SaveSchedule(lockCtx, current)
		}); err != nil {
			return err
		}
		sched = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// DeleteSchedule removes a schedule no active consultation depends on.
func (s *Service) DeleteSchedule(ctx context.Context, actor Actor, scheduleID uuid.UUID) (err error) {
	defer func(start time.Time) { s.observe("delete_schedule", start, err) }(time.Now())

	if _, err := s.ownedSchedule(ctx, actor, scheduleID); err != nil {
		return err
	}

	return s.withLocks(ctx, []string{caregiverLockKey(actor.ID)}, func(lockCtx context.Context) error {
		if _, err := s.ownedSchedule(lockCtx, actor, scheduleID); err != nil {
			return err
		}
		if err := s.ensureUnreferenced(lockCtx, scheduleID); err != nil {
			return err
		}
		return s.repo.WithinTx(lockCtx, func(tx Repository) error {
			return tx.DeleteSchedule(lockCtx, scheduleID)
		})
	})
}

// -- Konsultasi --

type CreateKonsultasiInput struct {
	ScheduleID uuid.UUID
	DateTime   time.Time
	Notes      string
}

type RescheduleInput struct {
	DateTime      time.Time
	NewScheduleID *uuid.UUID // nil keeps the current schedule
}

// CreateConsultation books one occurrence of a schedule for the calling pacilian.
func (s *Service) CreateConsultation(ctx context.Context, actor Actor, in CreateKonsultasiInput) (created *Konsultasi, err error) {
	defer func(start time.Time) { s.observe(string(ActionCreate), start, err) }(time.Now())

	if actor.Role != RolePacilian {
		return nil, newError(KindUnauthorized, "only pacilians can request a konsultasi")
	}

	sched, err := s.repo.GetSchedule(ctx, in.ScheduleID)
	if err != nil {
		return nil, err
	}

	keys := []string{caregiverLockKey(sched.CaregiverID), pacilianLockKey(actor.ID)}
	err = s.withLocks(ctx, keys, func(lockCtx context.Context) error {
		// Inside the critical section re-read everything the checks depend on
		sched, err := s.repo.GetSchedule(lockCtx, in.ScheduleID)
		if err != nil {
			return err
		}

		now := s.clock()
		at := in.DateTime.In(s.loc)
		if !at.After(now) {
			return newError(KindPastDate, "requested time %s is not in the future", at.Format(time.RFC3339))
		}
		if !sched.CanBeBooked() {
			return newError(KindScheduleClosed, "schedule is %s", sched.Status)
		}
		if !matchesRecurrence(sched, at) {
			return newError(KindScheduleNotAvailable, "requested time %s is outside the schedule", at.Format(time.RFC3339))
		}
		if err := s.checkParticipantConflicts(lockCtx, sched.CaregiverID, actor.ID, at, uuid.Nil); err != nil {
			return err
		}

		k := &Konsultasi{
			ID:               uuid.New(),
			ScheduleID:       sched.ID,
			CaregiverID:      sched.CaregiverID,
			PacilianID:       actor.ID,
			ScheduleDateTime: at,
			Notes:            in.Notes,
			Status:           StatusRequested,
			CreatedAt:        now,
			LastUpdated:      now,
		}
		if err := s.commit(lockCtx, nil, k, ActionCreate, actor, "requested"); err != nil {
			return err
		}
		created = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) checkParticipantConflicts(ctx context.Context, caregiverID, pacilianID uuid.UUID, at time.Time, exclude uuid.UUID) error {
	byCaregiver, err := s.repo.ListKonsultasiByCaregiver(ctx, caregiverID)
	if err != nil {
		return fmt.Errorf("list caregiver konsultasi: %w", err)
	}
	if err := checkKonsultasiConflict(byCaregiver, at, s.cfg.ConsultationDuration, exclude); err != nil {
		return err
	}

	byPacilian, err := s.repo.ListKonsultasiByPacilian(ctx, pacilianID)
	if err != nil {
		return fmt.Errorf("list pacilian konsultasi: %w", err)
	}
	return checkKonsultasiConflict(byPacilian, at, s.cfg.ConsultationDuration, exclude)
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionConfirm, nil)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionCancel, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionComplete, nil)
}

func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor Actor, in RescheduleInput) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionReschedule, &in)
}

func (s *Service) AcceptReschedule(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionAcceptReschedule, nil)
}

func (s *Service) RejectReschedule(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	return s.mutate(ctx, id, actor, ActionRejectReschedule, nil)
}

// authorize is the role-equality check run before any state logic.
func authorize(k *Konsultasi, actor Actor, action Action) error {
	switch action {
	case ActionConfirm, ActionComplete, ActionAcceptReschedule, ActionRejectReschedule:
		if actor.Role != RoleCaregiver || actor.ID != k.CaregiverID {
			return newError(KindUnauthorized, "only the assigned caregiver can %s this konsultasi", action.verb())
		}
	case ActionCancel, ActionReschedule:
		if !k.IsParticipant(actor) {
			return newError(KindUnauthorized, "only participants can %s this konsultasi", action.verb())
		}
	default:
		return unknownAction(action)
	}
	return nil
}

var defaultNotes = map[Action]string{
	ActionConfirm:          "confirmed",
	ActionCancel:           "cancelled",
	ActionComplete:         "completed",
	ActionAcceptReschedule: "reschedule accepted",
	ActionRejectReschedule: "reschedule rejected",
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, actor Actor, action Action, req *RescheduleInput) (updated *Konsultasi, err error) {
	defer func(start time.Time) { s.observe(string(action), start, err) }(time.Now())

	current, err := s.repo.GetKonsultasi(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(current, actor, action); err != nil {
		return nil, err
	}

	keys := []string{caregiverLockKey(current.CaregiverID), pacilianLockKey(current.PacilianID)}
	err = s.withLocks(ctx, keys, func(lockCtx context.Context) error {
		k, err := s.repo.GetKonsultasi(lockCtx, id)
		if err != nil {
			return err
		}
		if err := authorize(k, actor, action); err != nil {
			return err
		}

		now := s.clock()
		in := transitionInput{Action: action, Now: now, Window: s.cfg.CancellationWindow}
		note := defaultNotes[action]

		if action == ActionReschedule {
			// Surface state and window failures before validating the proposal.
			probe := transitionInput{Action: action, Now: now, Window: in.Window,
				Proposal: &Proposal{ScheduleID: k.ScheduleID, DateTime: k.ScheduleDateTime}}
			if err := transition(k.clone(), probe); err != nil {
				return err
			}
			proposal, err := s.resolveProposal(lockCtx, k, req, now)
			if err != nil {
				return err
			}
			in.Proposal = proposal
			note = "rescheduled to " + proposal.DateTime.Format(time.RFC3339)
		}

		next := k.clone()
		if err := transition(next, in); err != nil {
			return err
		}
		if err := s.commit(lockCtx, k, next, action, actor, note); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// resolveProposal validates a reschedule target against the (possibly new)
// schedule and both participants' other bookings.
func (s *Service) resolveProposal(ctx context.Context, k *Konsultasi, req *RescheduleInput, now time.Time) (*Proposal, error) {
	if req == nil {
		return nil, newError(KindInvalidStateTransition, "reschedule requires a proposed date-time")
	}

	scheduleID := k.ScheduleID
	if req.NewScheduleID != nil {
		scheduleID = *req.NewScheduleID
	}
	sched, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.CaregiverID != k.CaregiverID {
		return nil, newError(KindInvalidSchedule, "schedule %s belongs to a different caregiver", sched.ID)
	}

	at := req.DateTime.In(s.loc)
	if !at.After(now) {
		return nil, newError(KindPastDate, "requested time %s is not in the future", at.Format(time.RFC3339))
	}

	held := sched.ID == k.ScheduleID || (k.OriginalScheduleID != nil && sched.ID == *k.OriginalScheduleID)
	if !held && !sched.CanBeBooked() {
		return nil, newError(KindScheduleClosed, "schedule is %s", sched.Status)
	}
	if !matchesRecurrence(sched, at) {
		return nil, newError(KindScheduleNotAvailable, "requested time %s is outside the schedule", at.Format(time.RFC3339))
	}
	if err := s.checkParticipantConflicts(ctx, k.CaregiverID, k.PacilianID, at, k.ID); err != nil {
		return nil, err
	}
	return &Proposal{ScheduleID: sched.ID, DateTime: at}, nil
}

// heldSchedules lists the schedules a consultation keeps booked. Cancelled
// consultations hold nothing; done ones keep their slot.
func heldSchedules(k *Konsultasi) map[uuid.UUID]bool {
	held := map[uuid.UUID]bool{}
	if k == nil || k.Status == StatusCancelled {
		return held
	}
	held[k.ScheduleID] = true
	if k.OriginalScheduleID != nil && k.Status != StatusDone {
		held[*k.OriginalScheduleID] = true
	}
	return held
}

// scheduleEffects books newly held one-time schedules and releases the ones no
// longer held. Weekly schedules serve many occurrences and are never booked.
func (s *Service) scheduleEffects(ctx context.Context, before, after *Konsultasi, now time.Time) ([]*Schedule, error) {
	prev, next := heldSchedules(before), heldSchedules(after)

	var changed []*Schedule
	apply := func(id uuid.UUID, action ScheduleAction) error {
		sched, err := s.repo.GetSchedule(ctx, id)
		if errors.Is(err, ErrScheduleNotFound) && action == ScheduleMakeAvailable {
			return nil
		}
		if err != nil {
			return err
		}
		if sched.Recurrence != RecurrenceOneTime {
			return nil
		}
		if action == ScheduleMakeAvailable && sched.Status != ScheduleBooked {
			return nil
		}
		if err := sched.Apply(action, now); err != nil {
			if action == ScheduleBook {
				return newError(KindScheduleClosed, "%s", err.Error())
			}
			return err
		}
		changed = append(changed, sched)
		return nil
	}

	for id := range next {
		if !prev[id] {
			if err := apply(id, ScheduleBook); err != nil {
				return nil, err
			}
		}
	}
	for id := range prev {
		if !next[id] {
			if err := apply(id, ScheduleMakeAvailable); err != nil {
				return nil, err
			}
		}
	}
	return changed, nil
}

// commit persists the new konsultasi state, the schedules it books or
// releases and exactly one history record in a single transaction, then
// publishes the transition event.
func (s *Service) commit(ctx context.Context, before, after *Konsultasi, action Action, actor Actor, note string) error {
	schedules, err := s.scheduleEffects(ctx, before, after, after.LastUpdated)
	if err != nil {
		return err
	}

	rec := HistoryRecord{
		ID:           uuid.New(),
		KonsultasiID: after.ID,
		NewStatus:    after.Status,
		Timestamp:    after.LastUpdated,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Note:         note,
	}
	if before != nil {
		rec.PreviousStatus = before.Status
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		if err := tx.SaveKonsultasi(ctx, after); err != nil {
			return err
		}
		for _, sched := range schedules {
			if err := tx.SaveSchedule(ctx, sched); err != nil {
				return err
			}
		}
		return tx.AppendHistory(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", action, err)
	}

	s.log.Debug("konsultasi transition committed",
		zap.String("konsultasi_id", after.ID.String()),
		zap.String("action", string(action)),
		zap.String("previous_status", string(rec.PreviousStatus)),
		zap.String("new_status", string(after.Status)),
		zap.String("actor_id", actor.ID.String()),
	)
	s.publishEvent(ctx, after, rec, action)
	return nil
}

func (s *Service) publishEvent(ctx context.Context, k *Konsultasi, rec HistoryRecord, action Action) {
	ev := TransitionEvent{
		KonsultasiID:     k.ID,
		ScheduleID:       k.ScheduleID,
		CaregiverID:      k.CaregiverID,
		PacilianID:       k.PacilianID,
		Action:           action,
		PreviousStatus:   rec.PreviousStatus,
		NewStatus:        rec.NewStatus,
		ScheduleDateTime: k.ScheduleDateTime,
		ActorID:          rec.ActorID,
		ActorRole:        rec.ActorRole,
		OccurredAt:       rec.Timestamp,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish konsultasi event",
			zap.String("konsultasi_id", k.ID.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

// GetKonsultasi returns a consultation to one of its participants.
func (s *Service) GetKonsultasi(ctx context.Context, id uuid.UUID, actor Actor) (*Konsultasi, error) {
	k, err := s.repo.GetKonsultasi(ctx, id)
	if err != nil {
		return nil, err
	}
	if !k.IsParticipant(actor) {
		return nil, newError(KindUnauthorized, "not a participant of this konsultasi")
	}
	return k, nil
}

// ListKonsultasiByActor lists the actor's own consultations, optionally by status.
func (s *Service) ListKonsultasiByActor(ctx context.Context, actor Actor, status *Status) ([]Konsultasi, error) {
	var (
		list []Konsultasi
		err  error
	)
	switch actor.Role {
	case RoleCaregiver:
		if status != nil {
			list, err = s.repo.ListKonsultasiByStatusAndCaregiver(ctx, *status, actor.ID)
		} else {
			list, err = s.repo.ListKonsultasiByCaregiver(ctx, actor.ID)
		}
	case RolePacilian:
		list, err = s.repo.ListKonsultasiByPacilian(ctx, actor.ID)
		if err == nil && status != nil {
			filtered := list[:0]
			for _, k := range list {
				if k.Status == *status {
					filtered = append(filtered, k)
				}
			}
			list = filtered
		}
	default:
		return nil, newError(KindUnauthorized, "unknown role %q", actor.Role)
	}
	if err != nil {
		return nil, fmt.Errorf("list konsultasi: %w", err)
	}
	if list == nil {
		list = []Konsultasi{}
	}
	return list, nil
}

// History returns the audit trail of a consultation, newest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]HistoryRecord, error) {
	if _, err := s.repo.GetKonsultasi(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// ExpireStaleRequests is intended to be called by the worker periodically. It
// cancels requested consultations whose time passed without confirmation.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStaleRequested(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("find stale requested konsultasi: %w", err)
	}

	system := Actor{ID: uuid.Nil, Role: RoleSystem}
	expired := 0
	for _, candidate := range stale {
		keys := []string{caregiverLockKey(candidate.CaregiverID), pacilianLockKey(candidate.PacilianID)}
		err := s.withLocks(ctx, keys, func(lockCtx context.Context) error {
			k, err := s.repo.GetKonsultasi(lockCtx, candidate.ID)
			if err != nil {
				return err
			}
			now := s.clock()
			if k.Status != StatusRequested || k.ScheduleDateTime.After(now) {
				return nil
			}
			next := k.clone()
			if err := transition(next, transitionInput{Action: ActionCancel, Now: now, Window: s.cfg.CancellationWindow}); err != nil {
				return err
			}
			if err := s.commit(lockCtx, k, next, ActionCancel, system, "expired before confirmation"); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			s.log.Error("failed to expire konsultasi",
				zap.String("konsultasi_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
	}
	s.metrics.IncOperation("expire_stale_requests", OutcomeSuccess)
	return expired, nil
}
