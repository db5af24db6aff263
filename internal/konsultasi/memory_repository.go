package konsultasi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type idSet map[uuid.UUID]struct{}

type memState struct {
	schedules            map[uuid.UUID]Schedule
	schedulesByCaregiver map[uuid.UUID]idSet

	konsultasi  map[uuid.UUID]Konsultasi
	byCaregiver map[uuid.UUID]idSet
	byPacilian  map[uuid.UUID]idSet
	bySchedule  map[uuid.UUID]idSet

	history map[uuid.UUID][]HistoryRecord
}

func newMemState() *memState {
	return &memState{
		schedules:            make(map[uuid.UUID]Schedule),
		schedulesByCaregiver: make(map[uuid.UUID]idSet),
		konsultasi:           make(map[uuid.UUID]Konsultasi),
		byCaregiver:          make(map[uuid.UUID]idSet),
		byPacilian:           make(map[uuid.UUID]idSet),
		bySchedule:           make(map[uuid.UUID]idSet),
		history:              make(map[uuid.UUID][]HistoryRecord),
	}
}

func addToIndex(idx map[uuid.UUID]idSet, key, id uuid.UUID) {
	set, ok := idx[key]
	if !ok {
		set = make(idSet)
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(idx map[uuid.UUID]idSet, key, id uuid.UUID) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// MemoryRepository is a key-indexed in-process store with secondary indexes on
// caregiver, pacilian and schedule ids.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState()}
}

// memView runs repository methods against a state without locking; the
// owner holds the lock. Inside WithinTx every mutation pushes its inverse onto
// undo so a failed transaction only touches the keys it wrote.
type memView struct {
	state *memState
	undo  *[]func()
}

func (v memView) onRollback(fn func()) {
	if v.undo != nil {
		*v.undo = append(*v.undo, fn)
	}
}

// raw is the view the undo closures use, so reverting logs nothing.
func (v memView) raw() memView {
	return memView{state: v.state}
}

func (r *MemoryRepository) read(fn func(v memView)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(memView{state: r.state})
}

func (r *MemoryRepository) write(fn func(v memView) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(memView{state: r.state})
}

func (r *MemoryRepository) GetSchedule(ctx context.Context, id uuid.UUID) (s *Schedule, err error) {
	r.read(func(v memView) { s, err = v.GetSchedule(ctx, id) })
	return s, err
}

func (r *MemoryRepository) ListSchedulesByCaregiver(ctx context.Context, caregiverID uuid.UUID) (out []Schedule, err error) {
	r.read(func(v memView) { out, err = v.ListSchedulesByCaregiver(ctx, caregiverID) })
	return out, err
}

func (r *MemoryRepository) SaveSchedule(ctx context.Context, s *Schedule) error {
	return r.write(func(v memView) error { return v.SaveSchedule(ctx, s) })
}

func (r *MemoryRepository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return r.write(func(v memView) error { return v.DeleteSchedule(ctx, id) })
}

func (r *MemoryRepository) GetKonsultasi(ctx context.Context, id uuid.UUID) (k *Konsultasi, err error) {
	r.read(func(v memView) { k, err = v.GetKonsultasi(ctx, id) })
	return k, err
}

func (r *MemoryRepository) ListKonsultasiByCaregiver(ctx context.Context, caregiverID uuid.UUID) (out []Konsultasi, err error) {
	r.read(func(v memView) { out, err = v.ListKonsultasiByCaregiver(ctx, caregiverID) })
	return out, err
}

func (r *MemoryRepository) ListKonsultasiByPacilian(ctx context.Context, pacilianID uuid.UUID) (out []Konsultasi, err error) {
	r.read(func(v memView) { out, err = v.ListKonsultasiByPacilian(ctx, pacilianID) })
	return out, err
}

func (r *MemoryRepository) ListKonsultasiByStatusAndCaregiver(ctx context.Context, status Status, caregiverID uuid.UUID) (out []Konsultasi, err error) {
	r.read(func(v memView) { out, err = v.ListKonsultasiByStatusAndCaregiver(ctx, status, caregiverID) })
	return out, err
}

func (r *MemoryRepository) ListKonsultasiBySchedule(ctx context.Context, scheduleID uuid.UUID) (out []Konsultasi, err error) {
	r.read(func(v memView) { out, err = v.ListKonsultasiBySchedule(ctx, scheduleID) })
	return out, err
}

func (r *MemoryRepository) SaveKonsultasi(ctx context.Context, k *Konsultasi) error {
	return r.write(func(v memView) error { return v.SaveKonsultasi(ctx, k) })
}

func (r *MemoryRepository) AppendHistory(ctx context.Context, h HistoryRecord) error {
	return r.write(func(v memView) error { return v.AppendHistory(ctx, h) })
}

func (r *MemoryRepository) ListHistory(ctx context.Context, konsultasiID uuid.UUID) (out []HistoryRecord, err error) {
	r.read(func(v memView) { out, err = v.ListHistory(ctx, konsultasiID) })
	return out, err
}

func (r *MemoryRepository) FindStaleRequested(ctx context.Context, before time.Time) (out []Konsultasi, err error) {
	r.read(func(v memView) { out, err = v.FindStaleRequested(ctx, before) })
	return out, err
}

// WithinTx holds the write lock for the whole of fn and reverts the writes
// fn made, newest first, when it fails.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var undo []func()
	if err := fn(memView{state: r.state, undo: &undo}); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

func (v memView) GetSchedule(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := v.state.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.clone(), nil
}

func (v memView) ListSchedulesByCaregiver(_ context.Context, caregiverID uuid.UUID) ([]Schedule, error) {
	var out []Schedule
	for id := range v.state.schedulesByCaregiver[caregiverID] {
		s := v.state.schedules[id]
		out = append(out, *s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (v memView) SaveSchedule(ctx context.Context, s *Schedule) error {
	prev, existed := v.state.schedules[s.ID]
	if existed && prev.CaregiverID != s.CaregiverID {
		removeFromIndex(v.state.schedulesByCaregiver, prev.CaregiverID, s.ID)
	}
	id := s.ID
	v.onRollback(func() {
		if existed {
			_ = v.raw().SaveSchedule(ctx, &prev)
		} else {
			_ = v.raw().DeleteSchedule(ctx, id)
		}
	})
	v.state.schedules[s.ID] = *s.clone()
	addToIndex(v.state.schedulesByCaregiver, s.CaregiverID, s.ID)
	return nil
}

func (v memView) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	s, ok := v.state.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	v.onRollback(func() { _ = v.raw().SaveSchedule(ctx, &s) })
	delete(v.state.schedules, id)
	removeFromIndex(v.state.schedulesByCaregiver, s.CaregiverID, id)
	return nil
}

func (v memView) GetKonsultasi(_ context.Context, id uuid.UUID) (*Konsultasi, error) {
	k, ok := v.state.konsultasi[id]
	if !ok {
		return nil, ErrKonsultasiNotFound
	}
	return k.clone(), nil
}

func (v memView) collect(ids idSet, keep func(*Konsultasi) bool) []Konsultasi {
	var out []Konsultasi
	for id := range ids {
		k := v.state.konsultasi[id]
		if keep == nil || keep(&k) {
			out = append(out, *k.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduleDateTime.Equal(out[j].ScheduleDateTime) {
			return out[i].ScheduleDateTime.Before(out[j].ScheduleDateTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (v memView) ListKonsultasiByCaregiver(_ context.Context, caregiverID uuid.UUID) ([]Konsultasi, error) {
	return v.collect(v.state.byCaregiver[caregiverID], nil), nil
}

func (v memView) ListKonsultasiByPacilian(_ context.Context, pacilianID uuid.UUID) ([]Konsultasi, error) {
	return v.collect(v.state.byPacilian[pacilianID], nil), nil
}

func (v memView) ListKonsultasiByStatusAndCaregiver(_ context.Context, status Status, caregiverID uuid.UUID) ([]Konsultasi, error) {
	return v.collect(v.state.byCaregiver[caregiverID], func(k *Konsultasi) bool { return k.Status == status }), nil
}

// ListKonsultasiBySchedule includes consultations whose pending proposal moved
// them away from the schedule but still hold it as their original.
func (v memView) ListKonsultasiBySchedule(_ context.Context, scheduleID uuid.UUID) ([]Konsultasi, error) {
	return v.collect(v.state.bySchedule[scheduleID], nil), nil
}

func scheduleRefs(k *Konsultasi) []uuid.UUID {
	refs := []uuid.UUID{k.ScheduleID}
	if k.OriginalScheduleID != nil && *k.OriginalScheduleID != k.ScheduleID {
		refs = append(refs, *k.OriginalScheduleID)
	}
	return refs
}

func (v memView) SaveKonsultasi(ctx context.Context, k *Konsultasi) error {
	prev, existed := v.state.konsultasi[k.ID]
	if existed {
		v.unindexKonsultasi(&prev)
	}
	id := k.ID
	v.onRollback(func() {
		if existed {
			_ = v.raw().SaveKonsultasi(ctx, &prev)
			return
		}
		if cur, ok := v.state.konsultasi[id]; ok {
			v.unindexKonsultasi(&cur)
			delete(v.state.konsultasi, id)
		}
	})
	v.state.konsultasi[k.ID] = *k.clone()
	addToIndex(v.state.byCaregiver, k.CaregiverID, k.ID)
	addToIndex(v.state.byPacilian, k.PacilianID, k.ID)
	for _, ref := range scheduleRefs(k) {
		addToIndex(v.state.bySchedule, ref, k.ID)
	}
	return nil
}

func (v memView) unindexKonsultasi(k *Konsultasi) {
	removeFromIndex(v.state.byCaregiver, k.CaregiverID, k.ID)
	removeFromIndex(v.state.byPacilian, k.PacilianID, k.ID)
	for _, ref := range scheduleRefs(k) {
		removeFromIndex(v.state.bySchedule, ref, k.ID)
	}
}

func (v memView) AppendHistory(_ context.Context, h HistoryRecord) error {
	if _, ok := v.state.konsultasi[h.KonsultasiID]; !ok {
		return ErrKonsultasiNotFound
	}
	n := len(v.state.history[h.KonsultasiID])
	v.onRollback(func() {
		if n == 0 {
			delete(v.state.history, h.KonsultasiID)
			return
		}
		v.state.history[h.KonsultasiID] = v.state.history[h.KonsultasiID][:n]
	})
	v.state.history[h.KonsultasiID] = append(v.state.history[h.KonsultasiID], h)
	return nil
}

func (v memView) ListHistory(_ context.Context, konsultasiID uuid.UUID) ([]HistoryRecord, error) {
	records := v.state.history[konsultasiID]
	out := make([]HistoryRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func (v memView) FindStaleRequested(_ context.Context, before time.Time) ([]Konsultasi, error) {
	var out []Konsultasi
	for _, k := range v.state.konsultasi {
		if k.Status == StatusRequested && k.ScheduleDateTime.Before(before) {
			out = append(out, *k.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleDateTime.Before(out[j].ScheduleDateTime) })
	return out, nil
}

// WithinTx on a view is already inside a transaction; it nests by running fn directly.
func (v memView) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	return fn(v)
}
