package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/konsultasi-scheduling/internal/auth"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/profile"
)

// ProfileLookup decorates consultations with participant display data.
type ProfileLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) profile.Profile
}

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeBody reads a JSON body into dst and validates its tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+what+"_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorOf(w http.ResponseWriter, r *http.Request) (konsultasi.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", auth.ErrMissingToken.Error())
	}
	return actor, ok
}

// handleServiceError maps core error kinds onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	kind := konsultasi.KindOf(err)
	code := strings.ToLower(string(kind))
	switch kind {
	case konsultasi.KindNotFound:
		writeError(w, http.StatusNotFound, code, err.Error())
	case konsultasi.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, code, err.Error())
	case konsultasi.KindInvalidTimeRange,
		konsultasi.KindPastDate,
		konsultasi.KindInvalidSchedule,
		konsultasi.KindScheduleNotAvailable,
		konsultasi.KindInvalidStateTransition,
		konsultasi.KindWithinCancellationWindow:
		writeError(w, http.StatusBadRequest, code, err.Error())
	case konsultasi.KindScheduleConflict,
		konsultasi.KindScheduleClosed,
		konsultasi.KindActiveConsultationBlock:
		writeError(w, http.StatusConflict, code, err.Error())
	case konsultasi.KindBusy:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, code, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

// -- Schedules --

func createScheduleHandler(svc *konsultasi.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		var req CreateScheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in, err := req.toInput(loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		sched, err := svc.CreateSchedule(r.Context(), actor, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newScheduleResponse(sched))
	}
}

// listSchedulesHandler serves ?caregiver_id=a,b as the bookable schedules of
// those caregivers.
func listSchedulesHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ids []uuid.UUID
		for _, raw := range r.URL.Query()["caregiver_id"] {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				id, err := uuid.Parse(part)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_caregiver_id", "caregiver_id must be a list of UUIDs")
					return
				}
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			writeError(w, http.StatusBadRequest, "missing_caregiver_id", "at least one caregiver_id is required")
			return
		}

		list, err := svc.ListAvailableSchedules(r.Context(), ids...)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newScheduleList(list))
	}
}

// listOwnSchedulesHandler lists every schedule of the calling caregiver.
func listOwnSchedulesHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		if actor.Role != konsultasi.RoleCaregiver {
			writeError(w, http.StatusUnauthorized, "unauthorized", "only caregivers own schedules")
			return
		}
		list, err := svc.ListSchedulesByCaregiver(r.Context(), actor.ID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newScheduleList(list))
	}
}

func getScheduleHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "schedule")
		if !ok {
			return
		}
		sched, err := svc.GetSchedule(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newScheduleResponse(sched))
	}
}

func setAvailabilityHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "schedule")
		if !ok {
			return
		}
		var req AvailabilityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		sched, err := svc.SetScheduleAvailability(r.Context(), actor, id, *req.Available)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newScheduleResponse(sched))
	}
}

func deleteScheduleHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "schedule")
		if !ok {
			return
		}
		if err := svc.DeleteSchedule(r.Context(), actor, id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// -- Konsultasi --

func createKonsultasiHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		var req CreateKonsultasiRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		k, err := svc.CreateConsultation(r.Context(), actor, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newKonsultasiResponse(k))
	}
}

func listKonsultasiHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		var status *konsultasi.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			st, err := konsultasi.ParseStatus(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
				return
			}
			status = &st
		}

		list, err := svc.ListKonsultasiByActor(r.Context(), actor, status)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		out := make([]KonsultasiResponse, 0, len(list))
		for i := range list {
			out = append(out, newKonsultasiResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getKonsultasiHandler(svc *konsultasi.Service, profiles ProfileLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "konsultasi")
		if !ok {
			return
		}
		k, err := svc.GetKonsultasi(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := newKonsultasiResponse(k)
		if profiles != nil {
			caregiver := profiles.Lookup(r.Context(), k.CaregiverID)
			pacilian := profiles.Lookup(r.Context(), k.PacilianID)
			resp.Caregiver, resp.Pacilian = &caregiver, &pacilian
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "konsultasi")
		if !ok {
			return
		}
		if _, err := svc.GetKonsultasi(r.Context(), id, actor); err != nil {
			handleServiceError(w, err)
			return
		}
		records, err := svc.History(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newHistoryList(records))
	}
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor konsultasi.Actor) (*konsultasi.Konsultasi, error)

// transitionHandler serves the body-less lifecycle actions.
func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "konsultasi")
		if !ok {
			return
		}
		k, err := fn(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newKonsultasiResponse(k))
	}
}

func rescheduleHandler(svc *konsultasi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "konsultasi")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		k, err := svc.Reschedule(r.Context(), id, actor, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newKonsultasiResponse(k))
	}
}
