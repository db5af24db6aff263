package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/auth"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

type RouterConfig struct {
	Service            *konsultasi.Service
	Verifier           auth.Verifier
	Profiles           ProfileLookup // optional
	Metrics            HTTPMetrics   // optional
	MetricsHandler     http.Handler  // served at /metrics when set
	Logger             *zap.Logger
	PgPool             *pgxpool.Pool // nil with the memory store
	Redis              *redis.Client // nil with in-process locking
	Broker             Pinger        // event broker, optional
	Location           *time.Location
	RateLimitPerSecond int
	Env                string
	Version            string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(RecoverMiddleware(log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Broker, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	svc := cfg.Service
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerSecond, time.Second))
		}
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", createScheduleHandler(svc, loc))
			r.Get("/", listSchedulesHandler(svc))
			r.Get("/mine", listOwnSchedulesHandler(svc))
			r.Get("/{id}", getScheduleHandler(svc))
			r.Patch("/{id}/availability", setAvailabilityHandler(svc))
			r.Delete("/{id}", deleteScheduleHandler(svc))
		})

		r.Route("/konsultasi", func(r chi.Router) {
			r.Post("/", createKonsultasiHandler(svc))
			r.Get("/", listKonsultasiHandler(svc))
			r.Get("/{id}", getKonsultasiHandler(svc, cfg.Profiles))
			r.Get("/{id}/history", historyHandler(svc))
			r.Post("/{id}/confirm", transitionHandler(svc.Confirm))
			r.Post("/{id}/cancel", transitionHandler(svc.Cancel))
			r.Post("/{id}/complete", transitionHandler(svc.Complete))
			r.Post("/{id}/reschedule", rescheduleHandler(svc))
			r.Post("/{id}/reschedule/accept", transitionHandler(svc.AcceptReschedule))
			r.Post("/{id}/reschedule/reject", transitionHandler(svc.RejectReschedule))
		})
	})

	return r
}
