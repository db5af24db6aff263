package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// dependency is one readiness check. A nil pinger is reported as disabled.
// Only a critical dependency being down fails readiness; the rest degrade it.
type dependency struct {
	name     string
	critical bool
	pinger   Pinger
}

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

// NewHealthHandler checks Postgres as the system of record. Redis and the
// event broker only degrade readiness. Any of them may be nil.
func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, broker Pinger, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}

	pg := dependency{name: "postgres", critical: true}
	if pgPool != nil {
		pg.pinger = pingFunc(pgPool.Ping)
	}
	cache := dependency{name: "redis"}
	if rdb != nil {
		cache.pinger = pingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	h.deps = append(h.deps, pg, cache)
	if broker != nil {
		h.deps = append(h.deps, dependency{name: "amqp", pinger: broker})
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness pings every dependency concurrently, each bounded to a second.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make([]string, len(h.deps))
	var wg sync.WaitGroup
	for i, dep := range h.deps {
		if dep.pinger == nil {
			results[i] = "disabled"
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
			defer pingCancel()
			if err := dep.pinger.Ping(pingCtx); err != nil {
				results[i] = "down"
				return
			}
			results[i] = "ok"
		}()
	}
	wg.Wait()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]string, len(h.deps)),
	}
	for i, dep := range h.deps {
		resp.Dependencies[dep.name] = results[i]
		if results[i] != "down" {
			continue
		}
		if dep.critical {
			resp.Status = "error"
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, resp)
}
