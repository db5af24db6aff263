package main

import (
	"context"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/app"
	"github.com/hackgods/konsultasi-scheduling/internal/auth"
	"github.com/hackgods/konsultasi-scheduling/internal/config"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ManifestPath string

	// relative weights, they need not sum to 1
	BookingWeight    float64
	ConfirmWeight    float64
	RescheduleWeight float64
	CancelWeight     float64
	ReadWeight       float64
}

type booking struct {
	ID       uuid.UUID
	Schedule scheduleView
	Pacilian uuid.UUID
}

// bookings is the shared pool of konsultasi created during the run.
type bookings struct {
	mu   sync.RWMutex
	list []booking
}

func (b *bookings) add(bk booking) {
	b.mu.Lock()
	b.list = append(b.list, bk)
	b.mu.Unlock()
}

func (b *bookings) pick(rng *rand.Rand) (booking, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.list) == 0 {
		return booking{}, false
	}
	return b.list[rng.Intn(len(b.list))], true
}

type operation struct {
	weight float64
	stats  *opStats
	run    func(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool)
}

type Simulator struct {
	config    SimConfig
	log       *zap.Logger
	api       *apiClient
	loc       *time.Location
	pacilians []uuid.UUID
	schedules []scheduleView
	booked    bookings
	ops       []operation
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	lg, err := logger.New(baseCfg.LogLevel, baseCfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg = lg.Named("simulate")

	cfg := SimConfig{
		APIBaseURL:       envOr("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         envDuration("SIM_DURATION", 30*time.Second),
		Workers:          envInt("SIM_WORKERS", 10),
		ManifestPath:     envOr("SIM_MANIFEST", "seed.json"),
		BookingWeight:    envFloat("SIM_BOOKING_WEIGHT", 5),
		ConfirmWeight:    envFloat("SIM_CONFIRM_WEIGHT", 2),
		RescheduleWeight: envFloat("SIM_RESCHEDULE_WEIGHT", 0.5),
		CancelWeight:     envFloat("SIM_CANCEL_WEIGHT", 0.5),
		ReadWeight:       envFloat("SIM_READ_WEIGHT", 2),
	}
	if baseCfg.JWTSecret == "" {
		lg.Fatal("JWT_SECRET is required to mint simulator tokens")
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		lg.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}

	manifest, err := app.ReadManifest(cfg.ManifestPath)
	if err != nil {
		lg.Fatal("load manifest", zap.String("path", cfg.ManifestPath), zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		log:    lg,
		loc:    baseCfg.Location,
		api: &apiClient{
			baseURL: cfg.APIBaseURL,
			http:    &http.Client{Timeout: 10 * time.Second},
			signer:  auth.NewJWTVerifier(baseCfg.JWTSecret),
			ttl:     cfg.Duration + time.Hour,
		},
		pacilians: manifest.Pacilians,
	}
	sim.ops = []operation{
		{weight: cfg.BookingWeight, stats: &opStats{name: "book"}, run: sim.book},
		{weight: cfg.ConfirmWeight, stats: &opStats{name: "confirm"}, run: sim.confirm},
		{weight: cfg.RescheduleWeight, stats: &opStats{name: "reschedule"}, run: sim.reschedule},
		{weight: cfg.CancelWeight, stats: &opStats{name: "cancel"}, run: sim.cancel},
		{weight: cfg.ReadWeight, stats: &opStats{name: "read"}, run: sim.read},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	reader := konsultasi.Actor{ID: manifest.Pacilians[0], Role: konsultasi.RolePacilian}
	sim.schedules, err = sim.api.availableSchedules(ctx, reader, manifest.Caregivers)
	cancel()
	if err != nil {
		lg.Fatal("load schedules", zap.Error(err))
	}
	if len(sim.schedules) == 0 {
		lg.Fatal("no bookable schedules, run cmd/seed first")
	}
	lg.Info("simulation starting",
		zap.Int("pacilians", len(sim.pacilians)),
		zap.Int("schedules", len(sim.schedules)),
		zap.Int("workers", cfg.Workers),
		zap.Duration("duration", cfg.Duration),
	)

	elapsed := sim.Run()

	stats := make([]*opStats, len(sim.ops))
	for i, op := range sim.ops {
		stats[i] = op.stats
	}
	if err := writeReport(os.Stdout, elapsed, cfg.Workers, stats); err != nil {
		lg.Error("write report", zap.Error(err))
	}
}

func (s *Simulator) Run() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, rand.New(rand.NewSource(time.Now().UnixNano()+int64(workerID))))
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	s.log.Info("simulation complete", zap.Duration("elapsed", elapsed))
	return elapsed
}

func (s *Simulator) worker(ctx context.Context, rng *rand.Rand) {
	var total float64
	for _, op := range s.ops {
		total += op.weight
	}
	if total <= 0 {
		return
	}

	for ctx.Err() == nil {
		r := rng.Float64() * total
		for _, op := range s.ops {
			if r -= op.weight; r < 0 {
				s.exec(ctx, op, rng)
				break
			}
		}
	}
}

// exec runs one operation and classifies its outcome. Operations that have
// nothing to act on yet return ok=false and are not counted.
func (s *Simulator) exec(ctx context.Context, op operation, rng *rand.Rand) {
	start := time.Now()
	resp, want, ok := op.run(ctx, rng)
	if !ok {
		return
	}
	latency := time.Since(start)

	if resp == nil {
		if ctx.Err() == nil {
			op.stats.record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()

	out := outcomeError
	switch {
	case resp.StatusCode == want:
		out = outcomeOK
	case resp.StatusCode == http.StatusConflict:
		out = outcomeConflict
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		out = outcomeRejected
	}
	if out == outcomeError {
		s.log.Debug("unexpected response", zap.String("op", op.stats.name), zap.Int("status", resp.StatusCode))
	}
	op.stats.record(latency, out)
	_, _ = io.Copy(io.Discard, resp.Body)
}

func (s *Simulator) earliest() time.Time {
	// two days out keeps cancel and reschedule clear of the notice window
	return time.Now().In(s.loc).AddDate(0, 0, 2)
}

func (s *Simulator) book(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool) {
	sv := s.schedules[rng.Intn(len(s.schedules))]
	at, ok := slotIn(sv, s.earliest(), rng)
	if !ok {
		return nil, 0, false
	}
	pacilian := konsultasi.Actor{ID: s.pacilians[rng.Intn(len(s.pacilians))], Role: konsultasi.RolePacilian}

	resp, err := s.api.do(ctx, pacilian, http.MethodPost, "/konsultasi", map[string]string{
		"schedule_id": sv.ID.String(),
		"date_time":   at.Format(time.RFC3339),
		"notes":       "simulated booking",
	})
	if err != nil {
		return nil, http.StatusCreated, true
	}
	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != uuid.Nil {
			s.booked.add(booking{ID: created.ID, Schedule: sv, Pacilian: pacilian.ID})
		}
	}
	return resp, http.StatusCreated, true
}

func (s *Simulator) confirm(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool) {
	b, ok := s.booked.pick(rng)
	if !ok {
		return nil, 0, false
	}
	caregiver := konsultasi.Actor{ID: b.Schedule.CaregiverID, Role: konsultasi.RoleCaregiver}
	return s.post(ctx, caregiver, "/konsultasi/"+b.ID.String()+"/confirm", nil)
}

// reschedule has the pacilian propose another slot on the same schedule.
func (s *Simulator) reschedule(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool) {
	b, ok := s.booked.pick(rng)
	if !ok || b.Schedule.Recurrence == string(konsultasi.RecurrenceOneTime) {
		return nil, 0, false
	}
	at, ok := slotIn(b.Schedule, s.earliest(), rng)
	if !ok {
		return nil, 0, false
	}
	pacilian := konsultasi.Actor{ID: b.Pacilian, Role: konsultasi.RolePacilian}
	return s.post(ctx, pacilian, "/konsultasi/"+b.ID.String()+"/reschedule", map[string]string{
		"date_time": at.Format(time.RFC3339),
	})
}

func (s *Simulator) cancel(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool) {
	b, ok := s.booked.pick(rng)
	if !ok {
		return nil, 0, false
	}
	pacilian := konsultasi.Actor{ID: b.Pacilian, Role: konsultasi.RolePacilian}
	return s.post(ctx, pacilian, "/konsultasi/"+b.ID.String()+"/cancel", nil)
}

// read alternates between one konsultasi and the pacilian's own list.
func (s *Simulator) read(ctx context.Context, rng *rand.Rand) (*http.Response, int, bool) {
	path := "/konsultasi"
	var pacilian konsultasi.Actor
	if b, ok := s.booked.pick(rng); ok && rng.Intn(2) == 0 {
		pacilian = konsultasi.Actor{ID: b.Pacilian, Role: konsultasi.RolePacilian}
		path += "/" + b.ID.String()
	} else {
		pacilian = konsultasi.Actor{ID: s.pacilians[rng.Intn(len(s.pacilians))], Role: konsultasi.RolePacilian}
	}
	resp, err := s.api.do(ctx, pacilian, http.MethodGet, path, nil)
	return orNil(resp, err), http.StatusOK, true
}

func (s *Simulator) post(ctx context.Context, as konsultasi.Actor, path string, body any) (*http.Response, int, bool) {
	resp, err := s.api.do(ctx, as, http.MethodPost, path, body)
	return orNil(resp, err), http.StatusOK, true
}

func orNil(resp *http.Response, err error) *http.Response {
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil
	}
	return resp
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
