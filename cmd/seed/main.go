package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/app"
	"github.com/hackgods/konsultasi-scheduling/internal/config"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/logger"
	"github.com/hackgods/konsultasi-scheduling/internal/profile"
)

var specialities = []string{
	"Geriatric Care",
	"Wound Care",
	"Post-operative Care",
	"Physiotherapy",
	"Palliative Care",
	"Diabetes Care",
	"Maternal Care",
	"Pediatric Nursing",
	"Stroke Rehabilitation",
	"Mental Health",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreDriver == config.StoreMemory {
		log.Fatal("seeding the memory store is pointless, set STORE_DRIVER=postgres")
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg = lg.Named("seed")

	caregivers := getInt("SEED_CAREGIVERS", 50)
	pacilians := getInt("SEED_PACILIANS", 500)
	out := os.Getenv("SEED_OUT")
	if out == "" {
		out = "seed.json"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := app.Open(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("dependency setup failed", zap.Error(err))
	}
	defer rt.Close()

	if err := rt.Migrate(ctx); err != nil {
		lg.Fatal("schema migration failed", zap.Error(err))
	}

	var cache profile.Cache
	if rt.Redis != nil {
		cache = profile.NewRedisCache(rt.Redis)
	} else {
		lg.Warn("no redis configured, profiles will not be cached")
	}
	profiles := profile.NewClient(cfg.ProfileServiceURL, nil, cache, 7*24*time.Hour, lg)

	s := &seeder{
		svc:      rt.Service(),
		profiles: profiles,
		faker:    gofakeit.New(0),
		log:      lg,
		loc:      cfg.Location,
	}

	var manifest app.Manifest
	if manifest.Caregivers, err = s.seedCaregivers(ctx, caregivers); err != nil {
		lg.Fatal("seed caregivers", zap.Error(err))
	}
	if manifest.Pacilians, err = s.seedPacilians(ctx, pacilians); err != nil {
		lg.Fatal("seed pacilians", zap.Error(err))
	}

	if err := app.WriteManifest(out, manifest); err != nil {
		lg.Fatal("write manifest", zap.Error(err))
	}
	lg.Info("seed complete",
		zap.Int("caregivers", len(manifest.Caregivers)),
		zap.Int("pacilians", len(manifest.Pacilians)),
		zap.String("manifest", out),
	)
}

type seeder struct {
	svc      *konsultasi.Service
	profiles *profile.Client
	faker    *gofakeit.Faker
	log      *zap.Logger
	loc      *time.Location
}

// seedCaregivers gives each caregiver a few weekly morning blocks and one
// evening one-time block within the next two weeks.
func (s *seeder) seedCaregivers(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding caregivers", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		actor := konsultasi.Actor{ID: uuid.New(), Role: konsultasi.RoleCaregiver}

		created := 0
		for _, day := range s.pickWeekdays(s.faker.Number(2, 4)) {
			start := s.faker.Number(8, 13)
			end := start + s.faker.Number(2, 4)
			_, err := s.svc.CreateSchedule(ctx, actor, konsultasi.CreateScheduleInput{
				Recurrence: konsultasi.RecurrenceWeekly,
				DayOfWeek:  &day,
				StartTime:  konsultasi.NewClock(start, 0),
				EndTime:    konsultasi.NewClock(end, 0),
			})
			if err != nil {
				return nil, err
			}
			created++
		}

		y, m, d := time.Now().In(s.loc).AddDate(0, 0, s.faker.Number(1, 14)).Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		if _, err := s.svc.CreateSchedule(ctx, actor, konsultasi.CreateScheduleInput{
			Recurrence:   konsultasi.RecurrenceOneTime,
			SpecificDate: &date,
			StartTime:    konsultasi.NewClock(19, 0),
			EndTime:      konsultasi.NewClock(21, 0),
		}); err != nil {
			return nil, err
		}
		created++

		s.prime(ctx, profile.Profile{
			ID:         actor.ID,
			Name:       s.faker.Name(),
			Speciality: specialities[s.faker.Number(0, len(specialities)-1)],
			Contact:    s.faker.Email(),
		})
		ids = append(ids, actor.ID)

		if (i+1)%10 == 0 || i+1 == count {
			s.log.Info("caregivers seeded", zap.Int("done", i+1), zap.Int("of", count), zap.Int("last_schedules", created))
		}
	}
	return ids, nil
}

func (s *seeder) seedPacilians(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding pacilians", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := uuid.New()
		s.prime(ctx, profile.Profile{ID: id, Name: s.faker.Name(), Contact: s.faker.Phone()})
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *seeder) prime(ctx context.Context, p profile.Profile) {
	if err := s.profiles.Prime(ctx, p); err != nil {
		s.log.Warn("prime profile", zap.String("user_id", p.ID.String()), zap.Error(err))
	}
}

// pickWeekdays returns n distinct days, Monday to Saturday.
func (s *seeder) pickWeekdays(n int) []time.Weekday {
	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	s.faker.ShuffleAnySlice(days)
	return days[:n]
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
