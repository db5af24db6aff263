package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/konsultasi-scheduling/internal/auth"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

type scheduleView struct {
	ID           uuid.UUID `json:"id"`
	CaregiverID  uuid.UUID `json:"caregiver_id"`
	Recurrence   string    `json:"recurrence"`
	DayOfWeek    string    `json:"day_of_week"`
	SpecificDate string    `json:"specific_date"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
}

// apiClient talks to the api-server as many users, each with its own token.
type apiClient struct {
	baseURL string
	http    *http.Client
	signer  *auth.JWTVerifier
	ttl     time.Duration
	tokens  sync.Map // uuid.UUID -> string
}

func (c *apiClient) token(actor konsultasi.Actor) (string, error) {
	if tok, ok := c.tokens.Load(actor.ID); ok {
		return tok.(string), nil
	}
	tok, err := c.signer.Mint(actor, c.ttl)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	c.tokens.Store(actor.ID, tok)
	return tok, nil
}

func (c *apiClient) do(ctx context.Context, actor konsultasi.Actor, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	tok, err := c.token(actor)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	return c.http.Do(req)
}

// availableSchedules lists the bookable schedules of the given caregivers in
// batches, reading as the given actor.
func (c *apiClient) availableSchedules(ctx context.Context, as konsultasi.Actor, caregivers []uuid.UUID) ([]scheduleView, error) {
	const batch = 20

	var out []scheduleView
	for chunk := range slices.Chunk(caregivers, batch) {
		ids := make([]string, len(chunk))
		for i, id := range chunk {
			ids[i] = id.String()
		}

		resp, err := c.do(ctx, as, http.MethodGet, "/schedules?caregiver_id="+strings.Join(ids, ","), nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("list schedules returned %d", resp.StatusCode)
		}
		var page []scheduleView
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode schedules: %w", err)
		}
		out = append(out, page...)
	}
	return out, nil
}

// slotIn picks a half-hour start inside the schedule no earlier than
// earliest. Weekly schedules land on one of the next four matching days.
func slotIn(sv scheduleView, earliest time.Time, rng *rand.Rand) (time.Time, bool) {
	start, err1 := konsultasi.ParseClock(sv.StartTime)
	end, err2 := konsultasi.ParseClock(sv.EndTime)
	if err1 != nil || err2 != nil || end-start < 30 {
		return time.Time{}, false
	}
	offset := konsultasi.Clock(rng.Intn(int(end-start)/30) * 30)

	var day time.Time
	if sv.Recurrence == string(konsultasi.RecurrenceOneTime) {
		d, err := time.ParseInLocation(time.DateOnly, sv.SpecificDate, earliest.Location())
		if err != nil {
			return time.Time{}, false
		}
		day = d
	} else {
		day = earliest
		for !strings.EqualFold(day.Weekday().String(), sv.DayOfWeek) {
			day = day.AddDate(0, 0, 1)
		}
		day = day.AddDate(0, 0, 7*rng.Intn(4))
	}

	at := (start + offset).At(day)
	if at.Before(earliest) {
		return time.Time{}, false
	}
	return at, true
}
