package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("profile not found")

// Profile is the public display data of a caregiver or pacilian.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Speciality  string    `json:"speciality,omitempty"`
	Contact     string    `json:"contact,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// Placeholder is returned when the profile service cannot answer.
func Placeholder(id uuid.UUID) Profile {
	return Profile{ID: id, Name: "Unknown user", Placeholder: true}
}

// Cache stores encoded profiles by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   Cache
	ttl     time.Duration
	group   singleflight.Group
	log     *zap.Logger
}

// NewClient builds a lookup client. cache may be nil.
func NewClient(baseURL string, httpClient *http.Client, cache Cache, ttl time.Duration, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   cache,
		ttl:     ttl,
		log:     log,
	}
}

func cacheKey(id uuid.UUID) string {
	return "profile:" + id.String()
}

// Lookup never fails: any error is logged and answered with a placeholder.
func (c *Client) Lookup(ctx context.Context, id uuid.UUID) Profile {
	p, err := c.Fetch(ctx, id)
	if err != nil {
		c.log.Warn("profile lookup failed, using placeholder",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return Placeholder(id)
	}
	return p
}

// Fetch reads through the cache and collapses concurrent lookups of one id.
func (c *Client) Fetch(ctx context.Context, id uuid.UUID) (Profile, error) {
	key := cacheKey(id)

	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.Debug("profile cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			var p Profile
			if err := json.Unmarshal(raw, &p); err == nil {
				return p, nil
			}
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		p, err := c.fetchRemote(ctx, id)
		if err != nil {
			return Profile{}, err
		}
		if c.cache != nil {
			if raw, err := json.Marshal(p); err == nil {
				if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
					c.log.Debug("profile cache write failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

// Prime stores p in the cache so lookups skip the profile service until it expires.
func (c *Client) Prime(ctx context.Context, p Profile) error {
	if c.cache == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := c.cache.Set(ctx, cacheKey(p.ID), raw, c.ttl); err != nil {
		return fmt.Errorf("cache profile %s: %w", p.ID, err)
	}
	return nil
}

func (c *Client) fetchRemote(ctx context.Context, id uuid.UUID) (Profile, error) {
	if c.baseURL == "" {
		return Profile{}, errors.New("profile service not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles/"+id.String(), nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("call profile service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Profile{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return Profile{}, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	p.ID = id
	return p, nil
}
