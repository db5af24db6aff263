package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

// verifyResponse is the identity service's answer for one token.
type verifyResponse struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	ExpiresIn int64  `json:"expiresIn"`
}

// RemoteVerifier asks the identity service to validate each token.
type RemoteVerifier struct {
	baseURL string
	client  *http.Client
}

func NewRemoteVerifier(baseURL string, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteVerifier{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (konsultasi.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/verify", nil)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("call identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return konsultasi.Actor{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return konsultasi.Actor{}, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return konsultasi.Actor{}, fmt.Errorf("decode verify response: %w", err)
	}
	if !body.Valid || body.ExpiresIn <= 0 {
		return konsultasi.Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(body.UserID)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("%w: user id %q", ErrInvalidToken, body.UserID)
	}
	role, err := konsultasi.ParseRole(body.Role)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return konsultasi.Actor{ID: id, Role: role}, nil
}
