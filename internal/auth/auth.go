package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Verifier turns a bearer token into the authenticated actor.
type Verifier interface {
	Verify(ctx context.Context, token string) (konsultasi.Actor, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, actor konsultasi.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (konsultasi.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(konsultasi.Actor)
	return actor, ok
}
