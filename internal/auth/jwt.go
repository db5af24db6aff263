package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

const issuer = "konsultasi-scheduling"

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTVerifier validates HS256 tokens signed with a shared secret. The subject
// carries the user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (konsultasi.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	role, err := konsultasi.ParseRole(claims.Role)
	if err != nil {
		return konsultasi.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return konsultasi.Actor{ID: id, Role: role}, nil
}

// Mint issues a token for actor. Used by the simulator and tests.
func (v *JWTVerifier) Mint(actor konsultasi.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(actor.Role),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
