// Package identity turns bearer credentials into verified identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("jwt secret not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is a verified caller. Role is the claim as issued and is not
// trusted for system access.
type Identity struct {
	ID        string
	Role      string
	Reference string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	TxID   string `json:"txId,omitempty"`
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	Secret string
}

func (v JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return Identity{}, ErrNoSecret
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, fmt.Errorf("%w: subject claim required", ErrInvalidToken)
	}
	return Identity{ID: id, Role: claims.Role, Reference: claims.TxID}, nil
}

// Mint signs a token for local development and tests.
func Mint(secret, userID, role, txID string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrNoSecret
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Role:   role,
		TxID:   txID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
