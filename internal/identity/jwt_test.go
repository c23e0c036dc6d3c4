package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := Mint("s3cret", "agent-1", "agent", "tx-9", time.Hour, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	id, err := JWTVerifier{Secret: "s3cret"}.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != "agent-1" || id.Role != "agent" || id.Reference != "tx-9" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := JWTVerifier{Secret: "s3cret"}
	ctx := context.Background()
	expired, _ := Mint("s3cret", "agent-1", "agent", "", -time.Minute, time.Now())
	if _, err := v.Verify(ctx, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}
	wrongKey, _ := Mint("other", "agent-1", "agent", "", time.Hour, time.Now())
	if _, err := v.Verify(ctx, wrongKey); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "x"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(ctx, unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none: expected ErrInvalidToken, got %v", err)
	}
	if _, err := (JWTVerifier{}).Verify(ctx, expired); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("unexpected: %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatalf("basic auth should not parse")
	}
	if _, ok := BearerToken("Bearer"); ok {
		t.Fatalf("missing token should not parse")
	}
}
