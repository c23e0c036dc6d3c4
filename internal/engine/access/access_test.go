package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/identity"
)

type stubVerifier struct {
	calls int
	id    identity.Identity
	err   error
}

func (s *stubVerifier) Verify(context.Context, string) (identity.Identity, error) {
	s.calls++
	return s.id, s.err
}

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func testCase() domain.TrustCase {
	return domain.TrustCase{
		ID:             "abcd1234-case",
		AgentID:        "agent-A",
		BuyerID:        strPtr("buyer-B"),
		BuyerName:      strPtr("王小明"),
		GuestToken:     "guest-token",
		TokenExpiresAt: fixedNow.Add(time.Hour),
		Status:         domain.StatusDormant,
	}
}

func newControl(v identity.Verifier) *Control {
	c := New("sys-key", v)
	c.Now = func() time.Time { return fixedNow }
	return c
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestSystemKeyBypassesVerifier(t *testing.T) {
	v := &stubVerifier{err: errors.New("should not be called")}
	c := newControl(v)
	_, role, err := c.Resolve(context.Background(), Credentials{SystemKey: "sys-key", Bearer: "garbage"}, testCase(), ActionWake)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if role != RoleSystem {
		t.Fatalf("expected system role, got %s", role)
	}
	if v.calls != 0 {
		t.Fatalf("verifier called %d times", v.calls)
	}
}

func TestWrongSystemKeyIsUnauthorized(t *testing.T) {
	v := &stubVerifier{id: identity.Identity{ID: "agent-A", Role: "agent"}}
	c := newControl(v)
	_, _, err := c.Resolve(context.Background(), Credentials{SystemKey: "nope", Bearer: "valid"}, testCase(), ActionWake)
	expectKind(t, err, apperr.KindUnauthorized)
	if v.calls != 0 {
		t.Fatalf("verifier should not run when a system key is presented")
	}
}

func TestSystemKeyDisabledWhenUnset(t *testing.T) {
	c := newControl(&stubVerifier{})
	c.SetSystemKey("")
	_, _, err := c.Resolve(context.Background(), Credentials{SystemKey: ""}, testCase(), ActionWake)
	expectKind(t, err, apperr.KindUnauthorized)
	_, _, err = c.Resolve(context.Background(), Credentials{SystemKey: "anything"}, testCase(), ActionWake)
	expectKind(t, err, apperr.KindUnauthorized)
}

func TestBearerRoles(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		id   identity.Identity
		role Role
		kind apperr.Kind
	}{
		{"agent", identity.Identity{ID: "agent-A", Role: "agent"}, RoleAgent, 0},
		{"buyer", identity.Identity{ID: "buyer-B", Role: "buyer"}, RoleBuyer, 0},
		{"no role claim", identity.Identity{ID: "buyer-B"}, RoleBuyer, 0},
		{"stranger agent", identity.Identity{ID: "agent-X", Role: "agent"}, "", apperr.KindForbidden},
		{"agent claiming buyer", identity.Identity{ID: "agent-A", Role: "buyer"}, "", apperr.KindForbidden},
		{"system claim", identity.Identity{ID: "agent-A", Role: "system"}, "", apperr.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newControl(&stubVerifier{id: tc.id})
			_, role, err := c.Resolve(ctx, Credentials{Bearer: "tok"}, testCase(), ActionWake)
			if tc.role != "" {
				if err != nil || role != tc.role {
					t.Fatalf("expected %s, got %s (%v)", tc.role, role, err)
				}
				return
			}
			expectKind(t, err, tc.kind)
		})
	}
}

func TestBuyerWithoutLinkedBuyerIsForbidden(t *testing.T) {
	tc := testCase()
	tc.BuyerID = nil
	for _, id := range []string{"buyer-B", "", "agent-X"} {
		c := newControl(&stubVerifier{id: identity.Identity{ID: id, Role: "buyer"}})
		_, _, err := c.Resolve(context.Background(), Credentials{Bearer: "tok"}, tc, ActionWake)
		expectKind(t, err, apperr.KindForbidden)
	}
}

func TestInvalidBearerIsUnauthorized(t *testing.T) {
	c := newControl(&stubVerifier{err: identity.ErrInvalidToken})
	_, _, err := c.Resolve(context.Background(), Credentials{Bearer: "expired"}, testCase(), ActionWake)
	expectKind(t, err, apperr.KindUnauthorized)
}

func TestAnonymousIsUnauthorized(t *testing.T) {
	c := newControl(&stubVerifier{})
	_, _, err := c.Resolve(context.Background(), Credentials{}, testCase(), ActionRead)
	expectKind(t, err, apperr.KindUnauthorized)
}

func TestGuestScope(t *testing.T) {
	ctx := context.Background()
	c := newControl(&stubVerifier{})
	creds := Credentials{GuestToken: "guest-token"}
	for _, action := range []Action{ActionRead, ActionConfirm} {
		if _, role, err := c.Resolve(ctx, creds, testCase(), action); err != nil || role != RoleGuest {
			t.Fatalf("%s: expected guest, got %s (%v)", action, role, err)
		}
	}
	for _, action := range []Action{ActionToggle, ActionWake, ActionBuyerInfo} {
		_, _, err := c.Resolve(ctx, creds, testCase(), action)
		expectKind(t, err, apperr.KindForbidden)
	}
	_, _, err := c.Resolve(ctx, Credentials{GuestToken: "other"}, testCase(), ActionRead)
	expectKind(t, err, apperr.KindForbidden)

	expired := testCase()
	expired.TokenExpiresAt = fixedNow.Add(-time.Second)
	_, _, err = c.Resolve(ctx, creds, expired, ActionRead)
	expectKind(t, err, apperr.KindForbidden)
}

func TestToggleIsAgentOnly(t *testing.T) {
	ctx := context.Background()
	c := newControl(&stubVerifier{id: identity.Identity{ID: "buyer-B", Role: "buyer"}})
	_, _, err := c.Resolve(ctx, Credentials{Bearer: "tok"}, testCase(), ActionToggle)
	expectKind(t, err, apperr.KindForbidden)
	_, _, err = c.Resolve(ctx, Credentials{SystemKey: "sys-key"}, testCase(), ActionToggle)
	expectKind(t, err, apperr.KindForbidden)
}

func TestPrincipalReference(t *testing.T) {
	if got := (Principal{Kind: PrincipalSystem}).Reference(); got != "system" {
		t.Fatalf("system reference %q", got)
	}
	if got := (Principal{Kind: PrincipalIdentity, Identity: identity.Identity{ID: "u1", Reference: "tx-1"}}).Reference(); got != "tx-1" {
		t.Fatalf("identity reference %q", got)
	}
	if ActorKind(RoleGuest) != domain.ActorBuyer || ActorKind(RoleSystem) != domain.ActorSystem {
		t.Fatalf("unexpected actor kind mapping")
	}
}
