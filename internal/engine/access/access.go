// Package access resolves callers into case-scoped roles and produces the
// privacy-masked values each role may see.
package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync/atomic"
	"time"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/identity"
)

type Role string

const (
	RoleAgent  Role = "agent"
	RoleBuyer  Role = "buyer"
	RoleGuest  Role = "guest"
	RoleSystem Role = "system"
)

type Action string

const (
	ActionRead      Action = "read"
	ActionConfirm   Action = "confirm"
	ActionToggle    Action = "toggle"
	ActionWake      Action = "wake"
	ActionBuyerInfo Action = "buyer_info"
)

var permitted = map[Role]map[Action]bool{
	RoleAgent:  {ActionRead: true, ActionConfirm: true, ActionToggle: true, ActionWake: true, ActionBuyerInfo: true},
	RoleBuyer:  {ActionRead: true, ActionConfirm: true, ActionWake: true},
	RoleGuest:  {ActionRead: true, ActionConfirm: true},
	RoleSystem: {ActionRead: true, ActionConfirm: true, ActionWake: true, ActionBuyerInfo: true},
}

// Allowed reports whether role may perform action.
func Allowed(role Role, action Action) bool {
	return permitted[role][action]
}

// Credentials are the raw, unverified inputs of a request.
type Credentials struct {
	SystemKey  string
	Bearer     string
	GuestToken string
	IP         string
	UserAgent  string
}

type PrincipalKind int

const (
	PrincipalAnonymous PrincipalKind = iota
	PrincipalSystem
	PrincipalIdentity
	PrincipalGuest
)

// Principal is an authenticated caller before it is matched to a case.
type Principal struct {
	Kind       PrincipalKind
	Identity   identity.Identity
	GuestToken string
	IP         string
	UserAgent  string
}

// Reference is the display-only token recorded on audit events.
func (p Principal) Reference() string {
	switch p.Kind {
	case PrincipalSystem:
		return "system"
	case PrincipalGuest:
		return "guest"
	case PrincipalIdentity:
		if p.Identity.Reference != "" {
			return p.Identity.Reference
		}
		return p.Identity.ID
	}
	return ""
}

type Control struct {
	Verifier identity.Verifier
	Now      func() time.Time

	systemKey atomic.Pointer[string]
}

func New(systemKey string, verifier identity.Verifier) *Control {
	c := &Control{Verifier: verifier, Now: time.Now}
	c.SetSystemKey(systemKey)
	return c
}

// SetSystemKey replaces the shared system secret. An empty key disables
// system access.
func (c *Control) SetSystemKey(key string) {
	c.systemKey.Store(&key)
}

func (c *Control) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Authenticate checks the credentials without looking at any case. The system
// key wins over every other credential and the verifier is not consulted for
// it.
func (c *Control) Authenticate(ctx context.Context, creds Credentials) (Principal, error) {
	base := Principal{IP: creds.IP, UserAgent: creds.UserAgent}
	if creds.SystemKey != "" {
		configured := ""
		if p := c.systemKey.Load(); p != nil {
			configured = *p
		}
		if configured == "" || subtle.ConstantTimeCompare([]byte(creds.SystemKey), []byte(configured)) != 1 {
			return Principal{}, apperr.New(apperr.KindUnauthorized, apperr.MsgUnauthorized)
		}
		base.Kind = PrincipalSystem
		return base, nil
	}
	if creds.Bearer != "" {
		if c.Verifier == nil {
			return Principal{}, apperr.New(apperr.KindUnauthorized, apperr.MsgTokenInvalid)
		}
		id, err := c.Verifier.Verify(ctx, creds.Bearer)
		if err != nil {
			return Principal{}, apperr.Wrap(apperr.KindUnauthorized, apperr.MsgTokenInvalid, err)
		}
		switch Role(id.Role) {
		case "", RoleAgent, RoleBuyer:
		default:
			// A system claim inside a bearer token is never honoured.
			return Principal{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		base.Kind = PrincipalIdentity
		base.Identity = id
		return base, nil
	}
	if creds.GuestToken != "" {
		base.Kind = PrincipalGuest
		base.GuestToken = creds.GuestToken
		return base, nil
	}
	return base, nil
}

// Authorize matches an authenticated principal against a case and checks
// that the resulting role may perform action.
func (c *Control) Authorize(p Principal, tc domain.TrustCase, action Action) (Role, error) {
	role, err := c.roleFor(p, tc)
	if err != nil {
		return "", err
	}
	if !Allowed(role, action) {
		return "", apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
	}
	return role, nil
}

// Resolve authenticates and authorizes in one call.
func (c *Control) Resolve(ctx context.Context, creds Credentials, tc domain.TrustCase, action Action) (Principal, Role, error) {
	p, err := c.Authenticate(ctx, creds)
	if err != nil {
		return Principal{}, "", err
	}
	role, err := c.Authorize(p, tc, action)
	return p, role, err
}

func (c *Control) roleFor(p Principal, tc domain.TrustCase) (Role, error) {
	switch p.Kind {
	case PrincipalSystem:
		return RoleSystem, nil
	case PrincipalIdentity:
		return identityRole(p.Identity, tc)
	case PrincipalGuest:
		if tc.GuestToken == "" || subtle.ConstantTimeCompare([]byte(p.GuestToken), []byte(tc.GuestToken)) != 1 {
			return "", apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		if !c.now().Before(tc.TokenExpiresAt) {
			return "", apperr.New(apperr.KindForbidden, apperr.MsgGuestTokenExpire)
		}
		return RoleGuest, nil
	}
	return "", apperr.New(apperr.KindUnauthorized, apperr.MsgUnauthorized)
}

var errNoBuyer = errors.New("case has no linked buyer")

func identityRole(id identity.Identity, tc domain.TrustCase) (Role, error) {
	isAgent := id.ID == tc.AgentID
	isBuyer := tc.BuyerID != nil && *tc.BuyerID != "" && id.ID == *tc.BuyerID
	switch Role(id.Role) {
	case RoleAgent:
		if isAgent {
			return RoleAgent, nil
		}
	case RoleBuyer:
		if tc.BuyerID == nil {
			return "", apperr.Wrap(apperr.KindForbidden, apperr.MsgForbidden, errNoBuyer)
		}
		if isBuyer {
			return RoleBuyer, nil
		}
	default:
		if isAgent {
			return RoleAgent, nil
		}
		if isBuyer {
			return RoleBuyer, nil
		}
	}
	return "", apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
}

// ActorKind maps a role onto the audit actor vocabulary. Guests act on the
// buyer side.
func ActorKind(r Role) domain.ActorKind {
	switch r {
	case RoleAgent:
		return domain.ActorAgent
	case RoleSystem:
		return domain.ActorSystem
	default:
		return domain.ActorBuyer
	}
}
