package engine

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
	"trustroom/internal/repo"
	"trustroom/internal/timeline"
)

const (
	maxCaseNameLen   = 100
	DefaultListLimit = 50
	maxListLimit     = 100
)

type CreateCaseInput struct {
	CaseName      string
	AgentID       string
	AgentName     string
	AgentCompany  string
	PropertyID    *string
	PropertyTitle *string
}

// GuestLink is the share-link material handed to the agent on creation.
type GuestLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Path      string    `json:"path"`
}

type CreatedCase struct {
	Case domain.TrustCase `json:"case"`
	Link GuestLink        `json:"guestLink"`
}

// CreateCase opens a new active case. Agents create cases for themselves;
// system callers name the agent explicitly.
func (e Engine) CreateCase(ctx context.Context, in CreateCaseInput, creds access.Credentials) (out CreatedCase, err error) {
	ctx, done := e.observe(ctx, "create", "")
	defer done(&err)

	in.CaseName = strings.TrimSpace(in.CaseName)
	if in.CaseName == "" || utf8.RuneCountInString(in.CaseName) > maxCaseNameLen {
		return CreatedCase{}, invalidInput(errors.New("caseName must be 1-100 characters"))
	}
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return CreatedCase{}, err
	}
	var role access.Role
	switch p.Kind {
	case access.PrincipalSystem:
		if strings.TrimSpace(in.AgentID) == "" {
			return CreatedCase{}, invalidInput(errors.New("agentId is required for system callers"))
		}
		role = access.RoleSystem
	case access.PrincipalIdentity:
		if r := access.Role(p.Identity.Role); r != "" && r != access.RoleAgent {
			return CreatedCase{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		if in.AgentID != "" && in.AgentID != p.Identity.ID {
			return CreatedCase{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		in.AgentID = p.Identity.ID
		role = access.RoleAgent
	case access.PrincipalGuest:
		return CreatedCase{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
	default:
		return CreatedCase{}, apperr.New(apperr.KindUnauthorized, apperr.MsgTokenInvalid)
	}

	now := e.now()
	steps := timeline.Initial()
	tc := domain.TrustCase{
		ID:             uuid.NewString(),
		CaseName:       in.CaseName,
		AgentID:        in.AgentID,
		AgentName:      in.AgentName,
		AgentCompany:   in.AgentCompany,
		PropertyID:     in.PropertyID,
		PropertyTitle:  in.PropertyTitle,
		GuestToken:     uuid.NewString(),
		TokenExpiresAt: now.Add(e.TokenTTL),
		CurrentStep:    timeline.CurrentStep(steps),
		Status:         domain.StatusActive,
		Steps:          steps,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := e.Store.InsertCase(ctx, tc); err != nil {
		return CreatedCase{}, storeErr(err)
	}
	e.record(ctx, tc.ID, p, role, events.ActionCreateCase, events.EventPayload{
		"caseName":       tc.CaseName,
		"tokenExpiresAt": tc.TokenExpiresAt.Format(time.RFC3339),
	})
	e.Logger.Info("trust case created", "case_id", tc.ID, "agent_id", tc.AgentID)
	return CreatedCase{Case: tc, Link: e.guestLink(tc)}, nil
}

func (e Engine) guestLink(tc domain.TrustCase) GuestLink {
	q := url.Values{}
	q.Set("id", tc.ID)
	q.Set("token", tc.GuestToken)
	return GuestLink{Token: tc.GuestToken, ExpiresAt: tc.TokenExpiresAt, Path: e.LinkPath + "?" + q.Encode()}
}

// CaseView is a case as one viewer is allowed to see it.
type CaseView struct {
	Case  domain.TrustCase `json:"case"`
	Role  access.Role      `json:"role"`
	Buyer access.Display   `json:"buyer"`
	Agent access.Display   `json:"agent"`
}

func viewFor(tc domain.TrustCase, role access.Role) CaseView {
	v := CaseView{
		Role:  role,
		Buyer: access.DisplayBuyerName(tc, role),
		Agent: access.DisplayAgentInfo(tc.AgentName, tc.AgentCompany, role),
	}
	switch role {
	case access.RoleAgent:
		tc.BuyerName, tc.BuyerPhone, tc.BuyerEmail = nil, nil, nil
	case access.RoleGuest:
		tc.BuyerPhone, tc.BuyerEmail = nil, nil
	}
	v.Case = tc
	return v
}

func (e Engine) GetCase(ctx context.Context, caseID string, creds access.Credentials) (view CaseView, err error) {
	ctx, done := e.observe(ctx, "get", caseID)
	defer done(&err)

	if strings.TrimSpace(caseID) == "" {
		return CaseView{}, invalidInput(errors.New("caseId is required"))
	}
	tc, _, role, err := e.authorize(ctx, creds, caseID, access.ActionRead)
	if err != nil {
		return CaseView{}, err
	}
	return viewFor(tc, role), nil
}

type ListInput struct {
	AgentID string
	Status  *domain.Status
	Limit   int
	Offset  int
}

// ListCases lists an agent's own cases, newest first. System callers must
// name the agent.
func (e Engine) ListCases(ctx context.Context, in ListInput, creds access.Credentials) (views []CaseView, err error) {
	ctx, done := e.observe(ctx, "list", "")
	defer done(&err)

	if in.Limit == 0 {
		in.Limit = DefaultListLimit
	}
	if in.Limit < 1 || in.Limit > maxListLimit || in.Offset < 0 {
		return nil, invalidInput(errors.New("limit must be 1-100 and offset non-negative"))
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, invalidInput(errors.New("unknown status filter"))
	}
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	role := access.RoleAgent
	switch p.Kind {
	case access.PrincipalSystem:
		if in.AgentID == "" {
			return nil, invalidInput(errors.New("agentId is required for system callers"))
		}
		role = access.RoleSystem
	case access.PrincipalIdentity:
		if r := access.Role(p.Identity.Role); r != "" && r != access.RoleAgent {
			return nil, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		if in.AgentID != "" && in.AgentID != p.Identity.ID {
			return nil, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		in.AgentID = p.Identity.ID
	case access.PrincipalGuest:
		return nil, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
	default:
		return nil, apperr.New(apperr.KindUnauthorized, apperr.MsgTokenInvalid)
	}
	cases, err := e.Store.ListCasesByAgent(ctx, in.AgentID, repo.ListFilter{Status: in.Status, Limit: in.Limit, Offset: in.Offset})
	if err != nil {
		return nil, storeErr(err)
	}
	views = make([]CaseView, 0, len(cases))
	for _, tc := range cases {
		views = append(views, viewFor(tc, role))
	}
	return views, nil
}

// AuditTrail returns the newest audit events of a case. It is an operator
// command and carries no caller credentials.
func (e Engine) AuditTrail(ctx context.Context, caseID string, limit int) (evts []domain.AuditEvent, err error) {
	ctx, done := e.observe(ctx, "audit", caseID)
	defer done(&err)

	if caseID != "" {
		if _, err := e.Store.GetCase(ctx, caseID); err != nil {
			return nil, storeErr(err)
		}
	}
	evts, err = e.Store.AuditEvents(ctx, caseID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return evts, nil
}
