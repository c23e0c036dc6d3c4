package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"net/url"
	"regexp"
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

var propertyIDPattern = regexp.MustCompile(`^MH-\d+$`)

const (
	anonymousBuyerPrefix  = "買方-"
	anonymousBuyerCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	anonymousBuyerCodeLen = 8

	msgPropertyNotFound = "找不到對應的物件"
	msgTrustDisabled    = "此物件未開啟安心留痕服務"
)

type StartCaseInput struct {
	PropertyID string
	UserName   string
}

// StartedCase is what a consumer gets back after opening a case on a listing.
type StartedCase struct {
	CaseID     string    `json:"caseId"`
	BuyerName  string    `json:"buyerName"`
	Registered bool      `json:"isRegistered"`
	Link       GuestLink `json:"guestLink"`
}

// StartCase opens a case on a trust-enabled listing from the consumer side.
// The listing agent owns the case. A signed-in buyer is bound to it at once;
// anyone else gets an anonymous 買方-XXXXXXXX name and only the guest link.
func (e Engine) StartCase(ctx context.Context, in StartCaseInput, creds access.Credentials) (out StartedCase, err error) {
	ctx, done := e.observe(ctx, "start", "")
	defer done(&err)

	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.UserName = strings.TrimSpace(in.UserName)
	if !propertyIDPattern.MatchString(in.PropertyID) {
		return StartedCase{}, invalidInput(errors.New("propertyId must look like MH-<digits>"))
	}
	if utf8.RuneCountInString(in.UserName) > maxBuyerNameLen {
		return StartedCase{}, invalidInput(errors.New("userName must be at most 50 characters"))
	}
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return StartedCase{}, err
	}
	var buyerID *string
	role := access.RoleGuest
	switch p.Kind {
	case access.PrincipalIdentity:
		if access.Role(p.Identity.Role) == access.RoleAgent {
			return StartedCase{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		id := p.Identity.ID
		buyerID = &id
		role = access.RoleBuyer
	case access.PrincipalSystem:
		role = access.RoleSystem
	}

	prop, err := e.Store.GetProperty(ctx, in.PropertyID)
	if errors.Is(err, repo.ErrNotFound) {
		return StartedCase{}, apperr.Wrap(apperr.KindNotFound, msgPropertyNotFound, err)
	}
	if err != nil {
		return StartedCase{}, storeErr(err)
	}
	if !prop.TrustEnabled {
		return StartedCase{}, apperr.New(apperr.KindValidation, msgTrustDisabled)
	}

	buyerName := in.UserName
	if buyerName == "" {
		if buyerName, err = anonymousBuyerName(); err != nil {
			return StartedCase{}, apperr.Wrap(apperr.KindInternal, apperr.MsgInternal, err)
		}
	}
	now := e.now()
	steps := timeline.Initial()
	tc := domain.TrustCase{
		ID:             uuid.NewString(),
		CaseName:       prop.Title,
		AgentID:        prop.AgentID,
		AgentName:      prop.AgentName,
		AgentCompany:   prop.AgentCompany,
		BuyerID:        buyerID,
		BuyerName:      &buyerName,
		PropertyID:     &prop.ID,
		PropertyTitle:  &prop.Title,
		GuestToken:     uuid.NewString(),
		TokenExpiresAt: now.Add(e.TokenTTL),
		CurrentStep:    timeline.CurrentStep(steps),
		Status:         domain.StatusActive,
		Steps:          steps,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if utf8.RuneCountInString(tc.CaseName) > maxCaseNameLen {
		tc.CaseName = string([]rune(tc.CaseName)[:maxCaseNameLen])
	}
	if _, err := e.Store.InsertCase(ctx, tc); err != nil {
		return StartedCase{}, storeErr(err)
	}
	ref := p.Reference()
	if ref == "" || p.Kind == access.PrincipalGuest {
		ref = "anonymous"
	}
	actor := access.ActorKind(role)
	e.Effects.Go(ctx, tc.ID, "audit:"+events.ActionStartCase, func(ctx context.Context) error {
		return e.Audit.Append(ctx, tc.ID, actor, events.ActionStartCase, ref, p.IP, p.UserAgent, events.EventPayload{
			"propertyId":   prop.ID,
			"isRegistered": buyerID != nil,
		})
	})
	e.Logger.Info("trust case started by consumer", "case_id", tc.ID, "property_id", prop.ID, "registered", buyerID != nil)
	return StartedCase{CaseID: tc.ID, BuyerName: buyerName, Registered: buyerID != nil, Link: e.guestLink(tc)}, nil
}

// anonymousBuyerName draws an 8 character code from an alphabet without the
// easily confused I, L, O, 0 and 1.
func anonymousBuyerName() (string, error) {
	b := make([]byte, anonymousBuyerCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = anonymousBuyerCharset[int(b[i])%len(anonymousBuyerCharset)]
	}
	return anonymousBuyerPrefix + string(b), nil
}

type MyCasesInput struct {
	BuyerID string
	Limit   int
	Offset  int
}

// MyCase is the buyer-facing summary of one open case.
type MyCase struct {
	ID            string        `json:"id"`
	PropertyTitle string        `json:"propertyTitle"`
	AgentName     string        `json:"agentName"`
	CurrentStep   int           `json:"currentStep"`
	StepName      string        `json:"stepName"`
	Status        domain.Status `json:"status"`
	Path          string        `json:"trustRoomPath"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ListMyCases lists the active and dormant cases a buyer is bound to. A
// signed-in caller sees their own cases; system callers name the buyer.
func (e Engine) ListMyCases(ctx context.Context, in MyCasesInput, creds access.Credentials) (out []MyCase, err error) {
	ctx, done := e.observe(ctx, "my_cases", "")
	defer done(&err)

	if in.Limit == 0 {
		in.Limit = DefaultListLimit
	}
	if in.Limit < 1 || in.Limit > maxListLimit || in.Offset < 0 {
		return nil, invalidInput(errors.New("limit must be 1-100 and offset non-negative"))
	}
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case access.PrincipalSystem:
		if strings.TrimSpace(in.BuyerID) == "" {
			return nil, invalidInput(errors.New("buyerId is required for system callers"))
		}
	case access.PrincipalIdentity:
		if access.Role(p.Identity.Role) == access.RoleAgent {
			return nil, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		if in.BuyerID != "" && in.BuyerID != p.Identity.ID {
			return nil, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
		}
		in.BuyerID = p.Identity.ID
	default:
		return nil, apperr.New(apperr.KindUnauthorized, apperr.MsgUnauthorized)
	}
	cases, err := e.Store.ListCasesByBuyer(ctx, in.BuyerID, repo.ListFilter{Limit: in.Limit, Offset: in.Offset})
	if err != nil {
		return nil, storeErr(err)
	}
	out = make([]MyCase, 0, len(cases))
	for _, tc := range cases {
		out = append(out, e.myCase(tc))
	}
	return out, nil
}

func (e Engine) myCase(tc domain.TrustCase) MyCase {
	title := tc.CaseName
	if tc.PropertyTitle != nil && *tc.PropertyTitle != "" {
		title = *tc.PropertyTitle
	}
	step := ""
	if tc.CurrentStep >= 1 && tc.CurrentStep <= domain.StepCount {
		step = domain.StepNames[tc.CurrentStep-1]
	}
	q := url.Values{}
	q.Set("id", tc.ID)
	return MyCase{
		ID:            tc.ID,
		PropertyTitle: title,
		AgentName:     tc.AgentName,
		CurrentStep:   tc.CurrentStep,
		StepName:      step,
		Status:        tc.Status,
		Path:          e.LinkPath + "?" + q.Encode(),
		UpdatedAt:     tc.UpdatedAt,
	}
}
