package engine

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
	"trustroom/internal/repo"
)

var (
	buyerNamePattern  = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}a-zA-Z\s]+$`)
	buyerPhonePattern = regexp.MustCompile(`^09\d{8}$`)
)

const (
	maxBuyerNameLen  = 50
	maxBuyerEmailLen = 100
	upgradeMessage   = "案件已成功升級為已註冊用戶"
)

type BuyerInfoInput struct {
	CaseID string
	Name   string
	Phone  string
	Email  string
}

func (in BuyerInfoInput) validate() error {
	if strings.TrimSpace(in.CaseID) == "" {
		return errors.New("caseId is required")
	}
	if n := utf8.RuneCountInString(in.Name); n < 1 || n > maxBuyerNameLen || !buyerNamePattern.MatchString(in.Name) {
		return errors.New("name must be 1-50 Chinese or Latin letters")
	}
	if !buyerPhonePattern.MatchString(in.Phone) {
		return errors.New("phone must be a 10-digit mobile number starting with 09")
	}
	if in.Email != "" {
		if len(in.Email) > maxBuyerEmailLen {
			return errors.New("email is too long")
		}
		if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
			return errors.New("email is malformed")
		}
	}
	return nil
}

// CompleteBuyerInfo records the buyer's contact details on an active or
// dormant case. An empty email leaves the stored one untouched.
func (e Engine) CompleteBuyerInfo(ctx context.Context, in BuyerInfoInput, creds access.Credentials) (out domain.TrustCase, err error) {
	ctx, done := e.observe(ctx, "buyer_info", in.CaseID)
	defer done(&err)

	if err := in.validate(); err != nil {
		return domain.TrustCase{}, invalidInput(err)
	}
	tc, p, role, err := e.authorize(ctx, creds, in.CaseID, access.ActionBuyerInfo)
	if err != nil {
		return domain.TrustCase{}, err
	}
	now := e.now()
	if !now.Before(tc.TokenExpiresAt) {
		return domain.TrustCase{}, apperr.New(apperr.KindForbidden, apperr.MsgGuestTokenExpire)
	}
	if err := ensureBuyerInfo(tc.Status); err != nil {
		return domain.TrustCase{}, err
	}

	pred := repo.Predicate{StatusIn: buyerInfoStatuses}
	if role == access.RoleAgent {
		pred.AgentID = &p.Identity.ID
	}
	patch := repo.Patch{BuyerName: &in.Name, BuyerPhone: &in.Phone, UpdatedAt: now}
	fields := []string{"name", "phone"}
	if in.Email != "" {
		patch.BuyerEmail = &in.Email
		fields = append(fields, "email")
	}
	if err := e.commit(ctx, "buyer_info", tc.ID, pred, patch); err != nil {
		return domain.TrustCase{}, err
	}

	tc.BuyerName, tc.BuyerPhone = &in.Name, &in.Phone
	if patch.BuyerEmail != nil {
		tc.BuyerEmail = patch.BuyerEmail
	}
	tc.Version++
	tc.UpdatedAt = now
	source := "jwt"
	if role == access.RoleSystem {
		source = "system"
	}
	e.publish(tc, events.ActionCompleteBuyer)
	e.record(ctx, tc.ID, p, role, events.ActionCompleteBuyer, events.EventPayload{
		"source": source,
		"fields": fields,
	})
	return tc, nil
}

type UpgradeResult struct {
	CaseID  string `json:"caseId"`
	Message string `json:"message"`
}

// UpgradeCase binds a signed-in buyer to the case behind a guest token. The
// buyer identity always comes from the verified credential.
func (e Engine) UpgradeCase(ctx context.Context, guestToken string, creds access.Credentials) (out UpgradeResult, err error) {
	ctx, done := e.observe(ctx, "upgrade", "")
	defer done(&err)

	if strings.TrimSpace(guestToken) == "" {
		return UpgradeResult{}, invalidInput(errors.New("token is required"))
	}
	// The system key cannot stand in for a buyer here.
	creds.SystemKey = ""
	creds.GuestToken = ""
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return UpgradeResult{}, err
	}
	if p.Kind != access.PrincipalIdentity {
		return UpgradeResult{}, apperr.New(apperr.KindUnauthorized, apperr.MsgTokenInvalid)
	}
	if r := access.Role(p.Identity.Role); r != "" && r != access.RoleBuyer {
		return UpgradeResult{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
	}
	buyerID := p.Identity.ID

	tc, err := e.Store.GetCaseByGuestToken(ctx, guestToken)
	if err != nil {
		return UpgradeResult{}, storeErr(err)
	}
	now := e.now()
	if !now.Before(tc.TokenExpiresAt) {
		return UpgradeResult{}, apperr.New(apperr.KindForbidden, apperr.MsgGuestTokenExpire)
	}
	if tc.AgentID == buyerID {
		return UpgradeResult{}, apperr.New(apperr.KindForbidden, apperr.MsgForbidden)
	}
	if err := ensureUpgrade(tc.Status); err != nil {
		return UpgradeResult{}, err
	}
	if tc.BuyerID != nil {
		if *tc.BuyerID == buyerID {
			return UpgradeResult{CaseID: tc.ID, Message: upgradeMessage}, nil
		}
		return UpgradeResult{}, apperr.New(apperr.KindConflict, apperr.MsgConflict)
	}

	err = e.commit(ctx, "upgrade", tc.ID, repo.Predicate{GuestToken: &guestToken, BuyerUnset: true}, repo.Patch{
		BuyerID:   &buyerID,
		UpdatedAt: now,
	})
	if err != nil {
		return UpgradeResult{}, err
	}
	tc.BuyerID = &buyerID
	tc.Version++
	tc.UpdatedAt = now
	e.publish(tc, events.ActionUpgradeCase)
	e.record(ctx, tc.ID, p, access.RoleBuyer, events.ActionUpgradeCase, events.EventPayload{"buyerId": buyerID})
	return UpgradeResult{CaseID: tc.ID, Message: upgradeMessage}, nil
}
