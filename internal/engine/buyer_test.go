package engine_test

import (
	"testing"
	"time"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/engine"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
)

func TestCompleteBuyerInfo(t *testing.T) {
	env := newTestEnv(t)
	c := seedCase(t, env, seed{Status: domain.StatusDormant})
	out, err := env.Engine.CompleteBuyerInfo(env.Ctx, engine.BuyerInfoInput{
		CaseID: c.ID, Name: "Amy 陳", Phone: "0987654321", Email: "amy@example.com",
	}, system())
	if err != nil {
		t.Fatalf("complete buyer info: %v", err)
	}
	if out.BuyerName == nil || *out.BuyerName != "Amy 陳" || out.BuyerEmail == nil || out.Status != domain.StatusDormant {
		t.Fatalf("unexpected case %+v", out)
	}
	stored, _ := env.Repo.GetCase(env.Ctx, c.ID)
	if stored.BuyerPhone == nil || *stored.BuyerPhone != "0987654321" || stored.Version != c.Version+1 {
		t.Fatalf("stored case %+v", stored)
	}
	env.Engine.Effects.Wait()
	evts, _ := env.Engine.AuditTrail(env.Ctx, c.ID, 10)
	if len(evts) != 1 || evts[0].Action != events.ActionCompleteBuyer || evts[0].Detail["source"] != "system" {
		t.Fatalf("unexpected audit %+v", evts)
	}
}

func TestCompleteBuyerInfoRejects(t *testing.T) {
	env := newTestEnv(t)
	c := seedCase(t, env, seed{Buyer: strptr("buyer-b")})
	good := engine.BuyerInfoInput{CaseID: c.ID, Name: "陳美麗", Phone: "0912345678"}

	bad := []engine.BuyerInfoInput{
		{CaseID: c.ID, Name: "", Phone: "0912345678"},
		{CaseID: c.ID, Name: "Robert'); DROP", Phone: "0912345678"},
		{CaseID: c.ID, Name: "陳美麗", Phone: "0212345678"},
		{CaseID: c.ID, Name: "陳美麗", Phone: "0912345678", Email: "not-an-email"},
		{CaseID: "", Name: "陳美麗", Phone: "0912345678"},
	}
	for _, in := range bad {
		_, err := env.Engine.CompleteBuyerInfo(env.Ctx, in, bearer("tok-agent"))
		expectKind(t, err, apperr.KindValidation)
	}

	_, err := env.Engine.CompleteBuyerInfo(env.Ctx, good, bearer("tok-buyer"))
	expectKind(t, err, apperr.KindForbidden)
	_, err = env.Engine.CompleteBuyerInfo(env.Ctx, good, bearer("tok-stranger"))
	expectKind(t, err, apperr.KindForbidden)

	closed := seedCase(t, env, seed{Status: domain.StatusClosedSoldToOther})
	_, err = env.Engine.CompleteBuyerInfo(env.Ctx, engine.BuyerInfoInput{CaseID: closed.ID, Name: "陳美麗", Phone: "0912345678"}, bearer("tok-agent"))
	expectKind(t, err, apperr.KindInvalidTransition)

	env.Engine.Now = func() time.Time { return fixedNow.Add(100 * 24 * time.Hour) }
	_, err = env.Engine.CompleteBuyerInfo(env.Ctx, good, bearer("tok-agent"))
	expectKind(t, err, apperr.KindForbidden)
}

func TestUpgradeCase(t *testing.T) {
	env := newTestEnv(t)
	c := seedCase(t, env, seed{})

	res, err := env.Engine.UpgradeCase(env.Ctx, c.GuestToken, bearer("tok-buyer"))
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.CaseID != c.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, _ := env.Repo.GetCase(env.Ctx, c.ID)
	if stored.BuyerID == nil || *stored.BuyerID != "buyer-b" {
		t.Fatalf("buyer not bound: %+v", stored)
	}

	if _, err := env.Engine.UpgradeCase(env.Ctx, c.GuestToken, bearer("tok-buyer")); err != nil {
		t.Fatalf("repeat upgrade by same buyer should succeed: %v", err)
	}
	_, err = env.Engine.UpgradeCase(env.Ctx, c.GuestToken, bearer("tok-other-buyer"))
	expectKind(t, err, apperr.KindConflict)

	// the bound buyer can now act on the case
	if _, err := env.Engine.GetCase(env.Ctx, c.ID, bearer("tok-buyer")); err != nil {
		t.Fatalf("bound buyer read: %v", err)
	}
	if actions := auditActions(t, env, c.ID); len(actions) != 1 || actions[0] != events.ActionUpgradeCase {
		t.Fatalf("unexpected audit %v", actions)
	}
}

func TestUpgradeCaseRejects(t *testing.T) {
	env := newTestEnv(t)
	c := seedCase(t, env, seed{})

	_, err := env.Engine.UpgradeCase(env.Ctx, c.GuestToken, system())
	expectKind(t, err, apperr.KindUnauthorized)
	_, err = env.Engine.UpgradeCase(env.Ctx, c.GuestToken, access.Credentials{GuestToken: c.GuestToken})
	expectKind(t, err, apperr.KindUnauthorized)
	_, err = env.Engine.UpgradeCase(env.Ctx, c.GuestToken, bearer("tok-agent"))
	expectKind(t, err, apperr.KindForbidden)
	_, err = env.Engine.UpgradeCase(env.Ctx, "", bearer("tok-buyer"))
	expectKind(t, err, apperr.KindValidation)
	_, err = env.Engine.UpgradeCase(env.Ctx, "no-such-token", bearer("tok-buyer"))
	expectKind(t, err, apperr.KindNotFound)

	closed := seedCase(t, env, seed{Status: domain.StatusClosed})
	_, err = env.Engine.UpgradeCase(env.Ctx, closed.GuestToken, bearer("tok-buyer"))
	expectKind(t, err, apperr.KindInvalidTransition)

	env.Engine.Now = func() time.Time { return fixedNow.Add(100 * 24 * time.Hour) }
	_, err = env.Engine.UpgradeCase(env.Ctx, c.GuestToken, bearer("tok-buyer"))
	expectKind(t, err, apperr.KindForbidden)
}
