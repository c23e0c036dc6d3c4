package access

import "testing"

func TestDisplayBuyerName(t *testing.T) {
	tc := testCase()
	tc.BuyerID = strPtr("b7f2-9911")
	if got := DisplayBuyerName(tc, RoleBuyer); got.Name != "王小明" || got.Anonymous {
		t.Fatalf("buyer view: %+v", got)
	}
	if got := DisplayBuyerName(tc, RoleGuest); got.Name != "王小明" {
		t.Fatalf("guest view: %+v", got)
	}
	if got := DisplayBuyerName(tc, RoleAgent); got.Name != "買方-B7F2" || !got.Anonymous {
		t.Fatalf("agent view: %+v", got)
	}
	if got := DisplayBuyerName(tc, RoleSystem); got.FullText != "買方: 王小明 (ID: b7f2-9911)" {
		t.Fatalf("system view: %+v", got)
	}
}

func TestDisplayBuyerNameFallbacks(t *testing.T) {
	tc := testCase()
	tc.BuyerID = strPtr("b1")
	if got := DisplayBuyerName(tc, RoleAgent); got.Name != "買方-ABCD" {
		t.Fatalf("short buyer id should fall back to case id: %+v", got)
	}
	tc.BuyerID = nil
	tc.ID = "xy"
	if got := DisplayBuyerName(tc, RoleAgent); got.Name != "買方-****" {
		t.Fatalf("expected literal fallback: %+v", got)
	}
	tc.BuyerName = nil
	for _, r := range []Role{RoleAgent, RoleBuyer, RoleSystem} {
		if got := DisplayBuyerName(tc, r); got.Name != "買方資訊未提供" {
			t.Fatalf("%s: expected placeholder, got %+v", r, got)
		}
	}
}

func TestDisplayAgentInfo(t *testing.T) {
	if got := DisplayAgentInfo("陳大文", "信義房屋", RoleBuyer); got.FullText != "對接房仲: 陳大文 (信義房屋)" {
		t.Fatalf("buyer view: %+v", got)
	}
	if got := DisplayAgentInfo("陳大文", "信義房屋", RoleAgent); got.FullText != "您 (信義房屋)" || got.Name != "您" {
		t.Fatalf("agent view: %+v", got)
	}
	if got := DisplayAgentInfo("陳大文", "", RoleSystem); got.FullText != "房仲: 陳大文" {
		t.Fatalf("system view: %+v", got)
	}
	if got := DisplayAgentInfo("", "", RoleBuyer); got.Name != "房仲" || got.FullText != "對接房仲: 房仲" {
		t.Fatalf("default name: %+v", got)
	}
}
