package access

import (
	"fmt"
	"strings"

	"trustroom/internal/domain"
)

const (
	buyerPlaceholder   = "買方資訊未提供"
	buyerCodeFallback  = "買方-****"
	defaultAgentName   = "房仲"
	agentSelfReference = "您"
)

// Display is a viewer-specific rendering of one party.
type Display struct {
	Name      string `json:"name"`
	Company   string `json:"company,omitempty"`
	FullText  string `json:"fullText"`
	Anonymous bool   `json:"isAnonymous"`
}

// DisplayBuyerName renders the buyer for viewer. Guests see what the buyer
// sees.
func DisplayBuyerName(tc domain.TrustCase, viewer Role) Display {
	if tc.BuyerName == nil || *tc.BuyerName == "" {
		return Display{Name: buyerPlaceholder, FullText: buyerPlaceholder, Anonymous: true}
	}
	name := *tc.BuyerName
	switch viewer {
	case RoleAgent:
		code := buyerCode(tc)
		return Display{Name: code, FullText: code, Anonymous: true}
	case RoleSystem:
		id := ""
		if tc.BuyerID != nil {
			id = *tc.BuyerID
		}
		return Display{Name: name, FullText: fmt.Sprintf("買方: %s (ID: %s)", name, id)}
	default:
		return Display{Name: name, FullText: name}
	}
}

// DisplayAgentInfo renders the agent for viewer.
func DisplayAgentInfo(name, company string, viewer Role) Display {
	if strings.TrimSpace(name) == "" {
		name = defaultAgentName
	}
	withCompany := func(prefix string) string {
		if company == "" {
			return prefix
		}
		return fmt.Sprintf("%s (%s)", prefix, company)
	}
	switch viewer {
	case RoleAgent:
		return Display{Name: agentSelfReference, Company: company, FullText: withCompany(agentSelfReference)}
	case RoleSystem:
		return Display{Name: name, Company: company, FullText: withCompany("房仲: " + name)}
	default:
		return Display{Name: name, Company: company, FullText: withCompany("對接房仲: " + name)}
	}
}

func buyerCode(tc domain.TrustCase) string {
	if tc.BuyerID != nil {
		if p, ok := prefix4(*tc.BuyerID); ok {
			return "買方-" + p
		}
	}
	if p, ok := prefix4(tc.ID); ok {
		return "買方-" + p
	}
	return buyerCodeFallback
}

func prefix4(s string) (string, bool) {
	r := []rune(s)
	if len(r) < 4 {
		return "", false
	}
	return strings.ToUpper(string(r[:4])), true
}
