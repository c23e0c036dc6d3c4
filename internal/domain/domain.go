package domain

import "time"

// StepCount is the fixed number of milestones in every trust case.
const StepCount = 6

// StepNames maps step numbers (1-based) to their display names.
var StepNames = [StepCount]string{
	"已電聯",
	"已帶看",
	"已出價",
	"已斡旋",
	"已成交",
	"已交屋",
}

type Status string

const (
	StatusActive                 Status = "active"
	StatusDormant                Status = "dormant"
	StatusCompleted              Status = "completed"
	StatusPending                Status = "pending"
	StatusExpired                Status = "expired"
	StatusClosed                 Status = "closed"
	StatusClosedSoldToOther      Status = "closed_sold_to_other"
	StatusClosedPropertyUnlisted Status = "closed_property_unlisted"
	StatusClosedInactive         Status = "closed_inactive"
)

// AllStatuses lists every status a stored case may carry.
var AllStatuses = []Status{
	StatusActive,
	StatusDormant,
	StatusCompleted,
	StatusPending,
	StatusExpired,
	StatusClosed,
	StatusClosedSoldToOther,
	StatusClosedPropertyUnlisted,
	StatusClosedInactive,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsClosed reports whether s is closed or one of its terminal subvariants.
func (s Status) IsClosed() bool {
	switch s {
	case StatusClosed, StatusClosedSoldToOther, StatusClosedPropertyUnlisted, StatusClosedInactive:
		return true
	}
	return false
}

type Step struct {
	Number      int        `json:"step"`
	Name        string     `json:"name"`
	Done        bool       `json:"done"`
	Confirmed   bool       `json:"confirmed"`
	Date        *time.Time `json:"date"`
	Note        string     `json:"note"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

type TrustCase struct {
	ID             string     `json:"id"`
	CaseName       string     `json:"caseName"`
	AgentID        string     `json:"agentId"`
	AgentName      string     `json:"agentName,omitempty"`
	AgentCompany   string     `json:"agentCompany,omitempty"`
	BuyerID        *string    `json:"buyerId"`
	BuyerName      *string    `json:"buyerName,omitempty"`
	BuyerPhone     *string    `json:"buyerPhone,omitempty"`
	BuyerEmail     *string    `json:"buyerEmail,omitempty"`
	PropertyID     *string    `json:"propertyId"`
	PropertyTitle  *string    `json:"propertyTitle"`
	GuestToken     string     `json:"-"`
	TokenExpiresAt time.Time  `json:"tokenExpiresAt"`
	CurrentStep    int        `json:"currentStep" minimum:"1" maximum:"6"`
	Status         Status     `json:"status" enum:"active,dormant,completed,pending,expired,closed,closed_sold_to_other,closed_property_unlisted,closed_inactive"`
	Steps          []Step     `json:"steps"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DormantAt      *time.Time `json:"dormantAt,omitempty"`
}

// ActorKind is the kind of actor recorded on audit events.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorBuyer  ActorKind = "buyer"
	ActorSystem ActorKind = "system"
)

type AuditEvent struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"caseId"`
	ActorKind ActorKind      `json:"actorKind"`
	Action    string         `json:"action"`
	TS        time.Time      `json:"ts"`
	Detail    map[string]any `json:"detail,omitempty"`
	Reference string         `json:"reference,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
}

// Property is a listing a consumer may open a trust case on. The listing
// agent becomes the case agent.
type Property struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	AgentID      string    `json:"agentId"`
	AgentName    string    `json:"agentName,omitempty"`
	AgentCompany string    `json:"agentCompany,omitempty"`
	TrustEnabled bool      `json:"trustEnabled"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
