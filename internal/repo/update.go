package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustroom/internal/domain"
)

// Predicate is the precondition of a conditional update. Every non-nil field
// must hold on the stored row for the update to match it.
type Predicate struct {
	Status     *domain.Status
	StatusIn   []domain.Status
	Version    *int64
	AgentID    *string
	BuyerID    *string
	BuyerUnset bool
	GuestToken *string
}

// Patch lists the columns a conditional update writes. Version is always
// incremented and UpdatedAt always written.
type Patch struct {
	Status         *domain.Status
	CurrentStep    *int
	Steps          []domain.Step
	ClearDormantAt bool
	BuyerID        *string
	BuyerName      *string
	BuyerPhone     *string
	BuyerEmail     *string
	UpdatedAt      time.Time
}

// Dialect adapts the shared update builder to a SQL engine.
type Dialect struct {
	Placeholder func(n int) string
	Time        func(t time.Time) any
	JSON        func(b []byte) any
}

// SQLite formats timestamps as RFC3339 text and uses ? placeholders.
var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	Time:        func(t time.Time) any { return formatTime(t) },
	JSON:        func(b []byte) any { return string(b) },
}

var errEmptyPatch = errors.New("empty patch")

// BuildUpdate renders a conditional UPDATE on trust_cases for the given
// dialect.
func BuildUpdate(d Dialect, id string, pred Predicate, patch Patch) (string, []any, error) {
	if patch.UpdatedAt.IsZero() {
		return "", nil, fmt.Errorf("patch.UpdatedAt: %w", errEmptyPatch)
	}
	var (
		sets  []string
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}
	if patch.Status != nil {
		sets = append(sets, "status="+arg(string(*patch.Status)))
	}
	if patch.CurrentStep != nil {
		sets = append(sets, "current_step="+arg(*patch.CurrentStep))
	}
	if patch.Steps != nil {
		data, err := json.Marshal(patch.Steps)
		if err != nil {
			return "", nil, fmt.Errorf("marshal steps: %w", err)
		}
		sets = append(sets, "steps_json="+arg(d.JSON(data)))
	}
	if patch.ClearDormantAt {
		sets = append(sets, "dormant_at=NULL")
	}
	if patch.BuyerID != nil {
		sets = append(sets, "buyer_user_id="+arg(*patch.BuyerID))
	}
	if patch.BuyerName != nil {
		sets = append(sets, "buyer_name="+arg(*patch.BuyerName))
	}
	if patch.BuyerPhone != nil {
		sets = append(sets, "buyer_phone="+arg(*patch.BuyerPhone))
	}
	if patch.BuyerEmail != nil {
		sets = append(sets, "buyer_email="+arg(*patch.BuyerEmail))
	}
	sets = append(sets, "version=version+1", "updated_at="+arg(d.Time(patch.UpdatedAt)))

	where = append(where, "id="+arg(id))
	if pred.Status != nil {
		where = append(where, "status="+arg(string(*pred.Status)))
	}
	if len(pred.StatusIn) > 0 {
		ph := make([]string, len(pred.StatusIn))
		for i, s := range pred.StatusIn {
			ph[i] = arg(string(s))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if pred.Version != nil {
		where = append(where, "version="+arg(*pred.Version))
	}
	if pred.AgentID != nil {
		where = append(where, "agent_id="+arg(*pred.AgentID))
	}
	if pred.BuyerID != nil {
		where = append(where, "buyer_user_id="+arg(*pred.BuyerID))
	}
	if pred.BuyerUnset {
		where = append(where, "buyer_user_id IS NULL")
	}
	if pred.GuestToken != nil {
		where = append(where, "guest_token="+arg(*pred.GuestToken))
	}
	q := "UPDATE trust_cases SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	return q, args, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
