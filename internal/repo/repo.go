package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustroom/internal/domain"
)

// Repo is the SQLite-backed case store.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ListFilter narrows agent case listings.
type ListFilter struct {
	Status *domain.Status
	Limit  int
	Offset int
}

const caseColumns = `id,case_name,agent_id,agent_name,agent_company,buyer_user_id,buyer_name,buyer_phone,buyer_email,property_id,property_title,guest_token,token_expires_at,current_step,status,steps_json,version,created_at,updated_at,dormant_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.TrustCase, error) {
	var c domain.TrustCase
	var buyerID, buyerName, buyerPhone, buyerEmail, propertyID, propertyTitle, dormantAt sql.NullString
	var status, stepsJSON, tokenExpires, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.CaseName, &c.AgentID, &c.AgentName, &c.AgentCompany, &buyerID, &buyerName, &buyerPhone, &buyerEmail,
		&propertyID, &propertyTitle, &c.GuestToken, &tokenExpires, &c.CurrentStep, &status, &stepsJSON, &c.Version, &createdAt, &updatedAt, &dormantAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Status = domain.Status(status)
	c.BuyerID = nullStringPtr(buyerID)
	c.BuyerName = nullStringPtr(buyerName)
	c.BuyerPhone = nullStringPtr(buyerPhone)
	c.BuyerEmail = nullStringPtr(buyerEmail)
	c.PropertyID = nullStringPtr(propertyID)
	c.PropertyTitle = nullStringPtr(propertyTitle)
	if c.TokenExpiresAt, err = parseTime(tokenExpires); err != nil {
		return c, fmt.Errorf("%w: token_expires_at: %v", ErrMalformed, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, fmt.Errorf("%w: created_at: %v", ErrMalformed, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, fmt.Errorf("%w: updated_at: %v", ErrMalformed, err)
	}
	if dormantAt.Valid {
		ts, err := parseTime(dormantAt.String)
		if err != nil {
			return c, fmt.Errorf("%w: dormant_at: %v", ErrMalformed, err)
		}
		c.DormantAt = &ts
	}
	if err := CheckCase(c); err != nil {
		return c, err
	}
	if c.Steps, err = DecodeSteps([]byte(stepsJSON)); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.TrustCase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM trust_cases WHERE id=?`, id)
	return scanCase(row)
}

func (r Repo) GetCaseByGuestToken(ctx context.Context, token string) (domain.TrustCase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM trust_cases WHERE guest_token=?`, token)
	return scanCase(row)
}

func (r Repo) InsertCase(ctx context.Context, c domain.TrustCase) (domain.TrustCase, error) {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return c, fmt.Errorf("marshal steps: %w", err)
	}
	var dormantAt any
	if c.DormantAt != nil {
		dormantAt = formatTime(*c.DormantAt)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO trust_cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CaseName, c.AgentID, c.AgentName, c.AgentCompany,
		nullableStringPtr(c.BuyerID), nullableStringPtr(c.BuyerName), nullableStringPtr(c.BuyerPhone), nullableStringPtr(c.BuyerEmail),
		nullableStringPtr(c.PropertyID), nullableStringPtr(c.PropertyTitle),
		c.GuestToken, formatTime(c.TokenExpiresAt), c.CurrentStep, string(c.Status), string(steps), c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), dormantAt)
	if err != nil {
		return c, err
	}
	return c, nil
}

// ConditionalUpdate applies patch to the case only if pred holds and returns
// the number of matched rows.
func (r Repo) ConditionalUpdate(ctx context.Context, id string, pred Predicate, patch Patch) (int64, error) {
	q, args, err := BuildUpdate(SQLite, id, pred, patch)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListCasesByAgent(ctx context.Context, agentID string, f ListFilter) ([]domain.TrustCase, error) {
	q := `SELECT ` + caseColumns + ` FROM trust_cases WHERE agent_id=?`
	args := []any{agentID}
	if f.Status != nil {
		q += ` AND status=?`
		args = append(args, string(*f.Status))
	}
	q += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)
	return r.queryCases(ctx, q, args...)
}

// ListCasesByBuyer lists the open (active or dormant) cases a buyer is bound
// to, most recently updated first.
func (r Repo) ListCasesByBuyer(ctx context.Context, buyerID string, f ListFilter) ([]domain.TrustCase, error) {
	q := `SELECT ` + caseColumns + ` FROM trust_cases WHERE buyer_user_id=? AND status IN (?,?) ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`
	return r.queryCases(ctx, q, buyerID, string(domain.StatusActive), string(domain.StatusDormant), f.Limit, f.Offset)
}

func (r Repo) queryCases(ctx context.Context, q string, args ...any) ([]domain.TrustCase, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TrustCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r Repo) InsertAuditEvent(ctx context.Context, evt domain.AuditEvent) (int64, error) {
	detail := "{}"
	if len(evt.Detail) > 0 {
		b, err := json.Marshal(evt.Detail)
		if err != nil {
			return 0, fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = string(b)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO audit_events(case_id,actor_kind,action,ts,detail_json,reference,ip,user_agent) VALUES (?,?,?,?,?,?,?,?)`,
		evt.CaseID, string(evt.ActorKind), evt.Action, formatTime(evt.TS), detail, nullable(evt.Reference), nullable(evt.IP), nullable(evt.UserAgent))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AuditEvents returns the newest audit events first. An empty caseID lists
// events across all cases.
func (r Repo) AuditEvents(ctx context.Context, caseID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var where []string
	var args []any
	if caseID != "" {
		where = append(where, "case_id=?")
		args = append(args, caseID)
	}
	q := `SELECT id,case_id,actor_kind,action,ts,detail_json,reference,ip,user_agent FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var evt domain.AuditEvent
		var actor, ts, detail string
		var ref, ip, ua sql.NullString
		if err := rows.Scan(&evt.ID, &evt.CaseID, &actor, &evt.Action, &ts, &detail, &ref, &ip, &ua); err != nil {
			return nil, err
		}
		evt.ActorKind = domain.ActorKind(actor)
		if evt.TS, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("audit event %d ts: %w", evt.ID, err)
		}
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &evt.Detail); err != nil {
				return nil, fmt.Errorf("audit event %d detail: %w", evt.ID, err)
			}
		}
		evt.Reference, evt.IP, evt.UserAgent = ref.String, ip.String, ua.String
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Ping checks store reachability.
func (r Repo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.DB.PingContext(ctx)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
