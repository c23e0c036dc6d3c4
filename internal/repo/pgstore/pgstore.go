// Package pgstore is the Postgres case store. It shares the conditional
// update builder and row shape checks with the SQLite store.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"trustroom/internal/domain"
	"trustroom/internal/repo"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres uses $n placeholders and native timestamptz/jsonb values.
var Postgres = repo.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Time:        func(t time.Time) any { return t.UTC() },
	JSON:        func(b []byte) any { return string(b) },
}

type Store struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() { s.Pool.Close() }

// Migrate runs the embedded goose migrations against the pool.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.Pool)
	defer db.Close()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

const caseColumns = `id,case_name,agent_id,agent_name,agent_company,buyer_user_id,buyer_name,buyer_phone,buyer_email,property_id,property_title,guest_token,token_expires_at,current_step,status,steps_json,version,created_at,updated_at,dormant_at`

func scanCase(row pgx.Row) (domain.TrustCase, error) {
	var c domain.TrustCase
	var status string
	var steps []byte
	err := row.Scan(&c.ID, &c.CaseName, &c.AgentID, &c.AgentName, &c.AgentCompany, &c.BuyerID, &c.BuyerName, &c.BuyerPhone, &c.BuyerEmail,
		&c.PropertyID, &c.PropertyTitle, &c.GuestToken, &c.TokenExpiresAt, &c.CurrentStep, &status, &steps, &c.Version, &c.CreatedAt, &c.UpdatedAt, &c.DormantAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, repo.ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Status = domain.Status(status)
	if err := repo.CheckCase(c); err != nil {
		return c, err
	}
	if c.Steps, err = repo.DecodeSteps(steps); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Store) GetCase(ctx context.Context, id string) (domain.TrustCase, error) {
	return scanCase(s.Pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM trust_cases WHERE id=$1`, id))
}

func (s *Store) GetCaseByGuestToken(ctx context.Context, token string) (domain.TrustCase, error) {
	return scanCase(s.Pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM trust_cases WHERE guest_token=$1`, token))
}

func (s *Store) InsertCase(ctx context.Context, c domain.TrustCase) (domain.TrustCase, error) {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return c, fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO trust_cases(`+caseColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		c.ID, c.CaseName, c.AgentID, c.AgentName, c.AgentCompany, c.BuyerID, c.BuyerName, c.BuyerPhone, c.BuyerEmail,
		c.PropertyID, c.PropertyTitle, c.GuestToken, c.TokenExpiresAt.UTC(), c.CurrentStep, string(c.Status), string(steps), c.Version,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.DormantAt)
	return c, err
}

func (s *Store) ConditionalUpdate(ctx context.Context, id string, pred repo.Predicate, patch repo.Patch) (int64, error) {
	q, args, err := repo.BuildUpdate(Postgres, id, pred, patch)
	if err != nil {
		return 0, err
	}
	tag, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListCasesByAgent(ctx context.Context, agentID string, f repo.ListFilter) ([]domain.TrustCase, error) {
	q := `SELECT ` + caseColumns + ` FROM trust_cases WHERE agent_id=$1`
	args := []any{agentID}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryCases(ctx, q, args...)
}

func (s *Store) ListCasesByBuyer(ctx context.Context, buyerID string, f repo.ListFilter) ([]domain.TrustCase, error) {
	return s.queryCases(ctx, `SELECT `+caseColumns+` FROM trust_cases
WHERE buyer_user_id=$1 AND status IN ($2,$3) ORDER BY updated_at DESC, id LIMIT $4 OFFSET $5`,
		buyerID, string(domain.StatusActive), string(domain.StatusDormant), f.Limit, f.Offset)
}

func (s *Store) queryCases(ctx context.Context, q string, args ...any) ([]domain.TrustCase, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
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

func (s *Store) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	err := s.Pool.QueryRow(ctx, `SELECT id,title,agent_id,agent_name,agent_company,trust_enabled,updated_at FROM properties WHERE id=$1`, id).
		Scan(&p.ID, &p.Title, &p.AgentID, &p.AgentName, &p.AgentCompany, &p.TrustEnabled, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, repo.ErrNotFound
	}
	return p, err
}

func (s *Store) UpsertProperty(ctx context.Context, p domain.Property) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO properties(id,title,agent_id,agent_name,agent_company,trust_enabled,updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, agent_id=EXCLUDED.agent_id, agent_name=EXCLUDED.agent_name,
agent_company=EXCLUDED.agent_company, trust_enabled=EXCLUDED.trust_enabled, updated_at=EXCLUDED.updated_at`,
		p.ID, p.Title, p.AgentID, p.AgentName, p.AgentCompany, p.TrustEnabled, p.UpdatedAt.UTC())
	return err
}

func (s *Store) InsertAuditEvent(ctx context.Context, evt domain.AuditEvent) (int64, error) {
	detail := []byte("{}")
	if len(evt.Detail) > 0 {
		b, err := json.Marshal(evt.Detail)
		if err != nil {
			return 0, fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = b
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO audit_events(case_id,actor_kind,action,ts,detail_json,reference,ip,user_agent)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,'')) RETURNING id`,
		evt.CaseID, string(evt.ActorKind), evt.Action, evt.TS.UTC(), string(detail), evt.Reference, evt.IP, evt.UserAgent).Scan(&id)
	return id, err
}

func (s *Store) AuditEvents(ctx context.Context, caseID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT id,case_id,actor_kind,action,ts,detail_json,COALESCE(reference,''),COALESCE(ip,''),COALESCE(user_agent,'')
FROM audit_events WHERE ($1 = '' OR case_id = $1) ORDER BY id DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var evt domain.AuditEvent
		var actor string
		var detail []byte
		if err := rows.Scan(&evt.ID, &evt.CaseID, &actor, &evt.Action, &evt.TS, &detail, &evt.Reference, &evt.IP, &evt.UserAgent); err != nil {
			return nil, err
		}
		evt.ActorKind = domain.ActorKind(actor)
		if len(detail) > 0 && string(detail) != "{}" {
			if err := json.Unmarshal(detail, &evt.Detail); err != nil {
				return nil, fmt.Errorf("audit event %d detail: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}
