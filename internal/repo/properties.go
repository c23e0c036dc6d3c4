package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trustroom/internal/domain"
)

const propertyColumns = `id,title,agent_id,agent_name,agent_company,trust_enabled,updated_at`

func (r Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	var enabled int
	var updated string
	err := r.DB.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id=?`, id).
		Scan(&p.ID, &p.Title, &p.AgentID, &p.AgentName, &p.AgentCompany, &enabled, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.TrustEnabled = enabled != 0
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, fmt.Errorf("%w: property updated_at: %v", ErrMalformed, err)
	}
	return p, nil
}

// UpsertProperty registers a listing or replaces its details.
func (r Repo) UpsertProperty(ctx context.Context, p domain.Property) error {
	enabled := 0
	if p.TrustEnabled {
		enabled = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(`+propertyColumns+`) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, agent_id=excluded.agent_id, agent_name=excluded.agent_name,
agent_company=excluded.agent_company, trust_enabled=excluded.trust_enabled, updated_at=excluded.updated_at`,
		p.ID, p.Title, p.AgentID, p.AgentName, p.AgentCompany, enabled, formatTime(p.UpdatedAt))
	return err
}
