package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

// AgentStore is the narrow repository interface for the agent registry.
type AgentStore interface {
	CreateAgent(a *domain.Agent) error
	GetAgent(id string) (*domain.Agent, error)
	GetAgentByName(name string) (*domain.Agent, error)
	ListAgents() ([]domain.Agent, error)
	UpdateAgent(a *domain.Agent) error
	DeleteAgent(id string) error
}

// CreateAgent registers a new agent. Name collisions (case-insensitive)
// surface as Conflict.
func (d *DB) CreateAgent(a *domain.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Name == "" {
		return apperr.New(apperr.Validation, "agent name is required")
	}

	_, err := d.Exec(`
		INSERT INTO agents (id, name, type, enabled, config, display_name, avatar, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, string(a.Type), boolToInt(a.Enabled), nullIfEmpty(a.Config), nullIfEmpty(a.DisplayName), nullIfEmpty(a.Avatar), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, "agent name already registered", err)
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id.
func (d *DB) GetAgent(id string) (*domain.Agent, error) {
	row := d.QueryRow(`
		SELECT id, name, type, enabled, config, display_name, avatar, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)
	return scanAgentRow(row)
}

// GetAgentByName resolves an agent by its case-insensitive name, used by
// the mention parser (C4).
func (d *DB) GetAgentByName(name string) (*domain.Agent, error) {
	row := d.QueryRow(`
		SELECT id, name, type, enabled, config, display_name, avatar, created_at, updated_at
		FROM agents WHERE name = ? COLLATE NOCASE
	`, name)
	return scanAgentRow(row)
}

// ListAgents returns every registered agent.
func (d *DB) ListAgents() ([]domain.Agent, error) {
	rows, err := d.Query(`
		SELECT id, name, type, enabled, config, display_name, avatar, created_at, updated_at
		FROM agents ORDER BY name COLLATE NOCASE
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgentAny(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAgent updates mutable agent fields.
func (d *DB) UpdateAgent(a *domain.Agent) error {
	a.UpdatedAt = time.Now()
	res, err := d.Exec(`
		UPDATE agents SET name=?, type=?, enabled=?, config=?, display_name=?, avatar=?, updated_at=?
		WHERE id=?
	`, a.Name, string(a.Type), boolToInt(a.Enabled), nullIfEmpty(a.Config), nullIfEmpty(a.DisplayName), nullIfEmpty(a.Avatar), a.UpdatedAt, a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, "agent name already registered", err)
		}
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// DeleteAgent removes an agent; its tasks cascade via the agent_tasks FK.
func (d *DB) DeleteAgent(id string) error {
	res, err := d.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

func scanAgentRow(row *sql.Row) (*domain.Agent, error) {
	a, err := scanAgentAny(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "agent not found")
	}
	return a, err
}

func scanAgentAny(s scanner) (*domain.Agent, error) {
	var a domain.Agent
	var typ string
	var enabled int
	var config, displayName, avatar sql.NullString

	if err := s.Scan(&a.ID, &a.Name, &typ, &enabled, &config, &displayName, &avatar, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = domain.AgentType(typ)
	a.Enabled = enabled != 0
	a.Config = config.String
	a.DisplayName = displayName.String
	a.Avatar = avatar.String
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation is a loose check against modernc.org/sqlite's error
// text; the driver does not expose a typed constraint-violation error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
