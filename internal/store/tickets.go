package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

// TicketStore is the narrow repository interface the intake layer (C5) and
// broker (C6) depend on, in the style of kanban/store.go's interface
// segregation: callers only see the methods relevant to their concern.
type TicketStore interface {
	CreateTicket(t *domain.Ticket) error
	GetTicket(id string) (*domain.Ticket, error)
	ListTickets(status domain.TicketStatus) ([]domain.Ticket, error)
	UpdateTicket(t *domain.Ticket) error
	DeleteTicket(id string) error
	SetLabels(ticketID string, labels []domain.Label) error
	SetAssignees(ticketID string, assignees []domain.Assignee) error
}

// CreateTicket inserts a new ticket row plus its labels/assignees. Mirrors
// internal/db/store.go's CreateTicket (prepared INSERT, then history/side
// tables) adapted to the narrower ticket shape of SPEC_FULL.md §3.
func (d *DB) CreateTicket(t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	if t.Title == "" {
		return apperr.New(apperr.Validation, "ticket title is required")
	}
	if t.Status == "" {
		t.Status = domain.TicketBacklog
	}

	_, err := d.Exec(`
		INSERT INTO tickets (id, repository_id, title, description, solution_plan, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.RepositoryID, t.Title, nullIfEmpty(t.Description), nullIfEmpty(t.SolutionPlan), string(t.Status), t.Priority, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}

	if err := d.SetLabels(t.ID, t.Labels); err != nil {
		return err
	}
	if err := d.SetAssignees(t.ID, t.Assignees); err != nil {
		return err
	}
	return nil
}

// GetTicket retrieves a ticket by id, including its labels and assignees.
func (d *DB) GetTicket(id string) (*domain.Ticket, error) {
	row := d.QueryRow(`
		SELECT id, repository_id, title, description, solution_plan, status, priority, created_at, updated_at
		FROM tickets WHERE id = ?
	`, id)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "ticket not found")
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}

	if t.Labels, err = d.getLabels(id); err != nil {
		return nil, err
	}
	if t.Assignees, err = d.getAssignees(id); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets returns all tickets, optionally filtered by status (pass ""
// for all).
func (d *DB) ListTickets(status domain.TicketStatus) ([]domain.Ticket, error) {
	query := `SELECT id, repository_id, title, description, solution_plan, status, priority, created_at, updated_at FROM tickets`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicketRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		labels, err := d.getLabels(t.ID)
		if err != nil {
			return nil, err
		}
		t.Labels = labels
		assignees, err := d.getAssignees(t.ID)
		if err != nil {
			return nil, err
		}
		t.Assignees = assignees
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTicket updates mutable ticket fields and refreshes labels/assignees
// if the caller populated them (nil slices leave existing rows untouched —
// callers that want to clear labels must pass an empty, non-nil slice).
func (d *DB) UpdateTicket(t *domain.Ticket) error {
	t.UpdatedAt = time.Now()
	res, err := d.Exec(`
		UPDATE tickets SET repository_id=?, title=?, description=?, solution_plan=?, status=?, priority=?, updated_at=?
		WHERE id=?
	`, t.RepositoryID, t.Title, nullIfEmpty(t.Description), nullIfEmpty(t.SolutionPlan), string(t.Status), t.Priority, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "ticket not found")
	}
	if t.Labels != nil {
		if err := d.SetLabels(t.ID, t.Labels); err != nil {
			return err
		}
	}
	if t.Assignees != nil {
		if err := d.SetAssignees(t.ID, t.Assignees); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTicket removes a ticket; cascades (comments, labels, assignees,
// embeddings) are enforced by foreign keys / explicit cleanup since the
// embeddings table has no FK (it is keyed generically across content
// kinds, so the cascade is done here explicitly).
func (d *DB) DeleteTicket(id string) error {
	res, err := d.Exec(`DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "ticket not found")
	}
	if _, err := d.Exec(`DELETE FROM embeddings WHERE content_kind = 'ticket' AND content_id = ?`, id); err != nil {
		return fmt.Errorf("delete ticket embeddings: %w", err)
	}
	return nil
}

// SetLabels replaces a ticket's label set, creating any missing label
// definitions with a default color.
func (d *DB) SetLabels(ticketID string, labels []domain.Label) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ticket_labels WHERE ticket_id = ?`, ticketID); err != nil {
		return fmt.Errorf("clear labels: %w", err)
	}
	for _, l := range labels {
		color := l.Color
		if color == "" {
			color = "#6366f1"
		}
		if _, err := tx.Exec(`INSERT INTO labels (name, color) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET color=excluded.color`, l.Name, color); err != nil {
			return fmt.Errorf("upsert label %q: %w", l.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO ticket_labels (ticket_id, label_name) VALUES (?, ?)`, ticketID, l.Name); err != nil {
			return fmt.Errorf("link label %q: %w", l.Name, err)
		}
	}
	return tx.Commit()
}

// SetAssignees replaces a ticket's assignee set.
func (d *DB) SetAssignees(ticketID string, assignees []domain.Assignee) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ticket_assignees WHERE ticket_id = ?`, ticketID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, a := range assignees {
		if _, err := tx.Exec(`INSERT INTO ticket_assignees (ticket_id, kind, assignee_id) VALUES (?, ?, ?)`, ticketID, string(a.Kind), a.ID); err != nil {
			return fmt.Errorf("link assignee: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) getLabels(ticketID string) ([]domain.Label, error) {
	rows, err := d.Query(`
		SELECT l.name, l.color FROM ticket_labels tl JOIN labels l ON l.name = tl.label_name
		WHERE tl.ticket_id = ? ORDER BY l.name
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var out []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.Name, &l.Color); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (d *DB) getAssignees(ticketID string) ([]domain.Assignee, error) {
	rows, err := d.Query(`SELECT kind, assignee_id FROM ticket_assignees WHERE ticket_id = ? ORDER BY kind, assignee_id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query assignees: %w", err)
	}
	defer rows.Close()

	var out []domain.Assignee
	for rows.Next() {
		var a domain.Assignee
		var kind string
		if err := rows.Scan(&kind, &a.ID); err != nil {
			return nil, err
		}
		a.Kind = domain.AssigneeKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanner abstracts over *sql.Row and *sql.Rows for the shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row *sql.Row) (*domain.Ticket, error) {
	return scanTicketAny(row)
}

func scanTicketRows(rows *sql.Rows) (*domain.Ticket, error) {
	return scanTicketAny(rows)
}

func scanTicketAny(s scanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var description, solutionPlan sql.NullString
	var priority sql.NullInt64
	var status string

	if err := s.Scan(&t.ID, &t.RepositoryID, &t.Title, &description, &solutionPlan, &status, &priority, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.SolutionPlan = solutionPlan.String
	t.Status = domain.TicketStatus(status)
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// marshalJSON is a small helper kept for payload columns elsewhere in this
// package (tasks, embeddings metadata); tickets themselves no longer carry
// any JSON blob columns.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
