package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one row in the agent_audit_log table: a record of what an
// agent worker did while executing a task (SPEC_FULL.md §12 supplemented
// feature, adapted from the teacher's agents/audit.go AuditStore).
type AuditEntry struct {
	ID         string
	TaskID     string
	AgentID    string
	EventType  string // prompt_sent, response_received, error
	EventData  string
	DurationMs int
	CreatedAt  time.Time
}

// AuditStore is the narrow repository interface the agent worker's audit
// logger depends on.
type AuditStore interface {
	AddAuditEntry(e *AuditEntry) error
}

// AddAuditEntry inserts one audit log row.
func (d *DB) AddAuditEntry(e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now()
	_, err := d.Exec(`
		INSERT INTO agent_audit_log (id, task_id, agent_id, event_type, event_data, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskID, e.AgentID, e.EventType, nullIfEmpty(e.EventData), e.DurationMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
