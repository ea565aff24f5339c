package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

// TaskStore is the narrow repository interface backing the task queue
// (C3). claimNext's compare-and-swap and markCompleted/markFailed's
// idempotence are implemented here as single SQL statements so the store
// is the only place a cross-process race on a task row can be resolved
// (SPEC_FULL.md §5, "Shared-resource policy").
type TaskStore interface {
	EnqueueTask(t *domain.Task, sourceID string) error
	FindRecentTask(agentID string, taskType domain.TaskType, sourceID string, window time.Duration) (*domain.Task, error)
	ClaimNext(agentID string) (*domain.Task, error)
	ReclaimOwned(agentID string) ([]domain.Task, error)
	MarkCompleted(taskID string) error
	MarkFailed(taskID, errMsg string) error
	ListPending(agentID string) ([]domain.Task, error)
	TaskStats(agentID string) (domain.TaskStats, error)
	GetTask(id string) (*domain.Task, error)
}

// EnqueueTask inserts a pending task row. sourceID (comment id or ticket
// id) is recorded for the broker's dedup window (§4.3) even though it is
// not part of the domain.Task type exposed to callers.
func (d *DB) EnqueueTask(t *domain.Task, sourceID string) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	t.Status = domain.TaskPending

	_, err := d.Exec(`
		INSERT INTO agent_tasks (id, agent_id, type, payload, priority, status, created_at, source_id)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
	`, t.ID, t.AgentID, string(t.Type), string(t.Payload), t.Priority, t.CreatedAt, nullIfEmpty(sourceID))
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// FindRecentTask looks for an existing task for (agent_id, type, source_id)
// created within window, used by the broker to deduplicate re-dispatch of
// the same ticket/comment transition (§4.3).
func (d *DB) FindRecentTask(agentID string, taskType domain.TaskType, sourceID string, window time.Duration) (*domain.Task, error) {
	if sourceID == "" {
		return nil, nil
	}
	row := d.QueryRow(`
		SELECT id, agent_id, type, payload, priority, status, error, created_at, started_at, completed_at
		FROM agent_tasks
		WHERE agent_id = ? AND type = ? AND source_id = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1
	`, agentID, string(taskType), sourceID, time.Now().Add(-window))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent task: %w", err)
	}
	return t, nil
}

// ClaimNext atomically selects the highest-priority pending task for an
// agent and transitions it to processing. The UPDATE...WHERE status =
// 'pending' clause is the compare-and-swap: if two goroutines/processes
// race on the same row, only one UPDATE affects a row, and the other
// retries on the next candidate (§4.2 edge case: "Claiming a non-pending
// task fails with Conflict").
func (d *DB) ClaimNext(agentID string) (*domain.Task, error) {
	for attempt := 0; attempt < 5; attempt++ {
		row := d.QueryRow(`
			SELECT id FROM agent_tasks
			WHERE agent_id = ? AND status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		`, agentID)
		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, fmt.Errorf("select candidate task: %w", err)
		}

		now := time.Now()
		res, err := d.Exec(`
			UPDATE agent_tasks SET status='processing', started_at=?
			WHERE id = ? AND status = 'pending'
		`, now, id)
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Lost the race to another claimer; try the next candidate.
			continue
		}
		return d.GetTask(id)
	}
	return nil, apperr.New(apperr.Conflict, "could not claim a task after several attempts")
}

// ReclaimOwned re-claims every row already in processing for agentID,
// bumping started_at. This is the at-least-once re-claim path a worker
// runs during catch-up after reconnecting (SPEC_FULL.md §9 resolved open
// question: "reclaimOwned"): a task's agent_id never changes, so this can
// never steal another agent's row.
func (d *DB) ReclaimOwned(agentID string) ([]domain.Task, error) {
	rows, err := d.Query(`
		SELECT id FROM agent_tasks WHERE agent_id = ? AND status = 'processing'
		ORDER BY priority DESC, created_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list owned processing tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.Task
	now := time.Now()
	for _, id := range ids {
		if _, err := d.Exec(`UPDATE agent_tasks SET started_at=? WHERE id=? AND status='processing'`, now, id); err != nil {
			return nil, fmt.Errorf("reclaim task %s: %w", id, err)
		}
		t, err := d.GetTask(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// MarkCompleted transitions a task to completed. Idempotent: marking an
// already-terminal task is a no-op success (§4.2).
func (d *DB) MarkCompleted(taskID string) error {
	_, err := d.Exec(`
		UPDATE agent_tasks SET status='completed', completed_at=?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`, time.Now(), taskID)
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return nil
}

// MarkFailed transitions a task to failed with an error message.
// Idempotent for the same reason as MarkCompleted.
func (d *DB) MarkFailed(taskID, errMsg string) error {
	_, err := d.Exec(`
		UPDATE agent_tasks SET status='failed', error=?, completed_at=?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`, errMsg, time.Now(), taskID)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

// ListPending returns a snapshot of an agent's pending tasks ordered by
// (priority DESC, created_at ASC), for reconnect catch-up (§4.2).
func (d *DB) ListPending(agentID string) ([]domain.Task, error) {
	rows, err := d.Query(`
		SELECT id, agent_id, type, payload, priority, status, error, created_at, started_at, completed_at
		FROM agent_tasks WHERE agent_id = ? AND status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// TaskStats computes pending/processing/completed/failed counts for one
// agent, feeding the state tracker's cached stats (§4.5).
func (d *DB) TaskStats(agentID string) (domain.TaskStats, error) {
	var stats domain.TaskStats
	rows, err := d.Query(`SELECT status, COUNT(*) FROM agent_tasks WHERE agent_id = ? GROUP BY status`, agentID)
	if err != nil {
		return stats, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch domain.TaskStatus(status) {
		case domain.TaskPending:
			stats.Pending = count
		case domain.TaskProcessing:
			stats.Processing = count
		case domain.TaskCompleted:
			stats.Completed = count
		case domain.TaskFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// GetTask retrieves a single task by id.
func (d *DB) GetTask(id string) (*domain.Task, error) {
	row := d.QueryRow(`
		SELECT id, agent_id, type, payload, priority, status, error, created_at, started_at, completed_at
		FROM agent_tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "task not found")
	}
	return t, err
}

func scanTask(row *sql.Row) (*domain.Task, error)     { return scanTaskAny(row) }
func scanTaskRows(rows *sql.Rows) (*domain.Task, error) { return scanTaskAny(rows) }

func scanTaskAny(s scanner) (*domain.Task, error) {
	var t domain.Task
	var typ, status, payload string
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := s.Scan(&t.ID, &t.AgentID, &typ, &payload, &t.Priority, &status, &errMsg, &t.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	t.Payload = []byte(payload)
	t.Error = errMsg.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}
