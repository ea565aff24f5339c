package store

import "fmt"

// Stats is the aggregate operational view exposed over GET /api/stats
// (SPEC_FULL.md §12 supplemented feature, grounded on kanban/types.go's
// ComputeSystemHealth/GetStats style aggregate queries).
type Stats struct {
	TicketsByStatus map[string]int `json:"tickets_by_status"`
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	IndexingPending int            `json:"indexing_pending"`
	IndexingFailed  int            `json:"indexing_failed"`
}

// GetStats computes the aggregate counts backing GET /api/stats.
func (d *DB) GetStats() (Stats, error) {
	out := Stats{TicketsByStatus: map[string]int{}, TasksByStatus: map[string]int{}}

	rows, err := d.Query(`SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return out, fmt.Errorf("ticket stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return out, err
		}
		out.TicketsByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = d.Query(`SELECT status, COUNT(*) FROM agent_tasks GROUP BY status`)
	if err != nil {
		return out, fmt.Errorf("task stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return out, err
		}
		out.TasksByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	if err := d.QueryRow(`SELECT COUNT(*) FROM indexing_jobs WHERE status='pending'`).Scan(&out.IndexingPending); err != nil {
		return out, fmt.Errorf("indexing pending count: %w", err)
	}
	if err := d.QueryRow(`SELECT COUNT(*) FROM indexing_jobs WHERE status='failed'`).Scan(&out.IndexingFailed); err != nil {
		return out, fmt.Errorf("indexing failed count: %w", err)
	}

	return out, nil
}
