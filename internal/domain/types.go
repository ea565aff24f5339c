// Package domain holds the entity types shared across the store, broker,
// agent worker, and transport layers. Nothing in this package talks to the
// database or the network; it is pure data.
package domain

import "time"

// TicketStatus is the lifecycle status of a ticket.
type TicketStatus string

const (
	TicketBacklog    TicketStatus = "backlog"
	TicketTodo       TicketStatus = "todo"
	TicketInProgress TicketStatus = "in_progress"
	TicketReview     TicketStatus = "review"
	TicketClosed     TicketStatus = "closed"
)

// AssigneeKind distinguishes a human assignee from an agent assignee.
type AssigneeKind string

const (
	AssigneeAgent AssigneeKind = "agent"
	AssigneeHuman AssigneeKind = "human"
)

// Label is a ticket/doc tag with a display color.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Assignee is a (kind, id) pair assigned to a ticket.
type Assignee struct {
	Kind AssigneeKind `json:"kind"`
	ID   string       `json:"id"`
}

// Ticket is the primary unit of work tracked by the system.
type Ticket struct {
	ID            string       `json:"id"`
	RepositoryID  string       `json:"repository_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	SolutionPlan  string       `json:"solution_plan,omitempty"`
	Status        TicketStatus `json:"status"`
	Priority      *int         `json:"priority,omitempty"`
	Labels        []Label      `json:"labels,omitempty"`
	Assignees     []Assignee   `json:"assignees,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CommentStatus tracks the streaming lifecycle of a comment.
type CommentStatus string

const (
	CommentGenerating CommentStatus = "generating"
	CommentCompleted  CommentStatus = "completed"
	CommentFailed     CommentStatus = "failed"
)

// CommentAuthor identifies who produced a comment.
type CommentAuthor struct {
	Kind AssigneeKind `json:"kind"`
	ID   string       `json:"id"`
}

// Comment is a message attached to a ticket, possibly produced incrementally
// by an agent while Status == CommentGenerating.
type Comment struct {
	ID           string        `json:"id"`
	TicketID     string        `json:"ticket_id"`
	Author       CommentAuthor `json:"author"`
	Content      string        `json:"content"`
	Mentions     []string      `json:"mentions,omitempty"`
	Status       CommentStatus `json:"status"`
	RespondingTo string        `json:"responding_to,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AgentType is one of the three canonical roles (SPEC_FULL.md §9).
type AgentType string

const (
	AgentPlanner   AgentType = "planner"
	AgentDeveloper AgentType = "developer"
	AgentReviewer  AgentType = "reviewer"
)

// Agent is a registered autonomous executor.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        AgentType `json:"type"`
	Enabled     bool      `json:"enabled"`
	Config      string    `json:"config,omitempty"` // opaque JSON blob, unparsed by the core
	DisplayName string    `json:"display_name,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskType enumerates why a task was created.
type TaskType string

const (
	TaskMention    TaskType = "mention"
	TaskAssignment TaskType = "assignment"
	TaskManual     TaskType = "manual"
	TaskRefinement TaskType = "refinement"
)

// TaskStatus is the state-machine status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of dispatched work for a single agent.
type Task struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Type        TaskType   `json:"type"`
	Payload     []byte     `json:"payload"` // opaque JSON, parsed by the worker per task type
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MentionPayload is the typed view of a TaskMention task's payload.
type MentionPayload struct {
	TicketID       string   `json:"ticket_id"`
	CommentID      string   `json:"comment_id"`
	Author         string   `json:"author"`
	CommentContent string   `json:"comment_content"`
	Mentions       []string `json:"mentions"`
}

// RefinementPayload is the typed view of a TaskRefinement task's payload.
type RefinementPayload struct {
	TicketID string `json:"ticket_id"`
	Title    string `json:"title"`
}

// ManualPayload is the typed view of a TaskManual task's payload.
type ManualPayload struct {
	TicketID string          `json:"ticket_id,omitempty"`
	Note     string          `json:"note,omitempty"`
	Extra    map[string]any  `json:"extra,omitempty"`
}

// IndexingJobType enumerates the three kinds of indexing work.
type IndexingJobType string

const (
	IndexingCode   IndexingJobType = "code"
	IndexingDoc    IndexingJobType = "doc"
	IndexingTicket IndexingJobType = "ticket"
)

// IndexingStatus mirrors TaskStatus but is kept distinct: indexing jobs are
// not tasks and do not belong to an agent.
type IndexingStatus string

const (
	IndexingPending    IndexingStatus = "pending"
	IndexingProcessing IndexingStatus = "processing"
	IndexingCompleted  IndexingStatus = "completed"
	IndexingFailed     IndexingStatus = "failed"
)

// IndexingJob describes one unit of embedding work. Exactly one of
// RepositoryID+FilePath, DocID, or TicketID is populated, matching Type.
type IndexingJob struct {
	ID           string          `json:"id"`
	Type         IndexingJobType `json:"type"`
	RepositoryID string          `json:"repository_id,omitempty"`
	FilePath     string          `json:"file_path,omitempty"`
	DocID        string          `json:"doc_id,omitempty"`
	TicketID     string          `json:"ticket_id,omitempty"`
	Status       IndexingStatus  `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// EmbeddingKind identifies what a vector row embeds.
type EmbeddingKind string

const (
	EmbeddingCode   EmbeddingKind = "code"
	EmbeddingDoc    EmbeddingKind = "doc"
	EmbeddingTicket EmbeddingKind = "ticket"
)

// Embedding is one chunk's vector plus its source text and metadata.
type Embedding struct {
	Kind       EmbeddingKind  `json:"kind"`
	ContentID  string         `json:"content_id"` // (repo,path) joined, doc id, or ticket id
	ChunkIndex int            `json:"chunk_index"`
	ChunkText  string         `json:"chunk_text"`
	Vector     []float32      `json:"vector"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AgentStatus is the derived liveness/activity projection of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusError   AgentStatus = "error"
	AgentStatusOffline AgentStatus = "offline"
)

// TaskStats summarizes task counts for one agent.
type TaskStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// AgentShadowState is the broker's in-memory liveness/activity view of one
// agent. It is never persisted; it is rebuilt from store queries and live
// subscription/status events. See internal/agentstate.
type AgentShadowState struct {
	AgentID       string      `json:"agent_id"`
	ServiceOnline bool        `json:"service_online"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	LastError     string      `json:"last_error,omitempty"`
	Stats         TaskStats   `json:"stats"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside the lock
// that guards the live value.
func (s AgentShadowState) Clone() AgentShadowState {
	return s
}
