// Package audit records what an agent worker did while executing a task:
// the prompt sent, the response received, and any error. Adapted from the
// teacher's agents/audit.go (AuditLogger interface, StoreAuditLogger,
// NoOpAuditLogger) onto the task-execution model of SPEC_FULL.md C7
// instead of the teacher's ticket-run model.
package audit

import (
	"encoding/json"
	"time"

	"github.com/madhatter5501/dispatchd/internal/store"
)

const maxEventBytes = 50_000

// Logger records audit events for one task execution.
type Logger interface {
	LogPromptSent(taskID, agentID, prompt string) error
	LogResponseReceived(taskID, agentID, response string, duration time.Duration) error
	LogError(taskID, agentID, errMsg string) error
}

// StoreLogger persists audit entries via the store.
type StoreLogger struct {
	store store.AuditStore
}

// NewStoreLogger builds a Logger backed by the given store.
func NewStoreLogger(s store.AuditStore) *StoreLogger {
	return &StoreLogger{store: s}
}

func truncate(s string) string {
	if len(s) <= maxEventBytes {
		return s
	}
	return s[:maxEventBytes] + "\n...[truncated]"
}

// LogPromptSent records the prompt handed to the agent for this task.
func (l *StoreLogger) LogPromptSent(taskID, agentID, prompt string) error {
	return l.store.AddAuditEntry(&store.AuditEntry{
		TaskID:    taskID,
		AgentID:   agentID,
		EventType: "prompt_sent",
		EventData: truncate(prompt),
	})
}

// LogResponseReceived records the agent's response and how long it took.
func (l *StoreLogger) LogResponseReceived(taskID, agentID, response string, duration time.Duration) error {
	data := map[string]any{"response": truncate(response)}
	b, _ := json.Marshal(data)
	return l.store.AddAuditEntry(&store.AuditEntry{
		TaskID:     taskID,
		AgentID:    agentID,
		EventType:  "response_received",
		EventData:  string(b),
		DurationMs: int(duration.Milliseconds()),
	})
}

// LogError records a failure during task execution.
func (l *StoreLogger) LogError(taskID, agentID, errMsg string) error {
	return l.store.AddAuditEntry(&store.AuditEntry{
		TaskID:    taskID,
		AgentID:   agentID,
		EventType: "error",
		EventData: errMsg,
	})
}

// NoOp discards every audit event. The agent worker also accepts a nil
// Logger and then skips audit calls altogether.
type NoOp struct{}

func (NoOp) LogPromptSent(string, string, string) error                        { return nil }
func (NoOp) LogResponseReceived(string, string, string, time.Duration) error   { return nil }
func (NoOp) LogError(string, string, string) error                             { return nil }
