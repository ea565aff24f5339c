package broker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
	"github.com/madhatter5501/dispatchd/internal/streaming"
)

func newTestBroker(t *testing.T) (*Broker, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eventBus := bus.New()
	b := New(Stores{Tickets: db, Comments: db, Agents: db, Tasks: db}, eventBus, zerolog.Nop())
	b.SetStreamer(streaming.New(db, eventBus))
	return b, db
}

func TestOnTicketCreatedDispatchesRefinementToEnabledPlanner(t *testing.T) {
	b, db := newTestBroker(t)
	planner := &domain.Agent{Name: "planner-1", Type: domain.AgentPlanner, Enabled: true}
	require.NoError(t, db.CreateAgent(planner))

	ticket := domain.Ticket{ID: "t1", Title: "new idea", Status: domain.TicketBacklog}
	b.OnTicketCreated(ticket)

	pending, err := db.ListPending(planner.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.TaskRefinement, pending[0].Type)
	require.Equal(t, priorityRefinement, pending[0].Priority)
}

func TestOnTicketCreatedSkipsWhenNoEnabledPlanner(t *testing.T) {
	b, db := newTestBroker(t)
	ticket := domain.Ticket{ID: "t1", Title: "new idea", Status: domain.TicketBacklog}
	b.OnTicketCreated(ticket)

	stats, err := db.TaskStats("")
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)
}

func TestOnTicketCreatedIgnoresNonBacklogStatus(t *testing.T) {
	b, db := newTestBroker(t)
	planner := &domain.Agent{Name: "planner-1", Type: domain.AgentPlanner, Enabled: true}
	require.NoError(t, db.CreateAgent(planner))

	ticket := domain.Ticket{ID: "t1", Title: "already triaged", Status: domain.TicketTodo}
	b.OnTicketCreated(ticket)

	pending, err := db.ListPending(planner.ID)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOnCommentCreatedDispatchesMentionPerResolvedEnabledAgent(t *testing.T) {
	b, db := newTestBroker(t)
	dev := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(dev))
	disabled := &domain.Agent{Name: "qa-1", Type: domain.AgentReviewer, Enabled: false}
	require.NoError(t, db.CreateAgent(disabled))

	c := domain.Comment{ID: "c1", TicketID: "t1", Mentions: []string{"dev-1", "qa-1", "nobody"}}
	b.OnCommentCreated(c)

	pending, err := db.ListPending(dev.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.TaskMention, pending[0].Type)
	require.Equal(t, priorityMention, pending[0].Priority)

	disabledPending, err := db.ListPending(disabled.ID)
	require.NoError(t, err)
	require.Empty(t, disabledPending)
}

func TestDispatchDedupSuppressesWithinWindow(t *testing.T) {
	b, db := newTestBroker(t)
	dev := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(dev))

	c := domain.Comment{ID: "c1", TicketID: "t1", Mentions: []string{"dev-1"}}
	b.OnCommentCreated(c)
	b.OnCommentCreated(c) // same source id (comment), should dedup

	pending, err := db.ListPending(dev.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1, "second dispatch with the same source id should be suppressed")
}

func TestTriggerRejectsDisabledAgent(t *testing.T) {
	b, db := newTestBroker(t)
	agent := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: false}
	require.NoError(t, db.CreateAgent(agent))

	_, err := b.Trigger(agent.ID, domain.ManualPayload{Note: "go"}, 0)
	require.Error(t, err)
}

func TestTriggerEnqueuesManualTaskAtGivenPriority(t *testing.T) {
	b, db := newTestBroker(t)
	agent := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(agent))

	task, err := b.Trigger(agent.ID, domain.ManualPayload{Note: "go"}, 42)
	require.NoError(t, err)
	require.Equal(t, domain.TaskManual, task.Type)
	require.Equal(t, 42, task.Priority)
}

func TestSweepOnceFinalizesStaleGeneratingCommentsAsFailed(t *testing.T) {
	b, db := newTestBroker(t)
	require.NoError(t, db.CreateTicket(&domain.Ticket{ID: "t1", Title: "sweep test ticket"}))
	c := &domain.Comment{
		TicketID: "t1",
		Author:   domain.CommentAuthor{Kind: domain.AssigneeAgent, ID: "dev-1"},
		Content:  "thinking...",
		Status:   domain.CommentGenerating,
	}
	require.NoError(t, db.CreateComment(c))

	// Directly age the row back so it looks stale without sleeping.
	_, err := db.Exec(`UPDATE comments SET created_at = ? WHERE id = ?`, time.Now().Add(-10*time.Minute), c.ID)
	require.NoError(t, err)

	b.sweepOnce()

	got, err := db.GetComment(c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CommentFailed, got.Status, "sweep must finalize a crashed worker's stale comment")
	require.Equal(t, staleGeneratingError, got.Content)
}
