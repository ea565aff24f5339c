package api

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/agentstate"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/broker"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
	"github.com/madhatter5501/dispatchd/internal/streaming"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.DB, *bus.Router) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := bus.New()
	router := bus.NewRouter()
	br := broker.New(broker.Stores{Tickets: db, Comments: db, Agents: db, Tasks: db}, b, zerolog.Nop())
	h := &Handlers{
		Tickets:  db,
		Comments: db,
		Agents:   db,
		Tasks:    db,
		Stats:    db,
		Broker:   br,
		Streamer: streaming.New(db, b),
		Tracker:  agentstate.New(db, b),
		Bus:      b,
	}
	h.Register(router)
	return h, db, router
}

func TestCreateAndGetTicket(t *testing.T) {
	_, _, router := newTestHandlers(t)

	body, _ := json.Marshal(domain.Ticket{Title: "fix the bug", Status: domain.TicketBacklog})
	result, err := router.Dispatch(context.Background(), "POST", "/api/tickets", nil, body)
	require.NoError(t, err)
	created := result.(domain.Ticket)
	require.NotEmpty(t, created.ID)

	got, err := router.Dispatch(context.Background(), "GET", "/api/tickets/"+created.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.(*domain.Ticket).ID)
}

func TestCreateTicketDispatchesRefinementWhenBacklogAndPlannerEnabled(t *testing.T) {
	h, db, router := newTestHandlers(t)
	planner := &domain.Agent{Name: "planner-1", Type: domain.AgentPlanner, Enabled: true}
	require.NoError(t, db.CreateAgent(planner))
	_ = h

	body, _ := json.Marshal(domain.Ticket{Title: "new idea", Status: domain.TicketBacklog})
	_, err := router.Dispatch(context.Background(), "POST", "/api/tickets", nil, body)
	require.NoError(t, err)

	pending, err := db.ListPending(planner.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestApproveTicketTransitionsReviewToClosed(t *testing.T) {
	_, db, router := newTestHandlers(t)
	ticket := &domain.Ticket{Title: "t", Status: domain.TicketReview}
	require.NoError(t, db.CreateTicket(ticket))

	result, err := router.Dispatch(context.Background(), "POST", "/api/tickets/"+ticket.ID+"/approve", nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.TicketClosed, result.(*domain.Ticket).Status)
}

func TestReopenTicketTransitionsClosedToTodo(t *testing.T) {
	_, db, router := newTestHandlers(t)
	ticket := &domain.Ticket{Title: "t", Status: domain.TicketClosed}
	require.NoError(t, db.CreateTicket(ticket))

	result, err := router.Dispatch(context.Background(), "POST", "/api/tickets/"+ticket.ID+"/reopen", nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.TicketTodo, result.(*domain.Ticket).Status)
}

func TestApproveTicketRejectsNonReviewStatus(t *testing.T) {
	_, db, router := newTestHandlers(t)
	ticket := &domain.Ticket{Title: "t", Status: domain.TicketTodo}
	require.NoError(t, db.CreateTicket(ticket))

	_, err := router.Dispatch(context.Background(), "POST", "/api/tickets/"+ticket.ID+"/approve", nil, nil)
	require.Error(t, err)
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))

	got, getErr := db.GetTicket(ticket.ID)
	require.NoError(t, getErr)
	require.Equal(t, domain.TicketTodo, got.Status, "rejected transition must not mutate the ticket")
}

func TestReopenTicketRejectsNonClosedStatus(t *testing.T) {
	_, db, router := newTestHandlers(t)
	ticket := &domain.Ticket{Title: "t", Status: domain.TicketReview}
	require.NoError(t, db.CreateTicket(ticket))

	_, err := router.Dispatch(context.Background(), "POST", "/api/tickets/"+ticket.ID+"/reopen", nil, nil)
	require.Error(t, err)
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestListTicketsWithEmptyStatusReturnsAll(t *testing.T) {
	_, db, router := newTestHandlers(t)
	require.NoError(t, db.CreateTicket(&domain.Ticket{Title: "a", Status: domain.TicketBacklog}))
	require.NoError(t, db.CreateTicket(&domain.Ticket{Title: "b", Status: domain.TicketTodo}))

	result, err := router.Dispatch(context.Background(), "GET", "/api/tickets", map[string]string{}, nil)
	require.NoError(t, err)
	tickets := result.([]domain.Ticket)
	require.Len(t, tickets, 2)
}

func TestCreateCommentResolvesMentionsAndDispatches(t *testing.T) {
	_, db, router := newTestHandlers(t)
	ticket := &domain.Ticket{Title: "t", Status: domain.TicketTodo}
	require.NoError(t, db.CreateTicket(ticket))
	dev := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(dev))

	body, _ := json.Marshal(createCommentRequest{
		AuthorType: domain.AssigneeHuman,
		AuthorID:   "human-1",
		Content:    "hey @dev-1 can you look at this?",
	})
	result, err := router.Dispatch(context.Background(), "POST", "/api/tickets/"+ticket.ID+"/comments", nil, body)
	require.NoError(t, err)
	comment := result.(*domain.Comment)
	require.Equal(t, []string{"dev-1"}, comment.Mentions)

	pending, err := db.ListPending(dev.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestSubscribeAgentMarksAgentOnline(t *testing.T) {
	h, db, router := newTestHandlers(t)
	agent := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(agent))

	_, err := router.Dispatch(context.Background(), "POST", "/api/agents/"+agent.ID+"/subscribe", nil, nil)
	require.NoError(t, err)

	state := h.Tracker.Get(agent.ID)
	require.True(t, state.ServiceOnline)
}

func TestSubscribeAgentUnknownAgentErrors(t *testing.T) {
	_, _, router := newTestHandlers(t)
	_, err := router.Dispatch(context.Background(), "POST", "/api/agents/no-such-agent/subscribe", nil, nil)
	require.Error(t, err)
}

func TestTriggerAgentRejectsDisabledAgent(t *testing.T) {
	_, db, router := newTestHandlers(t)
	agent := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: false}
	require.NoError(t, db.CreateAgent(agent))

	body, _ := json.Marshal(triggerRequest{Priority: 5, Payload: domain.ManualPayload{Note: "go"}})
	_, err := router.Dispatch(context.Background(), "POST", "/api/agents/"+agent.ID+"/trigger", nil, body)
	require.Error(t, err)
}

func TestGetCIRunWithoutRunnerConfiguredErrors(t *testing.T) {
	_, _, router := newTestHandlers(t)
	_, err := router.Dispatch(context.Background(), "GET", "/api/ci/runs/t1", nil, nil)
	require.Error(t, err)
}
