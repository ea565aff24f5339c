// Package api implements the RPC surface (§6.2): ticket CRUD, comment
// creation with mention dispatch, approve/reopen, the worker-initiated
// broadcast endpoint, a thin CI wrapper, and the aggregate stats view.
// Handlers are written against bus.Request/Handler so the exact same
// logic serves both a plain HTTP mount (internal/api/server.go) and RPC
// frames arriving over internal/transport's websocket gateway.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/agentstate"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/broker"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/external"
	"github.com/madhatter5501/dispatchd/internal/store"
	"github.com/madhatter5501/dispatchd/internal/streaming"
)

// Handlers bundles the repositories and collaborators every route needs.
type Handlers struct {
	Tickets  store.TicketStore
	Comments store.CommentStore
	Agents   store.AgentStore
	Tasks    store.TaskStore
	Stats    *store.DB
	Broker   *broker.Broker
	Streamer *streaming.Streamer
	Tracker  *agentstate.Tracker
	Bus      *bus.Bus
	CI       external.CIRunner
	log      zerolog.Logger
}

// Register wires every route onto router.
func (h *Handlers) Register(router *bus.Router) {
	router.Handle("GET", "/api/tickets", h.listTickets)
	router.Handle("POST", "/api/tickets", h.createTicket)
	router.Handle("GET", "/api/tickets/:id", h.getTicket)
	router.Handle("PUT", "/api/tickets/:id", h.updateTicket)
	router.Handle("DELETE", "/api/tickets/:id", h.deleteTicket)
	router.Handle("POST", "/api/tickets/:id/approve", h.approveTicket)
	router.Handle("POST", "/api/tickets/:id/reopen", h.reopenTicket)

	router.Handle("POST", "/api/tickets/:id/comments", h.createComment)
	router.Handle("POST", "/api/tickets/:id/comments/:commentId/broadcast", h.broadcastComment)

	router.Handle("GET", "/api/agents", h.listAgents)
	router.Handle("POST", "/api/agents", h.createAgent)
	router.Handle("GET", "/api/agents/:id", h.getAgent)
	router.Handle("PUT", "/api/agents/:id", h.updateAgent)
	router.Handle("DELETE", "/api/agents/:id", h.deleteAgent)
	router.Handle("POST", "/api/agents/:id/trigger", h.triggerAgent)
	router.Handle("POST", "/api/agents/:id/subscribe", h.subscribeAgent)

	router.Handle("GET", "/api/ci/runs/:ticketId", h.getCIRun)
	router.Handle("POST", "/api/ci/run", h.startCIRun)

	router.Handle("GET", "/api/stats", h.getStats)
}

func (h *Handlers) listTickets(_ context.Context, req bus.Request) (any, error) {
	return h.Tickets.ListTickets(domain.TicketStatus(req.Query["status"]))
}

func (h *Handlers) createTicket(_ context.Context, req bus.Request) (any, error) {
	var body domain.Ticket
	if err := json.Unmarshal(req.Data, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid ticket body", err)
	}
	if err := h.Tickets.CreateTicket(&body); err != nil {
		return nil, err
	}
	if h.Broker != nil {
		h.Broker.OnTicketCreated(body)
	}
	return body, nil
}

func (h *Handlers) getTicket(_ context.Context, req bus.Request) (any, error) {
	return h.Tickets.GetTicket(req.Params["id"])
}

func (h *Handlers) updateTicket(_ context.Context, req bus.Request) (any, error) {
	var body domain.Ticket
	if err := json.Unmarshal(req.Data, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid ticket body", err)
	}
	body.ID = req.Params["id"]
	if err := h.Tickets.UpdateTicket(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func (h *Handlers) deleteTicket(_ context.Context, req bus.Request) (any, error) {
	return nil, h.Tickets.DeleteTicket(req.Params["id"])
}

func (h *Handlers) approveTicket(_ context.Context, req bus.Request) (any, error) {
	return h.transitionTicket(req.Params["id"], domain.TicketReview, domain.TicketClosed)
}

func (h *Handlers) reopenTicket(_ context.Context, req bus.Request) (any, error) {
	return h.transitionTicket(req.Params["id"], domain.TicketClosed, domain.TicketTodo)
}

func (h *Handlers) transitionTicket(id string, from, to domain.TicketStatus) (*domain.Ticket, error) {
	t, err := h.Tickets.GetTicket(id)
	if err != nil {
		return nil, err
	}
	if t.Status != from {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("ticket %s is %s, not %s", id, t.Status, from))
	}
	t.Status = to
	if err := h.Tickets.UpdateTicket(t); err != nil {
		return nil, err
	}
	return t, nil
}

// createCommentRequest is the POST body for comment creation.
type createCommentRequest struct {
	AuthorType   domain.AssigneeKind `json:"author_type"`
	AuthorID     string              `json:"author_id"`
	Content      string              `json:"content"`
	RespondingTo string              `json:"responding_to,omitempty"`
}

func (h *Handlers) createComment(_ context.Context, req bus.Request) (any, error) {
	var body createCommentRequest
	if err := json.Unmarshal(req.Data, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid comment body", err)
	}
	ticketID := req.Params["id"]

	c := &domain.Comment{
		TicketID:     ticketID,
		Author:       domain.CommentAuthor{Kind: body.AuthorType, ID: body.AuthorID},
		Content:      body.Content,
		Mentions:     broker.ResolveMentions(body.Content, h.Agents),
		Status:       domain.CommentCompleted,
		RespondingTo: body.RespondingTo,
	}
	if err := h.Comments.CreateComment(c); err != nil {
		return nil, err
	}
	if h.Broker != nil {
		h.Broker.OnCommentCreated(*c)
	}
	return c, nil
}

// broadcastComment lets a remote worker ask the broker to publish a
// comment event on its behalf (§4.6/§6.2), for workers that produced the
// comment through a side channel instead of through Streamer directly.
func (h *Handlers) broadcastComment(_ context.Context, req bus.Request) (any, error) {
	c, err := h.Comments.GetComment(req.Params["commentId"])
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal comment", err)
	}
	h.Bus.Publish("/tickets/"+req.Params["id"], bus.Frame{Method: "comment:broadcast", Data: data})
	return nil, nil
}

func (h *Handlers) listAgents(_ context.Context, _ bus.Request) (any, error) {
	return h.Agents.ListAgents()
}

func (h *Handlers) createAgent(_ context.Context, req bus.Request) (any, error) {
	var a domain.Agent
	if err := json.Unmarshal(req.Data, &a); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid agent body", err)
	}
	if err := h.Agents.CreateAgent(&a); err != nil {
		return nil, err
	}
	return a, nil
}

func (h *Handlers) getAgent(_ context.Context, req bus.Request) (any, error) {
	return h.Agents.GetAgent(req.Params["id"])
}

func (h *Handlers) updateAgent(_ context.Context, req bus.Request) (any, error) {
	var a domain.Agent
	if err := json.Unmarshal(req.Data, &a); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid agent body", err)
	}
	a.ID = req.Params["id"]
	if err := h.Agents.UpdateAgent(&a); err != nil {
		return nil, err
	}
	return a, nil
}

func (h *Handlers) deleteAgent(_ context.Context, req bus.Request) (any, error) {
	return nil, h.Agents.DeleteAgent(req.Params["id"])
}

type triggerRequest struct {
	Priority int                  `json:"priority"`
	Payload  domain.ManualPayload `json:"payload"`
}

func (h *Handlers) triggerAgent(_ context.Context, req bus.Request) (any, error) {
	var body triggerRequest
	if err := json.Unmarshal(req.Data, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid trigger body", err)
	}
	if h.Broker == nil {
		return nil, apperr.New(apperr.Internal, "broker not configured")
	}
	return h.Broker.Trigger(req.Params["id"], body.Payload, body.Priority)
}

// subscribeAgent implements the RPC leg of a worker binding its
// subscription after connect (§6.2): the worker itself subscribes to
// /agents/:id/tasks over the websocket gateway, but it calls this route
// first so the agent-state tracker can mark it online (agentworker.Worker
// also calls this indirectly via its own bus subscription, but a worker
// driving the RPC surface directly without internal/transport needs this
// explicit hook).
func (h *Handlers) subscribeAgent(_ context.Context, req bus.Request) (any, error) {
	id := req.Params["id"]
	agent, err := h.Agents.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if h.Tracker != nil {
		h.Tracker.OnSubscribed(id)
	}
	return agent, nil
}

func (h *Handlers) getCIRun(ctx context.Context, req bus.Request) (any, error) {
	if h.CI == nil {
		return nil, apperr.New(apperr.Upstream, "no CI runner configured")
	}
	status, err := h.CI.GetRun(ctx, req.Params["ticketId"])
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "ci status lookup failed", err)
	}
	return map[string]string{"status": status}, nil
}

type startCIRunRequest struct {
	RepositoryID string `json:"repository_id"`
	Ref          string `json:"ref"`
}

func (h *Handlers) startCIRun(ctx context.Context, req bus.Request) (any, error) {
	if h.CI == nil {
		return nil, apperr.New(apperr.Upstream, "no CI runner configured")
	}
	var body startCIRunRequest
	if err := json.Unmarshal(req.Data, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid CI run body", err)
	}
	runID, err := h.CI.TriggerRun(ctx, body.RepositoryID, body.Ref)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "ci trigger failed", err)
	}
	return map[string]string{"run_id": runID}, nil
}

func (h *Handlers) getStats(_ context.Context, _ bus.Request) (any, error) {
	return h.Stats.GetStats()
}
