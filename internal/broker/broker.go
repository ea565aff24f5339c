// Package broker implements C6: it receives ticket/comment events,
// decides which agent(s) a task belongs to, writes tasks through
// internal/store's compare-and-swap-protected TaskStore, and pushes them
// to subscribed workers over the event bus. The ticker-per-concern
// background loop (the sweeper) is grounded on the teacher's
// background.go BackgroundAgentManager (registerAgent/runAgentLoop:
// immediate first run, then on a ticker, with context/stop-channel
// cancellation) generalized from four named agent cycles down to one
// sweep cycle.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/mention"
	"github.com/madhatter5501/dispatchd/internal/metrics"
	"github.com/madhatter5501/dispatchd/internal/store"
	"github.com/madhatter5501/dispatchd/internal/streaming"
)

const (
	priorityRefinement = 50
	priorityMention    = 100
	priorityManual     = 0

	// dedupWindow bounds how far back FindRecentTask looks for an
	// existing task on the same (agent, type, source) per §4.3.
	dedupWindow = 30 * time.Second

	// generatingSweepInterval and generatingStaleAfter implement §9's
	// sweeper: a streaming comment stuck in "generating" past this age is
	// suspect (producer crashed mid-stream) and is force-finalized to
	// failed so it doesn't wedge the ticket thread forever.
	generatingSweepInterval = 1 * time.Minute
	generatingStaleAfter    = 5 * time.Minute

	staleGeneratingError = "worker did not finalize"
)

// Stores is the narrow set of repositories the broker depends on.
type Stores struct {
	Tickets  store.TicketStore
	Comments store.CommentStore
	Agents   store.AgentStore
	Tasks    store.TaskStore
}

// Broker owns dispatch policy and task creation (C6).
type Broker struct {
	stores   Stores
	bus      *bus.Bus
	streamer *streaming.Streamer
	log      zerolog.Logger

	stopCh chan struct{}
}

// New constructs a Broker over the given repositories and event bus.
func New(stores Stores, b *bus.Bus, log zerolog.Logger) *Broker {
	return &Broker{stores: stores, bus: b, log: log.With().Str("component", "broker").Logger(), stopCh: make(chan struct{})}
}

// SetStreamer wires in the Streamer the sweeper uses to force-finalize
// stale generating comments. Separate from New so cmd/broker can
// construct Broker and Streamer independently and connect them once both
// exist.
func (b *Broker) SetStreamer(s *streaming.Streamer) {
	b.streamer = s
}

// OnTicketCreated implements the backlog-refinement dispatch rule (§4.3):
// a new ticket with status=backlog enqueues a refinement task on the
// enabled planner agent, priority 50. Missing planner logs a warning and
// does not fail ticket creation.
func (b *Broker) OnTicketCreated(t domain.Ticket) {
	if t.Status != domain.TicketBacklog {
		return
	}

	planner, err := b.findEnabledAgentByType(domain.AgentPlanner)
	if err != nil {
		b.log.Warn().Err(err).Str("ticket_id", t.ID).Msg("no enabled planner agent; skipping refinement dispatch")
		return
	}

	payload, _ := json.Marshal(domain.RefinementPayload{TicketID: t.ID, Title: t.Title})
	b.dispatch(planner.ID, domain.TaskRefinement, payload, priorityRefinement, t.ID)
}

// OnCommentCreated implements the mention dispatch rule (§4.3): for each
// resolved, enabled agent mentioned in the comment, enqueue one mention
// task, priority 100. Comment edits never re-trigger this (§9 resolved
// open question) — callers must only invoke this from comment creation,
// never from update.
func (b *Broker) OnCommentCreated(c domain.Comment) {
	if len(c.Mentions) == 0 {
		return
	}

	for _, name := range c.Mentions {
		agent, err := b.stores.Agents.GetAgentByName(name)
		if err != nil || agent == nil || !agent.Enabled {
			continue
		}
		payload, _ := json.Marshal(domain.MentionPayload{
			TicketID:       c.TicketID,
			CommentID:      c.ID,
			Author:         c.Author.ID,
			CommentContent: c.Content,
			Mentions:       c.Mentions,
		})
		b.dispatch(agent.ID, domain.TaskMention, payload, priorityMention, c.ID)
	}
}

// ResolveMentions extracts and resolves @handles from comment text,
// suitable for the intake layer to call before persisting a comment's
// Mentions field.
func ResolveMentions(text string, agents store.AgentStore) []string {
	resolved := mention.Resolve(text, agents.GetAgentByName)
	names := make([]string, len(resolved))
	for i, a := range resolved {
		names[i] = a.Name
	}
	return names
}

// Trigger implements the explicit-RPC-trigger dispatch rule (§4.3):
// enqueue a manual task at the caller-specified priority (default 0).
func (b *Broker) Trigger(agentID string, payload domain.ManualPayload, priority int) (*domain.Task, error) {
	agent, err := b.stores.Agents.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		return nil, apperr.New(apperr.Conflict, "agent is not enabled")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal manual payload", err)
	}
	return b.dispatch(agentID, domain.TaskManual, data, priority, payload.TicketID), nil
}

// dispatch deduplicates by (agent_id, task_type, source_id) within
// dedupWindow, enqueues the task, and publishes it on the agent's task
// topic (§4.2, §4.3). Errors are logged, not returned, because dispatch
// is called from event handlers that must not fail the triggering
// ticket/comment write.
func (b *Broker) dispatch(agentID string, taskType domain.TaskType, payload []byte, priority int, sourceID string) *domain.Task {
	if sourceID != "" {
		existing, err := b.stores.Tasks.FindRecentTask(agentID, taskType, sourceID, dedupWindow)
		if err == nil && existing != nil {
			b.log.Info().Str("agent_id", agentID).Str("source_id", sourceID).Msg("duplicate dispatch suppressed")
			return existing
		}
	}

	t := &domain.Task{AgentID: agentID, Type: taskType, Payload: payload, Priority: priority}
	if err := b.stores.Tasks.EnqueueTask(t, sourceID); err != nil {
		b.log.Error().Err(err).Str("agent_id", agentID).Msg("enqueue task failed")
		return nil
	}

	data, _ := json.Marshal(map[string]any{
		"task_id":   t.ID,
		"task_type": t.Type,
		"task_data": json.RawMessage(t.Payload),
	})
	b.bus.Publish(fmt.Sprintf("/agents/%s/tasks", agentID), bus.Frame{Data: data})
	return t
}

func (b *Broker) findEnabledAgentByType(typ domain.AgentType) (*domain.Agent, error) {
	agents, err := b.stores.Agents.ListAgents()
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.Type == typ && a.Enabled {
			return &a, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no enabled agent of type %s", typ))
}

// StartSweeper runs the generating-comment staleness sweep on a ticker,
// immediately on start and then every generatingSweepInterval, until ctx
// is done or Stop is called — the same shape as the teacher's
// BackgroundAgentManager.runAgentLoop.
func (b *Broker) StartSweeper(ctx context.Context) {
	go func() {
		b.sweepOnce()
		ticker := time.NewTicker(generatingSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.sweepOnce()
			}
		}
	}()
}

// Stop ends the sweeper loop.
func (b *Broker) Stop() {
	close(b.stopCh)
}

func (b *Broker) sweepOnce() {
	cutoff := time.Now().Add(-generatingStaleAfter)
	stale, err := b.stores.Comments.ListGeneratingOlderThan(cutoff)
	if err != nil {
		b.log.Error().Err(err).Msg("generating sweep query failed")
		return
	}
	for _, c := range stale {
		b.log.Warn().Str("comment_id", c.ID).Str("ticket_id", c.TicketID).
			Dur("age", time.Since(c.CreatedAt)).
			Msg("comment stuck in generating status past staleness threshold; finalizing as failed")
		if b.streamer == nil {
			continue
		}
		if err := b.streamer.FinalizeStreamingMessage(c.ID, staleGeneratingError, true); err != nil {
			b.log.Error().Err(err).Str("comment_id", c.ID).Msg("failed to finalize stale generating comment")
		}
	}
}

// RecordTaskOutcome updates the task-completion prometheus counter;
// called by the agent worker after MarkCompleted/MarkFailed.
func RecordTaskOutcome(agentID string, status domain.TaskStatus) {
	metrics.TaskCompletedTotal.WithLabelValues(agentID, string(status)).Inc()
}
