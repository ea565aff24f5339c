package agentworker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/audit"
	"github.com/madhatter5501/dispatchd/internal/broker"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/metrics"
	"github.com/madhatter5501/dispatchd/internal/store"
)

// State is one point in the worker's connection/processing lifecycle
// (§4.4): boot, connecting, open, subscribed, idle, claim, processing,
// completed/failed (the last two collapse back to idle/claim).
type State string

const (
	StateBoot        State = "boot"
	StateConnecting  State = "connecting"
	StateOpen        State = "open"
	StateSubscribed  State = "subscribed"
	StateIdle        State = "idle"
	StateClaim       State = "claim"
	StateProcessing  State = "processing"
	StateStopped     State = "stopped"
)

// StateObserver is notified of liveness/activity transitions, implemented
// by internal/agentstate.Tracker.
type StateObserver interface {
	OnSubscribed(agentID string)
	OnDisconnected(agentID string)
	OnTaskClaimed(agentID string)
	OnTaskCompleted(agentID string, failed bool, errMsg string)
}

const (
	// maxReconnectAttempts honors §4.4's "at least 5 attempts."
	maxReconnectAttempts = 5
	// stopGracePeriod bounds how long Stop waits for the in-flight task.
	stopGracePeriod = 30 * time.Second
	// idlePollInterval is the fallback poll when no push frame arrives,
	// so a missed publish (bus drop) never wedges the worker.
	idlePollInterval = 10 * time.Second
)

// Worker runs one agent's task-execution loop.
type Worker struct {
	agent     domain.Agent
	tasks     store.TaskStore
	bus       *bus.Bus
	processor AgentProcessor
	audit     audit.Logger
	observer  StateObserver
	log       zerolog.Logger

	state  State
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Worker for one agent.
func New(agent domain.Agent, tasks store.TaskStore, b *bus.Bus, processor AgentProcessor, auditLogger audit.Logger, observer StateObserver, log zerolog.Logger) *Worker {
	return &Worker{
		agent:     agent,
		tasks:     tasks,
		bus:       b,
		processor: processor,
		audit:     auditLogger,
		observer:  observer,
		log:       log.With().Str("component", "agent_worker").Str("agent_id", agent.ID).Logger(),
		state:     StateBoot,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run drives the full lifecycle: connect-and-subscribe-and-catch-up, then
// idle/claim/process, reconnecting with exponential backoff on failure,
// until Stop is called or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.setState(StateStopped)
			return
		default:
		}

		w.setState(StateConnecting)
		ch := w.connect()
		attempt = 0
		w.runSession(ctx, ch)
		w.disconnect(ch)

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.setState(StateStopped)
			return
		default:
		}

		attempt++
		if attempt > maxReconnectAttempts {
			w.log.Error().Int("attempts", attempt-1).Msg("exhausted reconnect attempts")
			attempt = 0
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		w.log.Warn().Dur("backoff", backoff).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.setState(StateStopped)
			return
		case <-time.After(backoff):
		}
	}
}

func (w *Worker) connect() <-chan bus.Frame {
	w.setState(StateOpen)
	ch := w.bus.Subscribe(fmt.Sprintf("/agents/%s/tasks", w.agent.ID), 0)
	w.setState(StateSubscribed)
	if w.observer != nil {
		w.observer.OnSubscribed(w.agent.ID)
	}
	return ch
}

func (w *Worker) disconnect(ch <-chan bus.Frame) {
	w.bus.Unsubscribe(ch)
	if w.observer != nil {
		w.observer.OnDisconnected(w.agent.ID)
	}
}

// runSession performs catch-up, then alternates idle-wait and
// claim/process until the session ends (stop requested, context
// cancelled, or the channel closes).
func (w *Worker) runSession(ctx context.Context, ch <-chan bus.Frame) {
	w.catchUp(ctx)

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		w.setState(StateIdle)
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.drainPending(ctx)
		case <-ticker.C:
			w.drainPending(ctx)
		}
	}
}

// catchUp re-claims this agent's own in-flight work before draining the
// rest of the pending queue (§4.4 reconnection: "Tasks in processing state
// at reconnect time... must be re-claimed").
func (w *Worker) catchUp(ctx context.Context) {
	owned, err := w.tasks.ReclaimOwned(w.agent.ID)
	if err != nil {
		w.log.Error().Err(err).Msg("reclaim owned tasks failed")
	} else {
		for _, t := range owned {
			w.runTask(context.Background(), t)
		}
	}
	w.drainPending(ctx)
}

// drainPending claims and runs tasks one at a time until the queue is
// empty or a stop is requested, honoring "only one task executes at a
// time per worker; additional pushes queue" (§4.4).
func (w *Worker) drainPending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		w.setState(StateClaim)
		task, err := w.tasks.ClaimNext(w.agent.ID)
		if err != nil {
			w.log.Error().Err(err).Msg("claim next task failed")
			return
		}
		if task == nil {
			return
		}
		if w.observer != nil {
			w.observer.OnTaskClaimed(w.agent.ID)
		}
		metrics.TaskClaimTotal.WithLabelValues(w.agent.ID).Inc()
		w.runTask(ctx, *task)
	}
}

// runTask executes one task to a terminal state. A task already
// completed/failed at claim time is skipped (§4.4 edge case).
func (w *Worker) runTask(ctx context.Context, task domain.Task) {
	if task.Status == domain.TaskCompleted || task.Status == domain.TaskFailed {
		w.log.Info().Str("task_id", task.ID).Msg("skipping already-terminal task")
		return
	}

	w.setState(StateProcessing)
	if w.audit != nil {
		_ = w.audit.LogPromptSent(task.ID, w.agent.ID, string(task.Payload))
	}

	start := time.Now()
	success, output, err := w.processor.Process(ctx, task, w.agent)
	duration := time.Since(start)

	if err != nil {
		success = false
		if w.audit != nil {
			_ = w.audit.LogError(task.ID, w.agent.ID, err.Error())
		}
	} else if w.audit != nil {
		_ = w.audit.LogResponseReceived(task.ID, w.agent.ID, output, duration)
	}

	if success {
		if markErr := w.tasks.MarkCompleted(task.ID); markErr != nil {
			w.log.Error().Err(markErr).Str("task_id", task.ID).Msg("mark completed failed")
		}
		broker.RecordTaskOutcome(w.agent.ID, domain.TaskCompleted)
		if w.observer != nil {
			w.observer.OnTaskCompleted(w.agent.ID, false, "")
		}
		return
	}

	errMsg := "task execution failed"
	if err != nil {
		errMsg = err.Error()
	}
	if markErr := w.tasks.MarkFailed(task.ID, errMsg); markErr != nil {
		w.log.Error().Err(markErr).Str("task_id", task.ID).Msg("mark failed failed")
	}
	broker.RecordTaskOutcome(w.agent.ID, domain.TaskFailed)
	if w.observer != nil {
		w.observer.OnTaskCompleted(w.agent.ID, true, errMsg)
	}
}

// Stop requests graceful shutdown: the worker finishes its current task
// (bounded to stopGracePeriod), stops claiming new work, and exits.
func (w *Worker) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(stopGracePeriod):
		w.log.Warn().Msg("stop grace period elapsed before worker exited")
	}
}

// CurrentState reports the worker's lifecycle state, for diagnostics.
func (w *Worker) CurrentState() State {
	return w.state
}

func (w *Worker) setState(s State) {
	w.state = s
}
