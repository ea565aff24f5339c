// Package agentstate implements C8: a server-side shadow model of every
// registered agent's liveness and activity, owned exclusively by the
// broker process. Workers never write to it directly; it is rebuilt from
// observed events (subscription presence, task table mutations, explicit
// status messages). The mutex-guarded-struct-plus-dirty-flag shape is
// grounded on the teacher's kanban.State (sync.RWMutex, dirty bool,
// explicit markDirty), generalized here from JSON-file persistence to a
// debounced pub/sub broadcast.
package agentstate

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
)

// coalesceWindow batches bursts of mutations arriving within this window
// into a single broadcast (§4.5: "coalesces change bursts").
const coalesceWindow = 50 * time.Millisecond

// broadcastFloor is the minimum gap between two broadcasts for the same
// agent even under sustained churn, so a flapping worker cannot flood
// subscribers.
const broadcastFloor = 2 * time.Second

// Tracker holds the live shadow state for every agent and broadcasts
// deltas on /agents/state.
type Tracker struct {
	mu    sync.Mutex
	tasks store.TaskStore
	bus   *bus.Bus

	states map[string]*entry
}

type entry struct {
	state        domain.AgentShadowState
	dirty        bool
	lastBroadcast time.Time
	pendingTimer  *time.Timer
}

// New constructs a Tracker. tasks is used to recompute TaskStats whenever
// a mutation is observed.
func New(tasks store.TaskStore, b *bus.Bus) *Tracker {
	return &Tracker{tasks: tasks, bus: b, states: map[string]*entry{}}
}

// Get returns a snapshot of one agent's shadow state, constructing an
// offline default if never observed.
func (t *Tracker) Get(agentID string) domain.AgentShadowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(agentID).state.Clone()
}

// All returns a snapshot of every tracked agent's shadow state.
func (t *Tracker) All() []domain.AgentShadowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.AgentShadowState, 0, len(t.states))
	for _, e := range t.states {
		out = append(out, e.state.Clone())
	}
	return out
}

func (t *Tracker) getLocked(agentID string) *entry {
	e, ok := t.states[agentID]
	if !ok {
		e = &entry{state: domain.AgentShadowState{AgentID: agentID, Status: domain.AgentStatusOffline}}
		t.states[agentID] = e
	}
	return e
}

// OnSubscribed marks an agent worker as connected (§4.5 reacts to
// "subscription/disconnect events").
func (t *Tracker) OnSubscribed(agentID string) {
	t.mutate(agentID, func(s *domain.AgentShadowState) {
		s.ServiceOnline = true
		s.LastHeartbeat = time.Now()
		if s.Status == domain.AgentStatusOffline {
			s.Status = domain.AgentStatusIdle
		}
	})
}

// OnDisconnected marks an agent worker as offline.
func (t *Tracker) OnDisconnected(agentID string) {
	t.mutate(agentID, func(s *domain.AgentShadowState) {
		s.ServiceOnline = false
		s.Status = domain.AgentStatusOffline
	})
}

// OnTaskClaimed marks an agent working.
func (t *Tracker) OnTaskClaimed(agentID string) {
	t.mutate(agentID, func(s *domain.AgentShadowState) {
		s.Status = domain.AgentStatusWorking
		s.LastHeartbeat = time.Now()
	})
}

// OnTaskCompleted marks an agent idle (if no other task is processing) or
// records an error status on failure.
func (t *Tracker) OnTaskCompleted(agentID string, failed bool, errMsg string) {
	t.mutate(agentID, func(s *domain.AgentShadowState) {
		s.LastHeartbeat = time.Now()
		if failed {
			s.Status = domain.AgentStatusError
			s.LastError = errMsg
			return
		}
		s.LastError = ""
		if s.Stats.Processing <= 1 {
			s.Status = domain.AgentStatusIdle
		}
	})
}

// mutate applies fn under the lock, recomputes TaskStats from the store,
// marks the entry dirty, and schedules a coalesced broadcast.
func (t *Tracker) mutate(agentID string, fn func(*domain.AgentShadowState)) {
	t.mu.Lock()
	e := t.getLocked(agentID)
	fn(&e.state)
	if stats, err := t.tasks.TaskStats(agentID); err == nil {
		e.state.Stats = stats
	}
	e.dirty = true
	t.scheduleBroadcastLocked(agentID, e)
	t.mu.Unlock()
}

// scheduleBroadcastLocked arms a one-shot timer that fires after
// coalesceWindow, so several mutations arriving in quick succession
// collapse into one broadcast; it never fires more often than
// broadcastFloor for the same agent.
func (t *Tracker) scheduleBroadcastLocked(agentID string, e *entry) {
	if e.pendingTimer != nil {
		return
	}
	delay := coalesceWindow
	if since := time.Since(e.lastBroadcast); since < broadcastFloor {
		delay = broadcastFloor - since
	}
	e.pendingTimer = time.AfterFunc(delay, func() { t.flush(agentID) })
}

func (t *Tracker) flush(agentID string) {
	t.mu.Lock()
	e, ok := t.states[agentID]
	if !ok || !e.dirty {
		if ok {
			e.pendingTimer = nil
		}
		t.mu.Unlock()
		return
	}
	snapshot := e.state.Clone()
	e.dirty = false
	e.pendingTimer = nil
	e.lastBroadcast = time.Now()
	t.mu.Unlock()

	data, _ := json.Marshal(snapshot)
	t.bus.Publish("/agents/state", bus.Frame{Data: data})
}
