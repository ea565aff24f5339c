package agentworker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
)

type fakeProcessor struct {
	succeed bool
}

func (f fakeProcessor) Process(context.Context, domain.Task, domain.Agent) (bool, string, error) {
	return f.succeed, "ok", nil
}

type spyObserver struct {
	mu       sync.Mutex
	claimed  int
	subbed   int
	completed int
	failed    int
}

func (s *spyObserver) OnSubscribed(string)   { s.mu.Lock(); s.subbed++; s.mu.Unlock() }
func (s *spyObserver) OnDisconnected(string) {}
func (s *spyObserver) OnTaskClaimed(string)  { s.mu.Lock(); s.claimed++; s.mu.Unlock() }
func (s *spyObserver) OnTaskCompleted(_ string, failed bool, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.failed++
	} else {
		s.completed++
	}
}

func newTestWorkerDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWorkerClaimsAndCompletesPendingTask(t *testing.T) {
	db := newTestWorkerDB(t)
	agent := &domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(agent))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))

	b := bus.New()
	obs := &spyObserver{}
	w := New(*agent, db, b, fakeProcessor{succeed: true}, nil, obs, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		stats, err := db.TaskStats(agent.ID)
		return err == nil && stats.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	w.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.GreaterOrEqual(t, obs.subbed, 1)
	require.GreaterOrEqual(t, obs.claimed, 1)
	require.Equal(t, 1, obs.completed)
}

func TestWorkerMarksFailedWhenProcessorFails(t *testing.T) {
	db := newTestWorkerDB(t)
	agent := &domain.Agent{Name: "dev-2", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(agent))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))

	b := bus.New()
	obs := &spyObserver{}
	w := New(*agent, db, b, fakeProcessor{succeed: false}, nil, obs, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		stats, err := db.TaskStats(agent.ID)
		return err == nil && stats.Failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	w.Stop()
}

func TestWorkerCatchUpReclaimsOwnProcessingTasksOnly(t *testing.T) {
	db := newTestWorkerDB(t)
	agent := &domain.Agent{Name: "dev-3", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(agent))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))

	// Simulate a crash mid-processing: claim it directly, bypassing the worker.
	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Another agent's in-flight task must be left alone.
	other := &domain.Agent{Name: "dev-4", Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(other))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: other.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))
	otherClaimed, err := db.ClaimNext(other.ID)
	require.NoError(t, err)
	require.NotNil(t, otherClaimed)

	b := bus.New()
	w := New(*agent, db, b, fakeProcessor{succeed: true}, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		stats, err := db.TaskStats(agent.ID)
		return err == nil && stats.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	otherTask, err := db.GetTask(otherClaimed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskProcessing, otherTask.Status)

	cancel()
	w.Stop()
}
