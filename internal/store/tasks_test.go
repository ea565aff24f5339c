package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateAgent(t *testing.T, db *DB, name string) *domain.Agent {
	t.Helper()
	a := &domain.Agent{Name: name, Type: domain.AgentDeveloper, Enabled: true}
	require.NoError(t, db.CreateAgent(a))
	return a
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-1")

	low := &domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Priority: 0, Payload: []byte(`{}`)}
	require.NoError(t, db.EnqueueTask(low, ""))
	time.Sleep(5 * time.Millisecond)
	high := &domain.Task{AgentID: agent.ID, Type: domain.TaskMention, Priority: 100, Payload: []byte(`{}`)}
	require.NoError(t, db.EnqueueTask(high, ""))

	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, high.ID, claimed.ID)
	require.Equal(t, domain.TaskProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
}

func TestClaimNextReturnsNilWhenEmpty(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-2")

	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestClaimNextNeverReturnsAnotherAgentsTask(t *testing.T) {
	db := newTestDB(t)
	a1 := mustCreateAgent(t, db, "dev-3")
	a2 := mustCreateAgent(t, db, "dev-4")

	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: a1.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))

	claimed, err := db.ClaimNext(a2.ID)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-5")
	task := &domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}
	require.NoError(t, db.EnqueueTask(task, ""))

	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	require.NoError(t, db.MarkCompleted(claimed.ID))

	got, err := db.GetTask(claimed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status)
	firstCompletedAt := *got.CompletedAt

	require.NoError(t, db.MarkCompleted(claimed.ID))

	got, err = db.GetTask(claimed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, firstCompletedAt, *got.CompletedAt)

	require.NoError(t, db.MarkFailed(claimed.ID, "should not override completed"))

	got, err = db.GetTask(claimed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status, "terminal status must not flip back")
	require.Equal(t, firstCompletedAt, *got.CompletedAt)
}

func TestReclaimOwnedOnlyReturnsProcessingRowsForThatAgent(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-6")
	other := mustCreateAgent(t, db, "dev-7")

	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: other.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))

	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	_, err = db.ClaimNext(other.ID)
	require.NoError(t, err)

	owned, err := db.ReclaimOwned(agent.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, claimed.ID, owned[0].ID)
}

func TestFindRecentTaskDedupWindow(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-8")

	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskMention, Payload: []byte(`{}`)}, "comment-1"))

	found, err := db.FindRecentTask(agent.ID, domain.TaskMention, "comment-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, found)

	notFound, err := db.FindRecentTask(agent.ID, domain.TaskMention, "comment-1", -time.Minute)
	require.NoError(t, err)
	require.Nil(t, notFound)

	empty, err := db.FindRecentTask(agent.ID, domain.TaskMention, "", time.Minute)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestTaskStatsCountsByStatus(t *testing.T) {
	db := newTestDB(t)
	agent := mustCreateAgent(t, db, "dev-9")

	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))
	require.NoError(t, db.EnqueueTask(&domain.Task{AgentID: agent.ID, Type: domain.TaskManual, Payload: []byte(`{}`)}, ""))
	claimed, err := db.ClaimNext(agent.ID)
	require.NoError(t, err)
	require.NoError(t, db.MarkCompleted(claimed.ID))

	stats, err := db.TaskStats(agent.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 1, stats.Completed)
}

func TestGetTaskNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetTask("nonexistent")
	require.Error(t, err)
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
