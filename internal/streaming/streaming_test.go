package streaming

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
)

func newTestStreamer(t *testing.T) (*Streamer, *bus.Bus) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateTicket(&domain.Ticket{ID: "t1", Title: "streaming test ticket"}))

	b := bus.New()
	return New(db, b), b
}

func TestCreateStreamingMessageBroadcastsCreated(t *testing.T) {
	s, b := newTestStreamer(t)
	ch := b.Subscribe("/tickets/t1", 4)

	c, err := s.CreateStreamingMessage("t1", domain.CommentAuthor{Kind: domain.AssigneeAgent, ID: "dev-1"}, "thinking...", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommentGenerating, c.Status)

	select {
	case f := <-ch:
		require.Equal(t, "comment:created", f.Method)
		var got domain.Comment
		require.NoError(t, json.Unmarshal(f.Data, &got))
		require.Equal(t, c.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected comment:created broadcast")
	}
}

func TestUpdateStreamingMessageRejectsNonGenerating(t *testing.T) {
	s, _ := newTestStreamer(t)
	c, err := s.CreateStreamingMessage("t1", domain.CommentAuthor{Kind: domain.AssigneeAgent, ID: "dev-1"}, "start", "")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeStreamingMessage(c.ID, "final", false))

	err = s.UpdateStreamingMessage(c.ID, "more content", false)
	require.Error(t, err)
}

func TestUpdateStreamingMessageWithIsFinalRoutesToFinalize(t *testing.T) {
	s, b := newTestStreamer(t)
	ch := b.Subscribe("/tickets/t1", 4)
	c, err := s.CreateStreamingMessage("t1", domain.CommentAuthor{Kind: domain.AssigneeAgent, ID: "dev-1"}, "start", "")
	require.NoError(t, err)
	<-ch // drain comment:created

	require.NoError(t, s.UpdateStreamingMessage(c.ID, "the final answer", true))

	select {
	case f := <-ch:
		require.Equal(t, "comment:completed", f.Method)
	case <-time.After(time.Second):
		t.Fatal("expected comment:completed broadcast")
	}
}

func TestFinalizeStreamingMessageFailedSetsFailedStatus(t *testing.T) {
	s, _ := newTestStreamer(t)
	c, err := s.CreateStreamingMessage("t1", domain.CommentAuthor{Kind: domain.AssigneeAgent, ID: "dev-1"}, "start", "")
	require.NoError(t, err)

	require.NoError(t, s.FinalizeStreamingMessage(c.ID, "error occurred", true))
	require.Error(t, s.FinalizeStreamingMessage(c.ID, "again", false), "already-terminal comment cannot finalize twice")
}
