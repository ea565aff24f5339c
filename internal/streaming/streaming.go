// Package streaming implements C9: the lifecycle of a comment produced
// incrementally by an agent worker — create a "generating" placeholder,
// append chunks, finalize — broadcasting a delta at each step (§6.2).
package streaming

import (
	"encoding/json"
	"time"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/store"
)

// Streamer drives the generating→completed comment lifecycle.
type Streamer struct {
	comments store.CommentStore
	bus      *bus.Bus
}

// New constructs a Streamer.
func New(comments store.CommentStore, b *bus.Bus) *Streamer {
	return &Streamer{comments: comments, bus: b}
}

// CreateStreamingMessage inserts a comment row with status=generating and
// broadcasts comment:created. The row does not record which Streamer
// created it: any caller holding the comment id may update or finalize
// it while it is still generating (the broker's sweeper finalizes stale
// rows this way).
func (s *Streamer) CreateStreamingMessage(ticketID string, author domain.CommentAuthor, initialContent, respondingTo string) (*domain.Comment, error) {
	c := &domain.Comment{
		TicketID:     ticketID,
		Author:       author,
		Content:      initialContent,
		Status:       domain.CommentGenerating,
		RespondingTo: respondingTo,
	}
	if err := s.comments.CreateComment(c); err != nil {
		return nil, err
	}
	s.broadcast(ticketID, "comment:created", c)
	return c, nil
}

// UpdateStreamingMessage appends/replaces content on a generating comment
// and broadcasts comment:updated. isFinal routes to FinalizeStreamingMessage
// instead of performing a plain content update.
func (s *Streamer) UpdateStreamingMessage(commentID, content string, isFinal bool) error {
	if isFinal {
		return s.FinalizeStreamingMessage(commentID, content, false)
	}
	existing, err := s.comments.GetComment(commentID)
	if err != nil {
		return err
	}
	if existing.Status != domain.CommentGenerating {
		return apperr.New(apperr.Conflict, "comment is not in generating status")
	}
	if err := s.comments.UpdateCommentContent(commentID, content); err != nil {
		return err
	}
	existing.Content = content
	s.broadcast(existing.TicketID, "comment:updated", existing)
	return nil
}

// FinalizeStreamingMessage sets the final content and terminal status
// (completed, or failed if failed=true) and broadcasts comment:completed.
func (s *Streamer) FinalizeStreamingMessage(commentID, finalContent string, failed bool) error {
	existing, err := s.comments.GetComment(commentID)
	if err != nil {
		return err
	}
	if existing.Status != domain.CommentGenerating {
		return apperr.New(apperr.Conflict, "comment is not in generating status")
	}
	if err := s.comments.UpdateCommentContent(commentID, finalContent); err != nil {
		return err
	}
	status := domain.CommentCompleted
	if failed {
		status = domain.CommentFailed
	}
	if err := s.comments.SetCommentStatus(commentID, status); err != nil {
		return err
	}
	existing.Content = finalContent
	existing.Status = status
	existing.UpdatedAt = time.Now()
	s.broadcast(existing.TicketID, "comment:completed", existing)
	return nil
}

func (s *Streamer) broadcast(ticketID, kind string, c *domain.Comment) {
	data, _ := json.Marshal(c)
	s.bus.Publish("/tickets/"+ticketID, bus.Frame{Method: kind, Data: data})
}
