package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

// CommentStore is the narrow repository interface for comment CRUD and the
// streaming lifecycle of C9.
type CommentStore interface {
	CreateComment(c *domain.Comment) error
	GetComment(id string) (*domain.Comment, error)
	ListComments(ticketID string) ([]domain.Comment, error)
	UpdateCommentContent(id, content string) error
	SetCommentStatus(id string, status domain.CommentStatus) error
	ListGeneratingOlderThan(cutoff time.Time) ([]domain.Comment, error)
}

// CreateComment inserts a comment row. mentions is stored as a
// comma-joined string; empty/nil means no mentions.
func (d *DB) CreateComment(c *domain.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = domain.CommentCompleted
	}

	_, err := d.Exec(`
		INSERT INTO comments (id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TicketID, string(c.Author.Kind), c.Author.ID, c.Content, joinMentions(c.Mentions), string(c.Status), nullIfEmpty(c.RespondingTo), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetComment retrieves one comment by id.
func (d *DB) GetComment(id string) (*domain.Comment, error) {
	row := d.QueryRow(`
		SELECT id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at
		FROM comments WHERE id = ?
	`, id)
	c, err := scanComment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "comment not found")
		}
		return nil, fmt.Errorf("scan comment: %w", err)
	}
	return c, nil
}

// ListComments returns every comment on a ticket ordered by created_at,
// matching §5's "receivers must order by created_at, not by arrival".
func (d *DB) ListComments(ticketID string) ([]domain.Comment, error) {
	rows, err := d.Query(`
		SELECT id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at
		FROM comments WHERE ticket_id = ? ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		c, err := scanCommentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCommentContent updates content without touching status; used by
// updateStreamingMessage (C9 step 2) and ordinary edits.
func (d *DB) UpdateCommentContent(id, content string) error {
	res, err := d.Exec(`UPDATE comments SET content=?, updated_at=? WHERE id=?`, content, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update comment content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "comment not found")
	}
	return nil
}

// SetCommentStatus transitions a comment's status (generating -> completed
// or failed).
func (d *DB) SetCommentStatus(id string, status domain.CommentStatus) error {
	res, err := d.Exec(`UPDATE comments SET status=?, updated_at=? WHERE id=?`, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("set comment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "comment not found")
	}
	return nil
}

// ListGeneratingOlderThan returns every comment still in status=generating
// whose created_at is before cutoff. Used by the broker's sweeper (§9).
func (d *DB) ListGeneratingOlderThan(cutoff time.Time) ([]domain.Comment, error) {
	rows, err := d.Query(`
		SELECT id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at
		FROM comments WHERE status = 'generating' AND created_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale generating comments: %w", err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		c, err := scanCommentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanComment(row *sql.Row) (*domain.Comment, error)   { return scanCommentAny(row) }
func scanCommentRows(rows *sql.Rows) (*domain.Comment, error) { return scanCommentAny(rows) }

func scanCommentAny(s scanner) (*domain.Comment, error) {
	var c domain.Comment
	var authorKind, authorID, status string
	var mentions, respondingTo sql.NullString

	if err := s.Scan(&c.ID, &c.TicketID, &authorKind, &authorID, &c.Content, &mentions, &status, &respondingTo, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Author = domain.CommentAuthor{Kind: domain.AssigneeKind(authorKind), ID: authorID}
	c.Status = domain.CommentStatus(status)
	c.RespondingTo = respondingTo.String
	c.Mentions = splitMentions(mentions.String)
	return &c, nil
}

func joinMentions(mentions []string) any {
	if len(mentions) == 0 {
		return nil
	}
	return strings.Join(mentions, ",")
}

func splitMentions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
