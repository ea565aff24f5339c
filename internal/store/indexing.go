package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/domain"
)

// IndexingStore is the narrow repository interface for the indexing job
// queue and the embeddings/vector table (C10).
type IndexingStore interface {
	QueueIndexingJob(j *domain.IndexingJob) error
	ClaimPendingIndexingJobs(limit int) ([]domain.IndexingJob, error)
	MarkIndexingCompleted(id string) error
	MarkIndexingFailed(id, errMsg string) error

	GetContentHash(repositoryID, filePath string) (string, bool, error)
	SetContentHash(repositoryID, filePath, hash string) error

	ReplaceEmbeddings(kind domain.EmbeddingKind, contentID string, rows []domain.Embedding) error
	SearchEmbeddings(kind domain.EmbeddingKind, query []float32, limit int) ([]domain.Embedding, error)
}

// QueueIndexingJob inserts a pending job row (§4.7 enqueue surface). The
// call is expected to be used from a non-blocking caller; this method
// itself just does one INSERT.
func (d *DB) QueueIndexingJob(j *domain.IndexingJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.CreatedAt = time.Now()
	j.Status = domain.IndexingPending

	_, err := d.Exec(`
		INSERT INTO indexing_jobs (id, type, repository_id, file_path, doc_id, ticket_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)
	`, j.ID, string(j.Type), nullIfEmpty(j.RepositoryID), nullIfEmpty(j.FilePath), nullIfEmpty(j.DocID), nullIfEmpty(j.TicketID), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("queue indexing job: %w", err)
	}
	return nil
}

// ClaimPendingIndexingJobs selects up to limit oldest pending jobs and
// transitions them to processing, for the indexing worker's poll loop
// (§4.7: "selects up to N (default 3) oldest pending jobs").
func (d *DB) ClaimPendingIndexingJobs(limit int) ([]domain.IndexingJob, error) {
	rows, err := d.Query(`SELECT id FROM indexing_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending indexing jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.IndexingJob
	now := time.Now()
	for _, id := range ids {
		res, err := d.Exec(`UPDATE indexing_jobs SET status='processing', started_at=? WHERE id=? AND status='pending'`, now, id)
		if err != nil {
			return nil, fmt.Errorf("claim indexing job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		j, err := d.getIndexingJob(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, nil
}

func (d *DB) getIndexingJob(id string) (*domain.IndexingJob, error) {
	row := d.QueryRow(`
		SELECT id, type, repository_id, file_path, doc_id, ticket_id, status, error, created_at, started_at, completed_at
		FROM indexing_jobs WHERE id = ?
	`, id)

	var j domain.IndexingJob
	var typ, status string
	var repo, path, doc, ticket, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&j.ID, &typ, &repo, &path, &doc, &ticket, &status, &errMsg, &j.CreatedAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "indexing job not found")
		}
		return nil, err
	}
	j.Type = domain.IndexingJobType(typ)
	j.Status = domain.IndexingStatus(status)
	j.RepositoryID, j.FilePath, j.DocID, j.TicketID = repo.String, path.String, doc.String, ticket.String
	j.Error = errMsg.String
	if startedAt.Valid {
		v := startedAt.Time
		j.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		j.CompletedAt = &v
	}
	return &j, nil
}

// MarkIndexingCompleted sets a job's terminal completed status. Always
// sets completed_at (§4.7).
func (d *DB) MarkIndexingCompleted(id string) error {
	_, err := d.Exec(`UPDATE indexing_jobs SET status='completed', completed_at=? WHERE id=?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark indexing job completed: %w", err)
	}
	return nil
}

// MarkIndexingFailed sets a job's terminal failed status with an error.
// Also used as the manual "unstick a wedged job" operation since indexing
// jobs have no automatic timeout (§9).
func (d *DB) MarkIndexingFailed(id, errMsg string) error {
	_, err := d.Exec(`UPDATE indexing_jobs SET status='failed', error=?, completed_at=? WHERE id=?`, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark indexing job failed: %w", err)
	}
	return nil
}

// GetContentHash returns the stored content hash for a tracked code file,
// used to skip re-indexing unchanged files (§4.7 code case, S6/idempotence
// law).
func (d *DB) GetContentHash(repositoryID, filePath string) (string, bool, error) {
	var hash string
	err := d.QueryRow(`SELECT content_hash FROM content_hashes WHERE repository_id=? AND file_path=?`, repositoryID, filePath).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get content hash: %w", err)
	}
	return hash, true, nil
}

// SetContentHash upserts the stored content hash for a tracked code file.
func (d *DB) SetContentHash(repositoryID, filePath, hash string) error {
	_, err := d.Exec(`
		INSERT INTO content_hashes (repository_id, file_path, content_hash) VALUES (?, ?, ?)
		ON CONFLICT(repository_id, file_path) DO UPDATE SET content_hash=excluded.content_hash
	`, repositoryID, filePath, hash)
	if err != nil {
		return fmt.Errorf("set content hash: %w", err)
	}
	return nil
}

// ReplaceEmbeddings deletes every existing chunk for (kind, contentID) and
// inserts rows in a single transaction, matching §4.7's "delete prior
// chunks... insert new rows" / "replace the prior one" semantics for all
// three indexing job types.
func (d *DB) ReplaceEmbeddings(kind domain.EmbeddingKind, contentID string, rows []domain.Embedding) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM embeddings WHERE content_kind=? AND content_id=?`, string(kind), contentID); err != nil {
		return fmt.Errorf("delete prior embeddings: %w", err)
	}

	for _, e := range rows {
		meta, err := marshalJSON(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal embedding metadata: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO embeddings (content_kind, content_id, chunk_index, chunk_text, vector, metadata, content_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(kind), contentID, e.ChunkIndex, e.ChunkText, encodeVector(e.Vector), meta, nullIfEmpty(e.ContentHash), time.Now())
		if err != nil {
			return fmt.Errorf("insert embedding chunk %d: %w", e.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

// SearchEmbeddings computes cosine similarity against every stored vector
// of the given kind and returns the top `limit` matches, in the style of
// agents/rag/store.go's Search (manual cosine similarity in Go rather than
// a vector extension, since modernc.org/sqlite has none built in).
func (d *DB) SearchEmbeddings(kind domain.EmbeddingKind, query []float32, limit int) ([]domain.Embedding, error) {
	rows, err := d.Query(`SELECT content_id, chunk_index, chunk_text, vector, metadata FROM embeddings WHERE content_kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("scan embeddings for search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		e   domain.Embedding
		sim float64
	}
	var candidates []scored
	for rows.Next() {
		var e domain.Embedding
		var vecBlob []byte
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ContentID, &e.ChunkIndex, &e.ChunkText, &vecBlob, &metaJSON); err != nil {
			return nil, err
		}
		e.Kind = kind
		e.Vector = decodeVector(vecBlob)
		candidates = append(candidates, scored{e: e, sim: cosineSimilarity(query, e.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]domain.Embedding, len(candidates))
	for i, c := range candidates {
		out[i] = c.e
	}
	return out, nil
}

// encodeVector/decodeVector store a []float32 as a little-endian BLOB,
// avoiding the teacher's JSON-array-in-TEXT-column encoding
// (agents/rag/store.go) in favor of a more compact representation; the
// comparison semantics (cosineSimilarity) are unchanged.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
