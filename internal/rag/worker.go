// Package rag's worker.go implements the indexing worker's poll loop
// (§4.7): drains the pending indexing_jobs queue with bounded
// parallelism, chunks the target content, embeds each chunk, and replaces
// the prior embedding rows. The poll-then-bounded-fan-out shape is
// grounded on the teacher's background.go ticker loop, generalized from
// "one goroutine per named background agent" to "one poll tick feeding a
// bounded worker pool."
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/external"
	"github.com/madhatter5501/dispatchd/internal/metrics"
	"github.com/madhatter5501/dispatchd/internal/store"
)

const (
	pollInterval   = 5 * time.Second
	defaultMaxJobs = 3
)

// ContentSource resolves an indexing job's target reference to raw text,
// one implementation per job type (code file, document, ticket body). The
// indexer binary supplies these; the core knows nothing about how content
// is fetched.
type ContentSource interface {
	FetchCode(ctx context.Context, repositoryID, filePath string) (content string, err error)
	FetchDoc(ctx context.Context, docID string) (content string, err error)
	FetchTicket(ctx context.Context, ticketID string) (content string, err error)
}

// Worker drains the indexing job queue.
type Worker struct {
	store    store.IndexingStore
	content  ContentSource
	embedder external.EmbeddingProvider
	log      zerolog.Logger
	maxJobs  int
}

// New constructs an indexing Worker. maxJobs <= 0 uses defaultMaxJobs.
func New(s store.IndexingStore, content ContentSource, embedder external.EmbeddingProvider, log zerolog.Logger, maxJobs int) *Worker {
	if maxJobs <= 0 {
		maxJobs = defaultMaxJobs
	}
	return &Worker{store: s, content: content, embedder: ResolveEmbedder(embedder), log: log.With().Str("component", "indexer").Logger(), maxJobs: maxJobs}
}

// Run polls the job queue every pollInterval, claiming up to maxJobs
// oldest pending jobs per tick and processing them concurrently, until ctx
// is done.
func (w *Worker) Run(ctx context.Context) {
	w.tick(ctx)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	jobs, err := w.store.ClaimPendingIndexingJobs(w.maxJobs)
	if err != nil {
		w.log.Error().Err(err).Msg("claim pending indexing jobs failed")
		return
	}
	if len(jobs) == 0 {
		return
	}

	done := make(chan struct{}, len(jobs))
	for _, j := range jobs {
		j := j
		go func() {
			defer func() { done <- struct{}{} }()
			w.process(ctx, j)
		}()
	}
	for range jobs {
		<-done
	}
}

func (w *Worker) process(ctx context.Context, job domain.IndexingJob) {
	content, kind, contentID, err := w.fetch(ctx, job)
	if err != nil {
		w.fail(job.ID, job.Type, err)
		return
	}

	hash := contentHash(content)
	if job.Type == domain.IndexingCode {
		prior, ok, err := w.store.GetContentHash(job.RepositoryID, job.FilePath)
		if err == nil && ok && prior == hash {
			// S6 idempotence: unchanged file, no row churn.
			if err := w.store.MarkIndexingCompleted(job.ID); err != nil {
				w.log.Error().Err(err).Str("job_id", job.ID).Msg("mark completed failed")
			}
			metrics.IndexingJobsProcessedTotal.WithLabelValues(string(job.Type), "completed").Inc()
			return
		}
	}

	var chunks []string
	if job.Type == domain.IndexingCode {
		chunks = ChunkCode(content)
	} else {
		chunks = ChunkMarkdown(content)
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbeddingTimeout)
	vectors, err := w.embedder.EmbedBatch(embedCtx, chunks)
	cancel()
	if err != nil {
		w.fail(job.ID, job.Type, err)
		return
	}

	rows := make([]domain.Embedding, len(chunks))
	for i, c := range chunks {
		rows[i] = domain.Embedding{
			Kind:        kind,
			ContentID:   contentID,
			ChunkIndex:  i,
			ChunkText:   c,
			Vector:      vectors[i],
			ContentHash: hash,
		}
	}

	if err := w.store.ReplaceEmbeddings(kind, contentID, rows); err != nil {
		w.fail(job.ID, job.Type, err)
		return
	}
	if job.Type == domain.IndexingCode {
		_ = w.store.SetContentHash(job.RepositoryID, job.FilePath, hash)
	}
	if err := w.store.MarkIndexingCompleted(job.ID); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("mark completed failed")
		return
	}
	metrics.IndexingJobsProcessedTotal.WithLabelValues(string(job.Type), "completed").Inc()
}

func (w *Worker) fetch(ctx context.Context, job domain.IndexingJob) (content string, kind domain.EmbeddingKind, contentID string, err error) {
	switch job.Type {
	case domain.IndexingCode:
		content, err = w.content.FetchCode(ctx, job.RepositoryID, job.FilePath)
		return content, domain.EmbeddingCode, job.RepositoryID + ":" + job.FilePath, err
	case domain.IndexingDoc:
		content, err = w.content.FetchDoc(ctx, job.DocID)
		return content, domain.EmbeddingDoc, job.DocID, err
	case domain.IndexingTicket:
		content, err = w.content.FetchTicket(ctx, job.TicketID)
		return content, domain.EmbeddingTicket, job.TicketID, err
	default:
		return "", "", "", errUnknownJobType(job.Type)
	}
}

func (w *Worker) fail(jobID string, jobType domain.IndexingJobType, err error) {
	w.log.Error().Err(err).Str("job_id", jobID).Msg("indexing job failed")
	if markErr := w.store.MarkIndexingFailed(jobID, err.Error()); markErr != nil {
		w.log.Error().Err(markErr).Str("job_id", jobID).Msg("mark failed failed")
	}
	metrics.IndexingJobsProcessedTotal.WithLabelValues(string(jobType), "failed").Inc()
}

func contentHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

type errUnknownJobType domain.IndexingJobType

func (e errUnknownJobType) Error() string { return "unknown indexing job type: " + string(e) }
