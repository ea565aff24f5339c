// Command indexer runs the indexing job engine (C10): an independent
// worker service draining the indexing_jobs queue with bounded
// parallelism and feeding embeddings into the vector store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/rag"
	"github.com/madhatter5501/dispatchd/internal/store"
)

var version = "dev"

// fsContentSource resolves code/doc/ticket targets from the local
// filesystem and the store: code reads the repository checkout on disk,
// doc reads a docs/ tree keyed by id, ticket concatenates the ticket's
// title and description with a blank line between. Fetching "a repository" is itself out
// of scope (the git platform collaborator, §1); this assumes the
// repository is already checked out at reposRoot/<repository_id>.
type fsContentSource struct {
	reposRoot string
	docsRoot  string
	tickets   store.TicketStore
}

func (s fsContentSource) FetchCode(_ context.Context, repositoryID, filePath string) (string, error) {
	full := filepath.Join(s.reposRoot, repositoryID, filePath)
	b, err := os.ReadFile(full)
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, "read code file", err)
	}
	return string(b), nil
}

func (s fsContentSource) FetchDoc(_ context.Context, docID string) (string, error) {
	full := filepath.Join(s.docsRoot, docID)
	b, err := os.ReadFile(full)
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, "read doc", err)
	}
	return string(b), nil
}

func (s fsContentSource) FetchTicket(_ context.Context, ticketID string) (string, error) {
	t, err := s.tickets.GetTicket(ticketID)
	if err != nil {
		return "", err
	}
	return t.Title + "\n\n" + t.Description, nil
}

func main() {
	var (
		dbPath      = flag.String("db", "dispatchd.db", "SQLite database path")
		reposRoot   = flag.String("repos", ".", "Root directory containing checked-out repositories")
		docsRoot    = flag.String("docs", "./docs", "Root directory containing indexable documents")
		maxJobs     = flag.Int("max-jobs", 3, "Maximum concurrent indexing jobs per poll tick")
		verbose     = flag.Bool("verbose", false, "Debug-level logging")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("indexer %s\n", version)
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("component", "indexer").Logger()

	if !rag.HasExternalAPIKey() {
		log.Warn().Msg("no embedding API key configured; using hash-based fallback embeddings")
	}

	db, err := store.Open(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()

	content := fsContentSource{reposRoot: *reposRoot, docsRoot: *docsRoot, tickets: db}
	worker := rag.New(db, content, nil, log, *maxJobs)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(doneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("stopping")
	cancel()
	<-doneCh
}
