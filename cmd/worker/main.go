// Command worker runs a single agent's out-of-process task executor
// (C7). It opens the same SQLite database as the broker (WAL mode
// permits concurrent multi-process readers/writers, §11) and claims work
// by polling agent_tasks directly. A distributed, wire-only deployment
// (worker and broker as genuinely separate hosts communicating solely
// over internal/transport) is future work noted in DESIGN.md — this
// exercise's Non-goals already exclude a multi-broker/clustered
// deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/agentworker"
	"github.com/madhatter5501/dispatchd/internal/audit"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/external"
	"github.com/madhatter5501/dispatchd/internal/store"
)

var version = "dev"

// echoProvider is the dependency-free external.LLMProvider used when no
// real model credentials are configured, so the worker is runnable out of
// the box; a flag selecting a real provider is future work once one is
// wired (the LLM itself is out of scope per §1).
type echoProvider struct{}

func (echoProvider) SendMessage(_ context.Context, req external.MessageRequest) (*external.MessageResponse, error) {
	prompt := req.SystemPrompt
	if len(prompt) > 200 {
		prompt = prompt[:200]
	}
	return &external.MessageResponse{Content: "acknowledged: " + prompt}, nil
}

func (echoProvider) ModelName() string { return "echo" }

func main() {
	var (
		dbPath      = flag.String("db", "dispatchd.db", "SQLite database path")
		agentName   = flag.String("agent", "", "Registered agent name to run as")
		verbose     = flag.Bool("verbose", false, "Debug-level logging")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("worker %s\n", version)
		os.Exit(0)
	}
	if *agentName == "" {
		fmt.Fprintln(os.Stderr, "missing required -agent flag")
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("agent_name", *agentName).Logger()

	db, err := store.Open(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()

	agent, err := db.GetAgentByName(*agentName)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve agent failed")
	}
	if !agent.Enabled {
		log.Fatal().Str("agent_id", agent.ID).Msg("agent is not enabled")
	}

	processor, err := agentworker.NewTemplateProcessor(promptSources(), echoProvider{})
	if err != nil {
		log.Fatal().Err(err).Msg("build prompt templates failed")
	}

	auditLogger := audit.NewStoreLogger(db)
	eventBus := bus.New()

	w := agentworker.New(*agent, db, eventBus, processor, auditLogger, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(doneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("stopping")
	w.Stop()
	cancel()
	<-doneCh
}

func promptSources() map[domain.TaskType]string {
	return map[domain.TaskType]string{
		domain.TaskMention:    "You are {{.AgentName}}, mentioned on ticket {{.TicketID}}:\n{{.CommentContent}}",
		domain.TaskRefinement: "You are {{.AgentName}}, refining new backlog ticket {{.TicketID}}: {{.CommentContent}}",
		domain.TaskManual:     "You are {{.AgentName}}, running a manual trigger: {{.Note}}",
	}
}
