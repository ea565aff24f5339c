// Command broker runs the main service: persistent store, event bus,
// task-dispatch broker, agent-state tracker, and the §6.2 RPC/websocket
// surface. Flag-based configuration follows the teacher's cmd/factory
// main.go (flag.String/Duration, no cobra/viper per SPEC_FULL.md §10).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/agentstate"
	"github.com/madhatter5501/dispatchd/internal/api"
	"github.com/madhatter5501/dispatchd/internal/broker"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/store"
	"github.com/madhatter5501/dispatchd/internal/streaming"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		dbPath      = flag.String("db", "dispatchd.db", "SQLite database path")
		addr        = flag.String("addr", ":8080", "HTTP/websocket listen address")
		verbose     = flag.Bool("verbose", false, "Debug-level logging")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("broker %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	db, err := store.Open(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()

	eventBus := bus.New()
	router := bus.NewRouter()

	b := broker.New(broker.Stores{Tickets: db, Comments: db, Agents: db, Tasks: db}, eventBus, log)
	tracker := agentstate.New(db, eventBus)
	streamer := streaming.New(db, eventBus)
	b.SetStreamer(streamer)

	handlers := &api.Handlers{
		Tickets:  db,
		Comments: db,
		Agents:   db,
		Tasks:    db,
		Stats:    db,
		Broker:   b,
		Streamer: streamer,
		Tracker:  tracker,
		Bus:      eventBus,
	}
	handlers.Register(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.StartSweeper(ctx)

	server := &http.Server{Addr: *addr, Handler: api.NewServer(router, eventBus, log)}

	go func() {
		log.Info().Str("addr", *addr).Msg("broker listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	b.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
