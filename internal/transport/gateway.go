// Package transport implements C11: the bidirectional gateway remote
// agent workers and clients speak, multiplexing event deliveries and
// RPC request/response over one framed connection. Generalized from the
// teacher's internal/web/sse.go (one-way Server-Sent Events: a
// messageChan registered under a mutex-guarded client set, cleaned up on
// client disconnect) into a true bidirectional connection using
// gorilla/websocket, since remote workers must also push task results and
// RPC calls back, not just receive.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/bus"
)

// writeTimeout bounds a single frame write, preventing one slow client
// from blocking its session's writer goroutine indefinitely.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agent workers and browser clients may originate from a different
	// host/port than the gateway during local development; the core
	// does not enforce origin policy, leaving it to a reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway upgrades HTTP connections to websockets and multiplexes each
// connection's topic subscriptions onto the shared event bus, and its RPC
// frames onto the shared Router.
type Gateway struct {
	bus    *bus.Bus
	router *bus.Router
	log    zerolog.Logger
}

// New constructs a Gateway.
func New(b *bus.Bus, router *bus.Router, log zerolog.Logger) *Gateway {
	return &Gateway{bus: b, router: router, log: log.With().Str("component", "transport").Logger()}
}

// ServeHTTP upgrades the request and runs the connection's read/write
// loops until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	session := newSession(conn, g.bus, g.router, g.log)
	session.run(r.Context())
}

// session is one connected client or worker's live subscriptions plus its
// outbound write queue.
type session struct {
	conn   *websocket.Conn
	bus    *bus.Bus
	router *bus.Router
	log    zerolog.Logger

	outbox  chan bus.Frame
	subs    map[string]<-chan bus.Frame
	cancel  map[string]context.CancelFunc
}

func newSession(conn *websocket.Conn, b *bus.Bus, router *bus.Router, log zerolog.Logger) *session {
	return &session{
		conn:   conn,
		bus:    b,
		router: router,
		log:    log,
		outbox: make(chan bus.Frame, 64),
		subs:   map[string]<-chan bus.Frame{},
		cancel: map[string]context.CancelFunc{},
	}
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeAll()

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) {
	defer s.conn.Close()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f bus.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.outbox:
			if !ok {
				return
			}
			raw, err := json.Marshal(f)
			if err != nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame: SUB/UNSUB manage this session's
// topic subscriptions, a frame carrying a Topic but no Path is published
// on that topic with its Method (the event kind) intact, any other frame
// with a non-empty Method is an RPC call, and everything else is ignored.
func (s *session) handle(ctx context.Context, f bus.Frame) {
	switch {
	case f.Method == "SUB":
		s.subscribe(f.Topic)
	case f.Method == "UNSUB":
		s.unsubscribe(f.Topic)
	case f.Topic != "" && f.Path == "":
		// Topic publish from a worker (e.g. broadcast-on-my-behalf,
		// §6.2's "broadcast" endpoint equivalent over the wire).
		s.bus.Publish(f.Topic, f)
	case f.Method != "":
		s.handleRPC(ctx, f)
	}
}

func (s *session) subscribe(topic string) {
	if topic == "" {
		return
	}
	if _, ok := s.subs[topic]; ok {
		return
	}
	ch := s.bus.Subscribe(topic, 0)
	s.subs[topic] = ch

	subCtx, cancel := context.WithCancel(context.Background())
	s.cancel[topic] = cancel
	go s.forward(subCtx, ch)
}

func (s *session) unsubscribe(topic string) {
	ch, ok := s.subs[topic]
	if !ok {
		return
	}
	if cancel, ok := s.cancel[topic]; ok {
		cancel()
	}
	s.bus.Unsubscribe(ch)
	delete(s.subs, topic)
	delete(s.cancel, topic)
}

func (s *session) forward(ctx context.Context, ch <-chan bus.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.outbox <- f:
			default:
				s.log.Warn().Str("topic", f.Topic).Msg("outbox full, dropping frame to slow client")
			}
		}
	}
}

func (s *session) handleRPC(ctx context.Context, f bus.Frame) {
	result, err := s.router.Dispatch(ctx, f.Method, f.Path, f.Query, f.Data)
	resp := bus.Frame{ID: f.ID, Method: f.Method, Path: f.Path}
	if err != nil {
		resp.Error = err.Error()
		if ae, ok := err.(*apperr.Error); ok {
			resp.Error = string(ae.Kind) + ": " + ae.Message
		}
		select {
		case s.outbox <- resp:
		default:
		}
		return
	}
	data, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		resp.Error = "internal: failed to marshal response"
		select {
		case s.outbox <- resp:
		default:
		}
		return
	}
	resp.Data = data
	select {
	case s.outbox <- resp:
	default:
	}
}

func (s *session) closeAll() {
	for topic := range s.subs {
		s.unsubscribe(topic)
	}
	close(s.outbox)
}
