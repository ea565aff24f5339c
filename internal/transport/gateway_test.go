package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/bus"
)

func startTestGateway(t *testing.T) (*bus.Bus, *bus.Router, *websocket.Conn) {
	t.Helper()
	b := bus.New()
	router := bus.NewRouter()
	gw := New(b, router, zerolog.Nop())

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return b, router, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) bus.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f bus.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestGatewaySubscribeForwardsBusPublish(t *testing.T) {
	b, _, conn := startTestGateway(t)

	sub, _ := json.Marshal(bus.Frame{Method: "SUB", Topic: "/tickets/1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	time.Sleep(50 * time.Millisecond) // let the session register the subscription

	b.Publish("/tickets/1", bus.Frame{Method: "comment:created"})

	f := readFrame(t, conn)
	require.Equal(t, "comment:created", f.Method)
	require.Equal(t, "/tickets/1", f.Topic)
}

func TestGatewayUnsubscribeStopsForwarding(t *testing.T) {
	b, _, conn := startTestGateway(t)

	sub, _ := json.Marshal(bus.Frame{Method: "SUB", Topic: "/tickets/1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	time.Sleep(50 * time.Millisecond)

	unsub, _ := json.Marshal(bus.Frame{Method: "UNSUB", Topic: "/tickets/1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, unsub))
	time.Sleep(50 * time.Millisecond)

	b.Publish("/tickets/1", bus.Frame{Method: "comment:created"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame after unsubscribe")
}

func TestGatewayRPCRoundTrip(t *testing.T) {
	_, router, conn := startTestGateway(t)
	router.Handle("GET", "/ping", func(context.Context, bus.Request) (any, error) {
		return map[string]string{"pong": "true"}, nil
	})

	req, _ := json.Marshal(bus.Frame{ID: "req-1", Method: "GET", Path: "/ping"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))

	resp := readFrame(t, conn)
	require.Equal(t, "req-1", resp.ID)
	require.Empty(t, resp.Error)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	require.Equal(t, "true", body["pong"])
}

func TestGatewayRPCErrorIsSurfacedAsKindMessage(t *testing.T) {
	_, _, conn := startTestGateway(t)

	req, _ := json.Marshal(bus.Frame{ID: "req-2", Method: "GET", Path: "/no-such-route"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))

	resp := readFrame(t, conn)
	require.NotEmpty(t, resp.Error)
	require.Contains(t, resp.Error, "not_found:")
}

func TestGatewayBareTopicPublishFromWorker(t *testing.T) {
	b, _, conn := startTestGateway(t)
	otherCh := b.Subscribe("/tickets/7", 4)

	publish, _ := json.Marshal(bus.Frame{Topic: "/tickets/7", Method: "comment:broadcast"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, publish))

	select {
	case f := <-otherCh:
		require.Equal(t, "comment:broadcast", f.Method)
	case <-time.After(time.Second):
		t.Fatal("expected the bare topic publish to reach other subscribers")
	}
}
