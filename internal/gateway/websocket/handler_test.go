package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/pkg/protocol"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Directory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	directory := broker.NewDirectory(nil, logger.Default())
	router := gin.New()
	NewHandler(directory, logger.Default()).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, directory
}

func dialAgent(t *testing.T, srv *httptest.Server, robotID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/robots/" + robotID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func awaitOnline(t *testing.T, d *broker.Directory, robotID string, online bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := d.Get(robotID)
		return ok == online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgentLinkLifecycle(t *testing.T) {
	srv, directory := newTestServer(t)

	ws := dialAgent(t, srv, "r1")
	awaitOnline(t, directory, "r1", true)

	require.NoError(t, ws.Close())
	awaitOnline(t, directory, "r1", false)
}

func TestFetchNetworkOverTheWire(t *testing.T) {
	srv, directory := newTestServer(t)

	ws := dialAgent(t, srv, "r1")
	awaitOnline(t, directory, "r1", true)
	conn, ok := directory.Get("r1")
	require.True(t, ok)

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, err := conn.SendInstruction(ctx, broker.FetchNetwork{})
		done <- result{raw, err}
	}()

	// play the agent end of the link
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg protocol.Message
	require.NoError(t, json.Unmarshal(frame, &msg))
	require.Equal(t, protocol.PayloadInstruction, msg.Payload.Type)

	var content protocol.InstructionContent
	require.NoError(t, json.Unmarshal(msg.Payload.Content, &content))
	require.Equal(t, protocol.InstructionFetchNetwork, content.Name)

	reply, err := protocol.NewResponse(msg.SessionID, json.RawMessage(`[{"index":1,"mtu":1500,"name":"eth0","hardware_addr":"aa","flags":[],"addrs":[]}]`))
	require.NoError(t, err)
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, string(res.raw), "eth0")
}

func TestCloseFrameRemovesSession(t *testing.T) {
	srv, directory := newTestServer(t)

	ws := dialAgent(t, srv, "r1")
	awaitOnline(t, directory, "r1", true)
	conn, ok := directory.Get("r1")
	require.True(t, ok)

	sessionID := "11111111-1111-1111-1111-111111111111"
	event := `{"session_id":"` + sessionID + `","local_timestamp":0,"payload":{"type":"event","content":{"event":"heartbeat","detail":{}}}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(event)))

	require.Eventually(t, func() bool { return conn.SessionCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	closeFrame := `{"session_id":"` + sessionID + `","local_timestamp":0,"payload":{"type":"close"}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(closeFrame)))

	require.Eventually(t, func() bool { return conn.SessionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameKeepsLinkAlive(t *testing.T) {
	srv, directory := newTestServer(t)

	ws := dialAgent(t, srv, "r1")
	awaitOnline(t, directory, "r1", true)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	// link survives: a later well-formed frame still lands
	conn, ok := directory.Get("r1")
	require.True(t, ok)
	event := `{"session_id":"22222222-2222-2222-2222-222222222222","local_timestamp":0,"payload":{"type":"event","content":{"event":"heartbeat","detail":{}}}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(event)))
	require.Eventually(t, func() bool { return conn.SessionCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestNewestLinkReplacesOld(t *testing.T) {
	srv, directory := newTestServer(t)

	dialAgent(t, srv, "r1")
	awaitOnline(t, directory, "r1", true)
	first, _ := directory.Get("r1")

	dialAgent(t, srv, "r1")
	require.Eventually(t, func() bool {
		cur, ok := directory.Get("r1")
		return ok && cur != first
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("old link was not closed")
	}
}
