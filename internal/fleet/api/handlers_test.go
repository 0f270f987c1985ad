package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/fleet/repository"
	"github.com/robofleet/robofleet/pkg/protocol"
)

type testEnv struct {
	router    *gin.Engine
	repo      *repository.MemoryStore
	directory *broker.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryStore()
	directory := broker.NewDirectory(nil, logger.Default())
	h := NewHandler(repo, directory, nil, logger.Default(), "0.3.1")

	router := gin.New()
	h.RegisterRoutes(router)
	RegisterSwagger(router)
	return &testEnv{router: router, repo: repo, directory: directory}
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// connectAgent registers a live broker connection and runs a fake agent
// that answers fetch_network with the given inventory.
func (e *testEnv) connectAgent(t *testing.T, robotID, networkReply string) *broker.Connection {
	t.Helper()
	conn := broker.NewConnection(robotID, logger.Default())
	e.directory.Add(conn)
	t.Cleanup(conn.Close)

	go func() {
		for {
			select {
			case msg := <-conn.Outgoing():
				if msg.Payload.Type != protocol.PayloadInstruction {
					continue
				}
				var content protocol.InstructionContent
				if err := json.Unmarshal(msg.Payload.Content, &content); err != nil {
					return
				}
				if content.Name != protocol.InstructionFetchNetwork {
					continue
				}
				reply, err := protocol.NewResponse(msg.SessionID, json.RawMessage(networkReply))
				if err != nil {
					return
				}
				raw, err := json.Marshal(reply)
				if err != nil {
					return
				}
				_ = conn.Recv(raw)
			case <-conn.Done():
				return
			}
		}
	}()
	return conn
}

func TestPing(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestMetaVersion(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/meta/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"0.3.1"}`, rec.Body.String())
}

func TestWhoAmIMintsIdentity(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodPost, "/api/ident/whoami", `{"username":"alice","mac":"AA"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WhoAmIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "robot_alice_AA", resp.RobotName)
	_, err := uuid.Parse(resp.RobotUUID)
	assert.NoError(t, err)

	// whoami never persists
	robots, err := e.repo.Robots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, robots)
}

func TestIdentSyncIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	body := `{"mac":"AA","name":"robot_alice_AA","uuid":"u1"}`
	for i := 0; i < 3; i++ {
		rec := e.request(t, http.MethodPost, "/api/ident/sync", body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	}

	rec := e.request(t, http.MethodGet, "/api/stats/robots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["u1"]`, rec.Body.String())
}

func TestIdentRetrieveFuzzyLookup(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, http.MethodPost, "/api/ident/sync", `{"mac":"AA","name":"robot_alice_AA","uuid":"u1"}`)
	e.request(t, http.MethodPost, "/api/ident/sync", `{"mac":"BB","name":"robot_alice_BB","uuid":"u2"}`)

	rec := e.request(t, http.MethodGet, "/api/ident/retrieve?username=alice&mac_address=AA", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"u1"`)

	rec = e.request(t, http.MethodGet, "/api/ident/retrieve?username=alice&mac_address=CC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())
}

func TestStatsRobot(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, http.MethodPost, "/api/ident/sync", `{"mac":"AA","name":"rover","uuid":"u1"}`)

	rec := e.request(t, http.MethodGet, "/api/stats/robot/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mac":"AA","name":"rover","uuid":"u1"}`, rec.Body.String())

	rec = e.request(t, http.MethodGet, "/api/stats/robot/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsOnlineRobotsTracksDirectory(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodGet, "/api/stats/online_robots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	conn := e.connectAgent(t, "r1", `[]`)
	rec = e.request(t, http.MethodGet, "/api/stats/online_robots", "")
	assert.JSONEq(t, `["r1"]`, rec.Body.String())

	e.directory.Remove("r1", conn)
	rec = e.request(t, http.MethodGet, "/api/stats/online_robots", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSetRobotNameNotConnected(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodPost, "/api/action/set_robot_name",
		`{"robot_uuid":"u1","new_robot_name":"rover"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "robot not connected", rec.Body.String())
}

func TestSetRobotNamePushesAndPersists(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.repo.RegisterRobot(context.Background(), "AA", "old", "u1"))

	// no fake agent: sync_robot_name needs no reply, and the test wants
	// to inspect the outgoing frame itself
	conn := broker.NewConnection("u1", logger.Default())
	e.directory.Add(conn)
	t.Cleanup(conn.Close)

	rec := e.request(t, http.MethodPost, "/api/action/set_robot_name",
		`{"robot_uuid":"u1","new_robot_name":"rover"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	robot, err := e.repo.RobotByUUID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, robot)
	assert.Equal(t, "rover", robot.Name)

	// the instruction actually went out on the link
	select {
	case msg := <-conn.Outgoing():
		var content protocol.InstructionContent
		require.NoError(t, json.Unmarshal(msg.Payload.Content, &content))
		assert.Equal(t, protocol.InstructionSyncRobotName, content.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no instruction reached the agent")
	}
}

func TestRefreshNetworkPersistsInventory(t *testing.T) {
	e := newTestEnv(t)
	inventory := `[{"index":1,"mtu":1500,"name":"eth0","hardware_addr":"00:11:22:33:44:55","flags":["up"],"addrs":[{"addr":"10.0.0.2/24"}]}]`
	e.connectAgent(t, "r1", inventory)

	before := time.Now().UTC()
	rec := e.request(t, http.MethodPost, "/api/action/refresh_network", `{"robot_id":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = e.request(t, http.MethodGet, "/api/stats/robot/r1/network", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RobotNetworkStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stats, 1)
	assert.Equal(t, "eth0", resp.Stats[0].Name)
	assert.Equal(t, 1500, resp.Stats[0].MTU)
	assert.False(t, resp.LastUpdated.Before(before.Truncate(time.Second)))
}

func TestRefreshNetworkNotConnected(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodPost, "/api/action/refresh_network", `{"robot_id":"ghost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "robot not connected", rec.Body.String())
}

func TestRefreshNetworkAllFansOut(t *testing.T) {
	e := newTestEnv(t)
	e.connectAgent(t, "r1", `[{"index":1,"mtu":1500,"name":"eth0","hardware_addr":"aa","flags":[],"addrs":[]}]`)
	e.connectAgent(t, "r2", `[{"index":2,"mtu":9000,"name":"eth1","hardware_addr":"bb","flags":[],"addrs":[]}]`)

	rec := e.request(t, http.MethodPost, "/api/action/refresh_network_all", "")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, id := range []string{"r1", "r2"} {
		row, err := e.repo.NetworkInfo(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, row, "inventory for %s", id)
	}
}

func TestNetworkStatsNotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/stats/robot/ghost/network", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequestBodies(t *testing.T) {
	e := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/ident/whoami"},
		{http.MethodPost, "/api/ident/sync"},
		{http.MethodPost, "/api/action/set_robot_name"},
		{http.MethodPost, "/api/action/refresh_network"},
	} {
		rec := e.request(t, tc.method, tc.path, `{"wrong":"shape"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
	}
}

func TestSwaggerIsServed(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodGet, "/swagger", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")

	rec = e.request(t, http.MethodGet, "/swagger/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}
