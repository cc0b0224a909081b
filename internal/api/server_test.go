package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/persistence"
	"github.com/talgya/horde/internal/world"
)

const testKey = "secret"

var testDoor = world.Cell{X: 6, Y: 3}

func newTestServer(t *testing.T, configure func(*Server)) (*Server, *httptest.Server) {
	t.Helper()
	m := world.NewMap(12, 8)
	m.Set(testDoor, world.TileInfo{Tile: world.TileDoor, HP: world.DoorHP})
	sim := engine.NewSimulation(m, engine.DefaultOptions(1))
	sim.PrepareAll()

	srv := &Server{Sim: sim, Eng: engine.NewEngine(), AdminKey: testKey}
	if configure != nil {
		configure(srv)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func post(t *testing.T, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t, nil)
	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", &status))
	assert.Equal(t, "Horde", status["name"])
	assert.Equal(t, "ready", status["stage"])
	assert.Equal(t, "Day 1, 0:00", status["sim_time"])
}

func TestCellEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.Sim.Grid.Bump(world.Cell{X: 3, Y: 2}, 42)

	var d engine.Debug
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/cell/3/2", &d))
	assert.Equal(t, int64(42), d.Timestamp)
	assert.Equal(t, "Floor", d.Tile)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/cell/30/2", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/cell/x/2", nil))
}

func TestAgentsEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	id, ok := srv.Sim.Spawn(world.Cell{X: 1, Y: 1})
	require.True(t, ok)

	var list []agentSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agents?state=rising", &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agents?state=tracking", &list))
	assert.Empty(t, list)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/agent/999", nil))
}

func TestAdminRequiresToken(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp := post(t, ts.URL+"/api/v1/speed", "", `{"speed":2}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/speed", testKey, `{"speed":2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, srv.Eng.Speed())

	_, closed := newTestServer(t, func(s *Server) { s.AdminKey = "" })
	resp = post(t, closed.URL+"/api/v1/speed", testKey, `{"speed":2}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSpawnIsRateLimited(t *testing.T) {
	srv, ts := newTestServer(t, func(s *Server) { s.SpawnLimit = 2 })

	assert.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/spawn", testKey, `{"x":1,"y":1}`).StatusCode)
	assert.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/spawn", testKey, `{"count":3}`).StatusCode)
	resp := post(t, ts.URL+"/api/v1/spawn", testKey, `{"x":2,"y":1}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.GreaterOrEqual(t, srv.Sim.AgentCount(), 2)
}

func TestSettingsUpdateAndValidation(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp := post(t, ts.URL+"/api/v1/settings", testKey, `{"max_agents":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/settings", testKey, `{"rage_level":5,"workers":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, srv.Sim.GetSettings().RageLevel)
	assert.Equal(t, 2, srv.Sim.Scheduler.Config().Workers)
}

func TestSettingsSchema(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/v1/settings/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"max_agents"`)
	assert.Contains(t, string(body), `"fade_window_seconds"`)
}

func TestDoorEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp := post(t, ts.URL+"/api/v1/door", testKey, `{"x":6,"y":3,"open":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, srv.Sim.Map.IsWalkable(testDoor))
	assert.True(t, srv.Sim.Regions.Dirty())

	resp = post(t, ts.URL+"/api/v1/door", testKey, `{"x":1,"y":1,"open":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSnapshotWithoutDatabase(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := post(t, ts.URL+"/api/v1/snapshot", testKey, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTetherEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.Sim.Map.AddPawn(&world.Pawn{ID: 5, Name: "Ada", Position: world.Cell{X: 2, Y: 2}, Health: 1})
	id, ok := srv.Sim.Spawn(world.Cell{X: 9, Y: 2})
	require.True(t, ok)

	resp := post(t, ts.URL+"/api/v1/tether", "", fmt.Sprintf(`{"agent":%d,"pawn":5,"length":2}`, id))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/tether", testKey, fmt.Sprintf(`{"agent":%d,"pawn":5,"length":2}`, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, srv.Sim.AgentIndex[id].Tether)
	assert.Equal(t, world.PawnID(5), srv.Sim.AgentIndex[id].Tether.Holder)

	resp = post(t, ts.URL+"/api/v1/tether", testKey, fmt.Sprintf(`{"agent":%d,"pawn":77,"length":2}`, id))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = post(t, ts.URL+"/api/v1/tether", testKey, `{"agent":999,"pawn":5,"length":2}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/tether", testKey, fmt.Sprintf(`{"agent":%d,"pawn":5,"length":0}`, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, srv.Sim.AgentIndex[id].Tether)
}

func TestSavedEvents(t *testing.T) {
	_, ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/v1/events?source=saved", nil))

	db, err := persistence.Open(filepath.Join(t.TempDir(), "horde.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv, ts := newTestServer(t, func(s *Server) { s.DB = db })
	srv.Sim.EmitEvent(engine.Event{Category: "door", Description: "door opened"})
	require.NoError(t, db.SaveWorldState(srv.Sim))
	srv.Sim.EmitEvent(engine.Event{Category: "door", Description: "door closed"})

	var saved []engine.Event
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/events?source=saved&category=door", &saved))
	require.Len(t, saved, 1)
	assert.Equal(t, "door opened", saved[0].Description)

	var live []engine.Event
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/events?category=door", &live))
	assert.Len(t, live, 2)

	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", &status))
	assert.Contains(t, status, "topology")
}

func readFrame(t *testing.T, conn *websocket.Conn) *structpb.Struct {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	return &st
}

func TestWebsocketStream(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.Sim.Grid.Bump(world.Cell{X: 2, Y: 2}, 99)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, "stats", first.GetFields()["kind"].GetStringValue())

	req, err := structpb.NewStruct(map[string]any{"type": "cell", "x": 2, "y": 2})
	require.NoError(t, err)
	data, err := proto.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	for i := 0; i < 5; i++ {
		f := readFrame(t, conn)
		if f.GetFields()["kind"].GetStringValue() != "cell" {
			continue
		}
		assert.Equal(t, 99.0, f.GetFields()["timestamp"].GetNumberValue())
		return
	}
	t.Fatal("no cell frame received")
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}
