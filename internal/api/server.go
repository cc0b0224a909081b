// Package api provides the HTTP API for observing and steering a horde world.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/invopop/jsonschema"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/persistence"
	"github.com/talgya/horde/internal/world"
)

const maxSSEConns = 2

// Server serves the world state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey string // Bearer token for SSE stream endpoint. Empty = streaming disabled.

	// SpawnLimit caps spawn requests per client per minute (0 = 30).
	SpawnLimit int

	started  time.Time
	sseConns int32
	hub      *streamHub
	limiter  *RateLimiter
	srv      *http.Server
}

// Handler builds the routed handler. Start calls it; tests use it directly.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	if s.limiter == nil {
		limit := s.SpawnLimit
		if limit <= 0 {
			limit = 30
		}
		s.limiter = NewRateLimiter(limit, time.Minute)
	}
	if s.hub == nil {
		s.hub = newStreamHub(s.Sim)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/cell/", s.handleCell)
	mux.HandleFunc("/api/v1/map", s.handleMap)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/scheduler", s.handleScheduler)
	mux.HandleFunc("/api/v1/settings/schema", s.handleSettingsSchema)

	// Live streams.
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/ws", s.hub.handle)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/settings", s.adminOnly(s.handleSettings))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/spawn", s.adminOnly(RateLimitMiddleware(s.limiter, s.handleSpawn)))
	mux.HandleFunc("/api/v1/door", s.adminOnly(s.handleDoor))
	mux.HandleFunc("/api/v1/tether", s.adminOnly(s.handleTether))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Close stops the listener and background helpers.
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.hub != nil {
		s.hub.close()
	}
	if s.srv != nil {
		return s.srv.Close()
	}
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no HORDE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Sim.CurrentTick()
	st := s.Sim.Stats()
	status := map[string]any{
		"name":            "Horde",
		"world_id":        s.Sim.WorldID,
		"tick":            tick,
		"sim_time":        engine.SimTime(tick),
		"phase":           engine.PhaseName(engine.DayPhase(tick)),
		"stage":           engine.StageName(s.Sim.Stage()),
		"speed":           s.Eng.Speed(),
		"running":         s.Eng.Running(),
		"agents":          st.Agents,
		"agents_human":    humanize.Comma(int64(st.Agents)),
		"pawns_alive":     st.PawnsAlive,
		"percent_ticking": s.Sim.Scheduler.Percent(),
		"topology":        s.Sim.TopologyVersion(),
		"started":         humanize.Time(s.started),
	}
	writeJSON(w, status)
}

type agentSummary struct {
	ID          agents.AgentID `json:"id"`
	X           int            `json:"x"`
	Y           int            `json:"y"`
	State       string         `json:"state"`
	Destination *world.Cell    `json:"destination,omitempty"`
	Raging      bool           `json:"raging"`
	Downed      bool           `json:"downed"`
	Health      float32        `json:"health"`
	Traits      []string       `json:"traits,omitempty"`
}

func summarize(a *agents.Agent, now int64) agentSummary {
	out := agentSummary{
		ID:     a.ID,
		X:      a.Position.X,
		Y:      a.Position.Y,
		State:  agents.StateName(a.State),
		Raging: a.Raging(now),
		Downed: a.Downed,
		Health: a.Health,
		Traits: a.Traits.Names(),
	}
	if a.HasDestination() {
		d := a.Destination()
		out.Destination = &d
	}
	return out
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	state := strings.ToLower(r.URL.Query().Get("state"))
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	now := s.Sim.CurrentTick()
	result := []agentSummary{}
	for _, a := range s.Sim.AgentsSnapshot() {
		if state != "" && strings.ToLower(agents.StateName(a.State)) != state {
			continue
		}
		result = append(result, summarize(&a, now))
		if len(result) >= limit {
			break
		}
	}
	writeJSON(w, result)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	a, ok := s.Sim.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, summarize(&a, s.Sim.CurrentTick()))
}

// handleCell reports the grid state at /api/v1/cell/:x/:y.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/cell/"), "/")
	if len(parts) != 2 {
		http.Error(w, "want /api/v1/cell/:x/:y", http.StatusBadRequest)
		return
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	if errX != nil || errY != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	d, ok := s.Sim.DebugSnapshot(world.Cell{X: x, Y: y})
	if !ok {
		http.Error(w, "cell out of bounds", http.StatusNotFound)
		return
	}
	writeJSON(w, d)
}

// handleMap returns the tile layout as rows of glyphs plus live positions.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	f := s.Sim.Frame()
	rows := make([]string, f.Height)
	var sb strings.Builder
	for y := 0; y < f.Height; y++ {
		sb.Reset()
		for x := 0; x < f.Width; x++ {
			sb.WriteByte(tileGlyph(f.Tiles[y*f.Width+x]))
		}
		rows[y] = sb.String()
	}
	writeJSON(w, map[string]any{
		"width":  f.Width,
		"height": f.Height,
		"tick":   f.Tick,
		"rows":   rows,
		"agents": f.Agents,
		"pawns":  f.Pawns,
	})
}

func tileGlyph(t world.TileInfo) byte {
	switch t.Tile {
	case world.TileWall:
		return '#'
	case world.TileRock:
		return '%'
	case world.TileBuilding:
		return '='
	case world.TileDoor:
		if t.Open {
			return '/'
		}
		return '+'
	}
	if t.Valuable {
		return ','
	}
	return '.'
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	// ?source=saved reads the persisted log, which outlives the
	// in-memory ring.
	var events []engine.Event
	if r.URL.Query().Get("source") == "saved" {
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		var err error
		if events, err = s.DB.RecentEvents(limit); err != nil {
			slog.Error("reading saved events failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	} else {
		events = s.Sim.Events(limit)
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []engine.Event{}
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	last := s.Sim.Scheduler.Last()
	cfg := s.Sim.Scheduler.Config()
	writeJSON(w, map[string]any{
		"percent":     s.Sim.Scheduler.Percent(),
		"eligible":    last.Eligible,
		"max_updates": last.MaxUpdates,
		"quota":       last.Quota,
		"completed":   last.Completed,
		"panics":      last.Panics,
		"elapsed":     last.Elapsed.String(),
		"workers":     cfg.Workers,
		"update_cost": cfg.UpdateCost.String(),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		cfg := s.Sim.GetSettings()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.Sim.SetSettings(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("settings changed", "settings", fmt.Sprintf("%+v", cfg))
	}
	writeJSON(w, s.Sim.GetSettings())
}

func (s *Server) handleSettingsSchema(w http.ResponseWriter, r *http.Request) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&config.Settings{})
	schema.Title = "Horde settings"
	writeJSON(w, schema)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleSpawn raises agents: {"x":..,"y":..} for one at a cell, or
// {"count":n} for a wave on random open ground.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		X     *int `json:"x"`
		Y     *int `json:"y"`
		Count int  `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.X != nil && req.Y != nil {
		id, ok := s.Sim.Spawn(world.Cell{X: *req.X, Y: *req.Y})
		if !ok {
			http.Error(w, "spawn refused", http.StatusConflict)
			return
		}
		writeJSON(w, map[string]any{"spawned": 1, "id": id})
		return
	}
	if req.Count <= 0 || req.Count > 500 {
		http.Error(w, "count must be 1-500", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"spawned": s.Sim.SpawnWave(req.Count)})
}

func (s *Server) handleDoor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		X    int  `json:"x"`
		Y    int  `json:"y"`
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c := world.Cell{X: req.X, Y: req.Y}
	if !s.Sim.SetDoor(c, req.Open) {
		http.Error(w, "no door there", http.StatusNotFound)
		return
	}
	s.Sim.EmitEvent(engine.Event{
		Tick:        s.Sim.CurrentTick(),
		Category:    "topology",
		Description: fmt.Sprintf("door at %s set open=%t", c, req.Open),
	})
	writeJSON(w, map[string]any{"x": req.X, "y": req.Y, "open": req.Open})
}

// handleTether leashes an agent to a pawn: {"agent":..,"pawn":..,"length":..}.
// A length of zero releases the agent.
func (s *Server) handleTether(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Agent  agents.AgentID `json:"agent"`
		Pawn   world.PawnID   `json:"pawn"`
		Length int            `json:"length"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Sim.Tether(req.Agent, req.Pawn, req.Length); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, req)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveWorldState(s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "snapshot saved",
	})
}

// handleStream relays events as server-sent events to one trusted relay.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)

	for _, e := range s.Sim.Events(50) {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e engine.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Category, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
