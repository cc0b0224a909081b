// Simulation ties one world's horde state together and runs it each tick.
// Every world owns its own bundle; nothing here is process-global.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/avoidance"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/grid"
	"github.com/talgya/horde/internal/regions"
	"github.com/talgya/horde/internal/world"
)

// Simulation holds the complete horde state of one world.
// Exported fields are owned by the simulation; read them only through
// the accessor methods while the engine is running.
type Simulation struct {
	mu sync.RWMutex

	WorldID uuid.UUID
	Seed    int64

	Map        *world.Map
	Grid       *grid.Grid
	Avoid      *avoidance.Field
	Regions    *regions.Graph
	Agents     []*agents.Agent
	AgentIndex map[agents.AgentID]*agents.Agent
	Spawner    *agents.Spawner
	Scheduler  *Scheduler
	Settings   config.Settings
	LastTick   int64 // Most recent tick processed

	host    *worldHost
	staging staging
	clock   func() time.Time
	pawnRng *rand.Rand
	waveRng *rand.Rand

	// Filled by agent steps on worker goroutines.
	actions  [actionKinds]atomic.Uint64
	notesMu  sync.Mutex
	notes    []agents.Action
	lastStep TickStats

	stats SimStats

	eventsMu sync.Mutex
	events   []Event
	subs     map[int]chan Event
	nextSub  int
}

// Errors returned by roster commands.
var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrUnknownPawn  = errors.New("unknown or dead pawn")
)

// actionKinds sizes the per-kind action counters.
const actionKinds = int(agents.ActionIdle) + 1

// maxEvents bounds the event ring.
const maxEvents = 1000

// WaveSize is how many agents rise at each dusk.
const WaveSize = 40

// Event is a notable occurrence in the world.
type Event struct {
	Tick        int64          `json:"tick"`
	Description string         `json:"description"`
	Category    string         `json:"category"` // "spawn", "death", "attack", "smash", "topology", "tether", "system"
	Meta        map[string]any `json:"meta,omitempty"`
}

// SimStats tracks aggregate world statistics.
type SimStats struct {
	Agents     int `json:"agents"`
	Rising     int `json:"rising"`
	Idle       int `json:"idle"`
	Tracking   int `json:"tracking"`
	Wandering  int `json:"wandering"`
	Raging     int `json:"raging"`
	Downed     int `json:"downed"`
	PawnsAlive int `json:"pawns_alive"`

	// Cumulative.
	Spawned             int `json:"spawned"`
	Deaths              int `json:"deaths"`
	PawnsDowned         int `json:"pawns_downed"`
	PawnsKilled         int `json:"pawns_killed"`
	PawnsFled           int `json:"pawns_fled"`
	AgentsInjured       int `json:"agents_injured"`
	StructuresDestroyed int `json:"structures_destroyed"`

	Occupancy  int    `json:"occupancy"`
	Violations uint64 `json:"violations"`
}

// Debug is everything the core knows about one cell.
type Debug struct {
	Cell      world.Cell `json:"cell"`
	Timestamp int64      `json:"timestamp"`
	Occupancy int        `json:"occupancy"`
	Cost      int        `json:"cost"`
	Region    int32      `json:"region"`
	Tile      string     `json:"tile"`
}

// Options configure a new simulation.
type Options struct {
	Settings  config.Settings
	Seed      int64
	Scheduler SchedulerConfig
	Avoidance avoidance.Config
	Clock     func() time.Time // nil = time.Now
}

// DefaultOptions returns options with default settings and tuning.
func DefaultOptions(seed int64) Options {
	return Options{
		Settings:  config.Default(),
		Seed:      seed,
		Scheduler: DefaultSchedulerConfig(),
		Avoidance: avoidance.DefaultConfig(),
	}
}

// NewSimulation creates the horde bundle for m and starts staging.
func NewSimulation(m *world.Map, opts Options) *Simulation {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	schedCfg := opts.Scheduler
	schedCfg.Workers = opts.Settings.Workers

	s := &Simulation{
		WorldID:    uuid.New(),
		Seed:       opts.Seed,
		Map:        m,
		Grid:       grid.New(m.Width, m.Height),
		Avoid:      avoidance.New(m.Width, m.Height, opts.Avoidance),
		Regions:    regions.New(m.Width, m.Height, m, m.Valuable),
		AgentIndex: make(map[agents.AgentID]*agents.Agent),
		Spawner:    agents.NewSpawner(opts.Seed),
		Scheduler:  NewScheduler(schedCfg, opts.Seed, opts.Clock),
		Settings:   opts.Settings,
		host:       newWorldHost(m),
		clock:      opts.Clock,
		pawnRng:    rand.New(rand.NewSource(opts.Seed + 700)),
		waveRng:    rand.New(rand.NewSource(opts.Seed + 800)),
		subs:       make(map[int]chan Event),
	}
	m.OnTopologyChanged(s.topologyChanged)
	s.prepare(false)
	return s
}

// Restore replaces the roster with saved agents and, when the saved
// timestamps fit the grid, the saved scent. Destinations are trusted only
// as claims: occupancy is recounted from them once staging finishes.
func (s *Simulation) Restore(saved []*agents.Agent, timestamps []int64, lastTick int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Agents = saved
	s.AgentIndex = make(map[agents.AgentID]*agents.Agent, len(saved))
	var maxID agents.AgentID
	for _, a := range saved {
		s.AgentIndex[a.ID] = a
		maxID = max(maxID, a.ID)
	}
	s.Spawner.SetNextID(maxID + 1)
	s.LastTick = lastTick

	keep := timestamps != nil && s.Grid.RestoreTimestamps(timestamps)
	if timestamps != nil && !keep {
		slog.Warn("saved scent does not fit the grid, starting fresh", "cells", len(timestamps))
	}
	s.prepare(keep)
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// Tick advances the world by one step. While the world is still staging
// it performs one chunk of preparation instead.
func (s *Simulation) Tick(now int64, budget Budget) TickStats {
	start := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staging.stage != StageReady {
		s.prepareStep()
		return TickStats{}
	}
	s.LastTick = now

	fled, struck := s.tickPawns(now)
	s.stats.PawnsFled += fled
	s.stats.AgentsInjured += struck
	s.host.refreshCenter()
	if s.Regions.Dirty() && s.Regions.Step(regionChunksPerStep) {
		s.EmitEvent(Event{
			Tick:        now,
			Category:    "topology",
			Description: fmt.Sprintf("region graph rebuilt (%d regions)", s.Regions.Trees().Regions()),
		})
	}

	night, progress := NightWindow(now)
	env := &agents.Env{
		Grid:          s.Grid,
		Avoid:         s.Avoid,
		Regions:       s.Regions,
		Host:          s.host,
		Settings:      s.Settings,
		Now:           now,
		Night:         night,
		NightProgress: progress,
	}

	budget.HostElapsed += s.clock().Sub(start)
	st := s.Scheduler.Run(s.Agents, budget, func(a *agents.Agent, rng *rand.Rand) {
		s.note(agents.Decide(a, env, rng))
	})
	s.lastStep = st

	rep := s.host.flush(s.injureAt)
	s.stats.AgentsInjured += rep.AgentsInjured
	s.stats.PawnsDowned += rep.Downed
	s.stats.PawnsKilled += rep.Killed
	s.stats.StructuresDestroyed += rep.Destroyed
	if rep.Destroyed > 0 {
		s.EmitEvent(Event{Tick: now, Category: "smash", Description: fmt.Sprintf("%d structure(s) smashed or mined out", rep.Destroyed)})
	}
	if rep.Killed > 0 {
		s.EmitEvent(Event{Tick: now, Category: "attack", Description: fmt.Sprintf("the horde killed %d pawn(s)", rep.Killed)})
	}

	for _, a := range s.Agents {
		agents.Follow(a, env)
	}
	s.flushNotes(now)
	s.reap()

	if s.Avoid.Due(now) {
		s.Avoid.Request(now, agents.AvoidanceSources(s.Agents), s.passable())
	}
	s.updateStats()
	return st
}

func (s *Simulation) note(act agents.Action) {
	s.actions[act.Kind].Add(1)
	if act.Detail == "" {
		return
	}
	s.notesMu.Lock()
	s.notes = append(s.notes, act)
	s.notesMu.Unlock()
}

func (s *Simulation) flushNotes(now int64) {
	s.notesMu.Lock()
	notes := s.notes
	s.notes = nil
	s.notesMu.Unlock()

	for _, act := range notes {
		category := "death"
		if act.Kind == agents.ActionExplode {
			category = "attack"
		}
		s.EmitEvent(Event{
			Tick:        now,
			Description: act.Detail,
			Category:    category,
			Meta:        map[string]any{"agent": act.AgentID, "x": act.Target.X, "y": act.Target.Y},
		})
	}
}

// agentsByCell indexes the live agents by position.
func (s *Simulation) agentsByCell() map[world.Cell][]*agents.Agent {
	at := make(map[world.Cell][]*agents.Agent, len(s.Agents))
	for _, a := range s.Agents {
		if a.Active() {
			at[a.Position] = append(at[a.Position], a)
		}
	}
	return at
}

// injureAt hurts every live agent standing on c. Returns how many were hit.
func (s *Simulation) injureAt(c world.Cell, amount float32) int {
	n := 0
	for _, a := range s.Agents {
		if a.Active() && a.Position == c {
			a.Injure(amount)
			n++
		}
	}
	return n
}

// reap drops dead agents from the roster.
func (s *Simulation) reap() {
	kept := s.Agents[:0]
	for _, a := range s.Agents {
		if a.Dead {
			a.ClearDestination(s.Grid)
			delete(s.AgentIndex, a.ID)
			s.stats.Deaths++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.Agents); i++ {
		s.Agents[i] = nil
	}
	s.Agents = kept
}

// ActionCount returns how many decisions of kind have been made.
func (s *Simulation) ActionCount(kind agents.ActionKind) uint64 {
	if int(kind) >= actionKinds {
		return 0
	}
	return s.actions[kind].Load()
}

// LastStep returns the scheduler statistics of the latest tick.
func (s *Simulation) LastStep() TickStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStep
}

// AgentCount returns the number of live agents.
func (s *Simulation) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.Agents {
		if a.Active() {
			n++
		}
	}
	return n
}

// Spawn adds an agent rising at c. Requests beyond MaxAgents or onto
// unwalkable cells are refused.
func (s *Simulation) Spawn(c world.Cell) (agents.AgentID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.spawn(c)
	if !ok {
		return 0, false
	}
	return a.ID, true
}

func (s *Simulation) spawn(c world.Cell) (*agents.Agent, bool) {
	if uint32(len(s.Agents)) >= s.Settings.MaxAgents {
		slog.Debug("spawn refused, horde at capacity", "max_agents", s.Settings.MaxAgents)
		return nil, false
	}
	if !s.Map.IsWalkable(c) {
		return nil, false
	}
	a := s.Spawner.Spawn(c, s.LastTick)
	s.Agents = append(s.Agents, a)
	s.AgentIndex[a.ID] = a
	s.stats.Spawned++
	return a, true
}

// SpawnWave raises up to n agents on random open-air floor cells.
// Returns how many spawned.
func (s *Simulation) SpawnWave(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	spawned := 0
	for tries := 0; spawned < n && tries < n*20; tries++ {
		c := world.Cell{X: s.waveRng.Intn(s.Map.Width), Y: s.waveRng.Intn(s.Map.Height)}
		if s.Map.Roofed(c) || s.Map.PawnAt(c) != nil {
			continue
		}
		if _, ok := s.spawn(c); !ok {
			if uint32(len(s.Agents)) >= s.Settings.MaxAgents {
				break
			}
			continue
		}
		spawned++
	}
	if spawned > 0 {
		s.EmitEvent(Event{
			Tick:        s.LastTick,
			Category:    "spawn",
			Description: fmt.Sprintf("%d zombies rise from the ground", spawned),
			Meta:        map[string]any{"count": spawned},
		})
	}
	return spawned
}

// Despawn removes an agent immediately, releasing its destination.
func (s *Simulation) Despawn(id agents.AgentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.AgentIndex[id]
	if !ok {
		return false
	}
	a.ClearDestination(s.Grid)
	delete(s.AgentIndex, id)
	for i, b := range s.Agents {
		if b == a {
			s.Agents = append(s.Agents[:i], s.Agents[i+1:]...)
			break
		}
	}
	return true
}

// Agent returns a copy of one agent.
func (s *Simulation) Agent(id agents.AgentID) (agents.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.AgentIndex[id]
	if !ok {
		return agents.Agent{}, false
	}
	return *a, true
}

// AgentsSnapshot returns copies of every agent.
func (s *Simulation) AgentsSnapshot() []agents.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Agent, len(s.Agents))
	for i, a := range s.Agents {
		out[i] = *a
	}
	return out
}

// DebugSnapshot reports the scent, occupancy and avoidance cost at c.
func (s *Simulation) DebugSnapshot(c world.Cell) (Debug, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Grid.InBounds(c) {
		return Debug{}, false
	}
	return Debug{
		Cell:      c,
		Timestamp: s.Grid.Timestamp(c),
		Occupancy: s.Grid.Occupancy(c),
		Cost:      s.Avoid.Costs().Cost(c),
		Region:    s.Regions.Trees().RegionAt(c),
		Tile:      world.TileName(s.Map.Get(c).Tile),
	}, true
}

// GetSettings returns the active settings.
func (s *Simulation) GetSettings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Settings
}

// SetSettings validates and applies new settings from the next tick on.
func (s *Simulation) SetSettings(cfg config.Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings = cfg
	s.Scheduler.SetWorkers(cfg.Workers)
	return nil
}

// SetDoor opens or closes the door at c.
func (s *Simulation) SetDoor(c world.Cell, open bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Map.SetDoor(c, open)
}

// TopologyVersion returns the map's topology change counter.
func (s *Simulation) TopologyVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Map.Version()
}

// Tether leashes an agent to a living pawn, or releases it when length
// is zero or less.
func (s *Simulation) Tether(id agents.AgentID, holder world.PawnID, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.AgentIndex[id]
	if !ok || !a.Active() {
		return ErrUnknownAgent
	}
	if length <= 0 {
		a.Tether = nil
		return nil
	}
	p := s.Map.Pawn(holder)
	if !p.Alive() {
		return ErrUnknownPawn
	}
	a.Tether = &agents.Tether{Holder: holder, Length: length}
	s.EmitEvent(Event{
		Tick:        s.LastTick,
		Category:    "tether",
		Description: fmt.Sprintf("%s leashed agent %d", p.Name, id),
		Meta:        map[string]any{"agent": uint64(id), "pawn": uint64(holder), "length": length},
	})
	return nil
}

// topologyChanged is the map listener. It runs on the host thread with
// the simulation locked.
func (s *Simulation) topologyChanged(c world.Cell) {
	s.Regions.MarkDirty(c)
}

// RecountOccupancy rebuilds grid occupancy from live destinations.
// Returns how many cells were wrong.
func (s *Simulation) RecountOccupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recountOccupancy()
}

func (s *Simulation) recountOccupancy() int {
	mismatched := s.Grid.Recount(agents.Destinations(s.Agents))
	if mismatched > 0 {
		slog.Warn("occupancy recount corrected cells", "cells", mismatched)
	}
	return mismatched
}

// passable snapshots walkability for the avoidance spread.
func (s *Simulation) passable() []bool {
	out := make([]bool, s.Map.Width*s.Map.Height)
	for i := range out {
		out[i] = s.Map.IsWalkable(s.Map.CellAt(i))
	}
	return out
}

// Stats returns the aggregate statistics after the latest tick.
func (s *Simulation) Stats() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Simulation) updateStats() {
	st := &s.stats
	st.Agents, st.Rising, st.Idle, st.Tracking, st.Wandering, st.Raging, st.Downed = 0, 0, 0, 0, 0, 0, 0
	for _, a := range s.Agents {
		if !a.Active() {
			continue
		}
		st.Agents++
		switch a.State {
		case agents.StateRising:
			st.Rising++
		case agents.StateIdle:
			st.Idle++
		case agents.StateTracking:
			st.Tracking++
		case agents.StateWandering:
			st.Wandering++
		}
		if a.Raging(s.LastTick) {
			st.Raging++
		}
		if a.Downed {
			st.Downed++
		}
	}
	st.PawnsAlive = s.Map.LivingPawns()
	st.Occupancy = s.Grid.TotalOccupancy()
	st.Violations = s.Grid.Violations()
}

// TickHour logs an hourly horde report and raises a wave at dusk.
func (s *Simulation) TickHour(tick int64) {
	if (tick%TicksPerDay)/TicksPerHour == duskStart {
		s.SpawnWave(WaveSize)
	}

	st := s.Stats()
	step := s.LastStep()
	slog.Info("horde report",
		"tick", tick,
		"time", SimTime(tick),
		"phase", PhaseName(DayPhase(tick)),
		"agents", humanize.Comma(int64(st.Agents)),
		"tracking", st.Tracking,
		"raging", st.Raging,
		"pawns_alive", st.PawnsAlive,
		"deaths", humanize.Comma(int64(st.Deaths)),
		"bites", humanize.Comma(int64(s.ActionCount(agents.ActionAttack))),
		"percent_ticking", fmt.Sprintf("%.2f", step.Percent),
		"quota", step.Quota,
		"completed", step.Completed,
		"regions", s.Regions.Trees().Regions(),
		"region_rebuilds", s.Regions.Rebuilds(),
		"avoid_rebuilds", s.Avoid.Rebuilds(),
	)
}

// EmitEvent records an event and fans it out to subscribers. Slow
// subscribers miss events rather than block the tick.
func (s *Simulation) EmitEvent(e Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Events returns up to limit of the most recent events.
func (s *Simulation) Events(limit int) []Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	start := max(0, len(s.events)-limit)
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// Subscribe returns a channel receiving every new event.
func (s *Simulation) Subscribe() (int, <-chan Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe closes and forgets a subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// WorldSnapshot is a copy of everything needed to resume a world.
type WorldSnapshot struct {
	WorldID  uuid.UUID
	Seed     int64
	LastTick int64
	Settings config.Settings

	Width  int
	Height int
	Tiles  []world.TileInfo
	Scent  []int64
	Pawns  []world.Pawn
	Agents []*agents.Agent
	Events []Event
}

// Export copies the world for saving.
func (s *Simulation) Export() *WorldSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &WorldSnapshot{
		WorldID:  s.WorldID,
		Seed:     s.Seed,
		LastTick: s.LastTick,
		Settings: s.Settings,
		Width:    s.Map.Width,
		Height:   s.Map.Height,
		Tiles:    s.Map.Tiles(),
		Scent:    s.Grid.Timestamps(),
		Pawns:    make([]world.Pawn, len(s.Map.Pawns)),
		Agents:   make([]*agents.Agent, 0, len(s.Agents)),
		Events:   s.Events(maxEvents),
	}
	for i, p := range s.Map.Pawns {
		snap.Pawns[i] = *p
	}
	for _, a := range s.Agents {
		cp := *a
		snap.Agents = append(snap.Agents, &cp)
	}
	return snap
}

// FromSnapshot rebuilds a simulation from a saved world. The returned
// simulation starts staging; occupancy is recounted before it runs.
func FromSnapshot(snap *WorldSnapshot, opts Options) (*Simulation, error) {
	m := world.NewMap(snap.Width, snap.Height)
	if !m.RestoreTiles(snap.Tiles) {
		return nil, fmt.Errorf("saved map has %d tiles, want %d", len(snap.Tiles), snap.Width*snap.Height)
	}
	for i := range snap.Pawns {
		p := snap.Pawns[i]
		m.AddPawn(&p)
	}

	opts.Seed = snap.Seed
	opts.Settings = snap.Settings
	s := NewSimulation(m, opts)
	s.WorldID = snap.WorldID
	s.Restore(snap.Agents, snap.Scent, snap.LastTick)
	return s, nil
}

// Frame is a render-ready copy of the world for viewers.
type Frame struct {
	Width     int
	Height    int
	Tick      int64
	Tiles     []world.TileInfo
	Scent     []int64
	Occupancy []int32
	Costs     []uint16
	Agents    []world.Cell
	Pawns     []world.Cell
}

// Frame copies what a viewer needs to draw the current tick.
func (s *Simulation) Frame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := Frame{
		Width:     s.Map.Width,
		Height:    s.Map.Height,
		Tick:      s.LastTick,
		Tiles:     s.Map.Tiles(),
		Scent:     s.Grid.Timestamps(),
		Occupancy: s.Grid.Occupancies(),
		Costs:     s.Avoid.Costs().Costs(),
		Agents:    make([]world.Cell, 0, len(s.Agents)),
	}
	for _, a := range s.Agents {
		if a.Active() {
			f.Agents = append(f.Agents, a.Position)
		}
	}
	for _, p := range s.Map.Pawns {
		if p.Alive() {
			f.Pawns = append(f.Pawns, p.Position)
		}
	}
	return f
}
