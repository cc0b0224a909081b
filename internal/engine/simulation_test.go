package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/world"
)

// roomyBudget never runs out.
var roomyBudget = Budget{TargetTick: time.Second, Multiplier: 1}

// doorMap is a 20x10 field split by a wall at x=10 with one door at (10,5).
// The east half is valuable.
func doorMap() *world.Map {
	m := world.NewMap(20, 10)
	for y := 0; y < 10; y++ {
		m.Set(world.Cell{X: 10, Y: y}, world.TileInfo{Tile: world.TileWall})
		for x := 15; x < 20; x++ {
			m.Set(world.Cell{X: x, Y: y}, world.TileInfo{Tile: world.TileFloor, Valuable: true})
		}
	}
	m.Set(world.Cell{X: 10, Y: 5}, world.TileInfo{Tile: world.TileDoor, HP: world.DoorHP})
	return m
}

func countClaims(s *Simulation) int {
	n := 0
	for _, a := range s.Agents {
		if a.Active() && a.HasDestination() {
			n++
		}
	}
	return n
}

func TestStagingReachesReady(t *testing.T) {
	s := NewSimulation(world.Generate(world.SmallTestConfig()), DefaultOptions(1))
	assert.Equal(t, StageGrid, s.Stage())
	assert.False(t, s.Ready())

	steps := 0
	for !s.PrepareStep() {
		steps++
		require.Less(t, steps, 100, "staging never finished")
	}
	assert.True(t, s.Ready())
	assert.False(t, s.Regions.Dirty())
	assert.Equal(t, "ready", StageName(s.Stage()))
}

func TestTickWhileStagingOnlyPrepares(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	a := s.Spawner.SpawnPlain(world.Cell{X: 2, Y: 2}, 0)
	s.Restore([]*agents.Agent{a}, nil, 0)

	st := s.Tick(1, roomyBudget)
	assert.Zero(t, st.Eligible)
	assert.Equal(t, StageRegions, s.Stage())
	assert.Equal(t, world.Cell{X: 2, Y: 2}, a.Position)
}

func TestSpawnRefusedAtCapacity(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Settings.MaxAgents = 3
	s := NewSimulation(doorMap(), opts)

	for i := 0; i < 3; i++ {
		_, ok := s.Spawn(world.Cell{X: i, Y: 0})
		require.True(t, ok)
	}
	_, ok := s.Spawn(world.Cell{X: 4, Y: 0})
	assert.False(t, ok)
	assert.Equal(t, 3, s.AgentCount())

	s2 := NewSimulation(doorMap(), DefaultOptions(1))
	_, ok = s2.Spawn(world.Cell{X: 10, Y: 1})
	assert.False(t, ok, "walls are not spawnable")
}

func runConservation(t *testing.T, workers int) {
	opts := DefaultOptions(7)
	opts.Settings.Workers = workers
	s := NewSimulation(world.Generate(world.SmallTestConfig()), opts)
	require.Positive(t, s.SpawnWave(60))
	s.PrepareAll()

	for tick := int64(1); tick <= 600; tick++ {
		s.Tick(tick, roomyBudget)
		require.Equal(t, countClaims(s), s.Grid.TotalOccupancy(), "tick %d", tick)
	}
	assert.Zero(t, s.Grid.Violations())
	assert.Zero(t, s.RecountOccupancy())
}

func TestOccupancyConservedAcrossTicks(t *testing.T) {
	runConservation(t, 1)
}

func TestParallelWorkersConserveOccupancy(t *testing.T) {
	runConservation(t, 4)
}

func TestDebugSnapshot(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	s.PrepareAll()
	c := world.Cell{X: 3, Y: 3}
	s.Grid.Bump(c, 77)
	s.Grid.ChangeOccupancy(c, 2)

	d, ok := s.DebugSnapshot(c)
	require.True(t, ok)
	assert.Equal(t, int64(77), d.Timestamp)
	assert.Equal(t, 2, d.Occupancy)
	assert.Zero(t, d.Cost)
	assert.Equal(t, "Floor", d.Tile)

	_, ok = s.DebugSnapshot(world.Cell{X: 20, Y: 0})
	assert.False(t, ok)
}

func TestTopologyChangeMarksRegionsDirty(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	s.PrepareAll()
	require.False(t, s.Regions.Dirty())

	door := world.Cell{X: 10, Y: 5}
	west := world.Cell{X: 2, Y: 5}
	_, reachable := s.Regions.Parent(west, false)
	assert.False(t, reachable, "closed door blocks the respecting tree")

	require.True(t, s.SetDoor(door, true))
	assert.True(t, s.Regions.Dirty())

	for tick := int64(1); tick < 10 && s.Regions.Dirty(); tick++ {
		s.Tick(tick, roomyBudget)
	}
	assert.False(t, s.Regions.Dirty())
	_, reachable = s.Regions.Parent(west, false)
	assert.True(t, reachable)
}

func TestBiteDamagesPawnAfterFlush(t *testing.T) {
	m := doorMap()
	pawn := &world.Pawn{ID: 1, Position: world.Cell{X: 5, Y: 5}, Faction: world.FactionPlayer, Humanlike: true, Health: 1}
	m.AddPawn(pawn)

	s := NewSimulation(m, DefaultOptions(1))
	a := s.Spawner.SpawnPlain(world.Cell{X: 4, Y: 5}, 0)
	s.Restore([]*agents.Agent{a}, nil, 0)
	s.PrepareAll()

	st := s.Tick(1, roomyBudget)
	require.Equal(t, 1, st.Completed)
	assert.InDelta(t, 1-agents.BiteDamage, pawn.Health, 1e-6)
	assert.Equal(t, agents.StateTracking, a.State)
	assert.Equal(t, uint64(1), s.ActionCount(agents.ActionAttack))
}

func TestRestoreRecountsOccupancy(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	sp := agents.NewSpawner(9)
	sp.SetNextID(40)
	var saved []*agents.Agent
	for i := 0; i < 4; i++ {
		a := sp.SpawnPlain(world.Cell{X: i, Y: 1}, 0)
		a.RestoreDestination(world.Cell{X: i, Y: 2})
		saved = append(saved, a)
	}
	ts := make([]int64, 20*10)
	ts[0] = 55

	s.Restore(saved, ts, 500)
	s.PrepareAll()
	assert.Equal(t, 4, s.Grid.TotalOccupancy())
	assert.Equal(t, int64(55), s.Grid.Timestamp(world.Cell{}))
	assert.Equal(t, int64(500), s.CurrentTick())

	id, ok := s.Spawn(world.Cell{X: 6, Y: 6})
	require.True(t, ok)
	assert.Equal(t, agents.AgentID(44), id)
}

func TestDespawnReleasesDestination(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	s.PrepareAll()
	id, ok := s.Spawn(world.Cell{X: 1, Y: 1})
	require.True(t, ok)
	a := s.AgentIndex[id]
	a.SetDestination(s.Grid, world.Cell{X: 2, Y: 1})
	require.Equal(t, 1, s.Grid.TotalOccupancy())

	assert.True(t, s.Despawn(id))
	assert.Zero(t, s.Grid.TotalOccupancy())
	assert.Zero(t, s.AgentCount())
	assert.False(t, s.Despawn(id))
}

func TestSetSettingsValidates(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	bad := s.GetSettings()
	bad.MaxAgents = 0
	assert.ErrorIs(t, s.SetSettings(bad), config.ErrInvalidSetting)

	good := s.GetSettings()
	good.Workers = 3
	require.NoError(t, s.SetSettings(good))
	assert.Equal(t, 3, s.Scheduler.Config().Workers)
}

func TestEventSubscription(t *testing.T) {
	s := NewSimulation(doorMap(), DefaultOptions(1))
	id, ch := s.Subscribe()
	s.EmitEvent(Event{Tick: 3, Category: "system", Description: "hello"})

	select {
	case e := <-ch:
		assert.Equal(t, "hello", e.Description)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Len(t, s.Events(10), 1)

	s.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

// strikeSetup puts a fresh agent next to a standing pawn. Pawn 2 acts on
// ticks 1, 4, 7, ...
func strikeSetup(t *testing.T, opts Options) (*Simulation, *agents.Agent, *world.Pawn) {
	t.Helper()
	m := doorMap()
	pawn := &world.Pawn{ID: 2, Name: "Ada", Position: world.Cell{X: 3, Y: 5}, Faction: world.FactionPlayer, Humanlike: true, Health: 1}
	m.AddPawn(pawn)

	s := NewSimulation(m, opts)
	a := s.Spawner.SpawnPlain(world.Cell{X: 4, Y: 5}, 0)
	a.Health = 1
	s.Restore([]*agents.Agent{a}, nil, 0)
	s.PrepareAll()
	return s, a, pawn
}

func TestPawnsStrikeAgentsDownAndTheyHeal(t *testing.T) {
	s, a, pawn := strikeSetup(t, DefaultOptions(1))

	for tick := int64(1); tick <= 4; tick++ {
		s.Tick(tick, roomyBudget)
	}
	require.True(t, a.Downed, "two blows put the agent down")
	assert.Equal(t, 2, a.Injuries)
	assert.Equal(t, 2, s.Stats().AgentsInjured)
	assert.Equal(t, 1, s.Stats().Downed)
	assert.Equal(t, uint64(1), s.ActionCount(agents.ActionDowned))
	assert.False(t, pawn.Downed, "the agent only bit four times")

	tick := int64(5)
	for ; tick <= 4+3*agents.HealInterval && a.Downed; tick++ {
		s.Tick(tick, roomyBudget)
	}
	assert.False(t, a.Downed, "self heal stands the agent back up")
	assert.Zero(t, a.Injuries)
	assert.GreaterOrEqual(t, tick, int64(4+2*agents.HealInterval))
	assert.Equal(t, 1, s.AgentCount())
}

func TestKillDownedFinishesStruckAgent(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Settings.KillDowned = true
	s, a, _ := strikeSetup(t, opts)

	for tick := int64(1); tick <= 4; tick++ {
		s.Tick(tick, roomyBudget)
	}
	assert.True(t, a.Dead)
	assert.Zero(t, s.AgentCount())
	assert.Equal(t, 1, s.Stats().Deaths)

	events := s.Events(10)
	require.NotEmpty(t, events)
	assert.Equal(t, "death", events[len(events)-1].Category)
}

func TestDieEasilyKillsOnFirstBlow(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Settings.DieEasily = true
	s, a, _ := strikeSetup(t, opts)

	s.Tick(1, roomyBudget)
	assert.True(t, a.Dead)
	assert.Equal(t, 1, a.Injuries)
}

func TestBomberBlastInjuresNearbyAgents(t *testing.T) {
	m := doorMap()
	pawn := &world.Pawn{ID: 3, Position: world.Cell{X: 3, Y: 5}, Humanlike: true, Health: 0.25, Downed: true}
	m.AddPawn(pawn)

	s := NewSimulation(m, DefaultOptions(1))
	bomber := s.Spawner.SpawnPlain(world.Cell{X: 4, Y: 5}, 0)
	bomber.Traits.Bomber = &agents.Bomber{Radius: 1, Damage: 0.5}
	near := s.Spawner.SpawnPlain(world.Cell{X: 5, Y: 5}, 0)
	near.Health = 1
	s.Restore([]*agents.Agent{bomber, near}, nil, 0)
	s.PrepareAll()

	s.Tick(1, roomyBudget)
	assert.True(t, pawn.Dead)
	assert.Equal(t, 1, near.Injuries)
	assert.InDelta(t, 0.5, near.Health, 1e-6)
	assert.False(t, near.Downed)
	assert.Equal(t, 2, s.Stats().AgentsInjured, "the bomber is caught in its own blast")
	assert.Equal(t, uint64(1), s.ActionCount(agents.ActionExplode))

	s.Tick(2, roomyBudget)
	assert.Equal(t, 1, s.AgentCount())
}

func TestTetherPullsAgentToHolder(t *testing.T) {
	m := doorMap()
	holder := &world.Pawn{ID: 4, Name: "Bo", Position: world.Cell{X: 2, Y: 2}, Humanlike: true, Health: 0.25, Downed: true}
	m.AddPawn(holder)
	s := NewSimulation(m, DefaultOptions(1))
	s.PrepareAll()
	id, ok := s.Spawn(world.Cell{X: 8, Y: 2})
	require.True(t, ok)

	assert.ErrorIs(t, s.Tether(id, 99, 2), ErrUnknownPawn)
	assert.ErrorIs(t, s.Tether(999, 4, 2), ErrUnknownAgent)
	require.NoError(t, s.Tether(id, 4, 2))

	for tick := int64(1); tick <= 200; tick++ {
		s.Tick(tick, roomyBudget)
	}
	a, ok := s.Agent(id)
	require.True(t, ok)
	require.NotNil(t, a.Tether)
	assert.LessOrEqual(t, world.Distance(a.Position, holder.Position), 2)
	assert.Positive(t, s.ActionCount(agents.ActionTethered))
	var leashed bool
	for _, e := range s.Events(50) {
		leashed = leashed || e.Category == "tether"
	}
	assert.True(t, leashed)

	require.NoError(t, s.Tether(id, 4, 0))
	a, _ = s.Agent(id)
	assert.Nil(t, a.Tether)
}
