package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/world"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "horde.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadEmptyDatabase(t *testing.T) {
	db := openTemp(t)
	assert.False(t, db.HasWorldState())
	_, err := db.LoadWorldState()
	assert.ErrorIs(t, err, ErrNoWorldState)
}

func TestWorldStateRoundTrip(t *testing.T) {
	m := world.NewMap(16, 12)
	m.Set(world.Cell{X: 8, Y: 4}, world.TileInfo{Tile: world.TileDoor, HP: world.DoorHP, Faction: world.FactionPlayer})
	m.AddPawn(&world.Pawn{ID: 3, Name: "Ada", Position: world.Cell{X: 12, Y: 6}, Faction: world.FactionPlayer, Humanlike: true, Health: 0.7})

	opts := engine.DefaultOptions(11)
	opts.Settings.SmashMode = config.SmashAnyBuilding
	sim := engine.NewSimulation(m, opts)
	sim.PrepareAll()

	var ids []agents.AgentID
	for i := 0; i < 5; i++ {
		id, ok := sim.Spawn(world.Cell{X: i, Y: 2})
		require.True(t, ok)
		ids = append(ids, id)
	}
	tracker := sim.AgentIndex[ids[0]]
	tracker.Traits.Tank = &agents.Tank{Armor: 0.5}
	tracker.Tether = &agents.Tether{Holder: 3, Length: 2}
	tracker.SetDestination(sim.Grid, world.Cell{X: 1, Y: 3})
	sim.Grid.Bump(world.Cell{X: 5, Y: 5}, 1234)
	sim.EmitEvent(engine.Event{Tick: 1, Category: "system", Description: "saved once"})

	db := openTemp(t)
	require.NoError(t, db.SaveWorldState(sim))
	require.True(t, db.HasWorldState())

	snap, err := db.LoadWorldState()
	require.NoError(t, err)
	assert.Equal(t, sim.WorldID, snap.WorldID)
	assert.Equal(t, int64(11), snap.Seed)
	assert.Equal(t, config.SmashAnyBuilding, snap.Settings.SmashMode)
	require.Len(t, snap.Pawns, 1)
	assert.Equal(t, "Ada", snap.Pawns[0].Name)

	loaded, err := engine.FromSnapshot(snap, engine.DefaultOptions(0))
	require.NoError(t, err)
	loaded.PrepareAll()

	assert.Equal(t, 5, loaded.AgentCount())
	assert.Equal(t, 1, loaded.Grid.TotalOccupancy())
	assert.Equal(t, int64(1234), loaded.Grid.Timestamp(world.Cell{X: 5, Y: 5}))
	assert.True(t, loaded.Map.IsDoor(world.Cell{X: 8, Y: 4}))

	got, ok := loaded.Agent(ids[0])
	require.True(t, ok)
	assert.Equal(t, world.Cell{X: 1, Y: 3}, got.Destination())
	require.NotNil(t, got.Traits.Tank)
	assert.InDelta(t, 0.5, got.Traits.Tank.Armor, 1e-6)
	require.NotNil(t, got.Tether)
	assert.Equal(t, world.PawnID(3), got.Tether.Holder)

	id, ok := loaded.Spawn(world.Cell{X: 0, Y: 9})
	require.True(t, ok)
	assert.Greater(t, id, ids[len(ids)-1])
}

func TestEventsAreNotSavedTwice(t *testing.T) {
	sim := engine.NewSimulation(world.NewMap(8, 8), engine.DefaultOptions(1))
	sim.EmitEvent(engine.Event{Tick: 0, Category: "system", Description: "first"})

	db := openTemp(t)
	require.NoError(t, db.SaveWorldState(sim))
	require.NoError(t, db.SaveWorldState(sim))

	events, err := db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Description)
}

func TestFailedSaveKeepsPreviousState(t *testing.T) {
	sim := engine.NewSimulation(world.NewMap(10, 10), engine.DefaultOptions(4))
	sim.PrepareAll()
	id, ok := sim.Spawn(world.Cell{X: 2, Y: 2})
	require.True(t, ok)
	cell := world.Cell{X: 6, Y: 6}
	sim.Grid.Bump(cell, 100)

	db := openTemp(t)
	require.NoError(t, db.SaveWorldState(sim))

	// A second agent row with the same id breaks the agents insert after
	// the map has already been written.
	sim.Grid.Bump(cell, 900)
	dup := *sim.AgentIndex[id]
	sim.Agents = append(sim.Agents, &dup)
	require.Error(t, db.SaveWorldState(sim))

	snap, err := db.LoadWorldState()
	require.NoError(t, err)
	assert.Len(t, snap.Agents, 1)
	assert.Equal(t, int64(100), snap.Scent[cell.Y*snap.Width+cell.X])
}
