package regions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/horde/internal/world"
)

var roomDoor = world.Cell{X: 18, Y: 6}

// testMap builds a 30×14 field with a valuable walled room on the right
// whose only entrance is a closed door on its west wall.
func testMap() *world.Map {
	m := world.NewMap(30, 14)
	for y := 2; y <= 11; y++ {
		for x := 18; x <= 27; x++ {
			c := world.Cell{X: x, Y: y}
			if x == 18 || x == 27 || y == 2 || y == 11 {
				m.Set(c, world.TileInfo{Tile: world.TileBuilding, HP: world.BuildingHP, Faction: world.FactionPlayer})
				continue
			}
			m.Set(c, world.TileInfo{Tile: world.TileFloor, Roofed: true, Valuable: true})
		}
	}
	m.Set(roomDoor, world.TileInfo{Tile: world.TileDoor, HP: world.DoorHP})
	return m
}

func newGraph(m *world.Map) *Graph {
	g := New(m.Width, m.Height, m, m.Valuable)
	g.UpdateRegions()
	return g
}

func allParents(m *world.Map, g *Graph, ignore bool) map[world.Cell]world.Cell {
	out := make(map[world.Cell]world.Cell)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := world.Cell{X: x, Y: y}
			if p, ok := g.Parent(c, ignore); ok {
				out[c] = p
			}
		}
	}
	return out
}

func TestRebuildIsDeterministic(t *testing.T) {
	m := testMap()
	a := newGraph(m)
	b := newGraph(m)

	for _, ignore := range []bool{false, true} {
		assert.Equal(t, allParents(m, a, ignore), allParents(m, b, ignore), "ignoreDoors=%v", ignore)
	}
}

func TestUpdateRegionsIsIdempotent(t *testing.T) {
	m := testMap()
	g := newGraph(m)
	before := allParents(m, g, true)
	rebuilds := g.Rebuilds()

	g.UpdateRegions()
	g.UpdateRegions()

	assert.Equal(t, before, allParents(m, g, true))
	assert.Equal(t, rebuilds, g.Rebuilds(), "clean graph must not rebuild")
	assert.False(t, g.Dirty())
}

func TestClosedDoorOnlyPassableWhenIgnored(t *testing.T) {
	m := testMap()
	g := newGraph(m)
	outside := world.Cell{X: 3, Y: 6}

	_, ok := g.Parent(outside, false)
	assert.False(t, ok, "closed door seals the goal room")

	_, ok = g.Parent(outside, true)
	assert.True(t, ok, "door-forcing agents see a path")

	_, ok = g.Parent(world.Cell{X: 22, Y: 6}, true)
	assert.False(t, ok, "goal region cells have no parent")
}

func TestIncrementalUpdateMatchesFullRebuild(t *testing.T) {
	m := testMap()
	g := newGraph(m)
	m.OnTopologyChanged(g.MarkDirty)

	require.True(t, m.SetDoor(roomDoor, true))
	assert.True(t, g.Dirty())
	g.UpdateRegions()

	fresh := newGraph(m)
	for _, ignore := range []bool{false, true} {
		assert.Equal(t, allParents(m, fresh, ignore), allParents(m, g, ignore), "ignoreDoors=%v", ignore)
	}

	_, ok := g.Parent(world.Cell{X: 3, Y: 6}, false)
	assert.True(t, ok, "open door connects the room")
}

func TestParentChainReachesGoal(t *testing.T) {
	m := testMap()
	g := newGraph(m)

	c := world.Cell{X: 1, Y: 12}
	trees := g.Trees()
	for steps := 0; steps <= trees.Regions(); steps++ {
		next, ok := g.Parent(c, true)
		if !ok {
			break
		}
		assert.NotEqual(t, trees.RegionAt(c), trees.RegionAt(next))
		c = next
	}
	_, stillGoing := g.Parent(c, true)
	assert.False(t, stillGoing, "chain must terminate at a goal region")
	assert.True(t, m.Valuable(c), "chain ends inside the valuable room, got %v", c)
}

func TestSealedPocketHasNoPath(t *testing.T) {
	m := world.NewMap(12, 12)
	// Pocket at (1..3, 1..3) walled off.
	for y := 0; y <= 4; y++ {
		for x := 0; x <= 4; x++ {
			if x == 0 || y == 0 || x == 4 || y == 4 {
				m.Set(world.Cell{X: x, Y: y}, world.TileInfo{Tile: world.TileWall})
			}
		}
	}
	m.Set(world.Cell{X: 10, Y: 10}, world.TileInfo{Tile: world.TileFloor, Valuable: true})
	g := newGraph(m)

	for _, ignore := range []bool{false, true} {
		_, ok := g.Parent(world.Cell{X: 2, Y: 2}, ignore)
		assert.False(t, ok)
	}
	_, ok := g.Parent(world.Cell{X: 6, Y: 6}, false)
	assert.False(t, ok, "whole chunk shares the goal region")
	trees := g.Trees()
	assert.True(t, trees.HasGoals())
	assert.True(t, trees.Reachable(world.Cell{X: 6, Y: 6}, false), "goal regions are reachable")
	assert.False(t, trees.Reachable(world.Cell{X: 2, Y: 2}, false))
	assert.False(t, trees.Reachable(world.Cell{X: 2, Y: 2}, true))
	assert.False(t, trees.Reachable(world.Cell{X: 0, Y: 0}, true), "walls have no region")
	assert.False(t, New(12, 12, m, m.Valuable).Trees().HasGoals(), "nothing built yet")
	assert.Equal(t, NoRegion, g.Trees().RegionAt(world.Cell{X: 0, Y: 0}))
}

func TestStepIsBounded(t *testing.T) {
	m := world.NewMap(48, 36) // 4×3 chunks
	g := New(m.Width, m.Height, m, func(c world.Cell) bool { return c.X == 0 })

	assert.False(t, g.Step(5))
	assert.True(t, g.Dirty())
	assert.True(t, g.Step(7))
	assert.False(t, g.Dirty())
	assert.Equal(t, uint64(1), g.Rebuilds())

	p, ok := g.Parent(world.Cell{X: 40, Y: 5}, false)
	require.True(t, ok)
	assert.Less(t, p.X, 40)
}
