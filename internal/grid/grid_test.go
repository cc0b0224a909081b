package grid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/horde/internal/world"
)

func TestBumpKeepsFreshest(t *testing.T) {
	g := New(3, 3)
	c := world.Cell{X: 1, Y: 1}

	g.Bump(c, 100)
	g.Bump(c, 50)
	assert.Equal(t, int64(100), g.Timestamp(c))

	g.Bump(c, 150)
	assert.Equal(t, int64(150), g.Timestamp(c))
}

func TestDampenOnlyLowers(t *testing.T) {
	g := New(3, 3)
	c := world.Cell{X: 0, Y: 2}
	g.Bump(c, 100)

	g.Dampen(c, 120, 0)
	assert.Equal(t, int64(100), g.Timestamp(c), "dampen must never raise")

	g.Dampen(c, 80, 0)
	assert.Equal(t, int64(80), g.Timestamp(c))

	g.Dampen(c, 10, 60)
	assert.Equal(t, int64(60), g.Timestamp(c), "dampen is clamped to the floor")
}

func TestIsSignalFreshBoundary(t *testing.T) {
	g := New(2, 2)
	c := world.Cell{X: 1, Y: 0}
	g.Bump(c, 100)

	assert.True(t, g.IsSignalFresh(c, 100, 10))
	assert.True(t, g.IsSignalFresh(c, 109, 10))
	assert.False(t, g.IsSignalFresh(c, 110, 10), "age equal to the window is stale")
	assert.False(t, g.IsSignalFresh(world.Cell{}, 5, 10), "unstamped cells are never fresh")
	assert.False(t, g.IsSignalFresh(world.Cell{}, 0, 1<<40), "not even at tick zero")
	assert.False(t, g.IsSignalFresh(world.Cell{X: 5, Y: 5}, 100, 10))
}

func TestOccupancyNeverNegative(t *testing.T) {
	g := New(2, 2)
	c := world.Cell{X: 0, Y: 0}

	g.ChangeOccupancy(c, 1)
	g.ChangeOccupancy(c, -1)
	g.ChangeOccupancy(c, -1)

	assert.Equal(t, 0, g.Occupancy(c))
	assert.Equal(t, uint64(1), g.Violations())
}

func TestOutOfBoundsIsIgnored(t *testing.T) {
	g := New(2, 2)
	out := world.Cell{X: 5, Y: 5}

	g.Bump(out, 10)
	g.ChangeOccupancy(out, 1)

	assert.Equal(t, int64(0), g.Timestamp(out))
	assert.Equal(t, 0, g.TotalOccupancy())
	assert.Equal(t, uint64(3), g.Violations())
}

func TestConcurrentOccupancyIsRaceFree(t *testing.T) {
	g := New(4, 4)
	target := world.Cell{X: 2, Y: 3}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.ChangeOccupancy(target, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6400, g.Occupancy(target))
}

func TestRecountMatchesDestinations(t *testing.T) {
	g := New(3, 3)
	g.ChangeOccupancy(world.Cell{X: 0, Y: 0}, 4) // stale counts from a reload

	dests := []world.Cell{{X: 1, Y: 1}, {X: 1, Y: 1}, world.Invalid, {X: 2, Y: 0}}
	mismatched := g.Recount(dests)

	assert.Equal(t, 3, mismatched)
	assert.Equal(t, 2, g.Occupancy(world.Cell{X: 1, Y: 1}))
	assert.Equal(t, 1, g.Occupancy(world.Cell{X: 2, Y: 0}))
	assert.Equal(t, 0, g.Occupancy(world.Cell{X: 0, Y: 0}))
	assert.Equal(t, 3, g.TotalOccupancy())
}

func TestTimestampsRoundTrip(t *testing.T) {
	g := New(3, 2)
	g.Bump(world.Cell{X: 2, Y: 1}, 77)

	saved := g.Timestamps()
	h := New(3, 2)
	require.True(t, h.RestoreTimestamps(saved))
	assert.Equal(t, int64(77), h.Timestamp(world.Cell{X: 2, Y: 1}))
	assert.False(t, New(2, 2).RestoreTimestamps(saved))
}
