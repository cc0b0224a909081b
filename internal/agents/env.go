package agents

import (
	"math/rand"

	"github.com/talgya/horde/internal/avoidance"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/grid"
	"github.com/talgya/horde/internal/regions"
	"github.com/talgya/horde/internal/world"
)

// Target is something on a cell an agent may bite.
type Target struct {
	Cell      world.Cell
	Pawn      world.PawnID
	Humanlike bool
	Faction   world.Faction
	Downed    bool
}

// Structure is a door or constructed building an agent may smash.
type Structure struct {
	Cell    world.Cell
	Door    bool
	Open    bool
	Faction world.Faction
}

// Host is the world the horde lives in. Decision steps may run on
// several goroutines at once, so read methods must be safe for
// concurrent use and ApplyDamage must be safe to call concurrently.
type Host interface {
	IsWalkable(c world.Cell) bool
	IsDoor(c world.Cell) bool
	CanPhysicallyPass(door world.Cell, a *Agent) bool
	IsMineable(c world.Cell) bool
	TargetAt(c world.Cell) (Target, bool)
	StructureAt(c world.Cell) (Structure, bool)
	PawnPosition(id world.PawnID) (world.Cell, bool)
	CenterOfInterest() (world.Cell, bool)
	ApplyDamage(c world.Cell, amount float32, kind world.DamageKind)
}

// Env is everything one decision step reads. Grid, Host and Settings are
// required; Avoid and Regions may be nil while a world is still staging.
type Env struct {
	Grid     *grid.Grid
	Avoid    *avoidance.Field
	Regions  *regions.Graph
	Host     Host
	Settings config.Settings

	Now           int64
	Night         bool    // Dusk, night or dawn
	NightProgress float64 // 0 at the start of the window, 1 at its end
}

// passable reports whether a may step onto c.
func (e *Env) passable(a *Agent, c world.Cell) bool {
	if !e.Grid.InBounds(c) {
		return false
	}
	if e.Host.IsDoor(c) {
		return e.Host.CanPhysicallyPass(c, a)
	}
	return e.Host.IsWalkable(c)
}

func (e *Env) cost(c world.Cell) int {
	if e.Avoid == nil {
		return 0
	}
	return e.Avoid.Costs().Cost(c)
}

// Neighbor scan order. Each agent walks its neighbors in one of a fixed
// set of permutations, rotated by ID and tick, so no direction is
// systematically favored.
const permCount = 16

var neighborPerms = func() [permCount][8]int {
	var out [permCount][8]int
	rng := rand.New(rand.NewSource(8))
	for i := range out {
		for j, v := range rng.Perm(8) {
			out[i][j] = v
		}
	}
	return out
}()

func neighborOrder(id AgentID, now int64) *[8]int {
	return &neighborPerms[(uint64(id)+uint64(now))%permCount]
}

// AvoidanceSources returns the positions the avoidance field spreads from.
func AvoidanceSources(all []*Agent) []world.Cell {
	out := make([]world.Cell, 0, len(all))
	for _, a := range all {
		if a.Active() && !a.AvoidanceExempt() {
			out = append(out, a.Position)
		}
	}
	return out
}

// Destinations returns the destination of every live agent, for
// occupancy recounts.
func Destinations(all []*Agent) []world.Cell {
	out := make([]world.Cell, 0, len(all))
	for _, a := range all {
		if a.Active() && a.HasDestination() {
			out = append(out, a.destination)
		}
	}
	return out
}
