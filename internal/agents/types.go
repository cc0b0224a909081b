// Package agents provides the horde agent data model, variant traits,
// and the per-tick decision state machine.
package agents

import (
	"github.com/talgya/horde/internal/grid"
	"github.com/talgya/horde/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// State is the coarse behavior state of an agent.
type State uint8

const (
	StateIdle      State = iota
	StateTracking        // Following scent
	StateWandering       // No scent, drifting or heading for a point of interest
	StateRising          // Still digging out of the ground
	StateMustDie         // Killed at its next decision step
)

// StateName returns a human-readable state name.
func StateName(s State) string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTracking:
		return "Tracking"
	case StateWandering:
		return "Wandering"
	case StateRising:
		return "Rising"
	case StateMustDie:
		return "MustDie"
	default:
		return "Unknown"
	}
}

// Tether leashes an agent to a pawn holding it.
type Tether struct {
	Holder world.PawnID `json:"holder"`
	Length int          `json:"length"` // Comfortable leash length in cells
}

// Agent is one zombie.
type Agent struct {
	ID       AgentID    `json:"id"`
	Position world.Cell `json:"position"`
	State    State      `json:"state"`
	Traits   Traits     `json:"traits"`

	// destination is only changed through SetDestination/ClearDestination
	// so grid occupancy stays paired. The zero Agent has none.
	destination world.Cell
	hasDest     bool

	RageUntil int64 `json:"rage_until,omitempty"` // 0 = not raging

	// Condition
	Health   float32 `json:"health"` // 0.0–1.0
	Injuries int     `json:"injuries,omitempty"`
	Downed   bool    `json:"downed,omitempty"`
	Dead     bool    `json:"dead,omitempty"`
	Spawned  bool    `json:"spawned"`
	Tether   *Tether `json:"tether,omitempty"`

	// Counters and cooldowns, all in ticks.
	EmergeProgress int   `json:"emerge_progress,omitempty"`
	LastTracked    int64 `json:"last_tracked,omitempty"`
	LastSmashCheck int64 `json:"last_smash_check,omitempty"`
	MineReadyAt    int64 `json:"mine_ready_at,omitempty"`
	HealReadyAt    int64 `json:"heal_ready_at,omitempty"`
	MoveCooldown   int   `json:"move_cooldown,omitempty"`

	SpawnTick int64 `json:"spawn_tick"`
	Bites     int   `json:"bites,omitempty"`
}

// Destination returns the cell the agent is heading for, or world.Invalid.
func (a *Agent) Destination() world.Cell {
	if !a.hasDest {
		return world.Invalid
	}
	return a.destination
}

// HasDestination reports whether the agent targets a cell.
func (a *Agent) HasDestination() bool {
	return a.hasDest
}

// SetDestination retargets the agent, moving one unit of occupancy from
// the old destination to the new one.
func (a *Agent) SetDestination(g *grid.Grid, c world.Cell) {
	if !c.Valid() {
		c = world.Invalid
	}
	if a.Destination() == c {
		return
	}
	if a.hasDest {
		g.ChangeOccupancy(a.destination, -1)
	}
	a.destination, a.hasDest = c, c.Valid()
	if a.hasDest {
		g.ChangeOccupancy(c, 1)
	}
}

// ClearDestination releases the agent's destination, if any.
func (a *Agent) ClearDestination(g *grid.Grid) {
	a.SetDestination(g, world.Invalid)
}

// RestoreDestination sets the destination without touching the grid.
// Only for reloading saved agents; recount occupancy afterwards.
func (a *Agent) RestoreDestination(c world.Cell) {
	a.destination, a.hasDest = c, c.Valid()
}

// Raging reports whether a rage is active at tick now.
func (a *Agent) Raging(now int64) bool {
	return a.RageUntil > now
}

// Active reports whether the agent takes part in simulation at all.
func (a *Agent) Active() bool {
	return a.Spawned && !a.Dead
}

// Kill marks the agent dead and releases its destination.
func (a *Agent) Kill(g *grid.Grid) {
	a.Dead = true
	a.State = StateMustDie
	a.ClearDestination(g)
}

// Injure applies damage to the agent. Heavy damage downs it.
func (a *Agent) Injure(amount float32) {
	if a.Dead || amount <= 0 {
		return
	}
	if tank := a.Traits.Tank; tank != nil {
		amount *= 1 - tank.Armor
	}
	a.Health -= amount
	a.Injuries++
	if a.Health < 0.25 {
		a.Downed = true
	}
}
