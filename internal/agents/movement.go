package agents

import (
	"github.com/talgya/horde/internal/world"
)

// stepToward returns the passable neighbor that gets a closest to target.
// If the best neighbor overall is impassable it is returned as blocked,
// so callers can decide to smash it. step is Invalid when no passable
// neighbor is closer than the current cell.
func stepToward(a *Agent, env *Env, target world.Cell) (step, blocked world.Cell) {
	step, blocked = world.Invalid, world.Invalid
	here := world.DistanceSquared(a.Position, target)
	bestStep, bestAny := here, here
	for _, d := range world.Adjacent {
		c := a.Position.Add(d)
		if !env.Grid.InBounds(c) {
			continue
		}
		dist := world.DistanceSquared(c, target)
		if dist >= here {
			continue
		}
		if dist < bestAny {
			bestAny = dist
			blocked = c
		}
		if dist < bestStep && env.passable(a, c) {
			bestStep = dist
			step = c
		}
	}
	if blocked == step {
		blocked = world.Invalid
	}
	return step, blocked
}

// Follow advances a toward its destination. It runs every tick for every
// live agent, selected or not, and only counts down cooldowns and takes
// a single step onto an adjacent destination. The destination stays
// claimed after arrival until the next decision replaces it.
// Returns true if the agent moved.
func Follow(a *Agent, env *Env) bool {
	if !a.Active() || a.Downed || a.State == StateRising {
		return false
	}
	if a.MoveCooldown > 0 {
		a.MoveCooldown--
		return false
	}
	if !a.HasDestination() || a.destination == a.Position {
		return false
	}
	d := a.destination
	if world.Distance(a.Position, d) > 1 || !env.passable(a, d) {
		a.ClearDestination(env.Grid)
		return false
	}
	a.Position = d
	a.MoveCooldown = a.MoveInterval()
	return true
}
