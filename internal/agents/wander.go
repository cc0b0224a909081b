package agents

import (
	"math/rand"
	"sort"

	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/world"
)

// Wander tuning.
const (
	NightPullBase  = 0.25 // Chance to head for the center of interest as night begins
	NightPullRange = 0.65 // Added chance by the end of the night window
	RestChance     = 0.3  // Chance an idle agent stays put
)

var wanderWeights = [3]int{3, 2, 1}

// decideWander is the fallback when nothing else claimed the agent.
func decideWander(a *Agent, env *Env, rng *rand.Rand) Action {
	s := env.Settings
	if s.WanderingStyle != config.WanderNone && env.Night &&
		rng.Float64() < NightPullBase+NightPullRange*env.NightProgress {
		if step, ok := wanderToward(a, env); ok {
			a.State = StateWandering
			a.SetDestination(env.Grid, step)
			return Action{AgentID: a.ID, Kind: ActionWander, Target: step}
		}
	}

	// Still walking somewhere from an earlier wander.
	if a.State == StateWandering && a.HasDestination() && a.destination != a.Position {
		return Action{AgentID: a.ID, Kind: ActionWander, Target: a.destination}
	}

	if rng.Float64() < RestChance {
		a.State = StateIdle
		return Action{AgentID: a.ID, Kind: ActionIdle, Target: a.Position}
	}

	step, ok := randomNeighbor(a, env, rng)
	if !ok {
		a.State = StateIdle
		return Action{AgentID: a.ID, Kind: ActionIdle, Target: a.Position}
	}
	a.State = StateWandering
	a.SetDestination(env.Grid, step)
	return Action{AgentID: a.ID, Kind: ActionWander, Target: step}
}

// wanderToward steps toward the center of interest, through the region
// tree for smart wandering, or by straight-line sort otherwise.
func wanderToward(a *Agent, env *Env) (world.Cell, bool) {
	center, ok := env.Host.CenterOfInterest()
	if !ok {
		return world.Invalid, false
	}
	if env.Settings.WanderingStyle == config.WanderSmart && env.Regions != nil {
		trees := env.Regions.Trees()
		force := a.CanForceDoors()
		if next, ok := trees.Parent(a.Position, force); ok {
			if step, _ := stepToward(a, env, next); step.Valid() {
				return step, true
			}
		} else if trees.HasGoals() && !trees.Reachable(a.Position, force) {
			// Sealed off from every goal; leave it to local wandering.
			return world.Invalid, false
		}
	}
	step, _ := stepToward(a, env, center)
	return step, step.Valid()
}

type wanderCandidate struct {
	cell world.Cell
	occ  int
	cost int
}

// randomNeighbor picks a random passable neighbor, weighted toward the
// least claimed and least crowded of the top few.
func randomNeighbor(a *Agent, env *Env, rng *rand.Rand) (world.Cell, bool) {
	var buf [8]wanderCandidate
	cands := buf[:0]
	for _, d := range world.Adjacent {
		c := a.Position.Add(d)
		if !env.passable(a, c) {
			continue
		}
		cands = append(cands, wanderCandidate{cell: c, occ: env.Grid.Occupancy(c), cost: env.cost(c)})
	}
	if len(cands) == 0 {
		return world.Invalid, false
	}
	rng.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].occ != cands[j].occ {
			return cands[i].occ < cands[j].occ
		}
		return cands[i].cost < cands[j].cost
	})

	top := min(len(cands), len(wanderWeights))
	total := 0
	for i := 0; i < top; i++ {
		total += wanderWeights[i]
	}
	roll := rng.Intn(total)
	for i := 0; i < top; i++ {
		roll -= wanderWeights[i]
		if roll < 0 {
			return cands[i].cell, true
		}
	}
	return cands[0].cell, true
}
