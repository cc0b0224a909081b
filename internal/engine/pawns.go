// Host pawn phase. Pawns stand in for the host's own actors: they leave
// scent wherever they are, fight back against agents next to them, and
// step away from the horde when the avoidance field says their cell is
// dangerous.
package engine

import (
	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/world"
)

// pawnMoveInterval is the number of ticks between pawn actions.
const pawnMoveInterval = 3

// pawnDriftChance is the chance a calm pawn wanders one cell.
const pawnDriftChance = 0.05

// pawnStrikeDamage is what one pawn blow does to an agent.
const pawnStrikeDamage = 0.4

// tickPawns runs before the agent phase. Returns how many pawns fled and
// how many agents they struck.
func (s *Simulation) tickPawns(now int64) (fled, struck int) {
	snap := s.Avoid.Costs()
	var at map[world.Cell][]*agents.Agent
	for _, p := range s.Map.Pawns {
		if !p.Alive() {
			continue
		}
		s.Grid.Bump(p.Position, now)
		if p.Downed || (now+int64(p.ID))%pawnMoveInterval != 0 {
			continue
		}

		if at == nil {
			at = s.agentsByCell()
		}
		if strike(p, at) {
			struck++
			continue
		}

		if s.Avoid.InDanger(p.Position) {
			best, bestCost := world.Invalid, snap.Cost(p.Position)
			for _, n := range p.Position.Neighbors() {
				if !s.Map.IsWalkable(n) || s.Map.PawnAt(n) != nil {
					continue
				}
				if c := snap.Cost(n); c < bestCost {
					best, bestCost = n, c
				}
			}
			if best.Valid() && s.Map.MovePawn(p, best) {
				fled++
			}
			continue
		}

		if s.pawnRng.Float64() < pawnDriftChance {
			n := p.Position.Add(world.Adjacent[s.pawnRng.Intn(len(world.Adjacent))])
			if !s.Avoid.ShouldAvoid(n) {
				s.Map.MovePawn(p, n)
			}
		}
	}
	return fled, struck
}

// strike hits the first standing agent next to p. Downed agents are
// left alone.
func strike(p *world.Pawn, at map[world.Cell][]*agents.Agent) bool {
	for _, n := range p.Position.Neighbors() {
		for _, a := range at[n] {
			if a.Downed || a.State == agents.StateMustDie {
				continue
			}
			a.Injure(pawnStrikeDamage)
			return true
		}
	}
	return false
}
