package agents

import (
	"github.com/talgya/horde/internal/world"
)

// Scent tuning.
const (
	TrackTopK   = 3  // Freshest neighbors considered
	ChainRadius = 4  // Ring re-stamped by a chain reaction
	ChainDecay  = 20 // Ticks older per ring step
	ClogMin     = 2  // Occupancy at which clogging starts
	ClogStep    = 30 // Ticks of staleness per occupant
)

type scent struct {
	cell world.Cell
	ts   int64
}

// decideTracking picks the least crowded of the freshest neighboring
// scents. Only cells fresher than the agent's own cell count, so the
// agent climbs the gradient instead of oscillating. Raging agents skip
// scent entirely.
func decideTracking(a *Agent, env *Env) (world.Cell, int64, bool) {
	if a.Raging(env.Now) {
		return world.Invalid, 0, false
	}
	g := env.Grid
	fade := a.FadeWindow(env.Settings)
	own := g.Timestamp(a.Position)

	var top [TrackTopK]scent
	n := 0
	for _, i := range neighborOrder(a.ID, env.Now) {
		c := a.Position.Add(world.Adjacent[i])
		if !g.InBounds(c) {
			continue
		}
		if !g.IsSignalFresh(c, env.Now, fade) {
			continue
		}
		ts := g.Timestamp(c)
		if ts <= own {
			continue
		}
		if !env.passable(a, c) {
			continue
		}
		// Insertion into the descending top-K.
		pos := n
		for pos > 0 && top[pos-1].ts < ts {
			pos--
		}
		if pos >= TrackTopK {
			continue
		}
		if n < TrackTopK {
			n++
		}
		copy(top[pos+1:n], top[pos:n-1])
		top[pos] = scent{cell: c, ts: ts}
	}
	if n == 0 {
		return world.Invalid, 0, false
	}

	best := top[0]
	bestOcc := g.Occupancy(best.cell)
	for _, s := range top[1:n] {
		if occ := g.Occupancy(s.cell); occ < bestOcc {
			best, bestOcc = s, occ
		}
	}
	return best.cell, best.ts, true
}

// chainReact re-stamps the rings around center with progressively older
// copies of ts so nearby agents pick up the trail.
func chainReact(env *Env, center world.Cell, ts int64) {
	g := env.Grid
	for r := 1; r <= ChainRadius; r++ {
		stamp := ts - int64(r*ChainDecay)
		if stamp <= 0 {
			return
		}
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if world.Abs(dx) != r && world.Abs(dy) != r {
					continue
				}
				c := center.Add(world.Cell{X: dx, Y: dy})
				if g.InBounds(c) {
					g.Bump(c, stamp)
				}
			}
		}
	}
}

// clog makes a crowded destination look staler, never past the fade
// window, before the agent adds itself to it.
func clog(env *Env, a *Agent, dest world.Cell, ts int64) {
	if dest == a.Destination() {
		return
	}
	occ := env.Grid.Occupancy(dest)
	if occ < ClogMin {
		return
	}
	env.Grid.Dampen(dest, ts-int64(occ*ClogStep), env.Now-a.FadeWindow(env.Settings))
}
