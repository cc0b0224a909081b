package engine

import (
	"sync"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/world"
)

// worldHost serves a world.Map to agent decision steps. The map is only
// read while agents run; damage is queued and applied on the host thread
// once the scheduler returns.
type worldHost struct {
	m *world.Map

	center    world.Cell
	hasCenter bool

	mu    sync.Mutex
	queue []damage
}

type damage struct {
	cell   world.Cell
	amount float32
	kind   world.DamageKind
}

func newWorldHost(m *world.Map) *worldHost {
	h := &worldHost{m: m}
	h.refreshCenter()
	return h
}

func (h *worldHost) IsWalkable(c world.Cell) bool { return h.m.IsWalkable(c) }
func (h *worldHost) IsDoor(c world.Cell) bool     { return h.m.IsDoor(c) }
func (h *worldHost) IsMineable(c world.Cell) bool { return h.m.IsMineable(c) }

func (h *worldHost) CanPhysicallyPass(door world.Cell, a *agents.Agent) bool {
	return h.m.CanPhysicallyPass(door, a.CanForceDoors())
}

func (h *worldHost) TargetAt(c world.Cell) (agents.Target, bool) {
	p := h.m.PawnAt(c)
	if p == nil {
		return agents.Target{}, false
	}
	return agents.Target{Cell: c, Pawn: p.ID, Humanlike: p.Humanlike, Faction: p.Faction, Downed: p.Downed}, true
}

func (h *worldHost) StructureAt(c world.Cell) (agents.Structure, bool) {
	if !h.m.InBounds(c) || !h.m.IsSmashable(c) {
		return agents.Structure{}, false
	}
	t := h.m.Get(c)
	return agents.Structure{Cell: c, Door: t.Tile == world.TileDoor, Open: t.Open, Faction: t.Faction}, true
}

func (h *worldHost) PawnPosition(id world.PawnID) (world.Cell, bool) {
	p := h.m.Pawn(id)
	if !p.Alive() {
		return world.Invalid, false
	}
	return p.Position, true
}

func (h *worldHost) CenterOfInterest() (world.Cell, bool) {
	return h.center, h.hasCenter
}

func (h *worldHost) ApplyDamage(c world.Cell, amount float32, kind world.DamageKind) {
	h.mu.Lock()
	h.queue = append(h.queue, damage{cell: c, amount: amount, kind: kind})
	h.mu.Unlock()
}

// refreshCenter points the horde at the living player pawns, or at the
// valuable rooms once the colony is gone. Host thread only.
func (h *worldHost) refreshCenter() {
	sx, sy, n := 0, 0, 0
	for _, p := range h.m.Pawns {
		if p.Alive() && p.Faction == world.FactionPlayer {
			sx, sy, n = sx+p.Position.X, sy+p.Position.Y, n+1
		}
	}
	if n == 0 {
		for i := 0; i < h.m.Width*h.m.Height; i++ {
			if c := h.m.CellAt(i); h.m.Valuable(c) {
				sx, sy, n = sx+c.X, sy+c.Y, n+1
			}
		}
	}
	if n == 0 {
		h.center, h.hasCenter = world.Invalid, false
		return
	}
	h.center, h.hasCenter = world.Cell{X: sx / n, Y: sy / n}, true
}

// damageReport counts what a flush did.
type damageReport struct {
	Downed        int
	Killed        int
	Destroyed     int
	AgentsInjured int
}

// flush applies queued damage to the map. Explosions also hit any agent
// standing in the blast, through injure. Host thread only.
func (h *worldHost) flush(injure func(c world.Cell, amount float32) int) damageReport {
	h.mu.Lock()
	queue := h.queue
	h.queue = nil
	h.mu.Unlock()

	var r damageReport
	for _, d := range queue {
		if d.kind == world.DamageExplosion && injure != nil {
			r.AgentsInjured += injure(d.cell, d.amount)
		}
		if p := h.m.PawnAt(d.cell); p != nil && d.kind != world.DamageMining {
			wasDowned := p.Downed
			h.m.HurtPawn(p, d.amount)
			if p.Dead {
				r.Killed++
			} else if p.Downed && !wasDowned {
				r.Downed++
			}
			if d.kind != world.DamageExplosion {
				continue
			}
		}
		switch d.kind {
		case world.DamageBlunt, world.DamageMining, world.DamageExplosion:
			if h.m.Damage(d.cell, d.amount*structureScale(d.kind)) {
				r.Destroyed++
			}
		}
	}
	return r
}

// structureScale converts agent damage into tile hit points.
func structureScale(kind world.DamageKind) float32 {
	if kind == world.DamageExplosion {
		return 100
	}
	return 1
}
