package world

// PawnID identifies a non-horde actor.
type PawnID uint64

// DamageKind classifies incoming damage.
type DamageKind uint8

const (
	DamageBite DamageKind = iota
	DamageScratch
	DamageBlunt // Smashing structures
	DamageMining
	DamageElectric
	DamageExplosion
)

// Pawn is a human (or humanlike) actor the horde hunts.
// Pawns are host-owned; the horde only reads them and requests damage.
type Pawn struct {
	ID        PawnID  `json:"id"`
	Name      string  `json:"name"`
	Position  Cell    `json:"position"`
	Faction   Faction `json:"faction"`
	Humanlike bool    `json:"humanlike"`
	Health    float32 `json:"health"` // 0.0–1.0
	Downed    bool    `json:"downed"`
	Dead      bool    `json:"dead"`
}

// Alive reports whether the pawn can still be targeted.
func (p *Pawn) Alive() bool {
	return p != nil && !p.Dead
}

// AddPawn places a pawn on the map.
func (m *Map) AddPawn(p *Pawn) {
	m.Pawns = append(m.Pawns, p)
	m.pawnIndex[p.Position] = p
}

// PawnAt returns the living pawn standing on c, if any.
func (m *Map) PawnAt(c Cell) *Pawn {
	p := m.pawnIndex[c]
	if !p.Alive() {
		return nil
	}
	return p
}

// Pawn returns the pawn with the given ID.
func (m *Map) Pawn(id PawnID) *Pawn {
	for _, p := range m.Pawns {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// MovePawn relocates p to c if c is walkable and unoccupied by another pawn.
func (m *Map) MovePawn(p *Pawn, c Cell) bool {
	if !m.IsWalkable(c) {
		return false
	}
	if other := m.pawnIndex[c]; other.Alive() && other != p {
		return false
	}
	if m.pawnIndex[p.Position] == p {
		delete(m.pawnIndex, p.Position)
	}
	p.Position = c
	m.pawnIndex[c] = p
	return true
}

// HurtPawn applies damage to a pawn, downing it below 0.3 health and
// killing it at zero.
func (m *Map) HurtPawn(p *Pawn, amount float32) {
	if !p.Alive() || amount <= 0 {
		return
	}
	p.Health -= amount
	if p.Health < 0.3 {
		p.Downed = true
	}
	if p.Health <= 0 {
		p.Health = 0
		p.Dead = true
		if m.pawnIndex[p.Position] == p {
			delete(m.pawnIndex, p.Position)
		}
	}
}

// LivingPawns returns the count of pawns not yet dead.
func (m *Map) LivingPawns() int {
	n := 0
	for _, p := range m.Pawns {
		if p.Alive() {
			n++
		}
	}
	return n
}
