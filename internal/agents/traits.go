package agents

import (
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/world"
)

// Variant traits are optional components. The decision step asks the
// agent what it can do rather than what kind of zombie it is.

// Tank is an armored zombie: slow, hard to hurt, forces doors and digs.
type Tank struct {
	Armor float32 `json:"armor"` // Fraction of damage ignored
}

// Bomber explodes when it reaches a target.
type Bomber struct {
	Radius int     `json:"radius"`
	Damage float32 `json:"damage"`
}

// Electric bites with electric damage and is ignored by the avoidance field.
type Electric struct {
	Damage float32 `json:"damage"`
}

// Miner digs through rock toward its goal.
type Miner struct {
	Power float32 `json:"power"`
}

// ExColonist remembers scent sharply: it only trusts recent trails.
type ExColonist struct{}

// Traits is the set of optional variant components on an agent.
type Traits struct {
	Tank       *Tank       `json:"tank,omitempty"`
	Bomber     *Bomber     `json:"bomber,omitempty"`
	Electric   *Electric   `json:"electric,omitempty"`
	Miner      *Miner      `json:"miner,omitempty"`
	ExColonist *ExColonist `json:"ex_colonist,omitempty"`
}

// Names lists the traits present, for logs and the API.
func (t Traits) Names() []string {
	var out []string
	if t.Tank != nil {
		out = append(out, "tank")
	}
	if t.Bomber != nil {
		out = append(out, "bomber")
	}
	if t.Electric != nil {
		out = append(out, "electric")
	}
	if t.Miner != nil {
		out = append(out, "miner")
	}
	if t.ExColonist != nil {
		out = append(out, "ex_colonist")
	}
	return out
}

// Base tuning shared by all agents.
const (
	BiteDamage     = 0.12
	SmashDamage    = 8
	MinePower      = 10
	MineCooldown   = 90  // ticks
	HealInterval   = 600 // ticks between self-heals
	RiseSteps      = 6   // decision steps to dig out
	TetherBreak    = 3   // leash breaks beyond Length*TetherBreak
	AgitationTicks = 180 // periodic smash check spacing while tracking
)

// CanForceDoors reports whether closed doors count as passable.
func (a *Agent) CanForceDoors() bool {
	return a.Traits.Tank != nil
}

// CanMine reports whether the agent digs rock.
func (a *Agent) CanMine() bool {
	return a.Traits.Tank != nil || a.Traits.Miner != nil
}

// MinePower returns damage dealt to rock per dig.
func (a *Agent) MinePower() float32 {
	if a.Traits.Miner != nil {
		return a.Traits.Miner.Power
	}
	return MinePower
}

// AvoidanceExempt reports whether the agent is left out of the
// avoidance spread so pawns do not detour around it.
func (a *Agent) AvoidanceExempt() bool {
	return a.Traits.Electric != nil || a.Downed || a.Tether != nil || a.State == StateRising
}

// MoveInterval is the number of ticks between steps.
func (a *Agent) MoveInterval() int {
	if a.Traits.Tank != nil {
		return 4
	}
	return 2
}

// Bite returns damage and kind dealt by one attack.
func (a *Agent) Bite() (float32, world.DamageKind) {
	if e := a.Traits.Electric; e != nil {
		return e.Damage, world.DamageElectric
	}
	return BiteDamage, world.DamageBite
}

// FadeWindow returns the agent's scent fade window in ticks.
func (a *Agent) FadeWindow(s config.Settings) int64 {
	w := s.FadeWindowTicks()
	if a.Traits.ExColonist != nil {
		w = max(1, int64(float32(w)*s.ExColonistFadeFactor))
	}
	return w
}
