// Agent spawning. Variant traits are rolled per agent.
package agents

import (
	"math/rand"

	"github.com/talgya/horde/internal/world"
)

// Variant roll chances, checked in order; the remainder are plain.
const (
	ChanceTank       = 0.05
	ChanceBomber     = 0.03
	ChanceElectric   = 0.04
	ChanceMiner      = 0.06
	ChanceExColonist = 0.10
)

// Spawner creates agents for the simulation. Not safe for concurrent use.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// NextID returns the ID the next spawn will receive.
func (s *Spawner) NextID() AgentID {
	return s.nextID
}

// Spawn creates one agent rising out of the ground at pos.
func (s *Spawner) Spawn(pos world.Cell, tick int64) *Agent {
	id := s.nextID
	s.nextID++

	return &Agent{
		ID:        id,
		Position:  pos,
		State:     StateRising,
		Traits:    s.rollTraits(),
		Health:    0.8 + s.rng.Float32()*0.2,
		Spawned:   true,
		SpawnTick: tick,
		// Spread the first smash checks so a fresh wave does not check together.
		LastSmashCheck: tick - int64(s.rng.Intn(AgitationTicks)),
	}
}

// SpawnPlain creates an agent with no variant traits, already risen.
func (s *Spawner) SpawnPlain(pos world.Cell, tick int64) *Agent {
	a := s.Spawn(pos, tick)
	a.Traits = Traits{}
	a.State = StateIdle
	return a
}

func (s *Spawner) rollTraits() Traits {
	r := s.rng.Float64()
	var t Traits
	switch {
	case r < ChanceTank:
		t.Tank = &Tank{Armor: 0.4 + s.rng.Float32()*0.2}
	case r < ChanceTank+ChanceBomber:
		t.Bomber = &Bomber{Radius: 2, Damage: 0.5}
	case r < ChanceTank+ChanceBomber+ChanceElectric:
		t.Electric = &Electric{Damage: 0.2}
	case r < ChanceTank+ChanceBomber+ChanceElectric+ChanceMiner:
		t.Miner = &Miner{Power: MinePower * 2}
	case r < ChanceTank+ChanceBomber+ChanceElectric+ChanceMiner+ChanceExColonist:
		t.ExColonist = &ExColonist{}
	}
	return t
}
