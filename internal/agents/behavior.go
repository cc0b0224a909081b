// Per-tick decision state machine.
// Each selected agent walks the steps below in priority order; the first
// step that produces an action short-circuits the rest.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/world"
)

// Action represents what an agent decided to do this tick.
type Action struct {
	AgentID AgentID
	Kind    ActionKind
	Target  world.Cell
	Detail  string // Human-readable description for the event log, rare actions only
}

// ActionKind enumerates the possible decisions.
type ActionKind uint8

const (
	ActionNone     ActionKind = iota
	ActionDie                 // Killed by a terminal check
	ActionRise                // Digging out of the ground
	ActionDowned              // Inert, maybe healing
	ActionTethered            // Pulled along by a leash
	ActionAttack              // Melee bite on a neighbor
	ActionExplode             // Bomber detonation
	ActionTrack               // Following scent
	ActionRage                // Region-directed rage step
	ActionSmash               // Static attack on a door or building
	ActionMine                // Digging rock
	ActionWander              // Drifting or heading for a point of interest
	ActionIdle                // Nothing to do
)

// ActionName returns a human-readable action name.
func ActionName(k ActionKind) string {
	switch k {
	case ActionNone:
		return "none"
	case ActionDie:
		return "die"
	case ActionRise:
		return "rise"
	case ActionDowned:
		return "downed"
	case ActionTethered:
		return "tethered"
	case ActionAttack:
		return "attack"
	case ActionExplode:
		return "explode"
	case ActionTrack:
		return "track"
	case ActionRage:
		return "rage"
	case ActionSmash:
		return "smash"
	case ActionMine:
		return "mine"
	case ActionWander:
		return "wander"
	case ActionIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Decide runs one full decision step for a and commits its outcome.
// rng must not be shared with other goroutines.
func Decide(a *Agent, env *Env, rng *rand.Rand) Action {
	if !a.Active() {
		return Action{AgentID: a.ID, Kind: ActionNone}
	}

	if act, done := decideTerminal(a, env); done {
		return act
	}

	if a.State == StateRising {
		a.EmergeProgress++
		if a.EmergeProgress >= RiseSteps {
			a.State = StateIdle
		}
		return Action{AgentID: a.ID, Kind: ActionRise, Target: a.Position}
	}

	if a.Downed {
		return decideDowned(a, env)
	}

	if a.Tether != nil {
		if act, done := decideTethered(a, env); done {
			return act
		}
	}

	if act, done := decideAttack(a, env); done {
		return act
	}

	prev := a.State
	if dest, ts, ok := decideTracking(a, env); ok {
		if prev == StateIdle || prev == StateWandering {
			chainReact(env, a.Position, ts)
		}
		clog(env, a, dest, ts)
		a.State = StateTracking
		a.LastTracked = env.Now
		a.SetDestination(env.Grid, dest)
		if act, done := decideSmash(a, env, true); done {
			return act
		}
		return Action{AgentID: a.ID, Kind: ActionTrack, Target: dest}
	}

	if act, done := decideRage(a, env); done {
		return act
	}

	if act, done := decideSmash(a, env, false); done {
		return act
	}

	if act, done := decideMining(a, env); done {
		return act
	}

	return decideWander(a, env, rng)
}

func decideTerminal(a *Agent, env *Env) (Action, bool) {
	switch {
	case a.State == StateMustDie:
		a.Kill(env.Grid)
		return Action{AgentID: a.ID, Kind: ActionDie, Target: a.Position, Detail: fmt.Sprintf("agent %d expired", a.ID)}, true
	case env.Settings.DieEasily && a.Injuries > 0:
		a.Kill(env.Grid)
		return Action{AgentID: a.ID, Kind: ActionDie, Target: a.Position, Detail: fmt.Sprintf("agent %d died of its injuries", a.ID)}, true
	}
	return Action{}, false
}

func decideDowned(a *Agent, env *Env) Action {
	a.ClearDestination(env.Grid)
	if env.Settings.KillDowned {
		a.Kill(env.Grid)
		return Action{AgentID: a.ID, Kind: ActionDie, Target: a.Position, Detail: fmt.Sprintf("agent %d finished while downed", a.ID)}
	}
	if !env.Settings.SelfHeal || a.Injuries == 0 {
		return Action{AgentID: a.ID, Kind: ActionDowned, Target: a.Position}
	}
	switch {
	case a.HealReadyAt == 0:
		a.HealReadyAt = env.Now + HealInterval
	case env.Now >= a.HealReadyAt:
		a.Injuries--
		a.Health = min(1, a.Health+0.15)
		a.HealReadyAt = env.Now + HealInterval
		if a.Injuries == 0 {
			a.Downed = false
			a.HealReadyAt = 0
			a.Health = max(a.Health, 0.5)
			a.State = StateIdle
		}
	}
	return Action{AgentID: a.ID, Kind: ActionDowned, Target: a.Position}
}

// decideTethered pulls the agent toward the leash holder. A missing
// holder or an overstretched leash breaks the tether and lets the
// agent fall through to normal behavior.
func decideTethered(a *Agent, env *Env) (Action, bool) {
	holder, ok := env.Host.PawnPosition(a.Tether.Holder)
	dist := world.Distance(a.Position, holder)
	if !ok || dist > max(1, a.Tether.Length)*TetherBreak {
		a.Tether = nil
		return Action{}, false
	}
	if dist <= max(1, a.Tether.Length) {
		a.SetDestination(env.Grid, a.Position)
		return Action{AgentID: a.ID, Kind: ActionTethered, Target: a.Position}, true
	}
	step, _ := stepToward(a, env, holder)
	if step.Valid() {
		a.SetDestination(env.Grid, step)
	}
	return Action{AgentID: a.ID, Kind: ActionTethered, Target: step}, true
}

func attackable(t Target, mode config.AttackMode) bool {
	switch mode {
	case config.AttackOnlyHumanlike:
		return t.Humanlike
	case config.AttackOnlyPlayerAligned:
		return t.Faction == world.FactionPlayer
	default:
		return true
	}
}

func decideAttack(a *Agent, env *Env) (Action, bool) {
	for _, i := range neighborOrder(a.ID, env.Now) {
		c := a.Position.Add(world.Adjacent[i])
		if !env.Grid.InBounds(c) {
			continue
		}
		t, ok := env.Host.TargetAt(c)
		if !ok || !attackable(t, env.Settings.AttackMode) {
			continue
		}

		// The commotion draws the rest of the horde.
		env.Grid.Bump(c, env.Now)
		a.State = StateTracking
		a.LastTracked = env.Now
		a.SetDestination(env.Grid, a.Position)

		if b := a.Traits.Bomber; b != nil {
			explode(a, env, b)
			return Action{AgentID: a.ID, Kind: ActionExplode, Target: c, Detail: fmt.Sprintf("bomber %d exploded at %s", a.ID, a.Position)}, true
		}
		amount, kind := a.Bite()
		env.Host.ApplyDamage(c, amount, kind)
		a.Bites++
		return Action{AgentID: a.ID, Kind: ActionAttack, Target: c}, true
	}
	return Action{}, false
}

func explode(a *Agent, env *Env, b *Bomber) {
	for dy := -b.Radius; dy <= b.Radius; dy++ {
		for dx := -b.Radius; dx <= b.Radius; dx++ {
			c := a.Position.Add(world.Cell{X: dx, Y: dy})
			if env.Grid.InBounds(c) {
				env.Host.ApplyDamage(c, b.Damage, world.DamageExplosion)
			}
		}
	}
	a.ClearDestination(env.Grid)
	a.State = StateMustDie
}

// decideRage starts a rage when the local crowd is dense enough, and
// while raging steps along the region tree instead of following scent.
func decideRage(a *Agent, env *Env) (Action, bool) {
	s := env.Settings
	if !s.RagingEnabled {
		return Action{}, false
	}
	if !a.Raging(env.Now) && env.Grid.Density(a.Position) >= s.RageThreshold() {
		a.RageUntil = env.Now + s.RageTicks()
	}
	if !a.Raging(env.Now) || env.Regions == nil {
		return Action{}, false
	}

	next, ok := env.Regions.Parent(a.Position, true)
	if !ok {
		return Action{}, false
	}
	step, blocked := stepToward(a, env, next)
	if step.Valid() {
		a.SetDestination(env.Grid, step)
		return Action{AgentID: a.ID, Kind: ActionRage, Target: step}, true
	}
	if blocked.Valid() && s.SmashMode != config.SmashOff {
		if st, ok := env.Host.StructureAt(blocked); ok && smashable(st, s) {
			smash(a, env, blocked)
			return Action{AgentID: a.ID, Kind: ActionSmash, Target: blocked}, true
		}
	}
	return Action{}, false
}

func smashable(st Structure, s config.Settings) bool {
	if st.Door {
		if st.Open || s.SmashMode < config.SmashDoorsOnly {
			return false
		}
	} else if s.SmashMode < config.SmashAnyBuilding {
		return false
	}
	switch s.AttackMode {
	case config.AttackOnlyPlayerAligned:
		return st.Faction == world.FactionPlayer
	case config.AttackOnlyHumanlike:
		return st.Faction != world.FactionNone
	}
	return true
}

func smash(a *Agent, env *Env, c world.Cell) {
	amount := float32(SmashDamage)
	if a.Traits.Tank != nil {
		amount *= 2
	}
	env.Host.ApplyDamage(c, amount, world.DamageBlunt)
	a.SetDestination(env.Grid, a.Position)
}

// decideSmash looks for a smashable door or building next to the agent.
// With a destination already chosen it only looks once per agitation
// window.
func decideSmash(a *Agent, env *Env, chosen bool) (Action, bool) {
	s := env.Settings
	if s.SmashMode == config.SmashOff {
		return Action{}, false
	}
	if chosen && env.Now-a.LastSmashCheck < AgitationTicks {
		return Action{}, false
	}
	a.LastSmashCheck = env.Now

	if s.SmashOnlyWhenAgitated && !a.Raging(env.Now) &&
		(a.LastTracked == 0 || env.Now-a.LastTracked >= AgitationTicks) {
		return Action{}, false
	}

	for _, d := range world.Cardinals {
		c := a.Position.Add(d)
		st, ok := env.Host.StructureAt(c)
		if !ok || !smashable(st, s) {
			continue
		}
		smash(a, env, c)
		return Action{AgentID: a.ID, Kind: ActionSmash, Target: c}, true
	}
	return Action{}, false
}

// decideMining digs rock that lies between the agent and the center of
// interest.
func decideMining(a *Agent, env *Env) (Action, bool) {
	if !a.CanMine() || env.Now < a.MineReadyAt {
		return Action{}, false
	}
	center, ok := env.Host.CenterOfInterest()
	if !ok {
		return Action{}, false
	}
	here := world.DistanceSquared(a.Position, center)
	for _, d := range world.Cardinals {
		c := a.Position.Add(d)
		if !env.Host.IsMineable(c) || world.DistanceSquared(c, center) >= here {
			continue
		}
		env.Host.ApplyDamage(c, a.MinePower(), world.DamageMining)
		a.MineReadyAt = env.Now + MineCooldown
		a.SetDestination(env.Grid, a.Position)
		return Action{AgentID: a.ID, Kind: ActionMine, Target: c}, true
	}
	return Action{}, false
}
