// Package config holds the horde settings, their defaults, and loading
// from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSetting is wrapped by every validation failure.
var ErrInvalidSetting = errors.New("invalid setting")

// TicksPerSecond converts setting durations to simulation ticks.
const TicksPerSecond = 60

// AttackMode selects which targets agents bite.
type AttackMode uint8

const (
	AttackEverything AttackMode = iota
	AttackOnlyHumanlike
	AttackOnlyPlayerAligned
)

// SmashMode selects which structures agents break.
type SmashMode uint8

const (
	SmashOff SmashMode = iota
	SmashDoorsOnly
	SmashAnyBuilding
)

// WanderingStyle selects the wander fallback.
type WanderingStyle uint8

const (
	WanderNone WanderingStyle = iota
	WanderSimple
	WanderSmart
)

// Settings are the recognised options of one simulated world.
type Settings struct {
	AttackMode            AttackMode     `json:"attack_mode" jsonschema:"enum=0,enum=1,enum=2,description=0 everything / 1 only humanlike / 2 only player aligned"`
	SmashMode             SmashMode      `json:"smash_mode" jsonschema:"enum=0,enum=1,enum=2,description=0 off / 1 doors only / 2 any building"`
	SmashOnlyWhenAgitated bool           `json:"smash_only_when_agitated"`
	RagingEnabled         bool           `json:"raging_enabled"`
	RageLevel             int            `json:"rage_level" jsonschema:"minimum=1,maximum=5"`
	WanderingStyle        WanderingStyle `json:"wandering_style" jsonschema:"enum=0,enum=1,enum=2,description=0 none / 1 simple / 2 smart"`
	FadeWindowSeconds     float32        `json:"fade_window_seconds" jsonschema:"exclusiveMinimum=0"`
	MaxAgents             uint32         `json:"max_agents" jsonschema:"minimum=1"`

	// Downed and injury handling.
	KillDowned bool `json:"kill_downed"`
	SelfHeal   bool `json:"self_heal"`
	DieEasily  bool `json:"die_easily"`

	// ExColonistFadeFactor scales the fade window for ex-colonists.
	ExColonistFadeFactor float32 `json:"ex_colonist_fade_factor" jsonschema:"exclusiveMinimum=0,maximum=1"`

	// Workers is the number of goroutines running agent steps (1 = sequential).
	Workers int `json:"workers" jsonschema:"minimum=1"`
}

// Default returns the settings a fresh world starts with.
func Default() Settings {
	return Settings{
		AttackMode:            AttackEverything,
		SmashMode:             SmashDoorsOnly,
		SmashOnlyWhenAgitated: true,
		RagingEnabled:         true,
		RageLevel:             3,
		WanderingStyle:        WanderSmart,
		FadeWindowSeconds:     12,
		MaxAgents:             2000,
		KillDowned:            false,
		SelfHeal:              true,
		DieEasily:             false,
		ExColonistFadeFactor:  0.5,
		Workers:               1,
	}
}

// Validate checks ranges. Every error wraps ErrInvalidSetting.
func (s Settings) Validate() error {
	switch {
	case s.AttackMode > AttackOnlyPlayerAligned:
		return fmt.Errorf("%w: attack_mode %d", ErrInvalidSetting, s.AttackMode)
	case s.SmashMode > SmashAnyBuilding:
		return fmt.Errorf("%w: smash_mode %d", ErrInvalidSetting, s.SmashMode)
	case s.WanderingStyle > WanderSmart:
		return fmt.Errorf("%w: wandering_style %d", ErrInvalidSetting, s.WanderingStyle)
	case s.RageLevel < 1 || s.RageLevel > 5:
		return fmt.Errorf("%w: rage_level %d not in 1..5", ErrInvalidSetting, s.RageLevel)
	case s.FadeWindowSeconds <= 0:
		return fmt.Errorf("%w: fade_window_seconds must be positive", ErrInvalidSetting)
	case s.MaxAgents == 0:
		return fmt.Errorf("%w: max_agents must be positive", ErrInvalidSetting)
	case s.ExColonistFadeFactor <= 0 || s.ExColonistFadeFactor > 1:
		return fmt.Errorf("%w: ex_colonist_fade_factor %.2f not in (0,1]", ErrInvalidSetting, s.ExColonistFadeFactor)
	case s.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidSetting)
	}
	return nil
}

// FadeWindowTicks returns the scent fade window in ticks.
func (s Settings) FadeWindowTicks() int64 {
	return max(1, int64(s.FadeWindowSeconds*TicksPerSecond))
}

// RageThreshold is the 3×3 occupancy density that triggers raging.
func (s Settings) RageThreshold() int {
	return 12 - 2*s.RageLevel
}

// RageTicks is how long a rage lasts.
func (s Settings) RageTicks() int64 {
	return int64(s.RageLevel) * 10 * TicksPerSecond
}

// ParseAttackMode accepts the names used in env vars and the API.
func ParseAttackMode(v string) (AttackMode, error) {
	switch strings.ToLower(v) {
	case "everything", "all":
		return AttackEverything, nil
	case "humanlike", "only_humanlike":
		return AttackOnlyHumanlike, nil
	case "player", "only_player_aligned":
		return AttackOnlyPlayerAligned, nil
	}
	return 0, fmt.Errorf("%w: attack mode %q", ErrInvalidSetting, v)
}

// ParseSmashMode accepts the names used in env vars and the API.
func ParseSmashMode(v string) (SmashMode, error) {
	switch strings.ToLower(v) {
	case "off", "none":
		return SmashOff, nil
	case "doors", "doors_only":
		return SmashDoorsOnly, nil
	case "any", "any_building":
		return SmashAnyBuilding, nil
	}
	return 0, fmt.Errorf("%w: smash mode %q", ErrInvalidSetting, v)
}

// ParseWanderingStyle accepts the names used in env vars and the API.
func ParseWanderingStyle(v string) (WanderingStyle, error) {
	switch strings.ToLower(v) {
	case "none", "off":
		return WanderNone, nil
	case "simple":
		return WanderSimple, nil
	case "smart":
		return WanderSmart, nil
	}
	return 0, fmt.Errorf("%w: wandering style %q", ErrInvalidSetting, v)
}

func parseBool(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, v)
	}
	return b, nil
}
