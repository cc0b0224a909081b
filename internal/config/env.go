package config

import (
	"fmt"
	"strconv"
)

// Env is everything a host process reads from its environment.
type Env struct {
	Settings Settings
	Seed     int64
	DBPath   string
	Port     int
	AdminKey string
}

// DefaultEnv returns the values used when no variable is set.
func DefaultEnv() Env {
	return Env{
		Settings: Default(),
		Seed:     42,
		DBPath:   "data/horde.db",
		Port:     8080,
	}
}

// FromEnv overlays HORDE_* variables on the defaults. getenv is usually
// os.Getenv; tests pass a map lookup.
func FromEnv(getenv func(string) string) (Env, error) {
	e := DefaultEnv()
	s := &e.Settings

	type field struct {
		key   string
		apply func(string) error
	}
	fields := []field{
		{"HORDE_ATTACK_MODE", func(v string) (err error) { s.AttackMode, err = ParseAttackMode(v); return }},
		{"HORDE_SMASH_MODE", func(v string) (err error) { s.SmashMode, err = ParseSmashMode(v); return }},
		{"HORDE_WANDERING", func(v string) (err error) { s.WanderingStyle, err = ParseWanderingStyle(v); return }},
		{"HORDE_SMASH_AGITATED", func(v string) (err error) { s.SmashOnlyWhenAgitated, err = parseBool("HORDE_SMASH_AGITATED", v); return }},
		{"HORDE_RAGING", func(v string) (err error) { s.RagingEnabled, err = parseBool("HORDE_RAGING", v); return }},
		{"HORDE_KILL_DOWNED", func(v string) (err error) { s.KillDowned, err = parseBool("HORDE_KILL_DOWNED", v); return }},
		{"HORDE_SELF_HEAL", func(v string) (err error) { s.SelfHeal, err = parseBool("HORDE_SELF_HEAL", v); return }},
		{"HORDE_DIE_EASILY", func(v string) (err error) { s.DieEasily, err = parseBool("HORDE_DIE_EASILY", v); return }},
		{"HORDE_RAGE_LEVEL", func(v string) error { return parseInt(v, &s.RageLevel) }},
		{"HORDE_WORKERS", func(v string) error { return parseInt(v, &s.Workers) }},
		{"HORDE_PORT", func(v string) error { return parseInt(v, &e.Port) }},
		{"HORDE_FADE_SECONDS", func(v string) error {
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return err
			}
			s.FadeWindowSeconds = float32(f)
			return nil
		}},
		{"HORDE_MAX_AGENTS", func(v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return err
			}
			s.MaxAgents = uint32(n)
			return nil
		}},
		{"HORDE_SEED", func(v string) (err error) { e.Seed, err = strconv.ParseInt(v, 10, 64); return }},
		{"HORDE_DB", func(v string) error { e.DBPath = v; return nil }},
		{"HORDE_ADMIN_KEY", func(v string) error { e.AdminKey = v; return nil }},
	}

	for _, f := range fields {
		v := getenv(f.key)
		if v == "" {
			continue
		}
		if err := f.apply(v); err != nil {
			return e, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	if err := s.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
