// Staged world preparation. Setting up a world is spread across ticks:
// each call to Step does one bounded chunk of work and reports whether
// the world is ready.
package engine

import (
	"log/slog"
	"time"

	"github.com/talgya/horde/internal/agents"
)

// Stage is one step of world preparation.
type Stage uint8

const (
	StageGrid Stage = iota
	StageRegions
	StageAvoidance
	StageRecount
	StageReady
)

// StageName returns a human-readable stage name.
func StageName(st Stage) string {
	switch st {
	case StageGrid:
		return "grid"
	case StageRegions:
		return "regions"
	case StageAvoidance:
		return "avoidance"
	case StageRecount:
		return "recount"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// regionChunksPerStep bounds region flooding per staging call and per
// tick once running.
const regionChunksPerStep = 16

// staging tracks preparation progress for one world.
type staging struct {
	stage     Stage
	keepScent bool // Timestamps were restored from a save
	started   time.Time
	steps     int
}

// Stage returns the current preparation stage.
func (s *Simulation) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staging.stage
}

// Ready reports whether preparation finished.
func (s *Simulation) Ready() bool {
	return s.Stage() == StageReady
}

func (s *Simulation) prepare(keepScent bool) {
	s.staging = staging{stage: StageGrid, keepScent: keepScent, started: time.Now()}
	s.Regions.MarkAllDirty()
}

// PrepareStep performs one bounded chunk of preparation. Returns true
// once the world is ready.
func (s *Simulation) PrepareStep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareStep()
}

// PrepareAll runs staging to completion.
func (s *Simulation) PrepareAll() {
	for !s.PrepareStep() {
	}
}

func (s *Simulation) prepareStep() bool {
	st := &s.staging
	st.steps++
	switch st.stage {
	case StageGrid:
		if st.keepScent {
			s.Grid.ResetOccupancy()
		} else {
			s.Grid.Reset()
		}
		st.stage = StageRegions
	case StageRegions:
		if s.Regions.Step(regionChunksPerStep) {
			st.stage = StageAvoidance
		}
	case StageAvoidance:
		s.Avoid.Recompute(s.LastTick, agents.AvoidanceSources(s.Agents), s.passable())
		st.stage = StageRecount
	case StageRecount:
		s.recountOccupancy()
		st.stage = StageReady
		slog.Info("world ready",
			"world", s.WorldID,
			"agents", len(s.Agents),
			"steps", st.steps,
			"took", time.Since(st.started),
		)
	}
	return st.stage == StageReady
}
