// Package engine provides the tick-based simulation loop, the adaptive
// agent scheduler, and the per-world simulation bundle.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/horde/internal/config"
)

// TickSchedule defines when each layer runs relative to the tick counter.
const (
	TicksPerSecond = config.TicksPerSecond
	TicksPerHour   = 2500  // One in-game hour
	TicksPerDay    = 60000 // 24 in-game hours
)

// Engine drives the simulation forward at a fixed step.
type Engine struct {
	Tick     int64         // Current tick counter (monotonic, never resets)
	Interval time.Duration // Base tick interval at speed 1

	speedMu sync.RWMutex
	speed   float64 // Multiplier: 1.0 = real-time, 0 = paused

	running atomic.Bool

	// Callbacks for each tick layer, populated during setup. OnTick gets
	// the budget left for this tick.
	OnTick func(tick int64, budget Budget)
	OnHour func(tick int64) // Every TicksPerHour
	OnDay  func(tick int64) // Every TicksPerDay
}

// NewEngine creates a simulation engine running 60 ticks per second.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second / TicksPerSecond,
		speed:    1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.speedMu.RLock()
	defer e.speedMu.RUnlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(v float64) {
	e.speedMu.Lock()
	e.speed = v
	e.speedMu.Unlock()
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the simulation loop. Blocks until Stop() is called.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused, sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.step(Budget{TargetTick: e.Interval, Multiplier: speed})

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Step advances one tick outside the loop, for tools and tests.
func (e *Engine) Step(budget Budget) {
	e.step(budget)
}

func (e *Engine) step(budget Budget) {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick, budget)
	}
	if e.Tick%TicksPerHour == 0 && e.OnHour != nil {
		e.OnHour(e.Tick)
	}
	if e.Tick%TicksPerDay == 0 && e.OnDay != nil {
		e.OnDay(e.Tick)
	}
}

// SimTime returns a human-readable simulation time string from a tick number.
func SimTime(tick int64) string {
	days := tick/TicksPerDay + 1
	inDay := tick % TicksPerDay
	hours := inDay / TicksPerHour
	minutes := inDay % TicksPerHour * 60 / TicksPerHour
	return fmt.Sprintf("Day %d, %d:%02d", days, hours, minutes)
}
