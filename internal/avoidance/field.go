// Package avoidance maintains a coarse danger map around the horde so
// non-horde pawns can steer clear of it without pathfinding against every
// agent. The map is rebuilt wholesale on an interval and swapped in as an
// immutable snapshot; readers never block and may see a stale snapshot.
package avoidance

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/horde/internal/world"
)

// Config tunes the spread.
type Config struct {
	Radius    int    // Cells beyond this distance get no cost
	MaxCost   uint16 // Cost at a source cell
	Threshold uint16 // ShouldAvoid at or above this cost
	Interval  int64  // Ticks between recomputes
}

// DefaultConfig returns the spread used by the simulation.
func DefaultConfig() Config {
	return Config{
		Radius:    5,
		MaxCost:   1200,
		Threshold: 600,
		Interval:  120,
	}
}

// Snapshot is one complete, read-only cost map.
type Snapshot struct {
	Width  int
	Height int
	Tick   int64 // Tick the snapshot was requested at
	costs  []uint16
}

// Cost returns the cost at c, zero outside the map.
func (s *Snapshot) Cost(c world.Cell) int {
	if s == nil || c.X < 0 || c.Y < 0 || c.X >= s.Width || c.Y >= s.Height {
		return 0
	}
	return int(s.costs[c.Y*s.Width+c.X])
}

// Costs returns a copy of the raw cost array in row-major order.
func (s *Snapshot) Costs() []uint16 {
	if s == nil {
		return nil
	}
	out := make([]uint16, len(s.costs))
	copy(out, s.costs)
	return out
}

// Field owns the current snapshot and schedules rebuilds.
type Field struct {
	cfg    Config
	width  int
	height int

	current  atomic.Pointer[Snapshot]
	busy     atomic.Bool
	lastTick atomic.Int64
	rebuilds atomic.Uint64
	wg       sync.WaitGroup
}

// New creates a field with an all-zero snapshot.
func New(width, height int, cfg Config) *Field {
	f := &Field{cfg: cfg, width: width, height: height}
	f.current.Store(&Snapshot{Width: width, Height: height, costs: make([]uint16, width*height)})
	f.lastTick.Store(-cfg.Interval)
	return f
}

// Config returns the spread configuration.
func (f *Field) Config() Config {
	return f.cfg
}

// Costs returns the current snapshot. It stays valid and unchanged
// after later rebuilds.
func (f *Field) Costs() *Snapshot {
	return f.current.Load()
}

// ShouldAvoid reports whether c is above the danger threshold.
func (f *Field) ShouldAvoid(c world.Cell) bool {
	return f.Costs().Cost(c) >= int(f.cfg.Threshold)
}

// InDanger reports whether a pawn standing at pos should flee.
func (f *Field) InDanger(pos world.Cell) bool {
	return f.ShouldAvoid(pos)
}

// Rebuilds returns how many snapshots have been swapped in.
func (f *Field) Rebuilds() uint64 {
	return f.rebuilds.Load()
}

// Due reports whether the interval since the last request has elapsed.
func (f *Field) Due(tick int64) bool {
	return tick-f.lastTick.Load() >= f.cfg.Interval
}

// Request starts a background rebuild if one is due and none is running.
// sources and passable are owned by the field after the call.
// Returns true if a rebuild was started.
func (f *Field) Request(tick int64, sources []world.Cell, passable []bool) bool {
	if !f.Due(tick) || !f.busy.CompareAndSwap(false, true) {
		return false
	}
	f.lastTick.Store(tick)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.busy.Store(false)
		f.Recompute(tick, sources, passable)
	}()
	return true
}

// Wait blocks until any running background rebuild has finished.
func (f *Field) Wait() {
	f.wg.Wait()
}

// Recompute builds a fresh snapshot synchronously and swaps it in.
// passable may be nil, in which case every cell spreads.
func (f *Field) Recompute(tick int64, sources []world.Cell, passable []bool) *Snapshot {
	start := time.Now()
	snap := Spread(f.width, f.height, f.cfg, sources, passable)
	snap.Tick = tick
	f.current.Store(snap)
	f.rebuilds.Add(1)
	slog.Debug("avoidance field rebuilt", "tick", tick, "sources", len(sources), "took", time.Since(start))
	return snap
}
