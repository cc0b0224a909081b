// Package grid is the scent (pheromone) grid: one decaying timestamp and
// one destination-occupancy counter per world cell.
//
// Every cell field is accessed atomically so agent steps running on
// several workers can stamp scent and claim destinations without locks.
package grid

import (
	"log/slog"
	"sync/atomic"

	"github.com/talgya/horde/internal/world"
)

type cell struct {
	timestamp atomic.Int64
	occupancy atomic.Int32
}

// Grid owns the scent cells for one world.
type Grid struct {
	width  int
	height int
	cells  []cell

	violations atomic.Uint64
}

// New creates a grid of width×height cells, all unstamped and empty.
func New(width, height int) *Grid {
	return &Grid{
		width:  width,
		height: height,
		cells:  make([]cell, width*height),
	}
}

// Width returns the grid width in cells.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height in cells.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether c addresses a grid cell.
func (g *Grid) InBounds(c world.Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.width && c.Y < g.height
}

func (g *Grid) at(c world.Cell) *cell {
	if !g.InBounds(c) {
		if g.violations.Add(1) == 1 {
			slog.Error("grid access out of bounds", "cell", c, "width", g.width, "height", g.height)
		}
		return nil
	}
	return &g.cells[c.Y*g.width+c.X]
}

// Violations returns how many out-of-bounds accesses were ignored.
func (g *Grid) Violations() uint64 {
	return g.violations.Load()
}

// Timestamp returns the tick at which scent was last registered at c.
// Zero means the cell was never stamped.
func (g *Grid) Timestamp(c world.Cell) int64 {
	if p := g.at(c); p != nil {
		return p.timestamp.Load()
	}
	return 0
}

// Bump raises the timestamp at c to ts. A fresher signal is never
// replaced by a staler one.
func (g *Grid) Bump(c world.Cell, ts int64) {
	p := g.at(c)
	if p == nil {
		return
	}
	for {
		cur := p.timestamp.Load()
		if ts <= cur {
			return
		}
		if p.timestamp.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Dampen lowers the timestamp at c to ts, but never below floor and never
// upward. Used by clogging to make crowded cells look stale sooner.
func (g *Grid) Dampen(c world.Cell, ts, floor int64) {
	p := g.at(c)
	if p == nil {
		return
	}
	if ts < floor {
		ts = floor
	}
	for {
		cur := p.timestamp.Load()
		if ts >= cur {
			return
		}
		if p.timestamp.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// IsSignalFresh reports whether c carries a scent younger than fadeWindow.
// A cell that was never stamped (timestamp 0) is never fresh, even at
// tick 0; out-of-bounds cells read as never stamped.
func (g *Grid) IsSignalFresh(c world.Cell, now, fadeWindow int64) bool {
	ts := g.Timestamp(c)
	return ts > 0 && now-ts < fadeWindow
}

// Occupancy returns how many agents currently target c.
func (g *Grid) Occupancy(c world.Cell) int {
	if p := g.at(c); p != nil {
		return int(p.occupancy.Load())
	}
	return 0
}

// ChangeOccupancy adds delta to the occupancy of c. A decrement that would
// go negative is refused and counted as a violation.
func (g *Grid) ChangeOccupancy(c world.Cell, delta int) {
	p := g.at(c)
	if p == nil || delta == 0 {
		return
	}
	for {
		cur := p.occupancy.Load()
		next := cur + int32(delta)
		if next < 0 {
			if g.violations.Add(1) == 1 {
				slog.Error("grid occupancy would go negative", "cell", c, "occupancy", cur, "delta", delta)
			}
			return
		}
		if p.occupancy.CompareAndSwap(cur, next) {
			return
		}
	}
}

// TotalOccupancy sums occupancy across the grid.
func (g *Grid) TotalOccupancy() int {
	total := 0
	for i := range g.cells {
		total += int(g.cells[i].occupancy.Load())
	}
	return total
}

// ResetOccupancy zeroes every occupancy counter.
func (g *Grid) ResetOccupancy() {
	for i := range g.cells {
		g.cells[i].occupancy.Store(0)
	}
}

// Reset clears timestamps and occupancy, as on world (re)load.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i].timestamp.Store(0)
		g.cells[i].occupancy.Store(0)
	}
}

// Recount rebuilds occupancy from the live destinations and returns how
// many cells disagreed with the previous counters.
func (g *Grid) Recount(destinations []world.Cell) int {
	counts := make([]int32, len(g.cells))
	for _, d := range destinations {
		if d.Valid() && g.InBounds(d) {
			counts[d.Y*g.width+d.X]++
		}
	}
	mismatched := 0
	for i := range g.cells {
		if g.cells[i].occupancy.Swap(counts[i]) != counts[i] {
			mismatched++
		}
	}
	return mismatched
}
