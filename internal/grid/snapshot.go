package grid

import "github.com/talgya/horde/internal/world"

// Timestamps copies every cell timestamp in row-major order.
func (g *Grid) Timestamps() []int64 {
	out := make([]int64, len(g.cells))
	for i := range g.cells {
		out[i] = g.cells[i].timestamp.Load()
	}
	return out
}

// Occupancies copies every occupancy counter in row-major order.
func (g *Grid) Occupancies() []int32 {
	out := make([]int32, len(g.cells))
	for i := range g.cells {
		out[i] = g.cells[i].occupancy.Load()
	}
	return out
}

// RestoreTimestamps loads timestamps saved by Timestamps.
// Returns false if the length does not match the grid.
func (g *Grid) RestoreTimestamps(ts []int64) bool {
	if len(ts) != len(g.cells) {
		return false
	}
	for i, v := range ts {
		g.cells[i].timestamp.Store(v)
	}
	return true
}

// Density sums occupancy over the 3×3 block around c.
func (g *Grid) Density(c world.Cell) int {
	total := g.Occupancy(c)
	for _, n := range c.Neighbors() {
		if g.InBounds(n) {
			total += g.Occupancy(n)
		}
	}
	return total
}
