// Package world provides the tile grid topology, pawns, and spatial helpers
// the horde core consumes as its host collaborator.
// Cells use screen coordinates: x grows east, y grows south.
package world

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Cell is a position on the world grid.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Invalid is the "no cell" value used for absent destinations.
var Invalid = Cell{X: -1, Y: -1}

// Valid reports whether c is not the Invalid sentinel.
// It does not check map bounds.
func (c Cell) Valid() bool {
	return c.X >= 0 && c.Y >= 0
}

// Add returns c offset by d.
func (c Cell) Add(d Cell) Cell {
	return Cell{X: c.X + d.X, Y: c.Y + d.Y}
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Neighbor offsets. The first four are cardinal (N, E, S, W), the rest diagonal.
var (
	North     = Cell{X: 0, Y: -1}
	East      = Cell{X: 1, Y: 0}
	South     = Cell{X: 0, Y: 1}
	West      = Cell{X: -1, Y: 0}
	NorthEast = Cell{X: 1, Y: -1}
	SouthEast = Cell{X: 1, Y: 1}
	SouthWest = Cell{X: -1, Y: 1}
	NorthWest = Cell{X: -1, Y: -1}
)

// Cardinals lists the four orthogonal offsets.
var Cardinals = [4]Cell{North, East, South, West}

// Adjacent lists all eight neighbor offsets, cardinals first.
var Adjacent = [8]Cell{North, East, South, West, NorthEast, SouthEast, SouthWest, NorthWest}

// Neighbors returns the eight adjacent cells (unchecked against bounds).
func (c Cell) Neighbors() [8]Cell {
	var result [8]Cell
	for i, d := range Adjacent {
		result[i] = c.Add(d)
	}
	return result
}

// Distance returns the Chebyshev distance (king moves) between two cells.
func Distance(a, b Cell) int {
	return max(Abs(a.X-b.X), Abs(a.Y-b.Y))
}

// DistanceSquared returns the squared Euclidean distance between two cells.
func DistanceSquared(a, b Cell) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// Abs returns the absolute value of x.
func Abs[T constraints.Integer | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
