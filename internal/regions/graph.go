// Package regions implements smart wandering: the walkable world is cut
// into small regions, and multi-source breadth-first trees over those
// regions point every reachable region one step closer to the nearest
// goal. Agents read a back-pointer instead of running a path search.
//
// Two trees are kept: one where closed doors block, one where doors are
// ignored (for agents that can force them).
package regions

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talgya/horde/internal/world"
)

// ChunkSize bounds region extent; regions never cross chunk borders,
// which keeps them small enough for greedy stepping and lets a topology
// change re-flood only the chunks it touched.
const ChunkSize = 12

// NoRegion marks impassable cells.
const NoRegion int32 = -1

// Topology is the part of the world map the graph reads.
type Topology interface {
	IsWalkable(c world.Cell) bool
	IsDoor(c world.Cell) bool
}

// Goal selects the cells smart wandering should lead toward.
type Goal func(c world.Cell) bool

// Graph owns the region partition and the current back-pointer trees.
// Parent is safe to call from any goroutine; everything else belongs to
// the host thread.
type Graph struct {
	width   int
	height  int
	chunksX int
	chunksY int
	topo    Topology
	goal    Goal

	// Working partition, rewritten chunk by chunk.
	cellRegion []int32
	regions    []map[int32]*region // per chunk
	dirty      []bool
	dirtyCount int
	pending    bool // chunks were re-flooded since the last finalize

	current  atomic.Pointer[Trees]
	rebuilds atomic.Uint64
}

type region struct {
	id     int32
	anchor world.Cell
	cells  int
	door   bool
	open   bool
	goal   bool
}

// New creates a graph with every chunk dirty. Call UpdateRegions (or Step
// until it returns true) before relying on Parent.
func New(width, height int, topo Topology, goal Goal) *Graph {
	g := &Graph{
		width:   width,
		height:  height,
		chunksX: (width + ChunkSize - 1) / ChunkSize,
		chunksY: (height + ChunkSize - 1) / ChunkSize,
		topo:    topo,
		goal:    goal,
	}
	g.cellRegion = make([]int32, width*height)
	for i := range g.cellRegion {
		g.cellRegion[i] = NoRegion
	}
	g.regions = make([]map[int32]*region, g.chunksX*g.chunksY)
	g.dirty = make([]bool, len(g.regions))
	g.current.Store(&Trees{width: width, height: height})
	g.MarkAllDirty()
	return g
}

// MarkDirty flags the chunk containing c for re-flooding. This is the
// topology-changed notification hook.
func (g *Graph) MarkDirty(c world.Cell) {
	if c.X < 0 || c.Y < 0 || c.X >= g.width || c.Y >= g.height {
		return
	}
	ci := (c.Y/ChunkSize)*g.chunksX + c.X/ChunkSize
	if !g.dirty[ci] {
		g.dirty[ci] = true
		g.dirtyCount++
	}
}

// MarkAllDirty flags every chunk, forcing a full rebuild.
func (g *Graph) MarkAllDirty() {
	for i := range g.dirty {
		g.dirty[i] = true
	}
	g.dirtyCount = len(g.dirty)
}

// Dirty reports whether a rebuild is outstanding.
func (g *Graph) Dirty() bool {
	return g.dirtyCount > 0 || g.pending
}

// Step re-floods up to budget dirty chunks. Once none remain it rebuilds
// the links and trees and swaps them in. Returns true when the graph is
// up to date. Calling it on a clean graph does nothing.
func (g *Graph) Step(budget int) bool {
	for ci := 0; ci < len(g.dirty) && budget > 0; ci++ {
		if !g.dirty[ci] {
			continue
		}
		g.floodChunk(ci)
		g.dirty[ci] = false
		g.dirtyCount--
		g.pending = true
		budget--
	}
	if g.dirtyCount > 0 {
		return false
	}
	if g.pending {
		g.finalize()
		g.pending = false
	}
	return true
}

// UpdateRegions brings the graph fully up to date. Idempotent: with no
// topology change since the last call it changes nothing.
func (g *Graph) UpdateRegions() {
	for !g.Step(len(g.dirty)) {
	}
}

// Trees returns the current immutable back-pointer snapshot.
func (g *Graph) Trees() *Trees {
	return g.current.Load()
}

// Parent returns the next cell to head for from c toward the nearest goal.
// ok is false inside goal regions, unreachable pockets, and impassable cells.
func (g *Graph) Parent(c world.Cell, ignoreDoors bool) (world.Cell, bool) {
	return g.Trees().Parent(c, ignoreDoors)
}

// Rebuilds returns how many tree snapshots have been swapped in.
func (g *Graph) Rebuilds() uint64 {
	return g.rebuilds.Load()
}

// floodChunk recomputes the regions of one chunk with 4-connected flood
// fill seeded in row-major order, so IDs depend only on the chunk's tiles.
func (g *Graph) floodChunk(ci int) {
	x0 := (ci % g.chunksX) * ChunkSize
	y0 := (ci / g.chunksX) * ChunkSize
	x1 := min(x0+ChunkSize, g.width)
	y1 := min(y0+ChunkSize, g.height)
	base := int32(ci * ChunkSize * ChunkSize)

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			g.cellRegion[y*g.width+x] = NoRegion
		}
	}

	found := make(map[int32]*region)
	ordinal := int32(0)
	var stack []world.Cell

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			c := world.Cell{X: x, Y: y}
			if g.cellRegion[y*g.width+x] != NoRegion {
				continue
			}
			door := g.topo.IsDoor(c)
			if !door && !g.topo.IsWalkable(c) {
				continue
			}

			r := &region{id: base + ordinal, anchor: c, door: door}
			ordinal++
			found[r.id] = r

			if door {
				r.open = g.topo.IsWalkable(c)
				r.cells = 1
				r.goal = g.goal != nil && g.goal(c)
				g.cellRegion[y*g.width+x] = r.id
				continue
			}

			stack = append(stack[:0], c)
			g.cellRegion[y*g.width+x] = r.id
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				r.cells++
				if !r.goal && g.goal != nil && g.goal(cur) {
					r.goal = true
				}
				for _, d := range world.Cardinals {
					n := cur.Add(d)
					if n.X < x0 || n.Y < y0 || n.X >= x1 || n.Y >= y1 {
						continue
					}
					ni := n.Y*g.width + n.X
					if g.cellRegion[ni] != NoRegion || g.topo.IsDoor(n) || !g.topo.IsWalkable(n) {
						continue
					}
					g.cellRegion[ni] = r.id
					stack = append(stack, n)
				}
			}
		}
	}
	g.regions[ci] = found
}

func (g *Graph) finalize() {
	start := time.Now()
	links := g.buildLinks()

	all := make(map[int32]*region)
	for _, chunk := range g.regions {
		for id, r := range chunk {
			all[id] = r
		}
	}

	cells := make([]int32, len(g.cellRegion))
	copy(cells, g.cellRegion)

	t := &Trees{
		width:      g.width,
		height:     g.height,
		cellRegion: cells,
		regions:    len(all),
	}
	t.respect = buildTree(all, links, false)
	t.ignore = buildTree(all, links, true)

	g.current.Store(t)
	n := g.rebuilds.Add(1)
	slog.Debug("region trees rebuilt",
		"regions", len(all),
		"reachable_respect", len(t.respect),
		"reachable_ignore", len(t.ignore),
		"rebuild", n,
		"took", time.Since(start),
	)
}
