package regions

import (
	"sort"

	"github.com/talgya/horde/internal/world"
)

// link is an adjacency from one region into another through cross,
// the first cell (row-major) of the target region touching the source.
type link struct {
	to    int32
	cross world.Cell
}

type node struct {
	parent int32
	step   world.Cell // Cell in the parent region to head for
	root   bool
}

// Trees is an immutable snapshot of the region partition and both
// back-pointer trees.
type Trees struct {
	width      int
	height     int
	cellRegion []int32
	regions    int
	respect    map[int32]node
	ignore     map[int32]node
}

// Regions returns the number of regions in the partition.
func (t *Trees) Regions() int {
	return t.regions
}

// RegionAt returns the region of c, or NoRegion.
func (t *Trees) RegionAt(c world.Cell) int32 {
	if t.cellRegion == nil || c.X < 0 || c.Y < 0 || c.X >= t.width || c.Y >= t.height {
		return NoRegion
	}
	return t.cellRegion[c.Y*t.width+c.X]
}

// Parent returns the next cell toward the nearest goal region.
func (t *Trees) Parent(c world.Cell, ignoreDoors bool) (world.Cell, bool) {
	r := t.RegionAt(c)
	if r == NoRegion {
		return world.Invalid, false
	}
	tree := t.respect
	if ignoreDoors {
		tree = t.ignore
	}
	n, ok := tree[r]
	if !ok || n.root {
		return world.Invalid, false
	}
	return n.step, true
}

// HasGoals reports whether any goal region exists.
func (t *Trees) HasGoals() bool {
	return len(t.respect) > 0
}

// Reachable reports whether c's region has a path to a goal (or is one).
func (t *Trees) Reachable(c world.Cell, ignoreDoors bool) bool {
	tree := t.respect
	if ignoreDoors {
		tree = t.ignore
	}
	_, ok := tree[t.RegionAt(c)]
	return ok
}

func (g *Graph) buildLinks() map[int32][]link {
	links := make(map[int32][]link)
	seen := make(map[[2]int32]bool)

	// Row-major scan: the first crossing found for a pair is the
	// lowest-index one, independent of region discovery order.
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			r := g.cellRegion[y*g.width+x]
			if r == NoRegion {
				continue
			}
			c := world.Cell{X: x, Y: y}
			for _, d := range world.Cardinals {
				n := c.Add(d)
				if n.X < 0 || n.Y < 0 || n.X >= g.width || n.Y >= g.height {
					continue
				}
				s := g.cellRegion[n.Y*g.width+n.X]
				if s == NoRegion || s == r {
					continue
				}
				key := [2]int32{r, s}
				if seen[key] {
					// Keep the crossing with the lowest flat index.
					for i := range links[r] {
						if links[r][i].to == s && index(n, g.width) < index(links[r][i].cross, g.width) {
							links[r][i].cross = n
						}
					}
					continue
				}
				seen[key] = true
				links[r] = append(links[r], link{to: s, cross: n})
			}
		}
	}

	for r := range links {
		sort.Slice(links[r], func(i, j int) bool { return links[r][i].to < links[r][j].to })
	}
	return links
}

func index(c world.Cell, width int) int {
	return c.Y*width + c.X
}

// buildTree runs a multi-source BFS from every passable goal region.
// Roots and neighbors are visited in ascending ID order so the result is
// a pure function of the partition.
func buildTree(all map[int32]*region, links map[int32][]link, ignoreDoors bool) map[int32]node {
	passable := func(r *region) bool {
		return !r.door || r.open || ignoreDoors
	}

	ids := make([]int32, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tree := make(map[int32]node)
	queue := make([]int32, 0, len(ids))
	for _, id := range ids {
		r := all[id]
		if r.goal && passable(r) {
			tree[id] = node{parent: NoRegion, step: world.Invalid, root: true}
			queue = append(queue, id)
		}
	}

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, l := range links[cur] {
			if _, seen := tree[l.to]; seen {
				continue
			}
			next, ok := all[l.to]
			if !ok || !passable(next) {
				continue
			}
			tree[l.to] = node{parent: cur, step: crossing(links, l.to, cur)}
			queue = append(queue, l.to)
		}
	}
	return tree
}

// crossing returns the cell of region to adjacent to region from.
func crossing(links map[int32][]link, from, to int32) world.Cell {
	ls := links[from]
	i := sort.Search(len(ls), func(i int) bool { return ls[i].to >= to })
	if i < len(ls) && ls[i].to == to {
		return ls[i].cross
	}
	return world.Invalid
}
