package avoidance

import "github.com/talgya/horde/internal/world"

// Spread floods cost outward from every source up to cfg.Radius steps,
// combining overlapping sources by max so dense clusters stay bounded.
// A cell at step distance d receives MaxCost*(Radius+1-d)/(Radius+1).
func Spread(width, height int, cfg Config, sources []world.Cell, passable []bool) *Snapshot {
	size := width * height
	costs := make([]uint16, size)
	if cfg.Radius < 0 || size == 0 {
		return &Snapshot{Width: width, Height: height, costs: costs}
	}

	levels := make([]uint16, cfg.Radius+1)
	for d := range levels {
		levels[d] = uint16(int(cfg.MaxCost) * (cfg.Radius + 1 - d) / (cfg.Radius + 1))
	}

	// visited holds the source generation that last reached each cell.
	visited := make([]int32, size)
	frontier := make([]int, 0, 64)
	next := make([]int, 0, 64)

	for gen, src := range sources {
		if src.X < 0 || src.Y < 0 || src.X >= width || src.Y >= height {
			continue
		}
		mark := int32(gen + 1)
		start := src.Y*width + src.X
		visited[start] = mark
		frontier = append(frontier[:0], start)

		for d := 0; d <= cfg.Radius && len(frontier) > 0; d++ {
			level := levels[d]
			next = next[:0]
			for _, i := range frontier {
				if costs[i] < level {
					costs[i] = level
				}
				if d == cfg.Radius {
					continue
				}
				cx, cy := i%width, i/width
				for _, dir := range world.Adjacent {
					nx, ny := cx+dir.X, cy+dir.Y
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					ni := ny*width + nx
					if visited[ni] == mark {
						continue
					}
					if passable != nil && !passable[ni] {
						continue
					}
					visited[ni] = mark
					next = append(next, ni)
				}
			}
			frontier, next = next, frontier
		}
	}

	return &Snapshot{Width: width, Height: height, costs: costs}
}
