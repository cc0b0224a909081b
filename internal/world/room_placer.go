// Room placement. Scores candidate rectangles and carves walled rooms
// with a single closed door each.
package world

import (
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Room is a carved rectangular room including its wall ring.
type Room struct {
	X, Y     int // Top-left wall corner
	W, H     int // Outer size including walls
	Door     Cell
	Valuable bool
}

// Contains reports whether c lies inside the room's interior.
func (r Room) Contains(c Cell) bool {
	return c.X > r.X && c.Y > r.Y && c.X < r.X+r.W-1 && c.Y < r.Y+r.H-1
}

// Center returns the interior center cell.
func (r Room) Center() Cell {
	return Cell{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

func (r Room) overlaps(o Room, margin int) bool {
	return r.X-margin < o.X+o.W && o.X-margin < r.X+r.W &&
		r.Y-margin < o.Y+o.H && o.Y-margin < r.Y+r.H
}

// PlaceRooms carves up to count rooms on the clearest ground.
// The best-scored room is valuable.
func PlaceRooms(m *Map, noise opensimplex.Noise, rng *rand.Rand, count int) []Room {
	if count <= 0 || m.Width < 12 || m.Height < 12 {
		return nil
	}

	// Score random candidates by how little rock they would displace.
	type scored struct {
		room  Room
		score float64
	}
	var candidates []scored
	for i := 0; i < count*20; i++ {
		w := 6 + rng.Intn(7)
		h := 5 + rng.Intn(6)
		r := Room{
			X: 1 + rng.Intn(max(1, m.Width-w-2)),
			Y: 1 + rng.Intn(max(1, m.Height-h-2)),
			W: w,
			H: h,
		}
		candidates = append(candidates, scored{room: r, score: roomScore(m, noise, r)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var rooms []Room
	for _, c := range candidates {
		if len(rooms) >= count {
			break
		}
		if tooClose(c.room, rooms) {
			continue
		}
		r := c.room
		r.Valuable = len(rooms) == 0
		r.Door = carveRoom(m, r, rng)
		rooms = append(rooms, r)
	}
	return rooms
}

// roomScore prefers open ground away from rock.
func roomScore(m *Map, noise opensimplex.Noise, r Room) float64 {
	score := 0.0
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			if m.Get(Cell{X: x, Y: y}).Tile == TileFloor {
				score += 1
			}
		}
	}
	// Slight preference for low-noise ground so rooms cluster in valleys.
	return score/float64(r.W*r.H) - noise.Eval2(float64(r.X)*0.06, float64(r.Y)*0.06)*0.2
}

func tooClose(r Room, existing []Room) bool {
	for _, o := range existing {
		if r.overlaps(o, 2) {
			return true
		}
	}
	return false
}

// carveRoom writes walls, roofed floor and a closed door. Returns the door cell.
func carveRoom(m *Map, r Room, rng *rand.Rand) Cell {
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			c := Cell{X: x, Y: y}
			edge := x == r.X || y == r.Y || x == r.X+r.W-1 || y == r.Y+r.H-1
			if edge {
				m.set(c, TileInfo{Tile: TileBuilding, HP: BuildingHP, Faction: FactionPlayer, Roofed: true})
				continue
			}
			m.set(c, TileInfo{Tile: TileFloor, Roofed: true, Valuable: r.Valuable})
		}
	}

	var door Cell
	switch rng.Intn(4) {
	case 0:
		door = Cell{X: r.X + r.W/2, Y: r.Y}
	case 1:
		door = Cell{X: r.X + r.W - 1, Y: r.Y + r.H/2}
	case 2:
		door = Cell{X: r.X + r.W/2, Y: r.Y + r.H - 1}
	default:
		door = Cell{X: r.X, Y: r.Y + r.H/2}
	}
	m.set(door, TileInfo{Tile: TileDoor, HP: DoorHP, Faction: FactionPlayer, Roofed: true})

	// Keep the doorstep clear so the room is reachable.
	for _, d := range Cardinals {
		step := door.Add(d)
		if r.Contains(step) || !m.InBounds(step) {
			continue
		}
		if t := m.Get(step).Tile; t == TileRock {
			m.set(step, TileInfo{Tile: TileFloor})
		}
	}
	return door
}
