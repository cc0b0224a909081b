package world

import (
	"fmt"
	"sync"
)

// Tile is the structural content of a cell.
type Tile uint8

const (
	TileFloor    Tile = iota // Open ground
	TileWall                 // Natural wall, indestructible
	TileDoor                 // Door, passable when open
	TileBuilding             // Constructed wall or furniture, smashable
	TileRock                 // Mineable rock
)

// Faction owns structures and pawns.
type Faction uint8

const (
	FactionNone Faction = iota
	FactionPlayer
	FactionNeutral
	FactionHostile
)

// TileInfo is everything the map stores for one cell.
type TileInfo struct {
	Tile     Tile    `json:"tile"`
	Open     bool    `json:"open,omitempty"` // Doors only
	HP       float32 `json:"hp,omitempty"`   // Doors, buildings, rock
	Faction  Faction `json:"faction,omitempty"`
	Roofed   bool    `json:"roofed,omitempty"`
	Valuable bool    `json:"valuable,omitempty"` // Part of a room worth raiding
}

// Default hit points for destructible tiles.
const (
	DoorHP     = 60
	BuildingHP = 120
	RockHP     = 200
)

// Map holds the tile grid and the pawns living on it.
// Tiles are mutated only from the host thread; agent steps read them.
type Map struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	tiles   []TileInfo
	version uint64

	Pawns     []*Pawn
	pawnIndex map[Cell]*Pawn

	listenMu  sync.Mutex
	listeners []func(Cell)
}

// NewMap creates an all-floor map of the given size.
func NewMap(width, height int) *Map {
	return &Map{
		Width:     width,
		Height:    height,
		tiles:     make([]TileInfo, width*height),
		pawnIndex: make(map[Cell]*Pawn),
	}
}

// InBounds reports whether c lies on the map.
func (m *Map) InBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.Width && c.Y < m.Height
}

// Index returns the flat index of c. The caller must check InBounds first.
func (m *Map) Index(c Cell) int {
	return c.Y*m.Width + c.X
}

// CellAt is the inverse of Index.
func (m *Map) CellAt(i int) Cell {
	return Cell{X: i % m.Width, Y: i / m.Width}
}

// Get returns the tile info at c. Out-of-bounds cells read as natural wall.
func (m *Map) Get(c Cell) TileInfo {
	if !m.InBounds(c) {
		return TileInfo{Tile: TileWall}
	}
	return m.tiles[m.Index(c)]
}

// Set replaces the tile at c and notifies topology listeners.
func (m *Map) Set(c Cell, t TileInfo) {
	if !m.InBounds(c) {
		return
	}
	m.tiles[m.Index(c)] = t
	m.changed(c)
}

// set writes without notification, used during generation.
func (m *Map) set(c Cell, t TileInfo) {
	if m.InBounds(c) {
		m.tiles[m.Index(c)] = t
	}
}

// IsWalkable reports whether an ordinary agent can stand on c.
func (m *Map) IsWalkable(c Cell) bool {
	if !m.InBounds(c) {
		return false
	}
	t := m.tiles[m.Index(c)]
	return t.Tile == TileFloor || (t.Tile == TileDoor && t.Open)
}

// CanPhysicallyPass reports whether an agent may move through the door at c.
// Agents strong enough to force doors pass closed doors too.
func (m *Map) CanPhysicallyPass(c Cell, forceDoors bool) bool {
	t := m.Get(c)
	if t.Tile != TileDoor {
		return m.IsWalkable(c)
	}
	return t.Open || forceDoors
}

// IsDoor reports whether c holds a door, open or closed.
func (m *Map) IsDoor(c Cell) bool {
	return m.Get(c).Tile == TileDoor
}

// IsMineable reports whether c holds rock.
func (m *Map) IsMineable(c Cell) bool {
	return m.Get(c).Tile == TileRock
}

// IsSmashable reports whether c holds a door or a constructed building.
func (m *Map) IsSmashable(c Cell) bool {
	t := m.Get(c).Tile
	return t == TileDoor || t == TileBuilding
}

// Roofed reports whether c is indoors.
func (m *Map) Roofed(c Cell) bool {
	return m.Get(c).Roofed
}

// Valuable reports whether c belongs to a room worth raiding.
func (m *Map) Valuable(c Cell) bool {
	return m.Get(c).Valuable
}

// SetDoor opens or closes the door at c. Returns false if c is not a door.
func (m *Map) SetDoor(c Cell, open bool) bool {
	if !m.IsDoor(c) {
		return false
	}
	t := m.tiles[m.Index(c)]
	if t.Open == open {
		return true
	}
	t.Open = open
	m.tiles[m.Index(c)] = t
	m.changed(c)
	return true
}

// Damage removes hit points from a door, building or rock at c.
// Returns true if the tile was destroyed and turned into floor.
func (m *Map) Damage(c Cell, amount float32) bool {
	if !m.InBounds(c) || amount <= 0 {
		return false
	}
	i := m.Index(c)
	t := m.tiles[i]
	switch t.Tile {
	case TileDoor, TileBuilding, TileRock:
	default:
		return false
	}
	t.HP -= amount
	if t.HP > 0 {
		m.tiles[i] = t
		return false
	}
	m.tiles[i] = TileInfo{Tile: TileFloor, Roofed: t.Roofed, Valuable: t.Valuable}
	m.changed(c)
	return true
}

// Tiles copies every tile in row-major order.
func (m *Map) Tiles() []TileInfo {
	out := make([]TileInfo, len(m.tiles))
	copy(out, m.tiles)
	return out
}

// RestoreTiles replaces every tile, as on load. Returns false if the
// length does not match the map. Listeners are not notified; callers
// rebuild derived state themselves.
func (m *Map) RestoreTiles(tiles []TileInfo) bool {
	if len(tiles) != len(m.tiles) {
		return false
	}
	copy(m.tiles, tiles)
	m.version++
	return true
}

// Version increments on every topology change.
func (m *Map) Version() uint64 {
	return m.version
}

// OnTopologyChanged registers a listener called with the changed cell.
func (m *Map) OnTopologyChanged(fn func(Cell)) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Map) changed(c Cell) {
	m.version++
	m.listenMu.Lock()
	listeners := m.listeners
	m.listenMu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// TileCounts returns a summary of tile type distribution.
func (m *Map) TileCounts() map[Tile]int {
	counts := make(map[Tile]int)
	for _, t := range m.tiles {
		counts[t.Tile]++
	}
	return counts
}

// TileName returns a human-readable name for a tile type.
func TileName(t Tile) string {
	switch t {
	case TileFloor:
		return "Floor"
	case TileWall:
		return "Wall"
	case TileDoor:
		return "Door"
	case TileBuilding:
		return "Building"
	case TileRock:
		return "Rock"
	default:
		return "Unknown"
	}
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%dx%d, pawns=%d, version=%d)", m.Width, m.Height, len(m.Pawns), m.version)
}
