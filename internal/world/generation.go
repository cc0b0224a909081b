// World generation using layered simplex noise.
// Noise decides where rock outcrops form; rooms are carved afterwards
// on the clearest ground and populated with pawns.
package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Width     int
	Height    int
	Seed      int64   // Random seed (0 = random)
	RockLevel float64 // Noise threshold above which rock forms (0.0–1.0)
	Rooms     int     // Number of rooms to carve
	Pawns     int     // Number of pawns to place
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:     160,
		Height:    120,
		Seed:      0,
		RockLevel: 0.68,
		Rooms:     8,
		Pawns:     12,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:     48,
		Height:    36,
		Seed:      42,
		RockLevel: 0.72,
		Rooms:     2,
		Pawns:     3,
	}
}

// Generate creates a complete map with rock, rooms and pawns.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	rockNoise := opensimplex.NewNormalized(seed)
	m := NewMap(cfg.Width, cfg.Height)

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			c := Cell{X: x, Y: y}
			if x == 0 || y == 0 || x == cfg.Width-1 || y == cfg.Height-1 {
				m.set(c, TileInfo{Tile: TileWall})
				continue
			}
			if octaveNoise(rockNoise, float64(x), float64(y), 4, 0.06, 0.5) > cfg.RockLevel {
				m.set(c, TileInfo{Tile: TileRock, HP: RockHP})
			}
		}
	}

	rng := rand.New(rand.NewSource(seed + 100))
	rooms := PlaceRooms(m, rockNoise, rng, cfg.Rooms)
	placePawns(m, rooms, rng, cfg.Pawns)
	return m
}

func placePawns(m *Map, rooms []Room, rng *rand.Rand, count int) {
	id := PawnID(1)
	for i := 0; i < count; i++ {
		var c Cell
		faction := FactionPlayer
		if len(rooms) > 0 && rng.Float32() < 0.8 {
			r := rooms[i%len(rooms)]
			c = Cell{
				X: r.X + 1 + rng.Intn(max(1, r.W-2)),
				Y: r.Y + 1 + rng.Intn(max(1, r.H-2)),
			}
		} else {
			c = Cell{X: 1 + rng.Intn(m.Width-2), Y: 1 + rng.Intn(m.Height-2)}
			faction = FactionNeutral
		}
		if !m.IsWalkable(c) || m.PawnAt(c) != nil {
			continue
		}
		m.AddPawn(&Pawn{
			ID:        id,
			Name:      pawnName(rng),
			Position:  c,
			Faction:   faction,
			Humanlike: true,
			Health:    1,
		})
		id++
	}
}

var pawnNames = []string{
	"Ada", "Bram", "Cato", "Dara", "Eli", "Fenn", "Gale", "Hale",
	"Ira", "Jory", "Kest", "Lark", "Mira", "Nils", "Orin", "Pell",
}

func pawnName(rng *rand.Rand) string {
	return pawnNames[rng.Intn(len(pawnNames))]
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
