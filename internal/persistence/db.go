// Package persistence provides SQLite-based world state storage.
package persistence

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/world"
)

// ErrNoWorldState is returned by LoadWorldState on an empty database.
var ErrNoWorldState = errors.New("no saved world state")

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		pos_x INTEGER NOT NULL,
		pos_y INTEGER NOT NULL,
		state INTEGER NOT NULL,
		dest_x INTEGER,
		dest_y INTEGER,
		health REAL NOT NULL,
		injuries INTEGER NOT NULL,
		downed INTEGER NOT NULL,
		rage_until INTEGER NOT NULL,
		emerge_progress INTEGER NOT NULL,
		last_tracked INTEGER NOT NULL,
		last_smash_check INTEGER NOT NULL,
		mine_ready_at INTEGER NOT NULL,
		heal_ready_at INTEGER NOT NULL,
		spawn_tick INTEGER NOT NULL,
		bites INTEGER NOT NULL,
		traits_json TEXT NOT NULL,
		tether_json TEXT
	);

	CREATE TABLE IF NOT EXISTS pawns (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		pos_x INTEGER NOT NULL,
		pos_y INTEGER NOT NULL,
		faction INTEGER NOT NULL,
		humanlike INTEGER NOT NULL,
		health REAL NOT NULL,
		downed INTEGER NOT NULL,
		dead INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_map (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		tiles_json TEXT NOT NULL,
		scent BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// agentRow is the column layout of the agents table.
type agentRow struct {
	ID             uint64         `db:"id"`
	PosX           int            `db:"pos_x"`
	PosY           int            `db:"pos_y"`
	State          uint8          `db:"state"`
	DestX          sql.NullInt64  `db:"dest_x"`
	DestY          sql.NullInt64  `db:"dest_y"`
	Health         float32        `db:"health"`
	Injuries       int            `db:"injuries"`
	Downed         bool           `db:"downed"`
	RageUntil      int64          `db:"rage_until"`
	EmergeProgress int            `db:"emerge_progress"`
	LastTracked    int64          `db:"last_tracked"`
	LastSmashCheck int64          `db:"last_smash_check"`
	MineReadyAt    int64          `db:"mine_ready_at"`
	HealReadyAt    int64          `db:"heal_ready_at"`
	SpawnTick      int64          `db:"spawn_tick"`
	Bites          int            `db:"bites"`
	TraitsJSON     string         `db:"traits_json"`
	TetherJSON     sql.NullString `db:"tether_json"`
}

func toRow(a *agents.Agent) (agentRow, error) {
	traits, err := json.Marshal(a.Traits)
	if err != nil {
		return agentRow{}, err
	}
	r := agentRow{
		ID:             uint64(a.ID),
		PosX:           a.Position.X,
		PosY:           a.Position.Y,
		State:          uint8(a.State),
		Health:         a.Health,
		Injuries:       a.Injuries,
		Downed:         a.Downed,
		RageUntil:      a.RageUntil,
		EmergeProgress: a.EmergeProgress,
		LastTracked:    a.LastTracked,
		LastSmashCheck: a.LastSmashCheck,
		MineReadyAt:    a.MineReadyAt,
		HealReadyAt:    a.HealReadyAt,
		SpawnTick:      a.SpawnTick,
		Bites:          a.Bites,
		TraitsJSON:     string(traits),
	}
	if a.HasDestination() {
		d := a.Destination()
		r.DestX = sql.NullInt64{Int64: int64(d.X), Valid: true}
		r.DestY = sql.NullInt64{Int64: int64(d.Y), Valid: true}
	}
	if a.Tether != nil {
		tether, err := json.Marshal(a.Tether)
		if err != nil {
			return agentRow{}, err
		}
		r.TetherJSON = sql.NullString{String: string(tether), Valid: true}
	}
	return r, nil
}

func (r agentRow) agent() (*agents.Agent, error) {
	a := &agents.Agent{
		ID:             agents.AgentID(r.ID),
		Position:       world.Cell{X: r.PosX, Y: r.PosY},
		State:          agents.State(r.State),
		Health:         r.Health,
		Injuries:       r.Injuries,
		Downed:         r.Downed,
		Spawned:        true,
		RageUntil:      r.RageUntil,
		EmergeProgress: r.EmergeProgress,
		LastTracked:    r.LastTracked,
		LastSmashCheck: r.LastSmashCheck,
		MineReadyAt:    r.MineReadyAt,
		HealReadyAt:    r.HealReadyAt,
		SpawnTick:      r.SpawnTick,
		Bites:          r.Bites,
	}
	if err := json.Unmarshal([]byte(r.TraitsJSON), &a.Traits); err != nil {
		return nil, fmt.Errorf("agent %d traits: %w", r.ID, err)
	}
	if r.TetherJSON.Valid {
		a.Tether = &agents.Tether{}
		if err := json.Unmarshal([]byte(r.TetherJSON.String), a.Tether); err != nil {
			return nil, fmt.Errorf("agent %d tether: %w", r.ID, err)
		}
	}
	if r.DestX.Valid && r.DestY.Valid {
		a.RestoreDestination(world.Cell{X: int(r.DestX.Int64), Y: int(r.DestY.Int64)})
	}
	return a, nil
}

// saveAgents replaces the agents table with the live agents.
func saveAgents(tx *sqlx.Tx, agentList []*agents.Agent) error {
	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO agents
		(id, pos_x, pos_y, state, dest_x, dest_y, health, injuries, downed,
		 rage_until, emerge_progress, last_tracked, last_smash_check,
		 mine_ready_at, heal_ready_at, spawn_tick, bites, traits_json, tether_json)
		VALUES (:id, :pos_x, :pos_y, :state, :dest_x, :dest_y, :health, :injuries, :downed,
		 :rage_until, :emerge_progress, :last_tracked, :last_smash_check,
		 :mine_ready_at, :heal_ready_at, :spawn_tick, :bites, :traits_json, :tether_json)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range agentList {
		if !a.Active() {
			continue
		}
		row, err := toRow(a)
		if err != nil {
			return fmt.Errorf("encode agent %d: %w", a.ID, err)
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}
	return nil
}

// LoadAgents reads every saved agent.
func (db *DB) LoadAgents() ([]*agents.Agent, error) {
	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]*agents.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.agent()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// savePawns replaces the pawns table.
func savePawns(tx *sqlx.Tx, pawns []world.Pawn) error {
	if _, err := tx.Exec("DELETE FROM pawns"); err != nil {
		return err
	}
	for _, p := range pawns {
		_, err := tx.Exec(`INSERT INTO pawns
			(id, name, pos_x, pos_y, faction, humanlike, health, downed, dead)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Position.X, p.Position.Y, p.Faction,
			p.Humanlike, p.Health, p.Downed, p.Dead,
		)
		if err != nil {
			return fmt.Errorf("insert pawn %d: %w", p.ID, err)
		}
	}
	return nil
}

type pawnRow struct {
	ID        uint64  `db:"id"`
	Name      string  `db:"name"`
	PosX      int     `db:"pos_x"`
	PosY      int     `db:"pos_y"`
	Faction   uint8   `db:"faction"`
	Humanlike bool    `db:"humanlike"`
	Health    float32 `db:"health"`
	Downed    bool    `db:"downed"`
	Dead      bool    `db:"dead"`
}

// LoadPawns reads every saved pawn.
func (db *DB) LoadPawns() ([]world.Pawn, error) {
	var rows []pawnRow
	if err := db.conn.Select(&rows, "SELECT * FROM pawns ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]world.Pawn, len(rows))
	for i, r := range rows {
		out[i] = world.Pawn{
			ID:        world.PawnID(r.ID),
			Name:      r.Name,
			Position:  world.Cell{X: r.PosX, Y: r.PosY},
			Faction:   world.Faction(r.Faction),
			Humanlike: r.Humanlike,
			Health:    r.Health,
			Downed:    r.Downed,
			Dead:      r.Dead,
		}
	}
	return out, nil
}

// saveMap writes the tile layout and scent timestamps.
func saveMap(tx *sqlx.Tx, width, height int, tiles []world.TileInfo, scent []int64) error {
	tilesJSON, err := json.Marshal(tiles)
	if err != nil {
		return fmt.Errorf("encode tiles: %w", err)
	}
	_, err = tx.Exec(
		"INSERT OR REPLACE INTO world_map (id, width, height, tiles_json, scent) VALUES (1, ?, ?, ?, ?)",
		width, height, string(tilesJSON), encodeScent(scent),
	)
	return err
}

// LoadMap reads the saved tile layout and scent timestamps.
func (db *DB) LoadMap() (width, height int, tiles []world.TileInfo, scent []int64, err error) {
	var row struct {
		Width     int    `db:"width"`
		Height    int    `db:"height"`
		TilesJSON string `db:"tiles_json"`
		Scent     []byte `db:"scent"`
	}
	if err = db.conn.Get(&row, "SELECT width, height, tiles_json, scent FROM world_map WHERE id = 1"); err != nil {
		return 0, 0, nil, nil, err
	}
	if err = json.Unmarshal([]byte(row.TilesJSON), &tiles); err != nil {
		return 0, 0, nil, nil, fmt.Errorf("decode tiles: %w", err)
	}
	scent, err = decodeScent(row.Scent)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	return row.Width, row.Height, tiles, scent, nil
}

// encodeScent packs timestamps as little-endian int64s.
func encodeScent(ts []int64) []byte {
	buf := make([]byte, 8*len(ts))
	for i, v := range ts {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func decodeScent(buf []byte) ([]int64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("scent blob of %d bytes is not a whole number of timestamps", len(buf))
	}
	out := make([]int64, len(buf)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// saveEvents appends events to the log.
func saveEvents(tx *sqlx.Tx, events []engine.Event) error {
	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// saveMeta stores a key-value pair in world metadata.
func saveMeta(tx *sqlx.Tx, key, value string) error {
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// HasWorldState reports whether a world has been saved.
func (db *DB) HasWorldState() bool {
	_, err := db.GetMeta("world_id")
	return err == nil
}

// SaveWorldState performs a full save of all world state in one
// transaction. On error nothing from this save is kept.
func (db *DB) SaveWorldState(sim *engine.Simulation) error {
	snap := sim.Export()
	slog.Info("saving world state", "world", snap.WorldID, "agents", len(snap.Agents), "tick", snap.LastTick)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveMap(tx, snap.Width, snap.Height, snap.Tiles, snap.Scent); err != nil {
		return fmt.Errorf("save map: %w", err)
	}
	if err := savePawns(tx, snap.Pawns); err != nil {
		return fmt.Errorf("save pawns: %w", err)
	}
	if err := saveAgents(tx, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}

	// Only events newer than the previous save.
	var through int64 = -1
	var v string
	if err := tx.Get(&v, "SELECT value FROM world_meta WHERE key = 'events_through'"); err == nil {
		through, _ = strconv.ParseInt(v, 10, 64)
	}
	var fresh []engine.Event
	for _, e := range snap.Events {
		if e.Tick > through {
			fresh = append(fresh, e)
		}
	}
	if err := saveEvents(tx, fresh); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	meta := map[string]string{
		"world_id":       snap.WorldID.String(),
		"seed":           strconv.FormatInt(snap.Seed, 10),
		"last_tick":      strconv.FormatInt(snap.LastTick, 10),
		"events_through": strconv.FormatInt(snap.LastTick, 10),
		"settings":       string(settings),
	}
	for k, v := range meta {
		if err := saveMeta(tx, k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("world state saved")
	return nil
}

// LoadWorldState reads a saved world. Returns ErrNoWorldState when the
// database holds none.
func (db *DB) LoadWorldState() (*engine.WorldSnapshot, error) {
	id, err := db.GetMeta("world_id")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoWorldState
	}
	if err != nil {
		return nil, fmt.Errorf("load world id: %w", err)
	}

	snap := &engine.WorldSnapshot{Settings: config.Default()}
	if snap.WorldID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse world id: %w", err)
	}
	if v, err := db.GetMeta("seed"); err == nil {
		snap.Seed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := db.GetMeta("last_tick"); err == nil {
		snap.LastTick, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := db.GetMeta("settings"); err == nil {
		if err := json.Unmarshal([]byte(v), &snap.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		if err := snap.Settings.Validate(); err != nil {
			slog.Warn("saved settings invalid, using defaults", "error", err)
			snap.Settings = config.Default()
		}
	}

	if snap.Width, snap.Height, snap.Tiles, snap.Scent, err = db.LoadMap(); err != nil {
		return nil, fmt.Errorf("load map: %w", err)
	}
	if snap.Pawns, err = db.LoadPawns(); err != nil {
		return nil, fmt.Errorf("load pawns: %w", err)
	}
	if snap.Agents, err = db.LoadAgents(); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	slog.Info("world state loaded", "world", snap.WorldID, "agents", len(snap.Agents), "tick", snap.LastTick)
	return snap, nil
}

// RecentEvents returns the most recent N events.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}
