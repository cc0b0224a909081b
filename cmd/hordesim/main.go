// Command hordesim runs a zombie horde world with its HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/talgya/horde/internal/api"
	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/entropy"
	"github.com/talgya/horde/internal/persistence"
	"github.com/talgya/horde/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	env, err := config.FromEnv(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	seed := entropy.ResolveSeed(env.Seed)

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(env.DBPath), 0755)
	db, err := persistence.Open(env.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", env.DBPath)

	// ── Load or Generate World ────────────────────────────────────────
	opts := engine.DefaultOptions(seed)
	opts.Settings = env.Settings

	var sim *engine.Simulation
	var snap *engine.WorldSnapshot
	if db.HasWorldState() {
		snap, err = db.LoadWorldState()
		if err != nil {
			slog.Error("failed to load world", "error", err)
			os.Exit(1)
		}
		sim, err = engine.FromSnapshot(snap, opts)
		if err != nil {
			slog.Error("failed to restore world", "error", err)
			os.Exit(1)
		}
		slog.Info("world restored",
			"world", sim.WorldID,
			"agents", humanize.Comma(int64(len(snap.Agents))),
			"sim_time", engine.SimTime(snap.LastTick),
		)
	} else {
		slog.Info("no saved state found, generating new world...")
		cfg := world.DefaultGenConfig()
		cfg.Seed = seed
		m := world.Generate(cfg)
		for t, c := range m.TileCounts() {
			slog.Info("tiles", "type", world.TileName(t), "count", c)
		}
		sim = engine.NewSimulation(m, opts)
		sim.SpawnWave(engine.WaveSize)
	}

	// Staging finishes before the clock starts so the first save and the
	// first API reads see a ready world.
	sim.PrepareAll()
	if snap == nil {
		if err := db.SaveWorldState(sim); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Tick = sim.CurrentTick()
	eng.OnTick = func(tick int64, budget engine.Budget) {
		sim.Tick(tick, budget)
	}
	eng.OnHour = sim.TickHour
	eng.OnDay = func(tick int64) {
		if err := db.SaveWorldState(sim); err != nil {
			slog.Error("daily save failed", "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if env.AdminKey == "" {
		slog.Warn("HORDE_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:      sim,
		Eng:      eng,
		DB:       db,
		Port:     env.Port,
		AdminKey: env.AdminKey,
		RelayKey: os.Getenv("HORDE_RELAY_KEY"),
	}
	apiServer.Start()
	defer apiServer.Close()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\nThe horde stirs: %d agents on a %dx%d map.\n", sim.AgentCount(), sim.Map.Width, sim.Map.Height)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", env.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run()

	slog.Info("final save...")
	if err := db.SaveWorldState(sim); err != nil {
		slog.Error("final save failed", "error", err)
	}
	fmt.Println("Simulation stopped. World state saved.")
}
