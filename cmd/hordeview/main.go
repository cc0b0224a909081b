// Command hordeview runs a horde world in-process and draws it in the
// terminal: scent as a heat map, the avoidance field on demand, agents
// and pawns on top.
//
// Keys: q/Esc quit, space pause, w spawn a wave, o toggle overlay,
// +/- change speed.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/talgya/horde/internal/config"
	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/entropy"
	"github.com/talgya/horde/internal/world"
)

type overlay uint8

const (
	overlayScent overlay = iota
	overlayAvoidance
	overlayNone
)

var overlayNames = [...]string{"scent", "avoidance", "none"}

type viewer struct {
	screen  tcell.Screen
	sim     *engine.Simulation
	eng     *engine.Engine
	overlay overlay
	fade    int64
}

func main() {
	// The screen owns stdout, so logs go to a file.
	logFile, err := os.OpenFile("hordeview.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo})))

	env, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	w, h := screen.Size()
	cfg := world.DefaultGenConfig()
	cfg.Seed = entropy.ResolveSeed(env.Seed)
	cfg.Width = world.Clamp(w, 32, cfg.Width)
	cfg.Height = world.Clamp(h-1, 16, cfg.Height)

	opts := engine.DefaultOptions(cfg.Seed)
	opts.Settings = env.Settings
	sim := engine.NewSimulation(world.Generate(cfg), opts)
	sim.SpawnWave(engine.WaveSize)
	sim.PrepareAll()

	eng := engine.NewEngine()
	eng.OnTick = func(tick int64, budget engine.Budget) { sim.Tick(tick, budget) }
	eng.OnHour = sim.TickHour
	go eng.Run()
	defer eng.Stop()

	v := &viewer{screen: screen, sim: sim, eng: eng, fade: env.Settings.FadeWindowTicks()}
	v.run()
}

func (v *viewer) run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case ev := <-events:
			if !v.handleInput(ev) {
				return
			}
		case <-ticker.C:
			v.draw()
		}
	}
}

func (v *viewer) handleInput(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
			return false
		}
		if ev.Key() != tcell.KeyRune {
			return true
		}
		switch ev.Rune() {
		case 'q':
			return false
		case ' ':
			if v.eng.Speed() > 0 {
				v.eng.SetSpeed(0)
			} else {
				v.eng.SetSpeed(1)
			}
		case 'w':
			v.sim.SpawnWave(engine.WaveSize)
		case 'o':
			v.overlay = (v.overlay + 1) % overlay(len(overlayNames))
		case '+':
			v.eng.SetSpeed(min(v.eng.Speed()*2, 16))
		case '-':
			v.eng.SetSpeed(max(v.eng.Speed()/2, 0.25))
		}
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

func (v *viewer) draw() {
	f := v.sim.Frame()
	v.screen.Clear()
	sw, sh := v.screen.Size()

	for y := 0; y < f.Height && y < sh-1; y++ {
		for x := 0; x < f.Width && x < sw; x++ {
			i := y*f.Width + x
			r, style := tileCell(f.Tiles[i])
			if bg, ok := v.heat(f, i); ok {
				style = style.Background(bg)
			}
			v.screen.SetContent(x, y, r, nil, style)
		}
	}
	for _, c := range f.Pawns {
		v.put(c, '@', tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true), sw, sh)
	}
	for _, c := range f.Agents {
		v.put(c, 'z', tcell.StyleDefault.Foreground(tcell.ColorRed), sw, sh)
	}

	step := v.sim.LastStep()
	status := fmt.Sprintf(" %s  agents %d  ticking %.0f%%  speed %.2gx  overlay %s ",
		engine.SimTime(f.Tick), len(f.Agents), step.Percent*100, v.eng.Speed(), overlayNames[v.overlay])
	for i, r := range status {
		if i >= sw {
			break
		}
		v.screen.SetContent(i, sh-1, r, nil, tcell.StyleDefault.Reverse(true))
	}
	v.screen.Show()
}

func (v *viewer) put(c world.Cell, r rune, style tcell.Style, sw, sh int) {
	if c.X < sw && c.Y < sh-1 {
		v.screen.SetContent(c.X, c.Y, r, nil, style)
	}
}

// heat picks the overlay background for cell i.
func (v *viewer) heat(f engine.Frame, i int) (tcell.Color, bool) {
	switch v.overlay {
	case overlayScent:
		ts := f.Scent[i]
		if ts <= 0 || f.Tick-ts >= v.fade {
			return 0, false
		}
		fresh := 1 - float64(f.Tick-ts)/float64(v.fade)
		return tcell.NewRGBColor(int32(40+160*fresh), int32(20*fresh), 0), true
	case overlayAvoidance:
		cost := f.Costs[i]
		if cost == 0 {
			return 0, false
		}
		level := int32(min(int(cost)*2, 200))
		return tcell.NewRGBColor(0, 0, 55+level), true
	}
	return 0, false
}

func tileCell(t world.TileInfo) (rune, tcell.Style) {
	base := tcell.StyleDefault
	switch t.Tile {
	case world.TileWall:
		return '#', base.Foreground(tcell.ColorGray)
	case world.TileRock:
		return '%', base.Foreground(tcell.ColorOlive)
	case world.TileBuilding:
		return '=', base.Foreground(tcell.ColorSilver)
	case world.TileDoor:
		if t.Open {
			return '/', base.Foreground(tcell.ColorYellow)
		}
		return '+', base.Foreground(tcell.ColorYellow)
	}
	if t.Valuable {
		return '·', base.Foreground(tcell.ColorTeal)
	}
	return ' ', base
}
