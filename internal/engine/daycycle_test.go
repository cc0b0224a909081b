package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDayPhase(t *testing.T) {
	at := func(hour int64) int64 { return 3*TicksPerDay + hour*TicksPerHour }
	assert.Equal(t, PhaseDay, DayPhase(at(12)))
	assert.Equal(t, PhaseDusk, DayPhase(at(19)))
	assert.Equal(t, PhaseNight, DayPhase(at(23)))
	assert.Equal(t, PhaseNight, DayPhase(at(2)))
	assert.Equal(t, PhaseDawn, DayPhase(at(6)))
	assert.Equal(t, "Dusk", PhaseName(PhaseDusk))
}

func TestNightWindowProgress(t *testing.T) {
	night, _ := NightWindow(12 * TicksPerHour)
	assert.False(t, night)

	night, p := NightWindow(18 * TicksPerHour)
	assert.True(t, night)
	assert.Zero(t, p)

	_, mid := NightWindow(TicksPerDay + 30*TicksPerHour/60) // 00:30
	_, late := NightWindow(TicksPerDay + 6*TicksPerHour)
	assert.Greater(t, late, mid)
	assert.Less(t, late, 1.0)
}

func TestSimTime(t *testing.T) {
	assert.Equal(t, "Day 1, 0:00", SimTime(0))
	assert.Equal(t, "Day 2, 6:30", SimTime(TicksPerDay+6*TicksPerHour+TicksPerHour/2))
}

func TestEngineStepLayers(t *testing.T) {
	e := NewEngine()
	ticks, hours, days := 0, 0, 0
	e.OnTick = func(int64, Budget) { ticks++ }
	e.OnHour = func(int64) { hours++ }
	e.OnDay = func(int64) { days++ }

	for i := 0; i < TicksPerDay; i++ {
		e.Step(Budget{TargetTick: e.Interval, Multiplier: 1})
	}
	assert.Equal(t, TicksPerDay, ticks)
	assert.Equal(t, 24, hours)
	assert.Equal(t, 1, days)
	assert.Equal(t, int64(TicksPerDay), e.Tick)
}
