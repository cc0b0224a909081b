// Day and night. The horde gets restless after dark: the wander
// fallback pulls toward the colony with rising probability through
// dusk, night and dawn.
package engine

// Phase is the time-of-day bucket.
type Phase uint8

const (
	PhaseDay Phase = iota
	PhaseDusk
	PhaseNight
	PhaseDawn
)

// Phase boundaries in in-game hours.
const (
	duskStart  = 18
	nightStart = 21
	dawnStart  = 5
	dayStart   = 7
)

// PhaseName returns a human-readable phase name.
func PhaseName(p Phase) string {
	switch p {
	case PhaseDay:
		return "Day"
	case PhaseDusk:
		return "Dusk"
	case PhaseNight:
		return "Night"
	case PhaseDawn:
		return "Dawn"
	default:
		return "Unknown"
	}
}

// DayPhase returns the phase at tick.
func DayPhase(tick int64) Phase {
	hour := (tick % TicksPerDay) / TicksPerHour
	switch {
	case hour >= nightStart || hour < dawnStart:
		return PhaseNight
	case hour >= duskStart:
		return PhaseDusk
	case hour < dayStart:
		return PhaseDawn
	default:
		return PhaseDay
	}
}

// NightWindow reports whether tick lies between dusk and the end of dawn,
// and how far through that window it is (0 at dusk, 1 at sunrise).
func NightWindow(tick int64) (bool, float64) {
	inDay := tick % TicksPerDay
	start := int64(duskStart * TicksPerHour)
	end := int64(dayStart * TicksPerHour)
	length := TicksPerDay - start + end

	var into int64
	switch {
	case inDay >= start:
		into = inDay - start
	case inDay < end:
		into = TicksPerDay - start + inDay
	default:
		return false, 0
	}
	return true, float64(into) / float64(length)
}
