package solcast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode selects how the daily API call budget is spread.
type Mode int

const (
	// Regular calls over mid-day, longer intervals near sunrise and sunset
	ModeAuto Mode = iota
	// Favour the afternoon, neglect the morning
	ModeLate
	// Favour the morning, neglect the afternoon
	ModeEarly
	// Regular calls around the clock
	Mode24h
	// Fixed interval in minutes
	ModeMinutes
)

// ParseInterval reads "auto", "late", "early", "24h" or a number of
// minutes. 0 and the empty string mean auto.
func ParseInterval(s string) (Mode, int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "0":
		return ModeAuto, 0, nil
	case "late":
		return ModeLate, 0, nil
	case "early":
		return ModeEarly, 0, nil
	case "24h":
		return Mode24h, 0, nil
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || minutes < 0 {
		return 0, 0, fmt.Errorf("invalid solcast interval %q", s)
	}
	return ModeMinutes, minutes, nil
}

// plan returns the minimum interval (minutes) between two calls so that
// apiCalls calls cover the day. daylight, sinceRise and untilSet are in
// minutes.
func plan(mode Mode, apiCalls int, daylight, sinceRise, untilSet float64) int {
	if apiCalls < 1 {
		apiCalls = 1
	}
	tick := 30
	if apiCalls > 24 {
		tick = 15
	}

	var optimal int
	if mode == Mode24h {
		want := 24 * 60 / float64(apiCalls)
		optimal = tick*int(math.Floor(want/float64(tick))) + tick
	} else {
		want := daylight / float64(apiCalls)
		optimal = tick * int(math.Floor(want/float64(tick)))
		if optimal == 0 {
			optimal = tick
		}
	}

	// calls that can only be made at the doubled interval
	need := int(float64(int(daylight)+1)/float64(optimal)) + 1
	long := float64((need - apiCalls) * optimal)

	switch mode {
	case ModeAuto:
		if sinceRise < long || untilSet < long {
			return 2 * optimal
		}
	case ModeLate:
		if sinceRise < 2*long {
			return 2 * optimal
		}
	case ModeEarly:
		if untilSet < 2*long {
			return 2 * optimal
		}
	}
	return optimal
}
