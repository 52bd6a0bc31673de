// Package analytics computes attendance advisories: current percentage,
// how many upcoming classes can be skipped without dropping below a
// target, and how many must be attended to climb back above it.
// Everything here is pure arithmetic; inputs are clamped, never rejected.
package analytics

import (
	"fmt"
	"math"
)

// Unlimited is returned by MaxSkippable when the target is zero or
// negative, meaning every future class can be skipped.
const Unlimited = 1 << 30

// Unreachable is returned by ClassesNeeded when a past absence makes a
// 100% target permanently unreachable.
const Unreachable = 1 << 30

// eps guards floor/ceil against float rounding on exact boundaries,
// e.g. attended/(target/100) landing a hair under an integer.
const eps = 1e-9

// Percentage returns attended/held as a percentage, 0 when held is 0.
func Percentage(attended, held int) float64 {
	attended, held = clamp(attended, held)
	if held == 0 {
		return 0
	}
	return float64(attended) / float64(held) * 100
}

// MaxSkippable returns the largest k >= 0 such that attending none of
// the next k classes still keeps attended/(held+k) >= target/100.
func MaxSkippable(attended, held int, target float64) int {
	attended, held = clamp(attended, held)
	if target <= 0 {
		return Unlimited
	}
	if target > 100 {
		return 0
	}
	k := math.Floor(float64(attended)/(target/100) - float64(held) + eps)
	if k < 0 {
		return 0
	}
	return int(k)
}

// ClassesNeeded returns the smallest n >= 0 such that attending the
// next n classes lifts (attended+n)/(held+n) to target/100.
func ClassesNeeded(attended, held int, target float64) int {
	attended, held = clamp(attended, held)
	if Percentage(attended, held) >= target-eps && held > 0 {
		return 0
	}
	if target >= 100 {
		// A single past absence makes 100% unreachable; held == 0 with a
		// 100% target shares the zero-denominator branch below.
		return Unreachable
	}
	if target <= 0 {
		return 0
	}
	t := target / 100
	deficit := t*float64(held) - float64(attended)
	n := math.Ceil(deficit/(1-t) - eps)
	if n < 0 {
		return 0
	}
	return int(n)
}

// Advice is the full advisory for one subject.
type Advice struct {
	Percentage      float64 `json:"percentage"`
	IsAboveTarget   bool    `json:"is_above_target"`
	ClassesToSkip   int     `json:"classes_to_skip"`
	ClassesToAttend int     `json:"classes_to_attend"`
	Message         string  `json:"message"`
}

// Advise dispatches to MaxSkippable or ClassesNeeded depending on
// whether the current percentage already meets the target.
// weeklyOccurrences, when known, turns the count into a rough
// weeks-of-margin hint in the message.
func Advise(attended, held, weeklyOccurrences int, target float64) Advice {
	attended, held = clamp(attended, held)
	if held == 0 {
		return Advice{Message: "no classes recorded yet"}
	}

	pct := Percentage(attended, held)
	if pct >= target-eps {
		skip := MaxSkippable(attended, held, target)
		return Advice{
			Percentage:    pct,
			IsAboveTarget: true,
			ClassesToSkip: skip,
			Message:       skipMessage(skip, weeklyOccurrences),
		}
	}

	need := ClassesNeeded(attended, held, target)
	return Advice{
		Percentage:      pct,
		ClassesToAttend: need,
		Message:         needMessage(need),
	}
}

func skipMessage(skip, weekly int) string {
	switch {
	case skip >= Unlimited:
		return "target is 0%, skip freely"
	case skip == 0:
		return "on target, but cannot afford to miss the next class"
	case weekly > 0 && skip >= weekly:
		return fmt.Sprintf("safe to skip the next %d classes (about %d week(s))", skip, skip/weekly)
	default:
		return fmt.Sprintf("safe to skip the next %d classes", skip)
	}
}

func needMessage(need int) string {
	if need >= Unreachable {
		return "target cannot be reached without a reset"
	}
	return fmt.Sprintf("attend the next %d classes to reach the target", need)
}

// clamp normalizes counts: negatives become 0 and attended never
// exceeds held.
func clamp(attended, held int) (int, int) {
	if held < 0 {
		held = 0
	}
	if attended < 0 {
		attended = 0
	}
	if attended > held {
		attended = held
	}
	return attended, held
}
