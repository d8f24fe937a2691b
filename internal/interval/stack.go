package interval

import (
	"slices"
	"time"
)

// AssignStacks gives every unstacked event the lowest lane not taken by a
// visible, already stacked event overlapping it within margin. Invisible
// events always land on lane 0. Events that arrive stacked keep their lane
// and still block it for others.
//
// Events are processed in input order and each one sees the lanes assigned
// earlier in the same pass, so reordering the input can change the result.
// The returned slice preserves input order; events is not modified.
func AssignStacks(events []Event, margin time.Duration) []Event {
	stacked := slices.Clone(events)

	for i, ev := range stacked {
		if ev.Stacked {
			continue
		}

		taken := make(map[int]struct{})
		for _, other := range stacked {
			if other.Invisible || !other.Stacked {
				continue
			}
			if Overlaps(other, ev, margin) {
				taken[other.StackIndex] = struct{}{}
			}
		}

		lane := 0
		if !ev.Invisible {
			for {
				if _, ok := taken[lane]; !ok {
					break
				}
				lane++
			}
		}
		stacked[i] = ev.WithLane(lane)
	}

	return stacked
}
