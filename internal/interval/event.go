// Package interval implements the interval algebra used by the agenda view:
// chronological ordering, overlap tests, window filtering, active-time
// accumulation and greedy lane stacking.
//
// Every function here is pure over its arguments. Input slices are never
// modified; results are always freshly allocated.
package interval

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrInvalidEvent is returned when an event ends before it begins.
	ErrInvalidEvent = errors.New("interval: event ends before it begins")
	// ErrInvalidWindow is returned when a query window ends before it starts.
	ErrInvalidWindow = errors.New("interval: window ends before it starts")
	// ErrInvalidStep is returned by the rounders for a zero or negative step,
	// and by RoundToNearest for a step that is not whole milliseconds.
	ErrInvalidStep = errors.New("interval: rounding step must be positive")
)

// Event is a single interval on the agenda.
type Event struct {
	// ID identifies the event within one collection. Active-time
	// accumulation treats events sharing an ID as the same occupant.
	ID string

	Begins time.Time
	Ends   time.Time

	// Invisible events are always placed on lane 0 and never block a lane
	// for other events.
	Invisible bool

	// StackIndex is only meaningful when Stacked is true.
	StackIndex int
	Stacked    bool
}

// Lane returns the assigned stack index and whether one has been assigned.
func (e Event) Lane() (int, bool) {
	return e.StackIndex, e.Stacked
}

// WithLane returns a copy of e assigned to lane i.
func (e Event) WithLane(i int) Event {
	e.StackIndex = i
	e.Stacked = true
	return e
}

// Duration is Ends - Begins.
func (e Event) Duration() time.Duration {
	return e.Ends.Sub(e.Begins)
}

// Validate reports ErrInvalidEvent if e ends before it begins.
func (e Event) Validate() error {
	if e.Ends.Before(e.Begins) {
		return fmt.Errorf("%w: id=%q begins=%s ends=%s",
			ErrInvalidEvent, e.ID, e.Begins.Format(time.RFC3339), e.Ends.Format(time.RFC3339))
	}
	return nil
}

// Validate checks every event and returns the first failure.
func Validate(events []Event) error {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CompareByStart orders events by Begins: negative if a starts first,
// positive if b does, zero on equal start times.
func CompareByStart(a, b Event) int {
	return a.Begins.Compare(b.Begins)
}

// SortByStart returns a chronologically sorted copy of events. Events with
// equal start times keep their input order.
func SortByStart(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, CompareByStart)
	return out
}

// Overlaps reports whether one and two overlap once each start is pulled
// earlier by margin. Touching intervals (one.Ends == two.Begins) do not
// overlap with a zero margin.
func Overlaps(one, two Event, margin time.Duration) bool {
	return one.Begins.Add(-margin).Before(two.Ends) &&
		two.Begins.Add(-margin).Before(one.Ends)
}

// InRange returns the events intersecting the closed window [starts, ends],
// in their original order.
func InRange(events []Event, starts, ends time.Time) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Intersects(starts, ends) {
			out = append(out, ev)
		}
	}
	return out
}

// Intersects reports whether e touches the closed window [starts, ends].
func (e Event) Intersects(starts, ends time.Time) bool {
	return !starts.After(e.Ends) && !ends.Before(e.Begins)
}

// LaneCount returns one more than the highest assigned lane, or zero when no
// event has a lane.
func LaneCount(events []Event) int {
	n := 0
	for _, ev := range events {
		if i, ok := ev.Lane(); ok {
			n = max(n, i+1)
		}
	}
	return n
}
