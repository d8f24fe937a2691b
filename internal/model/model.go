package model

import "agendakit/internal/interval"

// Entry is one agenda item: the interval the algebra works on plus the
// descriptive fields shown next to it.
type Entry struct {
	SourceID string // calendar source ID (e.g., config ICS ID)
	UID      string // iCalendar UID

	Summary  string
	Location string
	AllDay   bool

	// Event.ID is unique per source instance: "<source>/<uid>/<start>".
	Event interval.Event
}

// Events returns the intervals of entries in the same order.
func Events(entries []Entry) []interval.Event {
	out := make([]interval.Event, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}

// WithEvents returns a copy of entries whose intervals are replaced by
// events, index for index. events must be as long as entries.
func WithEvents(entries []Entry, events []interval.Event) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Event = events[i]
		out[i] = e
	}
	return out
}
