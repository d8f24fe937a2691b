package interval

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

type pointKind int

// Points sharing a timestamp are applied in this order. Opening the window
// before closing it keeps a zero-width window empty, and a work start before
// its work end keeps a zero-length event from staying active forever.
const (
	timeStart pointKind = iota
	workStart
	workEnd
	timeEnd
)

type point struct {
	kind pointKind
	at   time.Time
	id   string
}

// ActiveTime returns the wall-clock time inside [starts, ends) during which
// at least one event is active. Overlapping events are counted once.
//
// Events sharing an ID are treated as one occupant: the first work end for
// that ID ends the occupation.
func ActiveTime(events []Event, starts, ends time.Time) (time.Duration, error) {
	if ends.Before(starts) {
		return 0, ErrInvalidWindow
	}
	if err := Validate(events); err != nil {
		return 0, err
	}

	points := make([]point, 0, 2*len(events)+2)
	points = append(points,
		point{kind: timeStart, at: starts},
		point{kind: timeEnd, at: ends},
	)
	for _, ev := range events {
		points = append(points,
			point{kind: workStart, at: ev.Begins, id: ev.ID},
			point{kind: workEnd, at: ev.Ends, id: ev.ID},
		)
	}
	slices.SortStableFunc(points, func(a, b point) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return int(a.kind) - int(b.kind)
	})

	active := make(map[string]struct{})
	within := false
	var total time.Duration
	last := points[0].at

	for _, p := range points {
		if within && len(active) > 0 {
			total += p.at.Sub(last)
		}
		last = p.at

		switch p.kind {
		case workStart:
			active[p.id] = struct{}{}
		case workEnd:
			delete(active, p.id)
		case timeStart:
			within = true
		case timeEnd:
			within = false
		}
	}

	return total, nil
}

// ActiveDuration is ActiveTime formatted with FormatHours.
func ActiveDuration(events []Event, starts, ends time.Time) (string, error) {
	d, err := ActiveTime(events, starts, ends)
	if err != nil {
		return "", err
	}
	return FormatHours(d), nil
}

// FormatHours renders d as decimal hours rounded to two places, with
// trailing zeros and a bare decimal point removed: 2h -> "2",
// 2h30m -> "2.5", 20m -> "0.33".
func FormatHours(d time.Duration) string {
	s := strconv.FormatFloat(d.Hours(), 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
