package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"agendakit/internal/interval"
	appLog "agendakit/internal/log"
	"agendakit/internal/model"
)

var (
	// ErrEmptyBody is returned by ParseICS for an empty payload.
	ErrEmptyBody = errors.New("ics: empty body")
	// ErrMissingUID marks a VEVENT without a UID. Such events are skipped.
	ErrMissingUID = errors.New("ics: missing UID")
)

// ParseICS parses a single ICS payload into agenda entries.
//
//   - DTSTART/DTEND use the library's TZID handling; a missing DTEND means
//     a zero-length event, or one day for all-day events.
//   - TRANSP:TRANSPARENT events (shown as "free") become invisible.
//   - STATUS:CANCELLED events are dropped.
//   - RRULE is not expanded; only the first instance is kept.
func ParseICS(src Source, body []byte) ([]model.Entry, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	entries := make([]model.Entry, 0)
	for _, comp := range cal.Events() {
		entry, keep, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		if keep {
			entries = append(entries, entry)
		}
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(entries))
	return entries, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Entry, bool, error) {
	var out model.Entry
	out.SourceID = src.ID

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, false, ErrMissingUID
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty("STATUS"); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED") {
		appLog.Debug("ics skipping cancelled event", "id", src.ID, "uid", out.UID)
		return out, false, nil
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, false, err
	}
	out.AllDay = isAllDay(ve.GetProperty(ical.ComponentPropertyDtStart))

	end, err := ve.GetEndAt()
	if err != nil {
		end = start
		if out.AllDay {
			end = start.Add(24 * time.Hour)
		}
	}

	if ve.GetProperty(ical.ComponentPropertyRrule) != nil {
		appLog.Debug("ics recurrence not expanded; keeping first instance", "id", src.ID, "uid", out.UID)
	}

	invisible := false
	if p := ve.GetProperty("TRANSP"); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT") {
		invisible = true
	}

	out.Event = interval.Event{
		ID:        src.ID + "/" + out.UID + "/" + start.UTC().Format(time.RFC3339Nano),
		Begins:    start,
		Ends:      end,
		Invisible: invisible,
	}
	if err := out.Event.Validate(); err != nil {
		return out, false, err
	}

	return out, true, nil
}

// isAllDay reports VALUE=DATE or a date-only DTSTART value.
func isAllDay(dtStart *ical.IANAProperty) bool {
	if dtStart == nil {
		return false
	}
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(dtStart.Value, "T")
}
