// Package agenda turns ICS sources into a stacked, windowed agenda using the
// interval algebra.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"agendakit/internal/config"
	"agendakit/internal/ics"
	"agendakit/internal/interval"
	appLog "agendakit/internal/log"
	"agendakit/internal/model"
)

// ErrPartial marks an agenda built while some sources failed.
var ErrPartial = errors.New("agenda: some sources failed")

// Window is the closed range an agenda covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Options controls how entries are windowed and stacked.
type Options struct {
	Window Window
	// StackMargin is passed to interval.AssignStacks.
	StackMargin time.Duration
}

// Agenda is a windowed, chronologically sorted and stacked set of entries.
type Agenda struct {
	Window      Window        `json:"window"`
	Entries     []model.Entry `json:"entries"`
	Lanes       int           `json:"lanes"`
	ActiveHours string        `json:"active_hours"`
	Active      time.Duration `json:"-"`
}

// WindowAround returns [now-backfill days, now+horizon days] with both ends
// rounded to step.
func WindowAround(now time.Time, backfillDays, horizonDays int, step time.Duration) (Window, error) {
	start, err := interval.RoundToNearest(now.AddDate(0, 0, -backfillDays), step)
	if err != nil {
		return Window{}, err
	}
	end, err := interval.RoundToNearest(now.AddDate(0, 0, horizonDays), step)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// Compose filters entries to the window, sorts them by start, assigns lanes
// and measures active time inside the window.
func Compose(entries []model.Entry, opts Options) (Agenda, error) {
	w := opts.Window
	if w.End.Before(w.Start) {
		return Agenda{}, interval.ErrInvalidWindow
	}

	inWindow := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Event.Intersects(w.Start, w.End) {
			inWindow = append(inWindow, e)
		}
	}
	slices.SortStableFunc(inWindow, func(a, b model.Entry) int {
		return interval.CompareByStart(a.Event, b.Event)
	})

	stacked := interval.AssignStacks(model.Events(inWindow), opts.StackMargin)
	inWindow = model.WithEvents(inWindow, stacked)

	active, err := interval.ActiveTime(stacked, w.Start, w.End)
	if err != nil {
		return Agenda{}, fmt.Errorf("agenda: active time: %w", err)
	}

	return Agenda{
		Window:      w,
		Entries:     inWindow,
		Lanes:       interval.LaneCount(stacked),
		ActiveHours: interval.FormatHours(active),
		Active:      active,
	}, nil
}

// Builder fetches and parses the configured sources and composes an Agenda.
type Builder struct {
	fetcher *ics.Fetcher
	sources []ics.Source
}

// NewBuilder builds sources from cfg.ICS plus any extra local ICS files.
func NewBuilder(cfg *config.Config, cacheDir string, extraFiles ...string) *Builder {
	sources := make([]ics.Source, 0, len(cfg.ICS)+len(extraFiles))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	for _, path := range extraFiles {
		sources = append(sources, ics.Source{ID: path, URL: "file://" + path})
	}
	return &Builder{
		fetcher: ics.NewFetcher(cacheDir),
		sources: sources,
	}
}

// Sources returns the configured sources.
func (b *Builder) Sources() []ics.Source {
	return slices.Clone(b.sources)
}

// Build fetches every source and composes the agenda. Sources that fail to
// fetch or parse are skipped; the agenda built from the rest is returned with
// an error wrapping ErrPartial and each source failure.
func (b *Builder) Build(ctx context.Context, opts Options) (Agenda, error) {
	results, fetchErr := b.fetcher.FetchAll(ctx, b.sources)

	var errs []error
	if fetchErr != nil {
		errs = append(errs, fetchErr)
	}

	entries := make([]model.Entry, 0)
	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", res.Source.ID, err))
			continue
		}
		entries = append(entries, parsed...)
	}

	ag, err := Compose(entries, opts)
	if err != nil {
		return Agenda{}, err
	}

	appLog.Info("agenda built",
		"sources", len(b.sources),
		"entries", len(ag.Entries),
		"lanes", ag.Lanes,
		"active_hours", ag.ActiveHours,
		"window_start", ag.Window.Start.Format(time.RFC3339),
		"window_end", ag.Window.End.Format(time.RFC3339),
	)
	if len(errs) > 0 {
		return ag, fmt.Errorf("%w: %w", ErrPartial, errors.Join(errs...))
	}
	return ag, nil
}
