package render

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"agendakit/internal/agenda"
	"agendakit/internal/interval"
)

// LaneHeightPx is the vertical size of one stacking lane.
const LaneHeightPx = 28

// Block is one positioned event on the timeline.
type Block struct {
	Summary   string
	Location  string
	Lane      int
	LeftPct   float64
	WidthPct  float64
	TopPx     int
	Invisible bool
	Start     time.Time
	End       time.Time
}

// Page is the template input.
type Page struct {
	Window      agenda.Window
	Blocks      []Block
	HeightPx    int
	ActiveHours string
}

var pageTmpl = template.Must(template.New("agenda").Funcs(template.FuncMap{
	"pct":   func(f float64) string { return fmt.Sprintf("%.4f%%", f) },
	"clock": func(t time.Time) string { return t.Format("Jan 2 15:04") },
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Agenda</title>
<style>
body { font-family: sans-serif; margin: 16px; }
.timeline { position: relative; border-top: 1px solid #000; }
.block { position: absolute; box-sizing: border-box; height: 24px; overflow: hidden;
  white-space: nowrap; font-size: 12px; padding: 4px; border: 1px solid #000; background: #fff; }
.block.invisible { border-style: dashed; color: #888; }
</style>
</head>
<body>
<div data-ready="true">
<h1>{{clock .Window.Start}} &ndash; {{clock .Window.End}}</h1>
<p>Active: {{.ActiveHours}}h</p>
<div class="timeline" style="height: {{.HeightPx}}px">
{{- range .Blocks}}
<div class="block{{if .Invisible}} invisible{{end}}" data-lane="{{.Lane}}" style="left: {{pct .LeftPct}}; width: {{pct .WidthPct}}; top: {{.TopPx}}px" title="{{clock .Start}} - {{clock .End}}{{with .Location}} @ {{.}}{{end}}">{{.Summary}}</div>
{{- end}}
</div>
</div>
</body>
</html>
`))

// Layout positions every entry of ag on a horizontal timeline. Event edges
// are snapped to step before being placed and clamped to the window.
func Layout(ag agenda.Agenda, step time.Duration) (Page, error) {
	span := ag.Window.End.Sub(ag.Window.Start)
	page := Page{
		Window:      ag.Window,
		Blocks:      make([]Block, 0, len(ag.Entries)),
		HeightPx:    max(ag.Lanes, 1) * LaneHeightPx,
		ActiveHours: ag.ActiveHours,
	}
	if span <= 0 {
		return page, nil
	}

	for _, e := range ag.Entries {
		start, err := interval.RoundToNearest(e.Event.Begins, step)
		if err != nil {
			return Page{}, err
		}
		end, err := interval.RoundToNearest(e.Event.Ends, step)
		if err != nil {
			return Page{}, err
		}
		left := clamp(start.Sub(ag.Window.Start), span)
		right := clamp(end.Sub(ag.Window.Start), span)

		lane, _ := e.Event.Lane()
		page.Blocks = append(page.Blocks, Block{
			Summary:   e.Summary,
			Location:  e.Location,
			Lane:      lane,
			LeftPct:   100 * float64(left) / float64(span),
			WidthPct:  100 * float64(right-left) / float64(span),
			TopPx:     lane * LaneHeightPx,
			Invisible: e.Event.Invisible,
			Start:     e.Event.Begins,
			End:       e.Event.Ends,
		})
	}
	return page, nil
}

// HTML lays out ag and writes the agenda page to w.
func HTML(w io.Writer, ag agenda.Agenda, step time.Duration) error {
	page, err := Layout(ag, step)
	if err != nil {
		return err
	}
	return pageTmpl.Execute(w, page)
}

func clamp(d, span time.Duration) time.Duration {
	return min(max(d, 0), span)
}
