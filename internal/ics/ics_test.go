package ics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//agendakit//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\r\n" +
	"LOCATION:Room 1\r\n" +
	"DTSTART:20250310T090000Z\r\n" +
	"DTEND:20250310T093000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:focus\r\n" +
	"SUMMARY:Focus time\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"DTSTART:20250310T091500Z\r\n" +
	"DTEND:20250310T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dropped\r\n" +
	"SUMMARY:Cancelled sync\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20250310T100000Z\r\n" +
	"DTEND:20250310T103000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20250310T120000Z\r\n" +
	"DTEND:20250310T123000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:ping\r\n" +
	"SUMMARY:Ping\r\n" +
	"DTSTART:20250310T130000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	src := Source{ID: "work", URL: "https://example.com/cal.ics"}
	entries, err := ParseICS(src, []byte(sampleICS))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expect 3 entries, got %d: %+v", len(entries), entries)
	}

	standup := entries[0]
	if standup.Summary != "Standup" || standup.Location != "Room 1" || standup.SourceID != "work" {
		t.Fatalf("unexpected standup %+v", standup)
	}
	wantStart := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !standup.Event.Begins.Equal(wantStart) || standup.Event.Duration() != 30*time.Minute {
		t.Fatalf("unexpected standup interval %+v", standup.Event)
	}
	if standup.Event.ID != "work/standup/2025-03-10T09:00:00Z" {
		t.Fatalf("unexpected id %q", standup.Event.ID)
	}
	if standup.Event.Invisible {
		t.Fatalf("opaque event should be visible")
	}

	if focus := entries[1]; !focus.Event.Invisible {
		t.Fatalf("transparent event should be invisible: %+v", focus)
	}

	if ping := entries[2]; ping.Event.Duration() != 0 {
		t.Fatalf("missing DTEND should give zero length, got %s", ping.Event.Duration())
	}
}

func TestParseICSEmpty(t *testing.T) {
	if _, err := ParseICS(Source{ID: "x"}, nil); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expect ErrEmptyBody, got %v", err)
	}
}

func TestParseVEventMissingUID(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//agendakit//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"SUMMARY:No uid\r\n" +
		"DTSTART:20250310T120000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse calendar: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expect 1 vevent, got %d", len(events))
	}
	if _, keep, err := parseVEvent(Source{ID: "work"}, events[0]); keep || !errors.Is(err, ErrMissingUID) {
		t.Fatalf("expect ErrMissingUID, got keep=%v err=%v", keep, err)
	}
}

func TestFetchOneCachesAndRevalidates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "work", URL: srv.URL + "/cal.ics"}

	first, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache || string(first.Body) != sampleICS {
		t.Fatalf("unexpected first result from_cache=%v", first.FromCache)
	}

	second, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || string(second.Body) != sampleICS {
		t.Fatalf("expect cached body on 304, from_cache=%v", second.FromCache)
	}
	if hits.Load() != 2 {
		t.Fatalf("expect 2 requests, got %d", hits.Load())
	}
}

func TestFetchOneReplacesCacheAtomically(t *testing.T) {
	var version atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := version.Add(1)
		w.Header().Set("ETag", fmt.Sprintf(`"v%d"`, v))
		_, _ = w.Write([]byte(strings.Replace(sampleICS, "SUMMARY:Standup", fmt.Sprintf("SUMMARY:Standup %d", v), 1)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(dir)
	src := Source{ID: "work", URL: srv.URL + "/cal.ics"}
	for i := 0; i < 3; i++ {
		if _, err := f.FetchOne(context.Background(), src); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	cachePath := f.cachePathForURL(src.URL)
	body, err := f.loadCacheBody(cachePath)
	if err != nil {
		t.Fatalf("read cache body: %v", err)
	}
	if !strings.Contains(string(body), "SUMMARY:Standup 3") {
		t.Fatalf("cache body not replaced by latest fetch")
	}
	meta, err := f.loadCacheMeta(cachePath)
	if err != nil {
		t.Fatalf("read cache meta: %v", err)
	}
	if meta.ETag != `"v3"` {
		t.Fatalf("expect latest etag, got %q", meta.ETag)
	}

	files, err := os.ReadDir(cachePath)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	for _, fi := range files {
		if strings.HasSuffix(fi.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", fi.Name())
		}
		info, err := fi.Info()
		if err != nil {
			t.Fatalf("stat %s: %v", fi.Name(), err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("%s: expect 0600, got %o", fi.Name(), perm)
		}
	}
}

func TestFetchOneFallsBackToCacheOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "work", URL: srv.URL + "/cal.ics"}
	if _, err := f.FetchOne(context.Background(), src); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("expect cache fallback, got %v", err)
	}
	if !res.FromCache {
		t.Fatalf("expect from_cache")
	}

	other := Source{ID: "other", URL: srv.URL + "/other.ics"}
	if _, err := f.FetchOne(context.Background(), other); err == nil {
		t.Fatalf("expect error without cache")
	}
}

func TestFetchAllJoinsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.ics")
	if err := os.WriteFile(path, []byte(sampleICS), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := NewFetcher(filepath.Join(dir, "cache"))
	results, err := f.FetchAll(context.Background(), []Source{
		{ID: "local", URL: "file://" + path},
		{ID: "missing", URL: "file://" + filepath.Join(dir, "nope.ics")},
		{ID: "empty"},
	})
	if len(results) != 1 || results[0].Source.ID != "local" {
		t.Fatalf("unexpected results %+v", results)
	}
	if err == nil || !strings.Contains(err.Error(), "source missing") || !strings.Contains(err.Error(), "source empty") {
		t.Fatalf("expect joined error, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://cal.example.com/private/abc.ics?token=1": "https://cal.example.com/...(redacted)",
		"https://cal.example.com":                         "https://cal.example.com/...(redacted)",
		"not a url":                                       "ics://...(redacted)",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
