package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.HorizonDays != defaultHorizonDays {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expect 0600, got %o", perm)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.StackMargin = Duration(5 * time.Minute)
	cfg.RoundStep = Duration(30 * time.Minute)
	cfg.ICS = []ICSConfig{{URL: "https://example.com/a.ics", Name: "work"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "stack_margin: 5m0s") {
		t.Fatalf("durations should be written as strings:\n%s", data)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.StackMargin != cfg.StackMargin || got.RoundStep != cfg.RoundStep {
		t.Fatalf("durations lost: %+v", got)
	}
	if len(got.ICS) != 1 || got.ICS[0].SourceID() != "work" {
		t.Fatalf("ics lost: %+v", got.ICS)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "horizon_days: 0\nbackfill_days: -3\nround_step: 0s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HorizonDays != defaultHorizonDays || cfg.BackfillDays != 0 {
		t.Fatalf("window not normalized: %+v", cfg)
	}
	if time.Duration(cfg.RoundStep) != defaultRoundStep {
		t.Fatalf("round step not normalized: %v", cfg.RoundStep)
	}
	if cfg.RefreshCron != defaultRefreshCron {
		t.Fatalf("refresh not defaulted: %q", cfg.RefreshCron)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad cron":           "refresh: \"every tuesday\"\n",
		"bad duration":       "stack_margin: soon\n",
		"fractional ms step": "round_step: 1500us\n",
		"missing url":        "ics:\n  - id: a\n",
		"duplicate id":       "ics:\n  - id: a\n    url: https://x/1.ics\n  - id: a\n    url: https://x/2.ics\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expect error for %q", body)
			}
		})
	}
}

func TestSourceIDFallback(t *testing.T) {
	if id := (ICSConfig{URL: "u"}).SourceID(); id != "u" {
		t.Fatalf("want url fallback, got %q", id)
	}
	if id := (ICSConfig{URL: "u", Name: "n"}).SourceID(); id != "n" {
		t.Fatalf("want name fallback, got %q", id)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expect error for empty path")
	}
}
