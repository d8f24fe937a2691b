package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"agendakit/internal/agenda"
	"agendakit/internal/config"
	appLog "agendakit/internal/log"
	"agendakit/internal/render"
)

const agendaCacheTTL = 30 * time.Second

// Builder produces an agenda for a window. *agenda.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, opts agenda.Options) (agenda.Agenda, error)
}

// Server serves the agenda as JSON and HTML.
type Server struct {
	cfg     *config.Config
	builder Builder
	dataDir string
	mux     *http.ServeMux
	now     func() time.Time

	// Short-lived cache of built agendas keyed by window parameters, so
	// repeated UI loads do not refetch every source.
	cacheMu sync.RWMutex
	cache   map[windowKey]cachedAgenda
}

type windowKey struct {
	days     int
	backfill int
}

type cachedAgenda struct {
	ag        agenda.Agenda
	updatedAt time.Time
}

// NewServer constructs a new Server. dataDir holds preview.png.
func NewServer(cfg *config.Config, builder Builder, dataDir string) *Server {
	s := &Server{
		cfg:     cfg,
		builder: builder,
		dataDir: dataDir,
		mux:     http.NewServeMux(),
		now:     time.Now,
		cache:   make(map[windowKey]cachedAgenda),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured with both
// a username and a password.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="agendakit", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgendaJSON)
	s.mux.HandleFunc("GET /agenda", s.handleAgendaHTML)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG from the data directory.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.dataDir, "preview.png"))
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	RangeStart  time.Time  `json:"range_start"`
	RangeEnd    time.Time  `json:"range_end"`
	Lanes       int        `json:"lanes"`
	ActiveHours string     `json:"active_hours"`
	Entries     []entryDTO `json:"entries"`
	Partial     bool       `json:"partial,omitempty"`
}

// entryDTO is a JSON-friendly view of an agenda entry.
type entryDTO struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	UID       string    `json:"uid"`
	Summary   string    `json:"summary"`
	Location  string    `json:"location,omitempty"`
	AllDay    bool      `json:"all_day"`
	Begins    time.Time `json:"begins"`
	Ends      time.Time `json:"ends"`
	Invisible bool      `json:"invisible,omitempty"`
	Lane      int       `json:"lane"`
}

// handleAgendaJSON returns the stacked agenda for a window.
//
// GET /api/agenda?days=7&backfill=1
//   - days:     number of future days (default horizon_days)
//   - backfill: number of past days (default backfill_days)
func (s *Server) handleAgendaJSON(w http.ResponseWriter, r *http.Request) {
	ag, partial, err := s.agendaFor(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build agenda")
		return
	}

	dtos := make([]entryDTO, 0, len(ag.Entries))
	for _, e := range ag.Entries {
		lane, _ := e.Event.Lane()
		dtos = append(dtos, entryDTO{
			ID:        e.Event.ID,
			SourceID:  e.SourceID,
			UID:       e.UID,
			Summary:   e.Summary,
			Location:  e.Location,
			AllDay:    e.AllDay,
			Begins:    e.Event.Begins,
			Ends:      e.Event.Ends,
			Invisible: e.Event.Invisible,
			Lane:      lane,
		})
	}

	writeJSON(w, http.StatusOK, agendaResponse{
		RangeStart:  ag.Window.Start,
		RangeEnd:    ag.Window.End,
		Lanes:       ag.Lanes,
		ActiveHours: ag.ActiveHours,
		Entries:     dtos,
		Partial:     partial,
	})
}

// handleAgendaHTML renders the lanes view captured by internal/capture.
func (s *Server) handleAgendaHTML(w http.ResponseWriter, r *http.Request) {
	ag, _, err := s.agendaFor(r)
	if err != nil {
		http.Error(w, "failed to build agenda", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := render.HTML(&buf, ag, time.Duration(s.cfg.RoundStep)); err != nil {
		appLog.Error("agenda render failed", err)
		http.Error(w, "failed to render agenda", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// agendaFor builds (or reuses a cached) agenda for the request window.
// partial is true when some sources failed but an agenda was still built.
func (s *Server) agendaFor(r *http.Request) (agenda.Agenda, bool, error) {
	q := r.URL.Query()
	key := s.keyFor(
		parseIntDefault(q.Get("days"), s.cfg.HorizonDays),
		parseIntDefault(q.Get("backfill"), s.cfg.BackfillDays),
	)

	now := s.now()
	s.cacheMu.RLock()
	c, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok && now.Sub(c.updatedAt) < agendaCacheTTL {
		return c.ag, false, nil
	}

	appLog.Info("api agenda request", "days", key.days, "backfill", key.backfill)
	return s.build(r.Context(), key, now)
}

// Refresh rebuilds the agenda for the configured default window and stores
// it in the cache. It is driven by the refresh schedule.
func (s *Server) Refresh(ctx context.Context) error {
	key := s.keyFor(s.cfg.HorizonDays, s.cfg.BackfillDays)
	_, partial, err := s.build(ctx, key, s.now())
	if err != nil {
		return err
	}
	if partial {
		return agenda.ErrPartial
	}
	return nil
}

func (s *Server) keyFor(days, backfill int) windowKey {
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	return windowKey{days: days, backfill: max(backfill, 0)}
}

// build runs the builder for key and caches complete results.
func (s *Server) build(ctx context.Context, key windowKey, now time.Time) (agenda.Agenda, bool, error) {
	window, err := agenda.WindowAround(now, key.backfill, key.days, time.Duration(s.cfg.RoundStep))
	if err != nil {
		appLog.Error("agenda window failed", err)
		return agenda.Agenda{}, false, err
	}

	ag, err := s.builder.Build(ctx, agenda.Options{
		Window:      window,
		StackMargin: time.Duration(s.cfg.StackMargin),
	})
	if errors.Is(err, agenda.ErrPartial) {
		// Serve what we have but do not cache it.
		appLog.Error("agenda built with source errors", err)
		return ag, true, nil
	}
	if err != nil {
		appLog.Error("agenda build failed", err)
		return agenda.Agenda{}, false, err
	}

	s.cacheMu.Lock()
	s.cache[key] = cachedAgenda{ag: ag, updatedAt: now}
	s.cacheMu.Unlock()

	return ag, false, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
