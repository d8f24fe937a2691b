package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"

	"agendakit/internal/agenda"
	"agendakit/internal/capture"
	"agendakit/internal/config"
	appLog "agendakit/internal/log"
	"agendakit/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	icsFiles   string
	once       bool
	capture    bool
	debug      bool
	logLevel   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	flags, err := parseFlags(args)
	if err != nil {
		return 2
	}

	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("agendakit starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	dataDir := "/var/lib/agendakit"
	if flags.debug {
		dataDir = "./cache"
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"stack_margin", time.Duration(conf.StackMargin),
		"round_step", time.Duration(conf.RoundStep),
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"capture", flags.capture,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	builder := agenda.NewBuilder(conf, filepath.Join(dataDir, "ics-cache"), splitList(flags.icsFiles)...)
	srv := web.NewServer(conf, builder, dataDir)

	if flags.once {
		if err := runOnce(ctx, conf, builder, stdout); err != nil {
			appLog.Error("agenda report failed", err)
			return 1
		}
		if flags.capture {
			if err := captureOnce(ctx, srv, conf, dataDir); err != nil {
				appLog.Error("capture failed", err)
				return 1
			}
		}
		return 0
	}

	if err := serve(ctx, srv, conf, dataDir, flags.capture); err != nil {
		appLog.Error("server stopped", err)
		return 1
	}
	appLog.Info("agendakit exiting")
	return 0
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig
	fs := flag.NewFlagSet("agendakit", flag.ContinueOnError)

	fs.StringVar(&cfg.configPath, "config", "/etc/agendakit/config.yaml", "Path to config file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.StringVar(&cfg.icsFiles, "ics", "", "Comma-separated local .ics files added to the configured sources")
	fs.BoolVar(&cfg.once, "once", false, "Print one agenda report and exit")
	fs.BoolVar(&cfg.capture, "capture", false, "Capture the agenda page to preview.png after each build")
	fs.BoolVar(&cfg.debug, "debug", false, "Debug logging and ./cache as data directory")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug, info, error")

	err := fs.Parse(args)
	return cfg, err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runOnce builds the agenda once and prints it. Failing sources are logged;
// the report covers the sources that loaded.
func runOnce(ctx context.Context, conf *config.Config, b *agenda.Builder, out io.Writer) error {
	w, err := agenda.WindowAround(time.Now(), conf.BackfillDays, conf.HorizonDays, time.Duration(conf.RoundStep))
	if err != nil {
		return err
	}
	ag, err := b.Build(ctx, agenda.Options{Window: w, StackMargin: time.Duration(conf.StackMargin)})
	if errors.Is(err, agenda.ErrPartial) {
		appLog.Error("some sources failed", err)
	} else if err != nil {
		return err
	}
	return printReport(out, ag)
}

// printReport writes one line per entry: start, end, lane and summary,
// followed by the active hours of the window.
func printReport(w io.Writer, ag agenda.Agenda) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "START\tEND\tLANE\tSUMMARY\n")
	for _, e := range ag.Entries {
		lane, _ := e.Event.Lane()
		summary := e.Summary
		if e.Event.Invisible {
			summary += " (free)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			e.Event.Begins.Format("2006-01-02 15:04"),
			e.Event.Ends.Format("2006-01-02 15:04"),
			lane, summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d entries, %d lanes, %sh active between %s and %s\n",
		len(ag.Entries), ag.Lanes, ag.ActiveHours,
		ag.Window.Start.Format(time.RFC3339), ag.Window.End.Format(time.RFC3339))
	return err
}

// serve runs the HTTP server and rebuilds the agenda on the refresh
// schedule until ctx is cancelled.
func serve(ctx context.Context, srv *web.Server, conf *config.Config, dataDir string, doCapture bool) error {
	refresh := func() {
		if err := srv.Refresh(ctx); err != nil {
			appLog.Error("refresh build reported errors", err)
		}
		if doCapture {
			if err := capture.AgendaPNG(ctx, captureOptions(conf, dataDir)); err != nil {
				appLog.Error("refresh capture failed", err)
			}
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, refresh); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	return srv.ListenAndServe(ctx)
}

// captureOnce serves the agenda page briefly so Chromium can render it.
func captureOnce(ctx context.Context, srv *web.Server, conf *config.Config, dataDir string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	err := waitHealthy(ctx, "http://"+conf.Listen+"/health", 5*time.Second)
	if err == nil {
		err = capture.AgendaPNG(ctx, captureOptions(conf, dataDir))
	}
	cancel()
	if serveErr := <-errCh; serveErr != nil && err == nil {
		err = serveErr
	}
	return err
}

// waitHealthy polls target until it answers 200 or timeout elapses.
func waitHealthy(ctx context.Context, target string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not ready at %s: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// captureOptions points Chromium at the local agenda page, passing basic
// auth credentials in the URL when they are configured.
func captureOptions(conf *config.Config, dataDir string) capture.Options {
	u := url.URL{Scheme: "http", Host: conf.Listen, Path: "/agenda"}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	return capture.Options{
		URL:        u.String(),
		OutputPath: filepath.Join(dataDir, "preview.png"),
	}
}
