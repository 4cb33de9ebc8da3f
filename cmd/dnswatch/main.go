// Package main is the entrypoint for dnswatch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/kiranshivaraju/dnswatch/internal/api"
	"github.com/kiranshivaraju/dnswatch/internal/api/handler"
	mw "github.com/kiranshivaraju/dnswatch/internal/api/middleware"
	"github.com/kiranshivaraju/dnswatch/internal/cache"
	"github.com/kiranshivaraju/dnswatch/internal/config"
	"github.com/kiranshivaraju/dnswatch/internal/logging"
	"github.com/kiranshivaraju/dnswatch/internal/monitor"
	"github.com/kiranshivaraju/dnswatch/internal/nextdns"
	"github.com/kiranshivaraju/dnswatch/internal/notify"
	"github.com/kiranshivaraju/dnswatch/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	slog.SetDefault(logging.New(os.Stdout, "INFO", "json"))

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("dnswatch failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd, rest := "report", args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, rest = args[0], args[1:]
	}

	var execute func(ctx context.Context, cfg *config.Config) error
	switch cmd {
	case "report":
		flags, err := parseReportFlags(rest)
		if err != nil {
			return err
		}
		execute = func(ctx context.Context, cfg *config.Config) error { return runReport(ctx, cfg, flags) }
	case "stream":
		flags, err := parseStreamFlags(rest)
		if err != nil {
			return err
		}
		execute = func(ctx context.Context, cfg *config.Config) error { return runStream(ctx, cfg, flags) }
	default:
		return fmt.Errorf("unknown command %q (want report or stream)", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
	slog.Info("config loaded", "command", cmd, "profile", cfg.NextDNS.ProfileID, "timezone", cfg.Analysis.TimezoneName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, cfg)
}

type reportFlags struct {
	dryRun bool
	force  bool
}

func parseReportFlags(args []string) (reportFlags, error) {
	var f reportFlags
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.BoolVar(&f.dryRun, "dry-run", false, "build and log the report without sending it")
	fs.BoolVar(&f.force, "force", false, "send even if today's report was already sent")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

type streamFlags struct {
	status bool
	filter url.Values
}

// filterFlag collects repeated -filter key=value pairs.
type filterFlag url.Values

func (f filterFlag) String() string {
	return url.Values(f).Encode()
}

func (f filterFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("filter %q must be key=value", s)
	}
	url.Values(f).Add(key, value)
	return nil
}

func parseStreamFlags(args []string) (streamFlags, error) {
	f := streamFlags{filter: url.Values{}}
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	fs.BoolVar(&f.status, "status", false, "serve the status API while streaming")
	fs.Var(filterFlag(f.filter), "filter", "stream filter as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func runReport(ctx context.Context, cfg *config.Config, flags reportFlags) error {
	if !flags.dryRun {
		if err := cfg.ValidateMail(); err != nil {
			return fmt.Errorf("mail config: %w", err)
		}
	}

	client := nextdns.NewClient(cfg.NextDNS.APIKey, cfg.NextDNS.ProfileID,
		nextdns.WithBaseURL(cfg.NextDNS.BaseURL),
		nextdns.WithRateLimitDelay(cfg.NextDNS.RateLimitDelay),
		nextdns.WithPageDelay(cfg.NextDNS.PageDelay),
		nextdns.WithTimeout(cfg.NextDNS.Timeout),
		nextdns.WithMaxPages(cfg.NextDNS.MaxPages),
	)
	defer client.Close()

	st, closeStore := openStore(ctx, cfg.Database)
	defer closeStore()
	c, closeCache := openCache(ctx, cfg.Redis)
	defer closeCache()

	mailer := notify.NewSMTPMailer(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.From, cfg.Mail.Password)

	svc := monitor.NewReportService(client, mailer, monitor.ReportConfig{
		ProfileID:          cfg.NextDNS.ProfileID,
		CriticalCategories: cfg.Analysis.CriticalCategories,
		WarningDomains:     cfg.Analysis.WarningDomains,
		Location:           cfg.Analysis.Location,
		GapThreshold:       cfg.Analysis.GapThreshold,
		TopSites:           cfg.Analysis.TopSites,
		PageSize:           cfg.NextDNS.PageSize,
		MaxPages:           cfg.NextDNS.MaxPages,
		From:               cfg.Mail.From,
		To:                 cfg.Mail.To,
	}, monitor.WithStore(st), monitor.WithCache(c))

	out, err := svc.Run(ctx, monitor.ReportOptions{DryRun: flags.dryRun, Force: flags.force})
	if err != nil {
		return err
	}
	slog.Info("report run complete", "run_id", out.Run.ID, "sent", out.Run.Sent, "skipped", out.Skipped)
	return nil
}

func runStream(ctx context.Context, cfg *config.Config, flags streamFlags) error {
	c, closeCache := openCache(ctx, cfg.Redis)
	defer closeCache()

	resume := monitor.LoadCheckpoint(ctx, c, cfg.NextDNS.ProfileID)
	if resume != "" {
		slog.Info("resuming stream from checkpoint", "id", resume)
	}

	sc := nextdns.NewStreamClient(cfg.NextDNS.APIKey, cfg.NextDNS.ProfileID,
		nextdns.WithStreamBaseURL(cfg.NextDNS.BaseURL),
		nextdns.WithRetryDelay(cfg.NextDNS.StreamRetryDelay),
		nextdns.WithConnectTimeout(cfg.NextDNS.Timeout),
		nextdns.WithLastEventID(resume),
	)
	defer sc.Close()

	watcher := monitor.NewWatcher(sc, cfg.NextDNS.ProfileID,
		cfg.Analysis.CriticalCategories, cfg.Analysis.WarningDomains,
		monitor.WithCheckpointCache(c))

	if flags.status {
		if cfg.Status.APIKeyHash == "" {
			slog.Warn("status API disabled, STATUS_API_KEY_HASH is not set")
		} else {
			st, closeStore := openStore(ctx, cfg.Database)
			defer closeStore()

			srv := newStatusServer(cfg, watcher, st, c)
			go func() {
				slog.Info("status API listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("status API failed", "error", err)
				}
			}()
			defer shutdownServer(srv)
		}
	}

	return watcher.Run(ctx, flags.filter)
}

func newStatusServer(cfg *config.Config, watcher *monitor.Watcher, st store.Store, c cache.Cache) *http.Server {
	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Status.APIKeyHash),
		RateLimit: mw.NewRateLimit(c, cfg.Status.RequestsPerMin),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": st,
			"cache":    c,
		}),
		StreamHandler: handler.NewStreamHandler(watcher),
	}
	if st != nil {
		deps.ListRunsHandler = handler.NewListRunsHandler(st, cfg.NextDNS.ProfileID)
		deps.GetRunHandler = handler.NewGetRunHandler(st, cfg.NextDNS.ProfileID)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Status.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("status API shutdown", "error", err)
		return
	}
	slog.Info("status API stopped")
}

// openStore connects the optional run history database. Failures disable
// the store instead of aborting the run.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func()) {
	noop := func() {}
	if cfg.URL == "" {
		return nil, noop
	}

	if err := store.RunMigrations(cfg.URL); err != nil {
		slog.Warn("run history disabled", "error", err)
		return nil, noop
	}
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		slog.Warn("run history disabled", "error", err)
		return nil, noop
	}
	slog.Info("database connected")
	return store.NewPostgresStore(pool), pool.Close
}

// openCache connects the optional Redis cache. Failures disable it.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func()) {
	noop := func() {}
	if cfg.URL == "" {
		return nil, noop
	}

	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		slog.Warn("cache disabled", "error", err)
		return nil, noop
	}
	if err := rc.Ping(ctx); err != nil {
		slog.Warn("cache disabled", "error", err)
		rc.Close()
		return nil, noop
	}
	slog.Info("redis connected")
	return rc, func() { rc.Close() }
}
