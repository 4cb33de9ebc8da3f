// Package monitor runs the daily report and the live stream watcher on top
// of the fetch, analysis and notification packages.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dnswatch/internal/analysis"
	"github.com/kiranshivaraju/dnswatch/internal/cache"
	"github.com/kiranshivaraju/dnswatch/internal/nextdns"
	"github.com/kiranshivaraju/dnswatch/internal/notify"
	"github.com/kiranshivaraju/dnswatch/internal/store"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

const (
	sentMarkerTTL = 48 * time.Hour
	auxTimeout    = 5 * time.Second
)

// ReportConfig holds the inputs of one daily report.
type ReportConfig struct {
	ProfileID          string
	CriticalCategories []string
	WarningDomains     []string
	Location           *time.Location
	GapThreshold       int // minutes
	TopSites           int
	PageSize           int
	MaxPages           int // 0 means no limit
	From               string
	To                 string
}

// ReportOptions changes how a single run behaves.
type ReportOptions struct {
	DryRun bool // build and log the report without mailing it
	Force  bool // send even if today's report was already sent
}

// ReportOutcome describes what a run produced.
type ReportOutcome struct {
	Run     models.ReportRun
	Report  notify.Report
	Skipped bool // a report for the same day had already been sent
}

// ReportService fetches yesterday's logs, analyses them and mails one report.
type ReportService struct {
	fetcher nextdns.LogFetcher
	mailer  notify.Mailer
	store   store.Store
	cache   cache.Cache
	cfg     ReportConfig
	now     func() time.Time
}

// ServiceOption configures a ReportService.
type ServiceOption func(*ReportService)

// WithStore records every run in s.
func WithStore(s store.Store) ServiceOption {
	return func(rs *ReportService) { rs.store = s }
}

// WithCache enables the duplicate-send guard.
func WithCache(c cache.Cache) ServiceOption {
	return func(rs *ReportService) { rs.cache = c }
}

// WithClock replaces time.Now. The fetched range, the recorded window and the
// send marker all derive from one reading of it per run.
func WithClock(now func() time.Time) ServiceOption {
	return func(rs *ReportService) { rs.now = now }
}

// NewReportService creates a new ReportService.
func NewReportService(fetcher nextdns.LogFetcher, mailer notify.Mailer, cfg ReportConfig, opts ...ServiceOption) *ReportService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TopSites <= 0 {
		cfg.TopSites = analysis.DefaultTopSites
	}
	rs := &ReportService{
		fetcher: fetcher,
		mailer:  mailer,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// Run executes one report cycle. Fetch and mail failures are returned;
// run history and send-marker failures are only logged.
func (s *ReportService) Run(ctx context.Context, opts ReportOptions) (*ReportOutcome, error) {
	loc := s.cfg.Location
	start, end := nextdns.PreviousDayWindow(s.now(), loc)

	slog.Info("fetching previous day", "from", nextdns.FormatBound(start), "to", nextdns.FormatBound(end))
	records, err := s.fetcher.FetchLogs(ctx, nextdns.FetchRequest{
		Start:    nextdns.FormatBound(start),
		End:      nextdns.FormatBound(end),
		Limit:    s.cfg.PageSize,
		MaxPages: s.cfg.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching logs: %w", err)
	}
	slog.Info("logs fetched", "records", len(records))

	critical := analysis.GroupBy(
		analysis.FilterReasons(records, s.cfg.CriticalCategories),
		[]analysis.Field{analysis.FieldReason, analysis.FieldDevice, analysis.FieldRoot}, loc)
	warnings := analysis.GroupBy(
		analysis.FilterRoots(records, s.cfg.WarningDomains),
		[]analysis.Field{analysis.FieldDevice, analysis.FieldRoot}, loc)
	gaps := analysis.DetectGaps(records, float64(s.cfg.GapThreshold), loc)

	report := notify.BuildReport(notify.ReportInput{
		Critical:     critical,
		Warnings:     warnings,
		Gaps:         gaps,
		Usage:        analysis.Usage(records, s.cfg.TopSites),
		GapThreshold: s.cfg.GapThreshold,
		Location:     loc,
	})

	slog.Info("report built", "subject", report.Subject,
		"critical", len(critical), "warnings", len(warnings), "gaps", len(gaps))
	for _, line := range report.Lines {
		slog.Info("report", "line", line)
	}

	out := &ReportOutcome{
		Report: report,
		Run: models.ReportRun{
			ID:             uuid.New(),
			ProfileID:      s.cfg.ProfileID,
			WindowStart:    start,
			WindowEnd:      end,
			Subject:        report.Subject,
			RecordsFetched: len(records),
			CriticalCount:  len(critical),
			WarningCount:   len(warnings),
			GapCount:       len(gaps),
		},
	}

	if opts.DryRun {
		slog.Info("dry run, report not sent")
		s.recordRun(ctx, &out.Run)
		return out, nil
	}

	markerKey := cache.ReportSentKey(s.cfg.ProfileID, start)
	if !s.claim(ctx, markerKey, out.Run.ID, opts.Force) {
		slog.Info("report already sent for this day, skipping", "day", start.Format(time.DateOnly))
		out.Skipped = true
		return out, nil
	}

	err = s.mailer.Send(ctx, notify.Message{
		From:    s.cfg.From,
		To:      []string{s.cfg.To},
		Subject: report.Subject,
		Body:    report.Body,
	})
	if err != nil {
		s.release(ctx, markerKey)
		return nil, fmt.Errorf("sending report: %w", err)
	}
	slog.Info("report sent", "to", s.cfg.To, "subject", report.Subject)

	out.Run.Sent = true
	s.recordRun(ctx, &out.Run)
	return out, nil
}

// claim takes the per-day send marker. Without a cache, or when the cache
// fails, the send goes ahead.
func (s *ReportService) claim(ctx context.Context, key string, runID uuid.UUID, force bool) bool {
	if s.cache == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	if force {
		if err := s.cache.Set(ctx, key, []byte(runID.String()), sentMarkerTTL); err != nil {
			slog.Warn("setting send marker", "key", key, "error", err)
		}
		return true
	}

	claimed, err := s.cache.SetNX(ctx, key, []byte(runID.String()), sentMarkerTTL)
	if err != nil {
		slog.Warn("checking send marker", "key", key, "error", err)
		return true
	}
	return claimed
}

func (s *ReportService) release(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auxTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.Warn("releasing send marker", "key", key, "error", err)
	}
}

func (s *ReportService) recordRun(ctx context.Context, run *models.ReportRun) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auxTimeout)
	defer cancel()
	if err := s.store.CreateReportRun(ctx, run); err != nil {
		slog.Warn("recording report run", "run_id", run.ID, "error", err)
	}
}
