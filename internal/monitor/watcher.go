package monitor

import (
	"context"
	"iter"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/kiranshivaraju/dnswatch/internal/analysis"
	"github.com/kiranshivaraju/dnswatch/internal/cache"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

const (
	checkpointTTL          = 24 * time.Hour
	defaultCheckpointEvery = 50
)

// RecordStream is the live feed consumed by a Watcher.
type RecordStream interface {
	Stream(ctx context.Context, filter url.Values) iter.Seq[models.LogRecord]
	LastEventID() string
}

// Watcher logs every streamed record, flags critical categories and
// watch-listed domains, and checkpoints the resume id.
type Watcher struct {
	stream          RecordStream
	cache           cache.Cache
	profileID       string
	critical        map[string]struct{}
	watched         map[string]struct{}
	checkpointEvery int
	now             func() time.Time

	mu    sync.Mutex
	stats models.StreamStats
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithCheckpointCache persists the last event id to c.
func WithCheckpointCache(c cache.Cache) WatcherOption {
	return func(w *Watcher) { w.cache = c }
}

// WithCheckpointEvery sets how many events pass between checkpoints.
func WithCheckpointEvery(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.checkpointEvery = n
		}
	}
}

// WithWatcherClock replaces time.Now for stats timestamps.
func WithWatcherClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) { w.now = now }
}

// NewWatcher creates a new Watcher.
func NewWatcher(stream RecordStream, profileID string, criticalCategories, watchedDomains []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		stream:          stream,
		profileID:       profileID,
		critical:        toSet(criticalCategories),
		watched:         toSet(watchedDomains),
		checkpointEvery: defaultCheckpointEvery,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// LoadCheckpoint returns the stored resume id for profileID, or "" when
// none is stored or the cache is unavailable.
func LoadCheckpoint(ctx context.Context, c cache.Cache, profileID string) string {
	if c == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	val, found, err := c.Get(ctx, cache.StreamCheckpointKey(profileID))
	if err != nil {
		slog.Warn("loading stream checkpoint", "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return string(val)
}

// Run consumes the stream until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, filter url.Values) error {
	w.mu.Lock()
	w.stats.StartedAt = w.now()
	w.mu.Unlock()

	slog.Info("stream watcher started", "profile", w.profileID, "filter", filter.Encode())

	for rec := range w.stream.Stream(ctx, filter) {
		if n := w.observe(rec); n%w.checkpointEvery == 0 {
			w.checkpoint(ctx)
		}
	}
	w.checkpoint(ctx)

	stats := w.Stats()
	slog.Info("stream watcher stopped", "events", stats.Events,
		"critical_hits", stats.CriticalHits, "watch_hits", stats.WatchHits)
	return nil
}

// Stats returns a snapshot of the session counters. Safe for concurrent use.
func (w *Watcher) Stats() models.StreamStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// observe logs rec, updates counters and returns the event count.
func (w *Watcher) observe(rec models.LogRecord) int {
	reason := analysis.FieldReason.Value(rec)
	root := analysis.FieldRoot.Value(rec)
	_, isCritical := w.critical[reason]
	_, isWatched := w.watched[root]

	attrs := []any{
		"time", rec.Time,
		"domain", rec.Domain,
		"root", root,
		"device", rec.DeviceName,
		"status", rec.Status,
		"reasons", reason,
	}
	slog.Info("dns query", attrs...)
	if isCritical {
		slog.Warn("critical category hit", attrs...)
	}
	if isWatched {
		slog.Warn("watched domain hit", attrs...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	if rec.Blocked() {
		w.stats.Blocked++
	}
	if isCritical {
		w.stats.CriticalHits++
	}
	if isWatched {
		w.stats.WatchHits++
	}
	w.stats.LastEventID = w.stream.LastEventID()
	w.stats.LastEventAt = w.now()
	return w.stats.Events
}

func (w *Watcher) checkpoint(ctx context.Context) {
	if w.cache == nil {
		return
	}
	id := w.stream.LastEventID()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auxTimeout)
	defer cancel()
	if err := w.cache.Set(ctx, cache.StreamCheckpointKey(w.profileID), []byte(id), checkpointTTL); err != nil {
		slog.Warn("saving stream checkpoint", "error", err)
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
