package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dnswatch/internal/cache"
	"github.com/kiranshivaraju/dnswatch/internal/nextdns"
	"github.com/kiranshivaraju/dnswatch/internal/notify"
	"github.com/kiranshivaraju/dnswatch/internal/store"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// --- fakes ---

type fakeFetcher struct {
	records  []models.LogRecord
	err      error
	requests []nextdns.FetchRequest
}

func (f *fakeFetcher) FetchLogs(_ context.Context, req nextdns.FetchRequest) ([]models.LogRecord, error) {
	f.requests = append(f.requests, req)
	return f.records, f.err
}

func (f *fakeFetcher) FetchPreviousDay(_ context.Context, _ int, _ *time.Location) ([]models.LogRecord, error) {
	panic("report runs fetch through FetchLogs with their own window")
}

func (f *fakeFetcher) Close() {}

type fakeMailer struct {
	sent []notify.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeStore struct {
	runs []*models.ReportRun
	err  error
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }
func (s *fakeStore) CreateReportRun(_ context.Context, run *models.ReportRun) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}
func (s *fakeStore) GetReportRun(_ context.Context, _ uuid.UUID) (*models.ReportRun, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) ListReportRuns(_ context.Context, _ store.RunFilter) ([]*models.ReportRun, int, error) {
	return nil, 0, nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return c.err
}

func (c *fakeCache) Ping(_ context.Context) error { return c.err }

func (c *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, c.err
}

var (
	_ nextdns.LogFetcher = (*fakeFetcher)(nil)
	_ notify.Mailer      = (*fakeMailer)(nil)
	_ store.Store        = (*fakeStore)(nil)
	_ cache.Cache        = (*fakeCache)(nil)
)

func rec(ts, device, root, status, reason string) models.LogRecord {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return models.LogRecord{
		Timestamp:  ts,
		Time:       t,
		Domain:     "www." + root,
		Root:       root,
		DeviceName: device,
		Status:     status,
		ReasonName: reason,
	}
}
