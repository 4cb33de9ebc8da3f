package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/dnswatch/internal/cache"
	"github.com/kiranshivaraju/dnswatch/internal/nextdns"
	"github.com/kiranshivaraju/dnswatch/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)

func testReportConfig() ReportConfig {
	return ReportConfig{
		ProfileID:          "abc123",
		CriticalCategories: []string{"Malware"},
		WarningDomains:     []string{"tiktok.com"},
		Location:           time.UTC,
		GapThreshold:       60,
		TopSites:           5,
		PageSize:           500,
		From:               "from@example.com",
		To:                 "to@example.com",
	}
}

func newTestService(f *fakeFetcher, m *fakeMailer, opts ...ServiceOption) *ReportService {
	opts = append([]ServiceOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewReportService(f, m, testReportConfig(), opts...)
}

func quietDay() []recordFixture {
	return []recordFixture{
		{"2024-03-10T10:00:00Z", "laptop", "example.com", "default", ""},
		{"2024-03-10T10:30:00Z", "laptop", "example.com", "default", ""},
		{"2024-03-10T10:45:00Z", "laptop", "golang.org", "default", ""},
	}
}

type recordFixture struct{ ts, device, root, status, reason string }

func fetcherFor(fixtures []recordFixture) *fakeFetcher {
	f := &fakeFetcher{}
	for _, s := range fixtures {
		f.records = append(f.records, rec(s.ts, s.device, s.root, s.status, s.reason))
	}
	return f
}

func TestReportService_ClearDaySendsOneMail(t *testing.T) {
	fetcher := fetcherFor(quietDay())
	mailer := &fakeMailer{}
	st := &fakeStore{}

	out, err := newTestService(fetcher, mailer, WithStore(st)).Run(context.Background(), ReportOptions{})
	require.NoError(t, err)

	require.Len(t, fetcher.requests, 1)
	assert.Equal(t, 500, fetcher.requests[0].Limit)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, notify.SubjectClear, msg.Subject)
	assert.Equal(t, "from@example.com", msg.From)
	assert.Equal(t, []string{"to@example.com"}, msg.To)
	assert.Contains(t, msg.Body, "No notifications about NextDNS activity for yesterday.")
	assert.Contains(t, msg.Body, "--- Usage Analytics ---")

	assert.False(t, out.Skipped)
	assert.True(t, out.Run.Sent)
	assert.Equal(t, 3, out.Run.RecordsFetched)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), out.Run.WindowStart)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC).Add(-time.Microsecond), out.Run.WindowEnd)

	require.Len(t, st.runs, 1)
	assert.Equal(t, out.Run.ID, st.runs[0].ID)
	assert.True(t, st.runs[0].Sent)
}

func TestReportService_FetchesTheRecordedWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cfg := testReportConfig()
	cfg.Location = ny
	cfg.MaxPages = 3
	// 00:30 in New York on the 11th is still the 10th in UTC.
	now := time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return now.Add(time.Duration(calls-1) * 24 * time.Hour)
	}

	fetcher := fetcherFor(quietDay())
	out, err := NewReportService(fetcher, &fakeMailer{}, cfg, WithClock(clock)).
		Run(context.Background(), ReportOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, fetcher.requests, 1)
	req := fetcher.requests[0]
	assert.Equal(t, "2024-03-10T00:00:00-05:00", req.Start)
	assert.Equal(t, "2024-03-10T23:59:59.999999-04:00", req.End)
	assert.Equal(t, 500, req.Limit)
	assert.Equal(t, 3, req.MaxPages)
	assert.Equal(t, req.Start, nextdns.FormatBound(out.Run.WindowStart))
	assert.Equal(t, req.End, nextdns.FormatBound(out.Run.WindowEnd))
}

func TestReportService_CriticalTakesPrecedence(t *testing.T) {
	fetcher := fetcherFor([]recordFixture{
		{"2024-03-10T10:00:00Z", "laptop", "evil.example", "blocked", "Malware"},
		{"2024-03-10T10:10:00Z", "laptop", "tiktok.com", "default", ""},
		{"2024-03-10T12:00:00Z", "laptop", "example.com", "default", ""},
	})
	mailer := &fakeMailer{}

	out, err := newTestService(fetcher, mailer).Run(context.Background(), ReportOptions{})
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, notify.SubjectCritical, mailer.sent[0].Subject)
	assert.Equal(t, 1, out.Run.CriticalCount)
	assert.Equal(t, 1, out.Run.WarningCount)
	assert.Equal(t, 1, out.Run.GapCount)
	assert.Contains(t, out.Report.Body, "- 1x hits on domain evil.example in category 'Malware' on device laptop")
	assert.Contains(t, out.Report.Body, "- laptop sent no logs for 110.0 minutes from 03/10, 10:10 to 12:00")
}

func TestReportService_WarningSubject(t *testing.T) {
	fetcher := fetcherFor([]recordFixture{
		{"2024-03-10T10:00:00Z", "phone", "tiktok.com", "default", ""},
		{"2024-03-10T10:05:00Z", "phone", "tiktok.com", "default", ""},
	})
	mailer := &fakeMailer{}

	out, err := newTestService(fetcher, mailer).Run(context.Background(), ReportOptions{})
	require.NoError(t, err)

	assert.Equal(t, notify.SubjectWarning, mailer.sent[0].Subject)
	assert.Contains(t, out.Report.Body, "- 2x hits on monitored domain tiktok.com on device phone")
}

func TestReportService_EmptyDay(t *testing.T) {
	mailer := &fakeMailer{}

	out, err := newTestService(&fakeFetcher{}, mailer).Run(context.Background(), ReportOptions{})
	require.NoError(t, err)

	assert.Equal(t, notify.SubjectClear, out.Report.Subject)
	assert.Contains(t, out.Report.Body, "No data available for analysis.")
	assert.Len(t, mailer.sent, 1)
}

func TestReportService_DryRunDoesNotSend(t *testing.T) {
	mailer := &fakeMailer{}
	st := &fakeStore{}
	c := newFakeCache()

	out, err := newTestService(fetcherFor(quietDay()), mailer, WithStore(st), WithCache(c)).
		Run(context.Background(), ReportOptions{DryRun: true})
	require.NoError(t, err)

	assert.Empty(t, mailer.sent)
	assert.False(t, out.Run.Sent)
	assert.Empty(t, c.data)
	require.Len(t, st.runs, 1)
	assert.False(t, st.runs[0].Sent)
}

func TestReportService_DuplicateSendGuard(t *testing.T) {
	mailer := &fakeMailer{}
	c := newFakeCache()
	svc := newTestService(fetcherFor(quietDay()), mailer, WithCache(c))

	_, err := svc.Run(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.Contains(t, c.data, cache.ReportSentKey("abc123", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))

	out, err := svc.Run(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, out.Run.Sent)
	assert.Len(t, mailer.sent, 1)

	out, err = svc.Run(context.Background(), ReportOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Len(t, mailer.sent, 2)
}

func TestReportService_MailFailureReleasesMarker(t *testing.T) {
	mailErr := errors.New("smtp down")
	mailer := &fakeMailer{err: mailErr}
	st := &fakeStore{}
	c := newFakeCache()

	_, err := newTestService(fetcherFor(quietDay()), mailer, WithStore(st), WithCache(c)).
		Run(context.Background(), ReportOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, mailErr)
	assert.Empty(t, c.data)
	assert.Empty(t, st.runs)
}

func TestReportService_FetchFailure(t *testing.T) {
	fetchErr := errors.New("api unreachable")
	mailer := &fakeMailer{}

	_, err := newTestService(&fakeFetcher{err: fetchErr}, mailer).Run(context.Background(), ReportOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fetchErr)
	assert.Empty(t, mailer.sent)
}

func TestReportService_AuxiliaryFailuresAreNotFatal(t *testing.T) {
	mailer := &fakeMailer{}
	st := &fakeStore{err: errors.New("db down")}
	c := newFakeCache()
	c.err = errors.New("redis down")

	out, err := newTestService(fetcherFor(quietDay()), mailer, WithStore(st), WithCache(c)).
		Run(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.True(t, out.Run.Sent)
	assert.Len(t, mailer.sent, 1)
}

func TestNewReportService_Defaults(t *testing.T) {
	svc := NewReportService(&fakeFetcher{}, &fakeMailer{}, ReportConfig{})
	assert.Equal(t, time.UTC, svc.cfg.Location)
	assert.Equal(t, 5, svc.cfg.TopSites)
}
