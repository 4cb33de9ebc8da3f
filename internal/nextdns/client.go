package nextdns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// Sentinel errors for log API failures.
var (
	ErrAPIUnreachable    = errors.New("nextdns api unreachable")
	ErrAPIStatus         = errors.New("nextdns api error status")
	ErrAPITimeout        = errors.New("nextdns api timeout")
	ErrMalformedResponse = errors.New("malformed nextdns response")
)

const (
	DefaultBaseURL        = "https://api.nextdns.io"
	defaultRateLimitDelay = 5 * time.Second
	defaultPageDelay      = 100 * time.Millisecond
	defaultTimeout        = 60 * time.Second
)

// LogFetcher is the interface for retrieving historical logs.
type LogFetcher interface {
	FetchLogs(ctx context.Context, req FetchRequest) ([]models.LogRecord, error)
	FetchPreviousDay(ctx context.Context, limit int, loc *time.Location) ([]models.LogRecord, error)
	Close()
}

// FetchRequest defines parameters for a paginated log fetch.
// Start and End are passed to the API untouched and may be ISO-8601,
// relative ("-1d") or unix timestamps.
type FetchRequest struct {
	Start    string
	End      string
	Limit    int
	MaxPages int // 0 means no limit
}

// Client implements LogFetcher against the logs endpoint of one profile.
type Client struct {
	baseURL        string
	apiKey         string
	profileID      string
	rateLimitDelay time.Duration
	pageDelay      time.Duration
	maxPages       int
	client         *http.Client
	now            func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRateLimitDelay sets the pause before retrying a rate-limited request.
func WithRateLimitDelay(d time.Duration) Option {
	return func(c *Client) { c.rateLimitDelay = d }
}

// WithPageDelay sets the pause between consecutive pages.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithMaxPages caps the pages read by FetchPreviousDay. Zero means no cap.
func WithMaxPages(n int) Option {
	return func(c *Client) { c.maxPages = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithClock replaces time.Now, used for the previous-day window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new paginated log client.
func NewClient(apiKey, profileID string, opts ...Option) *Client {
	c := &Client{
		baseURL:        DefaultBaseURL,
		apiKey:         apiKey,
		profileID:      profileID,
		rateLimitDelay: defaultRateLimitDelay,
		pageDelay:      defaultPageDelay,
		client:         &http.Client{Timeout: defaultTimeout},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchLogs walks the cursor chain until the API stops returning a cursor or
// req.MaxPages pages have been read. A 429 is retried after the rate-limit
// delay without advancing the cursor; any other failure aborts the fetch.
func (c *Client) FetchLogs(ctx context.Context, req FetchRequest) ([]models.LogRecord, error) {
	params := url.Values{}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Start != "" {
		params.Set("from", req.Start)
	}
	if req.End != "" {
		params.Set("to", req.End)
	}

	all := []models.LogRecord{}
	cursor := ""
	page := 0

	for {
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		slog.Info("requesting logs page", "page", page+1, "cursor", cursor)
		body, err := c.getPage(ctx, params)
		if errors.Is(err, errRateLimited) {
			slog.Warn("rate limited, retrying", "delay", c.rateLimitDelay.String(), "page", page+1)
			if err := sleep(ctx, c.rateLimitDelay); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		for i, raw := range body.Data {
			rec, err := models.DecodeLogRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: page %d record %d: %v", ErrMalformedResponse, page+1, i, err)
			}
			all = append(all, rec)
		}

		cursor = ""
		if body.Meta.Pagination.Cursor != nil {
			cursor = *body.Meta.Pagination.Cursor
		}
		page++

		if cursor == "" {
			slog.Info("no more pages", "pages", page, "records", len(all))
			break
		}
		if req.MaxPages > 0 && page >= req.MaxPages {
			slog.Info("reached max pages, stopping early", "max_pages", req.MaxPages, "records", len(all))
			break
		}

		if err := sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	return all, nil
}

// FetchPreviousDay fetches every log of the previous calendar day in loc.
func (c *Client) FetchPreviousDay(ctx context.Context, limit int, loc *time.Location) ([]models.LogRecord, error) {
	start, end := PreviousDayWindow(c.now(), loc)
	slog.Info("fetching previous day", "from", FormatBound(start), "to", FormatBound(end))
	return c.FetchLogs(ctx, FetchRequest{
		Start:    FormatBound(start),
		End:      FormatBound(end),
		Limit:    limit,
		MaxPages: c.maxPages,
	})
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// PreviousDayWindow returns the first and last instant of the calendar day
// before now, both in loc. Day boundaries are computed with calendar
// arithmetic so DST transition days are 23 or 25 hours long.
func PreviousDayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d-1, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(-time.Microsecond)
	return start, end
}

// FormatBound renders a window bound the way the logs endpoint expects it:
// RFC 3339 with the zone offset and up to microsecond precision.
func FormatBound(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.999999Z07:00")
}

var errRateLimited = errors.New("rate limited")

func (c *Client) getPage(ctx context.Context, params url.Values) (*logsResponse, error) {
	u := fmt.Sprintf("%s/profiles/%s/logs?%s", c.baseURL, url.PathEscape(c.profileID), params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrAPIStatus, resp.StatusCode)
	}

	var body logsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding logs response: %v", ErrMalformedResponse, err)
	}
	return &body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrAPITimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrAPITimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrAPIUnreachable, err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// --- API response types ---

type logsResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta logsMeta          `json:"meta"`
}

type logsMeta struct {
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	Cursor *string `json:"cursor"`
}

// Compile-time check that Client implements LogFetcher.
var _ LogFetcher = (*Client)(nil)
