package nextdns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

const defaultRetryDelay = 5 * time.Second

// StreamClient consumes the live log feed of one profile.
// It is not safe for concurrent use.
type StreamClient struct {
	baseURL     string
	apiKey      string
	profileID   string
	retryDelay  time.Duration
	client      *http.Client
	lastEventID string
}

// StreamOption configures a StreamClient.
type StreamOption func(*StreamClient)

// WithStreamBaseURL overrides the API base URL.
func WithStreamBaseURL(u string) StreamOption {
	return func(c *StreamClient) { c.baseURL = u }
}

// WithRetryDelay sets the pause before reconnecting after a failure.
func WithRetryDelay(d time.Duration) StreamOption {
	return func(c *StreamClient) { c.retryDelay = d }
}

// WithLastEventID seeds the resume point for the first connection.
func WithLastEventID(id string) StreamOption {
	return func(c *StreamClient) { c.lastEventID = id }
}

// WithConnectTimeout bounds dialing and waiting for response headers.
// The body itself is unbounded since the stream never ends on its own.
func WithConnectTimeout(d time.Duration) StreamOption {
	return func(c *StreamClient) {
		c.client.Transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: d}).DialContext,
			TLSHandshakeTimeout:   d,
			ResponseHeaderTimeout: d,
		}
	}
}

// NewStreamClient creates a new streaming log client.
func NewStreamClient(apiKey, profileID string, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		profileID:  profileID,
		retryDelay: defaultRetryDelay,
		client:     &http.Client{},
	}
	WithConnectTimeout(defaultTimeout)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastEventID returns the id of the last event handed to the consumer.
func (c *StreamClient) LastEventID() string {
	return c.lastEventID
}

// Stream returns a lazy, unbounded sequence of log records. Connection and
// decoding failures are logged and followed by a reconnect after the retry
// delay, resuming after the last delivered event. Records may be delivered
// twice across a reconnect. The sequence ends only when the consumer stops
// ranging over it or ctx is done.
func (c *StreamClient) Stream(ctx context.Context, filter url.Values) iter.Seq[models.LogRecord] {
	return func(yield func(models.LogRecord) bool) {
		for ctx.Err() == nil {
			stopped, err := c.consume(ctx, filter, yield)
			if stopped || ctx.Err() != nil {
				return
			}
			slog.Warn("log stream interrupted, reconnecting",
				"error", err,
				"retry_in", c.retryDelay.String(),
				"last_event_id", c.lastEventID,
			)
			if sleep(ctx, c.retryDelay) != nil {
				return
			}
		}
	}
}

// Close releases idle connections held by the client.
func (c *StreamClient) Close() {
	c.client.CloseIdleConnections()
}

// consume runs one connection. It reports stopped=true when the consumer
// asked to stop; otherwise err explains why the connection ended.
func (c *StreamClient) consume(ctx context.Context, filter url.Values, yield func(models.LogRecord) bool) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	query := url.Values{}
	for k, v := range filter {
		query[k] = append([]string(nil), v...)
	}
	if c.lastEventID != "" {
		query.Set("id", c.lastEventID)
	}

	u := fmt.Sprintf("%s/profiles/%s/logs/stream", c.baseURL, url.PathEscape(c.profileID))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	slog.Info("connecting to log stream", "profile", c.profileID, "last_event_id", c.lastEventID)
	resp, err := c.client.Do(req)
	if err != nil {
		return false, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: status %d", ErrAPIStatus, resp.StatusCode)
	}

	events := newEventReader(resp.Body)
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			return false, fmt.Errorf("%w: stream closed by server", ErrAPIUnreachable)
		}
		if errors.Is(err, errEventTooLarge) {
			// Resuming before it would replay the same event forever.
			slog.Warn("skipping malformed stream event",
				"error", fmt.Errorf("%w: %w", ErrMalformedResponse, err),
				"event_id", ev.ID,
				"limit_bytes", maxLineSize,
			)
			c.lastEventID = ev.ID
			continue
		}
		if err != nil {
			return false, classifyError(err)
		}
		if ev.Data == "" {
			continue
		}

		rec, err := models.DecodeLogRecord([]byte(ev.Data))
		if err != nil {
			return false, fmt.Errorf("%w: event %q: %v", ErrMalformedResponse, ev.ID, err)
		}
		rec.EventID = ev.ID
		c.lastEventID = ev.ID

		if !yield(rec) {
			return true, nil
		}
	}
}
