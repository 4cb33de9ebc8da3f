package nextdns

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseEvent(id, timestamp, device string) string {
	return fmt.Sprintf("id: %s\ndata: {\"timestamp\":%q,\"domain\":\"example.com\",\"root\":\"example.com\",\"device\":{\"id\":\"X1\",\"name\":%q,\"model\":\"Pixel\"},\"reasons\":[{\"id\":\"a\",\"name\":\"Ads\"}]}\n\n", id, timestamp, device)
}

func newTestStreamClient(t *testing.T, baseURL string, opts ...StreamOption) *StreamClient {
	t.Helper()
	opts = append([]StreamOption{
		WithStreamBaseURL(baseURL),
		WithRetryDelay(5 * time.Millisecond),
	}, opts...)
	c := NewStreamClient("test-key", "abc123", opts...)
	t.Cleanup(c.Close)
	return c
}

func collect(t *testing.T, c *StreamClient, filter url.Values, n int) []models.LogRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []models.LogRecord
	for rec := range c.Stream(ctx, filter) {
		out = append(out, rec)
		if len(out) == n {
			break
		}
	}
	return out
}

func TestStream_DecodesEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/abc123/logs/stream", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.False(t, r.URL.Query().Has("id"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": hello\n\n")
		fmt.Fprint(w, sseEvent("e1", "2024-02-17T01:00:00Z", "phone"))
		fmt.Fprint(w, "data:\n\n")
		fmt.Fprint(w, sseEvent("e2", "2024-02-17T01:00:05Z", "tablet"))
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	logs := collect(t, c, nil, 2)

	require.Len(t, logs, 2)
	assert.Equal(t, "e1", logs[0].EventID)
	assert.Equal(t, "phone", logs[0].DeviceName)
	require.NotNil(t, logs[0].Device)
	assert.Equal(t, "X1", logs[0].Device.ID)
	assert.Equal(t, "Pixel", logs[0].Device.Model)
	assert.Equal(t, "Ads", logs[0].ReasonName)
	assert.Equal(t, "e2", logs[1].EventID)
	assert.Equal(t, "e2", c.LastEventID())
}

func TestStream_ReconnectResumesFromLastEventID(t *testing.T) {
	var (
		conns atomic.Int32
		mu    sync.Mutex
		ids   []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		mu.Lock()
		ids = append(ids, r.URL.Query().Get("id"))
		mu.Unlock()
		assert.Equal(t, "blocked", r.URL.Query().Get("status"), "filter is forwarded on every connection")

		switch n {
		case 1:
			fmt.Fprint(w, sseEvent("e1", "2024-02-17T01:00:00Z", "phone"))
			fmt.Fprint(w, sseEvent("e2", "2024-02-17T01:00:01Z", "phone"))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, sseEvent("e3", "2024-02-17T01:00:02Z", "phone"))
		}
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	logs := collect(t, c, url.Values{"status": {"blocked"}}, 3)

	require.Len(t, logs, 3)
	assert.Equal(t, "e3", logs[2].EventID)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(ids), 3)
	assert.Equal(t, []string{"", "e2", "e2"}, ids[:3])
}

func TestStream_MalformedEventTriggersReconnect(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) == 1 {
			fmt.Fprint(w, "id: bad\ndata: {not json\n\n")
			return
		}
		assert.False(t, r.URL.Query().Has("id"), "undelivered event must not move the resume point")
		fmt.Fprint(w, sseEvent("ok", "2024-02-17T01:00:00Z", "phone"))
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	logs := collect(t, c, nil, 1)

	require.Len(t, logs, 1)
	assert.Equal(t, "ok", logs[0].EventID)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestStream_OversizedEventSkippedWithoutReconnect(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		fmt.Fprintf(w, "id: huge\ndata: %s\n\n", strings.Repeat("x", maxLineSize+1))
		fmt.Fprint(w, sseEvent("after", "2024-02-17T01:00:00Z", "phone"))
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	logs := collect(t, c, nil, 1)

	require.Len(t, logs, 1)
	assert.Equal(t, "after", logs[0].EventID)
	assert.Equal(t, int32(1), conns.Load())
}

func TestStream_SeededLastEventID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "checkpoint-9", r.URL.Query().Get("id"))
		fmt.Fprint(w, sseEvent("e10", "2024-02-17T01:00:00Z", "phone"))
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL, WithLastEventID("checkpoint-9"))
	logs := collect(t, c, nil, 1)
	require.Len(t, logs, 1)
}

func TestStream_StopsWhenConsumerBreaks(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		for i := 0; i < 5; i++ {
			fmt.Fprint(w, sseEvent(fmt.Sprintf("e%d", i), "2024-02-17T01:00:00Z", "phone"))
		}
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	logs := collect(t, c, nil, 2)

	assert.Len(t, logs, 2)
	assert.Equal(t, int32(1), conns.Load())
	assert.Equal(t, "e1", c.LastEventID())
}

func TestStream_StopsWhenContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newTestStreamClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	count := 0
	for range c.Stream(ctx, nil) {
		count++
	}
	assert.Zero(t, count)
	assert.Error(t, ctx.Err())
}
