package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0x6d61/xssprobe/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubClient answers every request through do. n is the 1-based call
// number.
type stubClient struct {
	calls atomic.Int64
	do    func(n int64, req *transport.Request) (*transport.Response, error)
}

func (s *stubClient) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	return s.do(s.calls.Add(1), req)
}
func (s *stubClient) SetProxy(string) error { return nil }
func (s *stubClient) SetRateLimit(float64) {}
func (s *stubClient) Stats() *transport.TransportStats {
	return &transport.TransportStats{TotalRequests: s.calls.Load()}
}

func echoClient() *stubClient {
	return &stubClient{do: func(_ int64, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte("echo " + req.URL)}, nil
	}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestDelay = 0
	cfg.MaxRequestsPerMinute = 0
	cfg.MaxConcurrentRequests = 4
	cfg.BatchSize = 4
	cfg.BatchDelay = 0
	cfg.Timeout = time.Second
	cfg.Cache = CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}
	return cfg
}

func startDispatcher(t *testing.T, client transport.Client, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(client, cfg, opts...)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

func TestSignature(t *testing.T) {
	t.Parallel()

	a := NewProbeRequest("get", "http://t.test/?q=1", map[string]string{"A": "1", "B": "2"}, "")
	b := NewProbeRequest(http.MethodGet, "http://t.test/?q=1", map[string]string{"B": "2", "A": "1"}, "")
	assert.Equal(t, a.Signature, b.Signature)
	assert.Len(t, a.Signature, 32)
	assert.Equal(t, http.MethodGet, a.Method)

	distinct := []*ProbeRequest{
		NewProbeRequest(http.MethodPost, "http://t.test/?q=1", map[string]string{"A": "1", "B": "2"}, ""),
		NewProbeRequest(http.MethodGet, "http://t.test/?q=2", map[string]string{"A": "1", "B": "2"}, ""),
		NewProbeRequest(http.MethodGet, "http://t.test/?q=1", map[string]string{"A": "1", "B": "3"}, ""),
		NewProbeRequest(http.MethodGet, "http://t.test/?q=1", map[string]string{"A": "1", "B": "2"}, "x=1"),
	}
	for _, r := range distinct {
		assert.NotEqual(t, a.Signature, r.Signature, "%s %s", r.Method, r.URL)
	}

	plain := NewProbeRequest(http.MethodPost, "http://t.test/", nil, "abcd")
	chunked := NewProbeRequest(http.MethodPost, "http://t.test/", nil, "abcd")
	chunked.BodyChunks = []string{"ab", "cd"}
	chunked.Sign()
	assert.NotEqual(t, plain.Signature, chunked.Signature)
}

func TestRedactHeaders(t *testing.T) {
	t.Parallel()

	got := redactHeaders(map[string]string{
		"Authorization": "Bearer secret",
		"cookie":        "sid=1",
		"X-Probe":       "yes",
	})
	assert.Equal(t, map[string]string{
		"Authorization": "[REDACTED]",
		"cookie":        "[REDACTED]",
		"X-Probe":       "yes",
	}, got)
	assert.Nil(t, redactHeaders(nil))
}

// ---------------------------------------------------------------------------
// Dispatching
// ---------------------------------------------------------------------------

func TestDispatcher_DeliversResponses(t *testing.T) {
	t.Parallel()

	d := startDispatcher(t, echoClient(), testConfig())
	ctx := waitCtx(t)

	var tickets []*Ticket
	for _, u := range []string{"http://t.test/a", "http://t.test/b", "http://t.test/c"} {
		tickets = append(tickets, d.Enqueue(NewProbeRequest(http.MethodGet, u, nil, "")))
	}
	for _, tk := range tickets {
		out := tk.Wait(ctx)
		require.NoError(t, out.Err)
		assert.Equal(t, "echo "+tk.Request().URL, out.Body)
		assert.Equal(t, http.StatusOK, out.StatusCode)
		assert.Equal(t, 1, out.Attempts)
		assert.False(t, out.Cached)
	}
	assert.Zero(t, d.Pending())
}

func TestDispatcher_NotStarted(t *testing.T) {
	t.Parallel()

	client := echoClient()
	d := New(client, testConfig())
	tk := d.Enqueue(NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := tk.Wait(short)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.Pending())
	assert.Zero(t, client.calls.Load())

	d.Start(context.Background())
	defer d.Stop()
	out = tk.Wait(waitCtx(t))
	require.NoError(t, out.Err)
	assert.Equal(t, "echo http://t.test/", out.Body)
}

func TestDispatcher_CacheHit(t *testing.T) {
	t.Parallel()

	client := echoClient()
	d := startDispatcher(t, client, testConfig())
	ctx := waitCtx(t)

	first := d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/?q=1", nil, ""))
	require.NoError(t, first.Err)
	second := d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/?q=1", nil, ""))
	require.NoError(t, second.Err)

	assert.True(t, second.Cached)
	assert.Zero(t, second.Attempts)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestDispatcher_CacheExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := echoClient()
	d := startDispatcher(t, client, testConfig(), WithClock(clock))
	ctx := waitCtx(t)

	require.NoError(t, d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, "")).Err)
	clock.Advance(2 * time.Minute)
	out := d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	require.NoError(t, out.Err)
	assert.False(t, out.Cached)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestDispatcher_CacheDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.Enabled = false
	client := echoClient()
	d := startDispatcher(t, client, cfg)
	ctx := waitCtx(t)

	d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	out := d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	assert.False(t, out.Cached)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestDispatcher_AccessDenied(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Access = AccessConfig{
		RequireAuth:    true,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		MaxPayloadSize: 8,
	}
	client := echoClient()
	d := startDispatcher(t, client, cfg)
	ctx := waitCtx(t)
	auth := map[string]string{"authorization": "Bearer t"}

	tests := []struct {
		name string
		req  *ProbeRequest
		msg  string
	}{
		{"method", NewProbeRequest(http.MethodDelete, "http://t.test/", auth, ""), "method DELETE not allowed"},
		{"auth", NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""), "authentication required"},
		{"size", NewProbeRequest(http.MethodPost, "http://t.test/", auth, "123456789"), "payload too large"},
	}
	for _, tt := range tests {
		out := d.Do(ctx, tt.req)
		assert.ErrorIs(t, out.Err, ErrAccessDenied, tt.name)
		if assert.Error(t, out.Err) {
			assert.Contains(t, out.Err.Error(), tt.msg)
		}
		assert.Zero(t, out.Attempts)
	}
	assert.Zero(t, client.calls.Load())

	out := d.Do(ctx, NewProbeRequest(http.MethodPost, "http://t.test/", auth, "12345678"))
	assert.NoError(t, out.Err)
}

func TestDispatcher_RetryThenTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	client := &stubClient{do: func(int64, *transport.Request) (*transport.Response, error) {
		return nil, boom
	}}
	d := startDispatcher(t, client, testConfig())

	req := NewProbeRequest(http.MethodGet, "http://t.test/", nil, "")
	out := d.Do(waitCtx(t), req)
	assert.ErrorIs(t, out.Err, ErrTransport)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, req.RetryCount)
	assert.EqualValues(t, 3, client.calls.Load())
}

func TestDispatcher_RetrySucceeds(t *testing.T) {
	t.Parallel()

	client := &stubClient{do: func(n int64, _ *transport.Request) (*transport.Response, error) {
		if n == 1 {
			return nil, errors.New("reset by peer")
		}
		return &transport.Response{StatusCode: http.StatusForbidden, Body: []byte("blocked")}, nil
	}}
	d := startDispatcher(t, client, testConfig())

	out := d.Do(waitCtx(t), NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	require.NoError(t, out.Err)
	assert.Equal(t, http.StatusForbidden, out.StatusCode)
	assert.Equal(t, "blocked", out.Body)
	assert.Equal(t, 2, out.Attempts)
}

func TestDispatcher_ConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	var inflight, peak atomic.Int64
	client := &stubClient{do: func(int64, *transport.Request) (*transport.Response, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return &transport.Response{StatusCode: http.StatusOK}, nil
	}}

	cfg := testConfig()
	cfg.MaxConcurrentRequests = 2
	cfg.BatchSize = 10
	d := startDispatcher(t, client, cfg)
	ctx := waitCtx(t)

	var tickets []*Ticket
	for i := 0; i < 6; i++ {
		u := "http://t.test/?i=" + strings.Repeat("x", i+1)
		tickets = append(tickets, d.Enqueue(NewProbeRequest(http.MethodGet, u, nil, "")))
	}
	for _, tk := range tickets {
		require.NoError(t, tk.Wait(ctx).Err)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.EqualValues(t, 6, client.calls.Load())
}

func TestDispatcher_StopLetsInflightFinish(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	client := &stubClient{do: func(int64, *transport.Request) (*transport.Response, error) {
		close(started)
		<-release
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte("late")}, nil
	}}
	d := New(client, testConfig())
	d.Start(context.Background())

	tk := d.Enqueue(NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	<-started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	close(release)

	out := tk.Wait(waitCtx(t))
	require.NoError(t, out.Err)
	assert.Equal(t, "late", out.Body)
	<-stopped

	queued := d.Enqueue(NewProbeRequest(http.MethodGet, "http://t.test/other", nil, ""))
	select {
	case <-queued.Done():
		t.Fatal("request executed after Stop")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcher_MinimumDelay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var times []time.Time
	client := &stubClient{do: func(int64, *transport.Request) (*transport.Response, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return &transport.Response{StatusCode: http.StatusOK}, nil
	}}
	cfg := testConfig()
	cfg.RequestDelay = 20 * time.Millisecond
	d := startDispatcher(t, client, cfg)
	ctx := waitCtx(t)

	a := d.Enqueue(NewProbeRequest(http.MethodGet, "http://t.test/a", nil, ""))
	b := d.Enqueue(NewProbeRequest(http.MethodGet, "http://t.test/b", nil, ""))
	require.NoError(t, a.Wait(ctx).Err)
	require.NoError(t, b.Wait(ctx).Err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 15*time.Millisecond)
}

func TestDispatcher_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	d := startDispatcher(t, echoClient(), testConfig(), WithMetrics(reg))
	ctx := waitCtx(t)

	d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	d.Do(ctx, NewProbeRequest(http.MethodGet, "http://t.test/", nil, ""))
	d.Do(ctx, NewProbeRequest(http.MethodPut, "http://t.test/", nil, ""))

	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.probes.WithLabelValues(outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.probes.WithLabelValues(outcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.probes.WithLabelValues(outcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.cacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(d.metrics.queueDepth))

	again := New(echoClient(), testConfig(), WithMetrics(reg))
	assert.Same(t, d.metrics.probes, again.metrics.probes)
}
