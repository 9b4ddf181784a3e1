package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/0x6d61/xssprobe/internal/transport"
)

var (
	// ErrAccessDenied is delivered to tickets rejected by access control.
	// Such requests are never executed.
	ErrAccessDenied = errors.New("access denied")

	// ErrTransport wraps the last transport error of a request whose
	// retries are exhausted.
	ErrTransport = errors.New("transport failure")
)

// minIdleWait bounds how fast the loop polls a throttled queue.
const minIdleWait = 5 * time.Millisecond

// Dispatcher drains a FIFO queue of probe requests. Enqueue is safe for
// concurrent use; requests only execute while the loop started by Start
// is running.
type Dispatcher struct {
	client  transport.Client
	cfg     Config
	clock   Clock
	logger  *zap.Logger
	metrics *metrics

	sem *semaphore.Weighted

	mu      sync.Mutex
	queue   []*Ticket
	limiter *limiter
	cache   *cache
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}

	wake chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock used for rate limiting and cache
// expiry.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics registers the dispatcher collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.metrics = newMetrics(reg) }
}

// New creates a stopped Dispatcher sending through client.
func New(client transport.Client, cfg Config, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	d := &Dispatcher{
		client:  client,
		cfg:     cfg,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		limiter: newLimiter(cfg.RequestDelay, cfg.MaxRequestsPerMinute),
		cache:   newCache(cfg.Cache),
		wake:    make(chan struct{}, 1),
	}
	if cfg.MaxConcurrentRequests > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests))
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = newMetrics(nil)
	}
	d.logger = d.logger.Named("dispatch")
	return d
}

// Enqueue appends req to the queue and returns its ticket. It never
// blocks and never executes the request itself.
func (d *Dispatcher) Enqueue(req *ProbeRequest) *Ticket {
	if req.Signature == "" {
		req.Sign()
	}
	t := newTicket(req)

	d.mu.Lock()
	d.queue = append(d.queue, t)
	d.metrics.queueDepth.Set(float64(len(d.queue)))
	d.mu.Unlock()

	d.logger.Debug("probe enqueued",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Any("headers", redactHeaders(req.Headers)),
	)
	d.signal()
	return t
}

// Do enqueues req and waits for its outcome.
func (d *Dispatcher) Do(ctx context.Context, req *ProbeRequest) Outcome {
	return d.Enqueue(req).Wait(ctx)
}

// Pending returns the number of queued requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start launches the draining loop. It is a no-op if the loop is already
// running. The loop exits when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.stopped = make(chan struct{})
	go d.loop(loopCtx, d.stopped)
}

// Stop halts the loop and waits for the current batch to finish. Queued
// requests stay queued until the next Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	stopped := d.stopped
	d.mu.Unlock()

	<-stopped
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	defer func() {
		d.mu.Lock()
		if d.stopped == stopped && d.running {
			d.running = false
			d.cancel()
		}
		d.mu.Unlock()
	}()

	for {
		batch, wait := d.nextBatch()
		if len(batch) > 0 {
			d.runBatch(ctx, batch)
			if !pause(ctx, d.cfg.BatchDelay) {
				return
			}
			continue
		}
		if !d.sleep(ctx, wait) {
			return
		}
	}
}

// pause waits for delay regardless of wake signals. It returns false
// when ctx is done.
func pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sleep waits for wait, a wake signal or cancellation. A zero wait
// blocks until the next wake signal. It returns false when ctx is done.
func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) bool {
	var timer <-chan time.Time
	if wait > 0 {
		if wait < minIdleWait {
			wait = minIdleWait
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-timer:
		return true
	}
}

// nextBatch pops up to BatchSize runnable requests. Denied requests and
// cache hits are resolved on the spot. A request refused by the limiter
// or the concurrency ceiling moves to the back of the queue and ends the
// pass; the returned duration says how long to wait before retrying.
func (d *Dispatcher) nextBatch() ([]*Ticket, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.metrics.queueDepth.Set(float64(len(d.queue))) }()

	var (
		batch []*Ticket
		wait  time.Duration
	)
	for n := len(d.queue); n > 0 && len(batch) < d.cfg.BatchSize; n-- {
		t := d.queue[0]
		d.queue = d.queue[1:]
		now := d.clock.Now()

		if err := d.cfg.Access.check(t.req); err != nil {
			d.metrics.probes.WithLabelValues(outcomeDenied).Inc()
			d.logger.Debug("probe denied", zap.String("url", t.req.URL), zap.Error(err))
			t.resolve(Outcome{Err: err})
			continue
		}
		if e, ok := d.cache.get(t.req.Signature, now); ok {
			d.metrics.probes.WithLabelValues(outcomeCached).Inc()
			d.metrics.cacheHits.Inc()
			t.resolve(Outcome{Body: e.body, StatusCode: e.status, Cached: true})
			continue
		}
		if !d.limiter.allow(now) {
			d.queue = append(d.queue, t)
			wait = d.limiter.retryAfter(now)
			break
		}
		if d.sem != nil && !d.sem.TryAcquire(1) {
			d.queue = append(d.queue, t)
			wait = minIdleWait
			break
		}
		d.limiter.record(now)
		batch = append(batch, t)
	}
	return batch, wait
}

// runBatch executes batch concurrently and waits for it. Probes run on a
// context detached from the loop's cancellation so that Stop lets them
// finish and resolve their tickets.
func (d *Dispatcher) runBatch(ctx context.Context, batch []*Ticket) {
	probeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, t := range batch {
		g.Go(func() error {
			if d.sem != nil {
				defer d.sem.Release(1)
			}
			d.execute(probeCtx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, t *Ticket) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	req := t.req
	resp, err := d.client.Do(ctx, req.transportRequest())
	if err != nil {
		d.fail(t, err)
		return
	}

	body := resp.BodyString()
	d.mu.Lock()
	d.cache.put(req.Signature, body, resp.StatusCode, d.clock.Now())
	d.mu.Unlock()

	d.metrics.probes.WithLabelValues(outcomeOK).Inc()
	d.logger.Debug("probe completed",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Bool("fallback", resp.Fallback),
	)
	t.resolve(Outcome{
		Body:       body,
		StatusCode: resp.StatusCode,
		Attempts:   req.RetryCount + 1,
	})
}

// fail requeues t while it has retries left, otherwise resolves it with
// ErrTransport.
func (d *Dispatcher) fail(t *Ticket, err error) {
	req := t.req

	d.mu.Lock()
	if req.RetryCount < d.cfg.RetryAttempts {
		req.RetryCount++
		d.queue = append(d.queue, t)
		d.metrics.queueDepth.Set(float64(len(d.queue)))
		d.mu.Unlock()

		d.metrics.probes.WithLabelValues(outcomeRetried).Inc()
		d.logger.Debug("probe failed, requeued",
			zap.String("url", req.URL),
			zap.Int("retry", req.RetryCount),
			zap.Error(err),
		)
		d.signal()
		return
	}
	d.mu.Unlock()

	d.metrics.probes.WithLabelValues(outcomeFailed).Inc()
	d.logger.Warn("probe failed",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("attempts", req.RetryCount+1),
		zap.Error(err),
	)
	t.resolve(Outcome{
		Attempts: req.RetryCount + 1,
		Err:      fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL, err),
	})
}

// check returns a wrapped ErrAccessDenied when req violates the policy.
func (a AccessConfig) check(req *ProbeRequest) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if len(a.AllowedMethods) > 0 && !containsFold(a.AllowedMethods, method) {
		return fmt.Errorf("%w: method %s not allowed", ErrAccessDenied, method)
	}
	if a.RequireAuth && req.header("Authorization") == "" {
		return fmt.Errorf("%w: authentication required", ErrAccessDenied)
	}
	if a.MaxPayloadSize > 0 && req.bodyLen() > a.MaxPayloadSize {
		return fmt.Errorf("%w: payload too large", ErrAccessDenied)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
