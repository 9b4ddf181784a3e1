package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/transport"
)

// ScanConfig holds configuration for a scan.
type ScanConfig struct {
	// Concurrency bounds how many injection points are detected at once.
	Concurrency int
}

// DefaultScanConfig returns sensible defaults.
func DefaultScanConfig() *ScanConfig {
	return &ScanConfig{Concurrency: 4}
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

// DiscoverFunc lists the injection points of a fetched page. base is the
// request that fetched it.
type DiscoverFunc func(page Page, base ScanTarget) []InjectionPoint

// GlobalsFunc extracts framework markers from a page body.
type GlobalsFunc func(body string) []string

// ScopeFunc returns an error wrapping ErrOutOfScope when a request of
// method to rawURL touching param may not be probed. An empty param asks
// about the request as a whole.
type ScopeFunc func(rawURL, method, param string) error

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

// Scanner is one scan session: it fetches the target page, discovers its
// injection points, runs the detector on every in-scope point and reports
// vulnerable verdicts to the sink.
type Scanner struct {
	client   transport.Client
	detector *Detector
	config   *ScanConfig
	logger   *zap.Logger

	discover DiscoverFunc
	globals  GlobalsFunc
	scope    ScopeFunc
	sink     Sink
	now      func() time.Time

	onProgress func(msg string)
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithDiscoverer sets the injection point discovery function.
func WithDiscoverer(fn DiscoverFunc) ScannerOption {
	return func(s *Scanner) { s.discover = fn }
}

// WithGlobals sets the page globals extractor used for fingerprinting.
func WithGlobals(fn GlobalsFunc) ScannerOption {
	return func(s *Scanner) { s.globals = fn }
}

// WithScope gates the target and every point. Without it everything is
// in scope.
func WithScope(fn ScopeFunc) ScannerOption {
	return func(s *Scanner) { s.scope = fn }
}

// WithSink sets where vulnerable verdicts are reported.
func WithSink(sink Sink) ScannerOption {
	return func(s *Scanner) { s.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

// NewScanner creates a scanner fetching pages with client and probing
// with detector.
func NewScanner(client transport.Client, detector *Detector, config *ScanConfig, opts ...ScannerOption) *Scanner {
	if config == nil {
		config = DefaultScanConfig()
	}
	s := &Scanner{
		client:   client,
		detector: detector,
		config:   config,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scanner")
	return s
}

// SetProgressCallback sets a function called with status messages.
func (s *Scanner) SetProgressCallback(fn func(string)) {
	s.onProgress = fn
}

func (s *Scanner) progress(format string, args ...any) {
	if s.onProgress != nil {
		s.onProgress(fmt.Sprintf(format, args...))
	}
}

// Fetch requests target and returns it as a Page.
func (s *Scanner) Fetch(ctx context.Context, target ScanTarget) (Page, error) {
	resp, err := s.client.Do(ctx, &transport.Request{
		Method:      target.Method,
		URL:         target.URL,
		Headers:     copyMap(target.Headers),
		Body:        target.Body,
		ContentType: target.ContentType,
		Cookies:     copyMap(target.Cookies),
	})
	if err != nil {
		return Page{}, fmt.Errorf("engine: fetching %s: %w", target.URL, err)
	}

	page := Page{
		URL:     target.URL,
		Status:  resp.StatusCode,
		Headers: resp.Headers,
		Body:    resp.BodyString(),
	}
	if s.globals != nil {
		page.Globals = s.globals(page.Body)
	}
	return page, nil
}

// Scan runs one session against target.
//
// Pipeline:
//  1. Reject an out-of-scope target before any request is sent
//  2. Fetch the page and fingerprint its environment
//  3. Discover injection points and drop out-of-scope ones
//  4. Detect every point on the worker pool
//  5. Report vulnerable verdicts to the sink
//
// Every in-scope point yields exactly one verdict. Only a rejected target
// or a failed page fetch ends the scan with an error.
func (s *Scanner) Scan(ctx context.Context, target ScanTarget) (*ScanResult, error) {
	result := &ScanResult{
		SessionID: uuid.New().String(),
		Target:    target,
		StartTime: time.Now(),
	}
	defer func() {
		result.EndTime = time.Now()
		if stats := s.client.Stats(); stats != nil {
			result.RequestCount = stats.TotalRequests
		}
	}()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("scan cancelled before start: %w", err)
	}

	// Step 1: scope gate.
	if s.scope != nil {
		if err := s.scope(target.URL, target.Method, ""); err != nil {
			return result, err
		}
	}

	// Step 2: page and environment. The environment cache belongs to the
	// session, so it starts empty.
	s.detector.Reset()
	page, err := s.Fetch(ctx, target)
	if err != nil {
		return result, err
	}
	result.Environment = s.detector.Environment(page)
	s.progress("fetched %s (status %d, server %s)", target.URL, page.Status, result.Environment.Server)
	if w := result.Environment.WAF; w != nil {
		s.progress("WAF detected: %s", w.Name)
	}

	// Step 3: injection points.
	var points []InjectionPoint
	if s.discover != nil {
		for _, p := range s.discover(page, target) {
			if s.scope != nil {
				if err := s.scope(p.Target.URL, p.Target.Method, p.Name); err != nil {
					s.logger.Debug("point skipped", zap.String("parameter", p.Name), zap.Error(err))
					continue
				}
			}
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		s.progress("no injection points found")
		return result, nil
	}
	s.progress("found %d injection point(s) to test", len(points))

	// Step 4: detection.
	dispatcher := s.detector.Dispatcher()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	pool := newWorkerPool(s.config.Concurrency, len(points), func(ctx context.Context, p InjectionPoint) Verdict {
		return s.detector.Detect(ctx, p, page)
	}, s.logger)
	pool.start(ctx)
	for i, p := range points {
		pool.submit(job{index: i, point: p})
	}
	result.Verdicts = pool.close()

	// Step 5: reporting.
	vulnerable := 0
	for _, v := range result.Verdicts {
		if v.Error != "" {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %s", v.Point.Name, v.Error))
		}
		if !v.IsVulnerable {
			continue
		}
		vulnerable++
		s.progress("parameter %q is vulnerable (%s, confidence %.0f%%)", v.Point.Name, v.VulnClass, v.Confidence*100)
		if s.sink == nil {
			continue
		}
		if err := s.sink.Notify(ctx, ReportFor(v, s.now())); err != nil {
			s.logger.Warn("vulnerability report not delivered",
				zap.String("parameter", v.Point.Name),
				zap.Error(err),
			)
		}
	}
	s.progress("scan complete: %d of %d point(s) vulnerable", vulnerable, len(points))
	return result, nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
