package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Client is the HTTP primitive all probes and page fetches go through.
type Client interface {
	// Do sends an HTTP request and returns the response.
	Do(ctx context.Context, req *Request) (*Response, error)

	// SetProxy configures an HTTP/SOCKS5 proxy for subsequent requests.
	SetProxy(proxyURL string) error

	// SetRateLimit sets the maximum requests per second.
	SetRateLimit(rps float64)

	// Stats returns transport statistics.
	Stats() *TransportStats
}

// TransportStats holds aggregate statistics for a client.
type TransportStats struct {
	TotalRequests  int64
	FailedRequests int64
	TotalDuration  time.Duration
	AvgDuration    time.Duration
}

// ClientOptions configures a DefaultClient.
type ClientOptions struct {
	Timeout            time.Duration
	ProxyURL           string
	FollowRedirects    bool
	InsecureSkipVerify bool
	RandomUserAgent    bool

	// MaxRPS is the maximum requests per second (0 = unlimited).
	MaxRPS float64

	Logger *zap.Logger
}

// DefaultClient implements Client on top of net/http.
type DefaultClient struct {
	httpClient *http.Client
	opts       ClientOptions
	logger     *zap.Logger

	mu              sync.RWMutex
	limiter         *rate.Limiter
	totalRequests   int64
	failedRequests  int64
	totalDurationNs int64
}

// NewClient creates a DefaultClient.
func NewClient(opts ClientOptions) (*DefaultClient, error) {
	tr := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 16,
	}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	hc := &http.Client{Transport: tr, Timeout: opts.Timeout}
	if !opts.FollowRedirects {
		hc.CheckRedirect = noRedirect
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &DefaultClient{
		httpClient: hc,
		opts:       opts,
		logger:     logger.Named("transport"),
	}
	c.SetRateLimit(opts.MaxRPS)
	return c, nil
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// Do sends req. The response body is decoded to UTF-8 using the charset
// announced by the server or sniffed from the markup.
func (c *DefaultClient) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.clientFor(req).Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.record(duration, true)
		c.logger.Debug("request failed", zap.String("url", req.URL), zap.Error(err))
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.record(duration, true)
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	body, label := decodeBody(raw, httpResp.Header.Get("Content-Type"))
	c.record(duration, false)

	return &Response{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          body,
		ContentLength: httpResp.ContentLength,
		Duration:      duration,
		URL:           httpResp.Request.URL.String(),
		Protocol:      fmt.Sprintf("HTTP/%d.%d", httpResp.ProtoMajor, httpResp.ProtoMinor),
		Charset:       label,
	}, nil
}

func (c *DefaultClient) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	switch {
	case len(req.BodyChunks) > 0:
		// A reader of unknown length makes net/http send chunked.
		readers := make([]io.Reader, len(req.BodyChunks))
		for i, chunk := range req.BodyChunks {
			readers[i] = strings.NewReader(chunk)
		}
		body = io.MultiReader(readers...)
	case req.Body != "":
		body = strings.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if len(req.BodyChunks) > 0 {
		httpReq.ContentLength = -1
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if c.opts.RandomUserAgent && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", RandomUserAgent())
	}
	return httpReq, nil
}

// clientFor returns a shallow copy of the http.Client when the request
// overrides the redirect policy or timeout.
func (c *DefaultClient) clientFor(req *Request) *http.Client {
	if req.FollowRedirects == nil && req.Timeout <= 0 {
		return c.httpClient
	}
	cc := *c.httpClient
	if req.Timeout > 0 {
		cc.Timeout = req.Timeout
	}
	if req.FollowRedirects != nil {
		if *req.FollowRedirects {
			cc.CheckRedirect = nil
		} else {
			cc.CheckRedirect = noRedirect
		}
	}
	return &cc
}

func (c *DefaultClient) record(d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalDurationNs += d.Nanoseconds()
	if failed {
		c.failedRequests++
	}
}

// decodeBody converts raw to UTF-8. Bodies already in UTF-8, or in an
// encoding the charset package cannot determine, are returned as is.
func decodeBody(raw []byte, contentType string) ([]byte, string) {
	if len(raw) == 0 {
		return raw, "utf-8"
	}
	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	if name == "utf-8" || name == "" {
		return raw, "utf-8"
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return raw, name
	}
	return bytes.ToValidUTF8(decoded, nil), name
}

// SetProxy configures an HTTP or SOCKS5 proxy for subsequent requests.
func (c *DefaultClient) SetProxy(proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid proxy URL: missing scheme or host")
	}
	tr, ok := c.httpClient.Transport.(*http.Transport)
	if !ok {
		return fmt.Errorf("cannot set proxy: transport is not *http.Transport")
	}
	tr.Proxy = http.ProxyURL(parsed)
	return nil
}

// SetRateLimit sets the maximum requests per second. Zero or less
// disables limiting.
func (c *DefaultClient) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// Stats returns aggregate transport statistics.
func (c *DefaultClient) Stats() *TransportStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &TransportStats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalDuration:  time.Duration(c.totalDurationNs),
	}
	if c.totalRequests > 0 {
		stats.AvgDuration = time.Duration(c.totalDurationNs / c.totalRequests)
	}
	return stats
}

var _ Client = (*DefaultClient)(nil)
