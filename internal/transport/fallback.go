package transport

import (
	"context"
	"fmt"
	"net/http"
)

// Beacon is a best-effort signal channel: it can only tell whether a
// resource at a URL loaded, never what it contained.
type Beacon interface {
	Signal(ctx context.Context, rawURL string) error
}

// ImageBeacon signals by requesting the URL the way an <img> element would.
type ImageBeacon struct {
	client *http.Client
}

// NewImageBeacon returns a beacon backed by hc, or http.DefaultClient.
func NewImageBeacon(hc *http.Client) *ImageBeacon {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ImageBeacon{client: hc}
}

// Signal returns nil when the resource loaded with a non-error status.
func (b *ImageBeacon) Signal(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("beacon: status %d", resp.StatusCode)
	}
	return nil
}

// fallbackClient consults a Beacon when the primary transport fails.
type fallbackClient struct {
	inner  Client
	beacon Beacon
}

// WithFallback wraps client so that a failed request is retried once over
// beacon. A successful signal yields an empty-bodied Response with Fallback
// set; a failed signal returns the primary error.
func WithFallback(client Client, beacon Beacon) Client {
	if beacon == nil {
		return client
	}
	return &fallbackClient{inner: client, beacon: beacon}
}

func (c *fallbackClient) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.inner.Do(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if sigErr := c.beacon.Signal(ctx, req.URL); sigErr != nil {
		return nil, err
	}
	return &Response{StatusCode: http.StatusOK, URL: req.URL, Fallback: true}, nil
}

func (c *fallbackClient) SetProxy(proxyURL string) error { return c.inner.SetProxy(proxyURL) }
func (c *fallbackClient) SetRateLimit(rps float64)       { c.inner.SetRateLimit(rps) }
func (c *fallbackClient) Stats() *TransportStats         { return c.inner.Stats() }

var _ Client = (*fallbackClient)(nil)
