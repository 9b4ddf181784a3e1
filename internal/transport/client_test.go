package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *DefaultClient {
	t.Helper()
	c, err := NewClient(ClientOptions{Timeout: 5 * time.Second, FollowRedirects: true})
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func TestDo_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "v", r.URL.Query().Get("q"))
		fmt.Fprint(w, "<p>v</p>")
	}))
	defer srv.Close()

	resp, err := newTestClient(t).Do(context.Background(), &Request{URL: srv.URL + "/?q=v"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<p>v</p>", resp.BodyString())
	assert.Equal(t, "utf-8", resp.Charset)
	assert.False(t, resp.Fallback)
}

func TestDo_HeadersCookiesAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Probe"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		c, err := r.Cookie("sid")
		if assert.NoError(t, err) {
			assert.Equal(t, "abc", c.Value)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	resp, err := newTestClient(t).Do(context.Background(), &Request{
		Method:      http.MethodPost,
		URL:         srv.URL,
		Headers:     map[string]string{"X-Probe": "yes"},
		Cookies:     map[string]string{"sid": "abc"},
		ContentType: "application/x-www-form-urlencoded",
		Body:        "comment=hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "comment=hi", resp.BodyString())
}

func TestDo_ChunkedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"chunked"}, r.TransferEncoding)
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	resp, err := newTestClient(t).Do(context.Background(), &Request{
		Method:     http.MethodPost,
		URL:        srv.URL,
		BodyChunks: []string{"q=<s", "cri", "pt>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "q=<script>", resp.BodyString())
}

func TestDo_DecodesDeclaredCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer srv.Close()

	resp, err := newTestClient(t).Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "café", resp.BodyString())
	assert.Equal(t, "windows-1252", resp.Charset)
}

func TestDo_RedirectPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/from" {
			http.Redirect(w, r, "/to", http.StatusFound)
			return
		}
		fmt.Fprint(w, "landed")
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{URL: srv.URL + "/from"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	follow := true
	resp, err = c.Do(context.Background(), &Request{URL: srv.URL + "/from", FollowRedirects: &follow})
	require.NoError(t, err)
	assert.Equal(t, "landed", resp.BodyString())
}

func TestDo_PerRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL, Timeout: 20 * time.Millisecond})
	require.Error(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
}

func TestDo_RandomUserAgent(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{Timeout: 5 * time.Second, RandomUserAgent: true})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Contains(t, userAgents, got.Load().(string))
}

func TestSetProxy_Invalid(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.SetProxy("not a url"))
	assert.NoError(t, c.SetProxy("http://127.0.0.1:8080"))
}

func TestRequestClone(t *testing.T) {
	follow := false
	orig := &Request{
		URL:             "http://example.com",
		Headers:         map[string]string{"A": "1"},
		BodyChunks:      []string{"ab"},
		FollowRedirects: &follow,
	}
	clone := orig.Clone()
	clone.Headers["A"] = "2"
	clone.BodyChunks[0] = "zz"
	*clone.FollowRedirects = true

	assert.Equal(t, "1", orig.Headers["A"])
	assert.Equal(t, "ab", orig.BodyChunks[0])
	assert.False(t, *orig.FollowRedirects)
	assert.Nil(t, (*Request)(nil).Clone())
}

// ---------------------------------------------------------------------------
// Fallback
// ---------------------------------------------------------------------------

type failingClient struct{}

func (failingClient) Do(context.Context, *Request) (*Response, error) {
	return nil, errors.New("connection reset")
}
func (failingClient) SetProxy(string) error  { return nil }
func (failingClient) SetRateLimit(float64)   {}
func (failingClient) Stats() *TransportStats { return &TransportStats{} }

type stubBeacon struct{ err error }

func (b stubBeacon) Signal(context.Context, string) error { return b.err }

func TestWithFallback(t *testing.T) {
	req := &Request{URL: "http://target.test/?q=x"}

	resp, err := WithFallback(&failingClient{}, stubBeacon{}).Do(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Empty(t, resp.Body)

	_, err = WithFallback(&failingClient{}, stubBeacon{err: errors.New("blocked")}).Do(context.Background(), req)
	assert.EqualError(t, err, "connection reset")

	c := newTestClient(t)
	assert.Same(t, Client(c), WithFallback(c, nil))
}

func TestImageBeacon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Accept"), "image/"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewImageBeacon(srv.Client())
	assert.NoError(t, b.Signal(context.Background(), srv.URL+"/pixel"))
	assert.Error(t, b.Signal(context.Background(), srv.URL+"/missing"))
}
