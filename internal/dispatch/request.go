// Package dispatch queues probe requests and executes them under rate,
// concurrency and access limits, with a response cache and retries.
package dispatch

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/0x6d61/xssprobe/internal/transport"
)

// ProbeRequest is one HTTP probe waiting in the queue.
type ProbeRequest struct {
	URL         string
	Method      string
	Headers     map[string]string
	Cookies     map[string]string
	ContentType string
	Body        string

	// BodyChunks, when set, is sent with chunked transfer encoding
	// instead of Body.
	BodyChunks []string

	RetryCount int
	Signature  string
}

// NewProbeRequest builds a request and computes its signature.
func NewProbeRequest(method, rawURL string, headers map[string]string, body string) *ProbeRequest {
	if method == "" {
		method = http.MethodGet
	}
	r := &ProbeRequest{
		URL:     rawURL,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
	}
	r.Sign()
	return r
}

// Sign recomputes Signature from the request contents. Call it after
// changing any field other than RetryCount.
func (r *ProbeRequest) Sign() string {
	h := murmur3.New128()
	fmt.Fprintf(h, "%s\n%s\n", r.Method, r.URL)

	headers := make([]string, 0, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers = append(headers, strings.ToLower(k)+":"+v)
	}
	if r.ContentType != "" {
		headers = append(headers, "content-type:"+r.ContentType)
	}
	sort.Strings(headers)
	for _, line := range headers {
		fmt.Fprintf(h, "h %s\n", line)
	}

	cookies := make([]string, 0, len(r.Cookies))
	for k, v := range r.Cookies {
		cookies = append(cookies, k+"="+v)
	}
	sort.Strings(cookies)
	for _, c := range cookies {
		fmt.Fprintf(h, "c %s\n", c)
	}

	if len(r.BodyChunks) > 0 {
		for _, chunk := range r.BodyChunks {
			fmt.Fprintf(h, "chunk %d\n%s", len(chunk), chunk)
		}
	} else {
		fmt.Fprintf(h, "body\n%s", r.Body)
	}

	hi, lo := h.Sum128()
	r.Signature = fmt.Sprintf("%016x%016x", hi, lo)
	return r.Signature
}

// bodyLen is the number of body bytes the request will send.
func (r *ProbeRequest) bodyLen() int {
	if len(r.BodyChunks) == 0 {
		return len(r.Body)
	}
	n := 0
	for _, c := range r.BodyChunks {
		n += len(c)
	}
	return n
}

func (r *ProbeRequest) header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (r *ProbeRequest) transportRequest() *transport.Request {
	req := &transport.Request{
		Method:      r.Method,
		URL:         r.URL,
		Headers:     r.Headers,
		Body:        r.Body,
		ContentType: r.ContentType,
		Cookies:     r.Cookies,
	}
	if len(r.BodyChunks) > 0 {
		req.BodyChunks = r.BodyChunks
		req.Body = ""
	}
	return req.Clone()
}

// sensitiveHeaders are replaced by "[REDACTED]" in log output.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-csrf-token":        true,
	"x-xsrf-token":        true,
}

// redactHeaders returns a copy of headers safe to log.
func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}
