// Package transport provides the HTTP primitive every probe flows through.
package transport

import "time"

// Request is an outbound HTTP request.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        string
	ContentType string
	Cookies     map[string]string

	// BodyChunks, when set, replaces Body and is streamed with unknown
	// length so the request goes out with chunked transfer encoding.
	BodyChunks []string

	// FollowRedirects overrides the client default when non-nil.
	FollowRedirects *bool

	// Timeout overrides the client default when non-zero.
	Timeout time.Duration
}

// Clone returns a deep copy of the Request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Headers = copyMap(r.Headers)
	clone.Cookies = copyMap(r.Cookies)
	if r.BodyChunks != nil {
		clone.BodyChunks = append([]string(nil), r.BodyChunks...)
	}
	if r.FollowRedirects != nil {
		val := *r.FollowRedirects
		clone.FollowRedirects = &val
	}
	return &clone
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
