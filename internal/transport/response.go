package transport

import (
	"net/http"
	"time"
)

// Response is a received HTTP response with its body decoded to UTF-8.
type Response struct {
	StatusCode    int
	Headers       http.Header
	Body          []byte
	ContentLength int64
	Duration      time.Duration
	URL           string
	Protocol      string

	// Charset is the label of the encoding the body was decoded from.
	Charset string

	// Fallback is set when the response came from the beacon channel
	// instead of the primary transport. Such responses carry no body.
	Fallback bool
}

// BodyString returns the response body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}
