package dispatch

import (
	"context"
	"sync"
)

// Outcome is the resolved result of a ticket.
type Outcome struct {
	Body       string
	StatusCode int
	Cached     bool

	// Attempts counts the transport calls made, zero for cache hits
	// and denied requests.
	Attempts int

	Err error
}

// Ticket is the handle returned by Enqueue. It resolves exactly once.
type Ticket struct {
	req  *ProbeRequest
	done chan struct{}
	once sync.Once
	out  Outcome
}

func newTicket(req *ProbeRequest) *Ticket {
	return &Ticket{req: req, done: make(chan struct{})}
}

// Request returns the queued request.
func (t *Ticket) Request() *ProbeRequest { return t.req }

// Done is closed once the ticket resolves.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket resolves or ctx ends. A cancelled wait
// returns ctx's error without affecting the queued request.
func (t *Ticket) Wait(ctx context.Context) Outcome {
	select {
	case <-t.done:
		return t.out
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}
	}
}

func (t *Ticket) resolve(out Outcome) {
	t.once.Do(func() {
		t.out = out
		close(t.done)
	})
}
