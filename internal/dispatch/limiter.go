package dispatch

import "time"

// Clock supplies the current time to the limiter and cache.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// limiter enforces a minimum spacing between executions and a ceiling
// over a rolling one minute window. It is guarded by Dispatcher.mu.
type limiter struct {
	minDelay  time.Duration
	perMinute int

	last   time.Time
	window []time.Time
}

const limiterWindow = time.Minute

func newLimiter(minDelay time.Duration, perMinute int) *limiter {
	return &limiter{minDelay: minDelay, perMinute: perMinute}
}

func (l *limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.window) && now.Sub(l.window[cut]) >= limiterWindow {
		cut++
	}
	l.window = l.window[cut:]
}

// allow reports whether an execution may start at now. It does not
// consume budget; call record for that.
func (l *limiter) allow(now time.Time) bool {
	l.prune(now)
	if !l.last.IsZero() && now.Sub(l.last) < l.minDelay {
		return false
	}
	if l.perMinute > 0 && len(l.window) >= l.perMinute {
		return false
	}
	return true
}

func (l *limiter) record(now time.Time) {
	l.last = now
	if l.perMinute > 0 {
		l.window = append(l.window, now)
	}
}

// retryAfter estimates how long until allow may flip to true.
func (l *limiter) retryAfter(now time.Time) time.Duration {
	var d time.Duration
	if !l.last.IsZero() {
		d = l.minDelay - now.Sub(l.last)
	}
	if l.perMinute > 0 && len(l.window) >= l.perMinute {
		if w := limiterWindow - now.Sub(l.window[0]); w > d {
			d = w
		}
	}
	return d
}
