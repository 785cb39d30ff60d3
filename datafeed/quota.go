package datafeed

import (
	"log/slog"
	"sync"
	"time"
)

// How long a blocked caller sleeps before re-checking the quota window.
const quotaBackoff = 10 * time.Second

// RequestGate bounds outbound requests to a provider to a fixed number per
// minute. It is shared by every worker talking to that provider; the mutex
// covers only the check-and-increment, never the network call itself.
//
// The window resets when the wall-clock minute advances rather than sliding,
// so a burst straddling a minute boundary can briefly reach twice the
// nominal rate. Downstream sync cadences tolerate that, and the provider's
// own accounting works the same way.
type RequestGate struct {
	mu     sync.Mutex
	name   string
	max    int
	minute int64
	count  int
	logger *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewRequestGate creates a gate permitting maxPerMinute requests per minute
// for the named provider.
func NewRequestGate(name string, maxPerMinute int, logger *slog.Logger) *RequestGate {
	return &RequestGate{
		name:   name,
		max:    maxPerMinute,
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Name returns the provider this gate guards.
func (g *RequestGate) Name() string {
	return g.name
}

// Limit returns the number of requests permitted per minute.
func (g *RequestGate) Limit() int {
	return g.max
}

// Acquire blocks the calling goroutine until one more request may legally be
// issued, then records it.
func (g *RequestGate) Acquire() {
	for {
		g.mu.Lock()
		minute := g.now().Unix() / 60
		if minute == g.minute {
			if g.count < g.max {
				g.count++
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
			g.logger.Info("request quota exhausted, waiting", "provider", g.name)
			g.sleep(quotaBackoff)
			continue
		}
		// First request of a new minute always succeeds.
		g.minute = minute
		g.count = 1
		g.mu.Unlock()
		return
	}
}

// UnusedQuota returns how many requests remain in the current window.
// Low-priority callers use it to consume leftover capacity without blocking.
func (g *RequestGate) UnusedQuota() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now().Unix()/60 != g.minute {
		return g.max
	}
	return g.max - g.count
}
