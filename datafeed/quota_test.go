package datafeed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(max int, start time.Time) (*RequestGate, *time.Time, *[]time.Duration) {
	current := start
	slept := make([]time.Duration, 0)
	g := NewRequestGate("fake", max, testLogger())
	g.now = func() time.Time { return current }
	g.sleep = func(d time.Duration) {
		slept = append(slept, d)
		current = current.Add(d)
	}
	return g, &current, &slept
}

func TestRequestGateGrantsWithinLimit(t *testing.T) {
	g, _, slept := newTestGate(2, time.Unix(600, 0))

	g.Acquire()
	g.Acquire()

	assert.Empty(t, *slept)
	assert.Equal(t, 0, g.UnusedQuota())
}

func TestRequestGateBlocksUntilNextMinute(t *testing.T) {
	// 10 seconds before the minute boundary, so one backoff crosses it.
	g, _, slept := newTestGate(2, time.Unix(650, 0))

	g.Acquire()
	g.Acquire()
	g.Acquire()

	require.Len(t, *slept, 1)
	assert.Equal(t, quotaBackoff, (*slept)[0])
	// The blocked acquire became the first request of the new minute.
	assert.Equal(t, 1, g.UnusedQuota())
}

func TestRequestGateResetsOnNewMinute(t *testing.T) {
	g, current, slept := newTestGate(2, time.Unix(600, 0))

	g.Acquire()
	g.Acquire()
	*current = current.Add(time.Minute)
	g.Acquire()

	assert.Empty(t, *slept)
	assert.Equal(t, 1, g.UnusedQuota())
}

func TestRequestGateConcurrentAcquires(t *testing.T) {
	const max = 2

	start := time.Unix(600, 0)
	var mu sync.Mutex
	current := start
	sleeps := 0

	g := NewRequestGate("fake", max, testLogger())
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	g.sleep = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		sleeps++
		current = current.Add(d)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				g.Acquire()
			}
		}()
	}
	wg.Wait()

	// Six grants against a budget of two per minute can only complete once
	// the clock has been pushed across two minute boundaries, so the blocked
	// goroutines must have backed off at least twelve times between them.
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, sleeps, 12)
	assert.GreaterOrEqual(t, current.Sub(start), 2*time.Minute)
}

func TestRequestGateUnusedQuota(t *testing.T) {
	g, current, _ := newTestGate(5, time.Unix(600, 0))

	g.Acquire()
	g.Acquire()
	assert.Equal(t, 3, g.UnusedQuota())

	// A fresh window has the full quota again.
	*current = current.Add(time.Minute)
	assert.Equal(t, 5, g.UnusedQuota())
}
