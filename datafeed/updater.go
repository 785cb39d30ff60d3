package datafeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SyncResult reports the outcome of one instrument's sync attempt.
type SyncResult struct {
	OK    bool
	Count int
}

// Updater is one scheduled refresh task owned by an asset class. The outer
// polling loop calls RequiresUpdate on every pass and runs DoUpdate for each
// task that is due; MarkUpdated is called only after a successful run.
type Updater interface {
	Name() string
	RequiresUpdate(now time.Time) bool
	DoUpdate(ctx context.Context) error
	MarkUpdated(now time.Time)
}

// updaterState tracks a task's refresh interval and last successful run.
// lastUpdate is zero after process start, so the first check after a restart
// is always due.
type updaterState struct {
	interval   time.Duration
	lastUpdate time.Time
}

func (s *updaterState) RequiresUpdate(now time.Time) bool {
	if s.lastUpdate.IsZero() {
		return true
	}
	return now.Sub(s.lastUpdate) >= s.interval
}

func (s *updaterState) MarkUpdated(now time.Time) {
	s.lastUpdate = now
}

// FatalError marks a condition where continuing would risk silent partial
// data, such as exhausting every retry against the provider. Sync code never
// exits the process itself; the error bubbles up to the scheduler loop and
// the exit happens in main, under external process supervision.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// runDueUpdaters executes every due task in order. MarkUpdated is called
// only after a successful run, so a failed task stays due and is retried on
// the next pass. A fatal error aborts the remaining tasks and propagates;
// any other error is logged and the pass continues.
func runDueUpdaters(ctx context.Context, now time.Time, updaters []Updater, logger *slog.Logger) error {
	for _, u := range updaters {
		if !u.RequiresUpdate(now) {
			continue
		}
		if err := u.DoUpdate(ctx); err != nil {
			if IsFatal(err) {
				return err
			}
			logger.Error("update failed", "task", u.Name(), "error", err)
			continue
		}
		u.MarkUpdated(now)
	}
	return nil
}

// fanOut runs fn for every item on a bounded worker pool, collecting each
// item's result. It blocks until every attempt has completed; items are
// never retried here and each item is handled by exactly one worker. The
// first fatal error observed is returned after the pool drains.
func fanOut[T any](workers int, items []T, fn func(T) (SyncResult, error)) ([]SyncResult, error) {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan T)
	results := make([]SyncResult, 0, len(items))

	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range jobs {
				res, err := fn(item)
				mu.Lock()
				results = append(results, res)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()
	return results, firstErr
}

// summarize tallies per-item results for aggregate logging.
func summarize(results []SyncResult) (succeeded, failed, count int) {
	for _, r := range results {
		if r.OK {
			succeeded++
		} else {
			failed++
		}
		count += r.Count
	}
	return succeeded, failed, count
}
