// Package executor bounds how fast fanned-out work items run per owning
// user and retries failures with exponential backoff. Acceptance is
// decoupled from execution: Submit never blocks, items queue per key and at
// most Limit of them start within any rolling Period window.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Work is one throttled unit of execution.
type Work func(ctx context.Context) error

// FailureFunc is the operational error sink: it receives every item that
// exhausted its attempts. Items are never silently dropped.
type FailureFunc func(key string, err error)

type Config struct {
	// Limit is the maximum number of items started per key per Period.
	Limit  int
	Period time.Duration
	// RetryBase is the first retry delay; attempt n waits RetryBase * 2^n.
	RetryBase time.Duration
	// MaxAttempts is the total number of tries per item, first run included.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Limit:       10,
		Period:      time.Minute,
		RetryBase:   time.Second,
		MaxAttempts: 2,
	}
}

type Executor struct {
	cfg       Config
	onFailure FailureFunc
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	keys    map[string]*keyQueue
	stopped bool
}

type keyQueue struct {
	pending     []Work
	running     bool
	windowStart time.Time
	started     int
}

func New(cfg Config, onFailure FailureFunc) *Executor {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig().Period
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if onFailure == nil {
		onFailure = func(key string, err error) {
			slog.Error("Work item failed terminally", "key", key, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		onFailure: onFailure,
		now:       time.Now,
		sleep:     sleepCtx,
		ctx:       ctx,
		cancel:    cancel,
		keys:      make(map[string]*keyQueue),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues work under the given key and returns immediately. Items
// sharing a key execute in submission order, at most Limit starts per
// Period. Submitting after Stop is an error.
func (e *Executor) Submit(key string, work Work) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return fmt.Errorf("executor stopped")
	}

	kq, ok := e.keys[key]
	if !ok {
		kq = &keyQueue{windowStart: e.now()}
		e.keys[key] = kq
	}
	kq.pending = append(kq.pending, work)

	if !kq.running {
		kq.running = true
		e.wg.Add(1)
		go e.drain(key, kq)
	}
	return nil
}

// Stop cancels in-flight work and waits for the workers to exit. Items
// still queued are abandoned; the discovery scan will re-fire them because
// their templates are still due.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Executor) drain(key string, kq *keyQueue) {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		if len(kq.pending) == 0 {
			kq.running = false
			e.mu.Unlock()
			return
		}
		work := kq.pending[0]
		kq.pending = kq.pending[1:]
		e.mu.Unlock()

		if err := e.waitForSlot(kq); err != nil {
			slog.Warn("Executor stopping with queued work", "key", key, "reason", err)
			return
		}
		e.run(key, work)
	}
}

// waitForSlot blocks until the key's window has capacity. The window resets
// once Period has elapsed since it opened, matching a rolling per-key rate
// ceiling without tracking individual start times.
func (e *Executor) waitForSlot(kq *keyQueue) error {
	for {
		e.mu.Lock()
		now := e.now()
		if now.Sub(kq.windowStart) >= e.cfg.Period {
			kq.windowStart = now
			kq.started = 0
		}
		if kq.started < e.cfg.Limit {
			kq.started++
			e.mu.Unlock()
			return nil
		}
		wait := kq.windowStart.Add(e.cfg.Period).Sub(now)
		e.mu.Unlock()

		if err := e.sleep(e.ctx, wait); err != nil {
			return err
		}
	}
}

func (e *Executor) run(key string, work Work) {
	var err error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBase * (1 << (attempt - 1))
			if sleepErr := e.sleep(e.ctx, delay); sleepErr != nil {
				e.onFailure(key, fmt.Errorf("retry aborted: %w", err))
				return
			}
		}
		if err = work(e.ctx); err == nil {
			return
		}
		slog.Warn("Work item failed", "key", key, "attempt", attempt+1, "error", err)
	}
	e.onFailure(key, err)
}
