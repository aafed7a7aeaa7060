// Package collector runs periodic collectors that feed the inbox.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Collector is the interface for all data collectors.
type Collector interface {
	Name() string
	Collect(ctx context.Context) error
	Interval() time.Duration
}

// WorkerPool bounds concurrent remote sessions across all collectors.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool creates a worker pool with the given max concurrent workers.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{sem: make(chan struct{}, maxWorkers)}
}

// Submit runs fn in the pool, blocking if all workers are busy.
// Returns ctx.Err() if context is cancelled while waiting.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		go func() {
			defer func() { <-p.sem }()
			fn()
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run calls Collect immediately and then every Interval until ctx is
// cancelled. A failing or panicking collection is logged and retried on the
// next tick; consecutive failures are counted so a recovery is visible.
func Run(ctx context.Context, c Collector) error {
	name := c.Name()
	interval := c.Interval()
	if interval <= 0 {
		return fmt.Errorf("collector %s: interval must be positive, got %s", name, interval)
	}
	slog.Info("collector started", "name", name, "interval", interval)

	failures := 0
	collect := func() {
		err := safeCollect(ctx, c)
		switch {
		case err != nil && ctx.Err() != nil:
			// Cancelled mid-collection; not a failure of the remote side.
		case err != nil:
			failures++
			slog.Error("collection failed", "collector", name, "failures", failures, "error", err)
		case failures > 0:
			slog.Info("collection recovered", "collector", name, "after_failures", failures)
			failures = 0
		}
	}

	collect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("collector stopped", "name", name)
			return ctx.Err()
		case <-ticker.C:
			collect()
		}
	}
}

func safeCollect(ctx context.Context, c Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return c.Collect(ctx)
}
