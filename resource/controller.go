// Package resource manages the process-wide budgets shared by archive scans:
// parallel workers, batch memory and sequential IO bandwidth.
package resource

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps the memory held by in-flight query batches and
	// distance matrices. 0 tracks usage without a cap.
	MemoryLimitBytes int64

	// MaxWorkers is the number of extra worker goroutines that searches and
	// exports may run on top of their calling goroutine.
	// 0 means GOMAXPROCS-1; a negative value disables extra workers.
	MaxWorkers int64

	// IOLimitBytesPerSec throttles sequential scans and publish transfers.
	// 0 means unthrottled.
	IOLimitBytesPerSec int64
}

// budget is a counted pool backed by a weighted semaphore. A nil sem only
// counts.
type budget struct {
	sem   *semaphore.Weighted
	limit int64
	used  atomic.Int64
}

func (b *budget) init(limit int64) {
	if limit > 0 {
		b.sem, b.limit = semaphore.NewWeighted(limit), limit
	}
}

// weight is n clamped to the pool size so oversized requests can still be
// granted once the pool drains.
func (b *budget) weight(n int64) int64 {
	if b.limit > 0 && n > b.limit {
		return b.limit
	}
	return n
}

func (b *budget) acquire(ctx context.Context, n int64) error {
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, b.weight(n)); err != nil {
			return err
		}
	}
	b.used.Add(n)
	return nil
}

func (b *budget) tryAcquire(n int64) bool {
	if b.sem != nil && !b.sem.TryAcquire(b.weight(n)) {
		return false
	}
	b.used.Add(n)
	return true
}

func (b *budget) release(n int64) {
	if b.sem != nil {
		b.sem.Release(b.weight(n))
	}
	b.used.Add(-n)
}

// Controller hands out worker slots, batch memory and IO bandwidth.
//
// All methods are safe on a nil *Controller, which imposes no limits and
// grants no extra workers.
type Controller struct {
	cfg     Config
	mem     budget
	workers budget
	io      *rate.Limiter // nil if unthrottled
}

// NewController builds a controller for cfg.
func NewController(cfg Config) *Controller {
	switch {
	case cfg.MaxWorkers == 0:
		cfg.MaxWorkers = int64(runtime.GOMAXPROCS(0) - 1)
	case cfg.MaxWorkers < 0:
		cfg.MaxWorkers = 0
	}

	c := &Controller{cfg: cfg}
	c.mem.init(cfg.MemoryLimitBytes)
	c.workers.init(cfg.MaxWorkers)
	if cfg.IOLimitBytesPerSec > 0 {
		// One second of bandwidth may be spent at once.
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Default returns the process-wide controller shared by archives that are not
// given one explicitly.
var Default = sync.OnceValue(func() *Controller {
	return NewController(Config{})
})

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// ReserveWorkers grabs up to n free worker slots without blocking and returns
// how many were granted, possibly zero. The caller always runs one worker on
// its own goroutine in addition to the reserved ones.
func (c *Controller) ReserveWorkers(n int) int {
	if c == nil || c.workers.sem == nil {
		return 0
	}
	got := 0
	for got < n && c.workers.tryAcquire(1) {
		got++
	}
	return got
}

// ReleaseWorkers returns slots obtained from ReserveWorkers.
func (c *Controller) ReleaseWorkers(n int) {
	if c == nil || c.workers.sem == nil || n <= 0 {
		return
	}
	c.workers.release(int64(n))
}

// WorkersInUse reports the reserved worker slots.
func (c *Controller) WorkersInUse() int64 {
	if c == nil {
		return 0
	}
	return c.workers.used.Load()
}

// AcquireMemory reserves n bytes, blocking while a configured limit is
// exhausted. Requests above the limit wait for the whole pool.
func (c *Controller) AcquireMemory(ctx context.Context, n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	return c.mem.acquire(ctx, n)
}

// TryAcquireMemory is the non-blocking form of AcquireMemory.
func (c *Controller) TryAcquireMemory(n int64) bool {
	if c == nil || n <= 0 {
		return true
	}
	return c.mem.tryAcquire(n)
}

// ReleaseMemory returns n bytes obtained from AcquireMemory or
// TryAcquireMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mem.release(n)
}

// MemoryUsage reports the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.mem.used.Load()
}

// AcquireIO waits until the IO limit admits n more bytes. Requests larger
// than one second of bandwidth are admitted in burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return ctx.Err()
	}
	burst := c.io.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.io.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
