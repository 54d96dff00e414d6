// Package jobs runs background generation work off the request path.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/strategy-cli/internal/metrics"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Runner accepts background work. Submit never blocks the caller.
type Runner interface {
	Submit(kind string, fn Func)
}

// Pool runs jobs with bounded concurrency and a per-job timeout. In-flight
// jobs are never cancelled by the pool; Wait lets them finish.
type Pool struct {
	g       errgroup.Group
	timeout time.Duration
	pending sync.WaitGroup

	mu     sync.Mutex // guards closed and pending.Add against Wait
	closed bool
}

// NewPool creates a pool running at most limit jobs at once.
func NewPool(limit int, timeout time.Duration) *Pool {
	p := &Pool{timeout: timeout}
	if limit > 0 {
		p.g.SetLimit(limit)
	}
	return p
}

// Submit queues fn. Once Wait has been called, new jobs are dropped.
func (p *Pool) Submit(kind string, fn Func) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		zap.L().Warn("jobs: pool closed, dropping job", zap.String("kind", kind))
		return
	}
	p.pending.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.pending.Done()
		p.g.Go(func() error {
			run(context.Background(), kind, p.timeout, fn)
			return nil
		})
	}()
}

// Wait stops accepting jobs and blocks until queued and running jobs finish.
func (p *Pool) Wait() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	_ = p.g.Wait()
}

func run(ctx context.Context, kind string, timeout time.Duration, fn Func) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	metrics.JobsActive.WithLabelValues(kind).Inc()
	defer metrics.JobsActive.WithLabelValues(kind).Dec()

	start := time.Now()
	err := fn(ctx)
	metrics.GenerationDuration.WithLabelValues(kind, metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		zap.L().Error("jobs: job failed", zap.String("kind", kind), zap.Error(err))
	}
}

// Manual queues jobs until Drain is called. Tests use it to observe
// entities while generation is still in flight.
type Manual struct {
	mu    sync.Mutex
	queue []queued
}

type queued struct {
	kind string
	fn   Func
}

// Submit queues fn.
func (m *Manual) Submit(kind string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{kind: kind, fn: fn})
}

// Pending returns the number of queued jobs.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Drain runs queued jobs in order, including jobs they submit, and returns
// how many ran.
func (m *Manual) Drain(ctx context.Context) int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		j := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		run(ctx, j.kind, 0, j.fn)
		n++
	}
}
