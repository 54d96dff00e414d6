// Package poll refetches a resource on a fixed interval until it reaches a
// terminal state.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 10 * time.Minute
)

// Option configures Until.
type Option func(*options)

type options struct {
	interval time.Duration
	timeout  time.Duration
	onTick   func(attempt int)
}

// WithInterval overrides the refetch interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithTimeout overrides the timeout, applied only if ctx has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// OnTick registers a callback run after each unfinished fetch.
func OnTick(fn func(attempt int)) Option {
	return func(o *options) { o.onTick = fn }
}

// Until calls fetch until done reports true for its result, fetch returns a
// non-NotFound error, or ctx expires. apperr.ErrNotFound is the expected
// "not yet created" state and keeps polling.
func Until[T any](ctx context.Context, fetch func(ctx context.Context) (T, error), done func(T) bool, opts ...Option) (T, error) {
	o := options{interval: DefaultInterval, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := ctx.Deadline(); !ok && o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var zero T
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		v, err := fetch(ctx)
		switch {
		case err == nil && done(v):
			return v, nil
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return zero, err
		}

		if o.onTick != nil {
			o.onTick(attempt)
		}

		select {
		case <-ctx.Done():
			return zero, eris.Wrap(ctx.Err(), "poll: gave up")
		case <-ticker.C:
		}
	}
}
