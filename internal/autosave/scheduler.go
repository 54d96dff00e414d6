// Package autosave debounces operator edits into periodic saves.
//
// One Scheduler is shared by every editor of an entity type. Each key has at
// most one pending timer and at most one save in flight.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/metrics"
)

// DefaultWindow is the quiet period after the last edit before a save.
const DefaultWindow = 30 * time.Second

// SaveFunc persists a draft for key.
type SaveFunc[T any] func(ctx context.Context, key string, draft T) error

// MergeFunc folds a newer change into an older pending draft.
type MergeFunc[T any] func(older, newer T) T

// Scheduler buffers drafts per key and saves them once edits go quiet.
type Scheduler[T any] struct {
	name        string
	window      time.Duration
	saveTimeout time.Duration
	save        SaveFunc[T]
	merge       MergeFunc[T]

	mu      sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	draft  T
	dirty  bool
	saving bool
	gen    uint64
	timer  *time.Timer
}

// Option configures a Scheduler.
type Option func(*settings)

type settings struct {
	window      time.Duration
	saveTimeout time.Duration
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(s *settings) { s.window = d }
}

// WithSaveTimeout bounds timer-triggered saves.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *settings) { s.saveTimeout = d }
}

// New creates a Scheduler. name labels logs and metrics.
func New[T any](name string, save SaveFunc[T], merge MergeFunc[T], opts ...Option) *Scheduler[T] {
	cfg := settings{window: DefaultWindow, saveTimeout: time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	return &Scheduler[T]{
		name:        name,
		window:      cfg.window,
		saveTimeout: cfg.saveTimeout,
		save:        save,
		merge:       merge,
		entries:     make(map[string]*entry[T]),
	}
}

// Edit merges change into key's pending draft and restarts its timer.
func (s *Scheduler[T]) Edit(key string, change T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		e = &entry[T]{}
		s.entries[key] = e
	}
	if e.dirty {
		e.draft = s.merge(e.draft, change)
	} else {
		e.draft = change
		e.dirty = true
	}
	e.gen++
	s.arm(key, e)
}

// arm (re)starts e's timer for its current generation. Caller holds mu.
func (s *Scheduler[T]) arm(key string, e *entry[T]) {
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(s.window, func() { s.fire(key, gen) })
}

func (s *Scheduler[T]) fire(key string, gen uint64) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.gen != gen || !e.dirty {
		s.mu.Unlock()
		return
	}
	if e.saving {
		// Try again after the in-flight save lands.
		s.arm(key, e)
		s.mu.Unlock()
		return
	}
	draft := s.take(e)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	err := s.run(ctx, key, e, draft, "timer")
	if err != nil {
		zap.L().Warn("autosave: save failed",
			zap.String("scheduler", s.name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// Save is the manual save: it merges change into any pending draft, cancels
// the timer and saves immediately. It fails with apperr.ErrSaveInFlight
// while another save for key is running.
func (s *Scheduler[T]) Save(ctx context.Context, key string, change T) error {
	s.mu.Lock()
	e := s.entries[key]
	if e != nil && e.saving {
		s.mu.Unlock()
		return eris.Wrapf(apperr.ErrSaveInFlight, "%s %s", s.name, key)
	}
	if e == nil {
		e = &entry[T]{}
		s.entries[key] = e
	}
	if e.dirty {
		e.draft = s.merge(e.draft, change)
	} else {
		e.draft = change
		e.dirty = true
	}
	e.gen++
	draft := s.take(e)
	s.mu.Unlock()

	return s.run(ctx, key, e, draft, "manual")
}

// Flush saves key's pending draft now, if any.
func (s *Scheduler[T]) Flush(ctx context.Context, key string) error {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || !e.dirty {
		s.mu.Unlock()
		return nil
	}
	if e.saving {
		s.mu.Unlock()
		return eris.Wrapf(apperr.ErrSaveInFlight, "%s %s", s.name, key)
	}
	e.gen++
	draft := s.take(e)
	s.mu.Unlock()

	return s.run(ctx, key, e, draft, "manual")
}

// Discard drops key's pending draft and timer without saving.
func (s *Scheduler[T]) Discard(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[key]; e != nil {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// Take removes and returns key's pending draft without saving it, for a
// command that persists the draft itself. It fails with
// apperr.ErrSaveInFlight while a save for key is running.
func (s *Scheduler[T]) Take(key string) (T, bool, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil {
		return zero, false, nil
	}
	if e.saving {
		return zero, false, eris.Wrapf(apperr.ErrSaveInFlight, "%s %s", s.name, key)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, key)
	return e.draft, e.dirty, nil
}

// Pending reports whether key has an unsaved draft.
func (s *Scheduler[T]) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	return e != nil && e.dirty
}

// Shutdown stops every timer and saves outstanding drafts. It returns the
// first save error.
func (s *Scheduler[T]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.dirty && !e.saving {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	var first error
	for _, k := range keys {
		if err := s.Flush(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// take moves e's draft into a save. Caller holds mu.
func (s *Scheduler[T]) take(e *entry[T]) T {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	draft := e.draft
	var zero T
	e.draft = zero
	e.dirty = false
	e.saving = true
	return draft
}

func (s *Scheduler[T]) run(ctx context.Context, key string, e *entry[T], draft T, trigger string) error {
	err := s.save(ctx, key, draft)
	metrics.AutosaveSaves.WithLabelValues(trigger, metrics.Outcome(err)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.saving = false
	if s.entries[key] != e {
		return err
	}
	if err != nil {
		// Keep the unsaved changes for the next attempt.
		if e.dirty {
			e.draft = s.merge(draft, e.draft)
		} else {
			e.draft = draft
			e.dirty = true
		}
		if trigger == "timer" {
			s.arm(key, e)
		}
		return err
	}
	if !e.dirty && e.timer == nil {
		delete(s.entries, key)
	}
	return nil
}
