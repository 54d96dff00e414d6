// Package enrichment gates a submission's researched profile behind operator
// review. Approval is the trigger for analysis.
package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/lease"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/store"
)

// ProgressFunc reports generation progress (0-100) and a step label.
type ProgressFunc func(pct int, step string)

// Generator researches a submission into enrichment data.
type Generator interface {
	Enrich(ctx context.Context, sub *model.Submission, progress ProgressFunc) (model.EnrichmentData, error)
}

// Gate owns the enrichment lifecycle: pending → completed → approved.
type Gate struct {
	store    store.Store
	leases   lease.Manager
	gen      Generator
	runner   jobs.Runner
	bus      *events.Bus
	leaseTTL time.Duration
	now      func() time.Time
}

// NewGate wires a Gate. leaseTTL bounds how long an operator's claim lives
// without renewal.
func NewGate(st store.Store, leases lease.Manager, gen Generator, runner jobs.Runner, bus *events.Bus, leaseTTL time.Duration) *Gate {
	return &Gate{
		store:    st,
		leases:   leases,
		gen:      gen,
		runner:   runner,
		bus:      bus,
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func resource(id string) string { return "enrichment:" + id }

// Start creates the pending enrichment for a submission and dispatches
// generation. An existing enrichment is returned unchanged.
func (g *Gate) Start(ctx context.Context, submissionID string) (*model.Enrichment, error) {
	if _, err := g.store.GetSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	e, err := g.store.GetEnrichmentBySubmission(ctx, submissionID)
	if err == nil {
		return g.decorate(ctx, e), nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	e = &model.Enrichment{
		SubmissionID: submissionID,
		Status:       model.EnrichmentPending,
		CurrentStep:  "queued",
		Attempt:      1,
	}
	if err := g.store.CreateEnrichment(ctx, e); err != nil {
		if errors.Is(err, apperr.ErrRevisionConflict) {
			// Lost a creation race; the winner dispatched generation.
			return g.GetBySubmission(ctx, submissionID)
		}
		return nil, err
	}

	zap.L().Info("enrichment: started",
		zap.String("submission_id", submissionID),
		zap.String("enrichment_id", e.ID),
	)
	g.dispatch(e)
	return e, nil
}

// Get returns an enrichment with its lock state.
func (g *Gate) Get(ctx context.Context, id string) (*model.Enrichment, error) {
	e, err := g.store.GetEnrichment(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.decorate(ctx, e), nil
}

// GetBySubmission returns the submission's enrichment with its lock state.
// apperr.ErrNotFound means generation has not been started yet.
func (g *Gate) GetBySubmission(ctx context.Context, submissionID string) (*model.Enrichment, error) {
	e, err := g.store.GetEnrichmentBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return g.decorate(ctx, e), nil
}

// Update deep-merges partial into the enrichment's data. It is legal in any
// status but fails with apperr.ErrLocked while another operator holds the
// lease. A non-zero expectedRevision must match the stored revision.
func (g *Gate) Update(ctx context.Context, id string, partial model.EnrichmentData, token string, expectedRevision int64) (*model.Enrichment, error) {
	if err := g.leases.Check(ctx, resource(id), token); err != nil {
		return nil, err
	}
	e, err := store.Mutate(ctx, g.loader(id), g.store.UpdateEnrichment, func(e *model.Enrichment) error {
		if err := checkRevision(e, expectedRevision); err != nil {
			return err
		}
		e.Data.Merge(partial)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g.decorate(ctx, e), nil
}

// Approve merges any pending edits and moves a completed enrichment to
// approved in one write, then emits StartAnalysis. A rejected approve
// writes nothing; approving twice fails with apperr.ErrAlreadyApproved.
func (g *Gate) Approve(ctx context.Context, id string, edits *model.EnrichmentData, token string, expectedRevision int64) (*model.Enrichment, error) {
	cur, err := g.store.GetEnrichment(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == model.EnrichmentApproved {
		return nil, eris.Wrapf(apperr.ErrAlreadyApproved, "enrichment %s", id)
	}
	if err := g.leases.Check(ctx, resource(id), token); err != nil {
		return nil, err
	}

	var from model.EnrichmentStatus
	e, err := store.Mutate(ctx, g.loader(id), g.store.UpdateEnrichment, func(e *model.Enrichment) error {
		if err := checkRevision(e, expectedRevision); err != nil {
			return err
		}
		from = e.Status
		if err := e.Apply(model.ActionApprove, g.now()); err != nil {
			return err
		}
		if edits != nil && !edits.IsZero() {
			e.Data.Merge(*edits)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("enrichment", string(from), string(e.Status)).Inc()

	if token != "" {
		if err := g.leases.Release(ctx, resource(id), token); err != nil {
			zap.L().Warn("enrichment: release lease after approve", zap.String("enrichment_id", id), zap.Error(err))
		}
	}

	zap.L().Info("enrichment: approved",
		zap.String("submission_id", e.SubmissionID),
		zap.String("enrichment_id", e.ID),
	)
	g.bus.Publish(ctx, events.Event{Topic: events.StartAnalysis, SubmissionID: e.SubmissionID, EntityID: e.ID})
	return g.decorate(ctx, e), nil
}

// Retry discards the previous attempt and regenerates from scratch. It is
// legal at any time and creates the enrichment if none exists.
func (g *Gate) Retry(ctx context.Context, submissionID string) (*model.Enrichment, error) {
	cur, err := g.store.GetEnrichmentBySubmission(ctx, submissionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return g.Start(ctx, submissionID)
	}
	if err != nil {
		return nil, err
	}

	var from model.EnrichmentStatus
	e, err := store.Mutate(ctx, g.loader(cur.ID), g.store.UpdateEnrichment, func(e *model.Enrichment) error {
		from = e.Status
		e.ResetForRetry()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("enrichment", string(from), string(e.Status)).Inc()

	zap.L().Info("enrichment: retry",
		zap.String("submission_id", submissionID),
		zap.Int("attempt", e.Attempt),
	)
	g.dispatch(e)
	return g.decorate(ctx, e), nil
}

// Claim grants operator an edit lease on the enrichment.
func (g *Gate) Claim(ctx context.Context, id, operator string) (*lease.Lease, error) {
	if _, err := g.store.GetEnrichment(ctx, id); err != nil {
		return nil, err
	}
	return g.leases.Acquire(ctx, resource(id), operator, g.leaseTTL)
}

// Release gives up a lease obtained from Claim.
func (g *Gate) Release(ctx context.Context, id, token string) error {
	return g.leases.Release(ctx, resource(id), token)
}

func (g *Gate) dispatch(e *model.Enrichment) {
	id, submissionID, attempt := e.ID, e.SubmissionID, e.Attempt
	g.runner.Submit("enrichment", func(ctx context.Context) error {
		return g.generate(ctx, id, submissionID, attempt)
	})
}

// generate runs one attempt. Results from superseded attempts are dropped.
func (g *Gate) generate(ctx context.Context, id, submissionID string, attempt int) error {
	log := zap.L().With(zap.String("enrichment_id", id), zap.Int("attempt", attempt))

	sub, err := g.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return g.fail(ctx, id, attempt, err)
	}

	progress := func(pct int, step string) {
		_, err := g.mutateAttempt(ctx, id, attempt, func(e *model.Enrichment) {
			e.Progress = min(max(pct, 0), 99)
			e.CurrentStep = step
		})
		if err != nil {
			log.Warn("enrichment: progress update failed", zap.Error(err))
		}
	}

	progress(5, "researching")
	data, err := g.gen.Enrich(ctx, sub, progress)
	if err != nil {
		return g.fail(ctx, id, attempt, err)
	}

	e, err := g.mutateAttempt(ctx, id, attempt, func(e *model.Enrichment) {
		e.Data = data
		e.Status = model.EnrichmentCompleted
		e.Progress = 100
		e.CurrentStep = "completed"
		e.Error = ""
	})
	if err != nil {
		return err
	}
	if e != nil {
		metrics.Transitions.WithLabelValues("enrichment", string(model.EnrichmentPending), string(model.EnrichmentCompleted)).Inc()
		log.Info("enrichment: completed")
	}
	return nil
}

func (g *Gate) fail(ctx context.Context, id string, attempt int, cause error) error {
	ext := apperr.External("enrichment", cause)
	metrics.ExternalFailures.WithLabelValues("enrichment").Inc()
	_, err := g.mutateAttempt(ctx, id, attempt, func(e *model.Enrichment) {
		e.Error = ext.Error()
		e.CurrentStep = "failed"
	})
	if err != nil {
		return err
	}
	return ext
}

// mutateAttempt applies fn only while the enrichment is still pending on
// the given attempt. It returns nil, nil when the attempt was superseded.
func (g *Gate) mutateAttempt(ctx context.Context, id string, attempt int, fn func(*model.Enrichment)) (*model.Enrichment, error) {
	stale := false
	e, err := store.Mutate(ctx, g.loader(id), g.store.UpdateEnrichment, func(e *model.Enrichment) error {
		if e.Attempt != attempt || e.Status != model.EnrichmentPending {
			stale = true
			return store.ErrNoChange
		}
		fn(e)
		return nil
	})
	if err != nil || stale {
		return nil, err
	}
	return e, nil
}

func (g *Gate) loader(id string) func(context.Context) (*model.Enrichment, error) {
	return func(ctx context.Context) (*model.Enrichment, error) {
		return g.store.GetEnrichment(ctx, id)
	}
}

// decorate fills the lock projection from the lease manager.
func (g *Gate) decorate(ctx context.Context, e *model.Enrichment) *model.Enrichment {
	e.IsLocked, e.LockedBy, e.LockExpiresAt = false, "", nil
	l, err := g.leases.Holder(ctx, resource(e.ID))
	if err != nil {
		zap.L().Warn("enrichment: read lease", zap.String("enrichment_id", e.ID), zap.Error(err))
		return e
	}
	if l != nil {
		exp := l.ExpiresAt
		e.IsLocked, e.LockedBy, e.LockExpiresAt = true, l.Holder, &exp
	}
	return e
}

func checkRevision(e *model.Enrichment, expected int64) error {
	if expected != 0 && e.Revision != expected {
		return eris.Wrapf(apperr.ErrRevisionConflict, "enrichment %s at revision %d, expected %d", e.ID, e.Revision, expected)
	}
	return nil
}
