// Package analysis versions a submission's strategic analysis and moves each
// version through generation, review and delivery.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/store"
)

// Generator produces framework outputs from an approved enrichment.
type Generator interface {
	Analyze(ctx context.Context, sub *model.Submission, enr *model.Enrichment) ([]model.FrameworkOutput, error)
}

// maxCreateAttempts bounds version-number races between concurrent creators.
const maxCreateAttempts = 5

// Controller owns analysis versions.
type Controller struct {
	store  store.Store
	gen    Generator
	runner jobs.Runner
	now    func() time.Time
}

// NewController wires a Controller.
func NewController(st store.Store, gen Generator, runner jobs.Runner) *Controller {
	return &Controller{
		store:  st,
		gen:    gen,
		runner: runner,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleStartAnalysis is the events.StartAnalysis subscriber.
func (c *Controller) HandleStartAnalysis(ctx context.Context, ev events.Event) error {
	_, err := c.Start(ctx, ev.SubmissionID)
	return err
}

// Start creates the next pending version for a submission with an approved
// enrichment and dispatches generation. Earlier versions are never touched.
func (c *Controller) Start(ctx context.Context, submissionID string) (*model.Analysis, error) {
	enr, err := c.store.GetEnrichmentBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if enr.Status != model.EnrichmentApproved {
		return nil, apperr.IllegalTransition("analysis", submissionID, "start",
			"enrichment "+string(enr.Status), "enrichment "+string(model.EnrichmentApproved))
	}

	a, err := c.createNext(ctx, submissionID, func(version int) *model.Analysis {
		return &model.Analysis{
			SubmissionID: submissionID,
			Version:      version,
			Status:       model.AnalysisPending,
			Attempt:      1,
		}
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("analysis: started",
		zap.String("submission_id", submissionID),
		zap.Int("version", a.Version),
	)
	c.dispatch(a)
	return a, nil
}

// Get returns one version.
func (c *Controller) Get(ctx context.Context, id string) (*model.Analysis, error) {
	return c.store.GetAnalysis(ctx, id)
}

// List returns every version of a submission, oldest first.
func (c *Controller) List(ctx context.Context, submissionID string) ([]model.Analysis, error) {
	return c.store.ListAnalyses(ctx, submissionID)
}

// Latest returns the highest version. apperr.ErrNotFound means analysis has
// not been started.
func (c *Controller) Latest(ctx context.Context, submissionID string) (*model.Analysis, error) {
	return c.store.LatestAnalysis(ctx, submissionID)
}

// Update replaces edited framework outputs. Only completed versions are
// editable: pending and processing versions belong to the generator, and
// approved or sent versions are records of what the customer saw.
func (c *Controller) Update(ctx context.Context, id string, edits []model.FrameworkOutput, expectedRevision int64) (*model.Analysis, error) {
	for _, o := range edits {
		if err := o.Validate(); err != nil {
			return nil, err
		}
	}
	return store.Mutate(ctx, c.loader(id), c.store.UpdateAnalysis, func(a *model.Analysis) error {
		if err := checkRevision(a, expectedRevision); err != nil {
			return err
		}
		if err := a.Apply(model.ActionEdit, c.now()); err != nil {
			return err
		}
		a.ReplaceFrameworks(edits)
		return nil
	})
}

// Approve applies pending edits and approves a completed version in one
// write. Approving twice fails with apperr.ErrAlreadyApproved without
// mutation, and a rejected approve keeps the edits unsaved.
func (c *Controller) Approve(ctx context.Context, id string, edits []model.FrameworkOutput, expectedRevision int64) (*model.Analysis, error) {
	cur, err := c.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == model.AnalysisApproved {
		return nil, eris.Wrapf(apperr.ErrAlreadyApproved, "analysis %s", id)
	}

	for _, o := range edits {
		if err := o.Validate(); err != nil {
			return nil, err
		}
	}
	var apply func(*model.Analysis)
	if len(edits) > 0 {
		apply = func(a *model.Analysis) { a.ReplaceFrameworks(edits) }
	}
	return c.transition(ctx, id, model.ActionApprove, expectedRevision, apply)
}

// MarkSent moves an approved version to sent and records the recipient.
func (c *Controller) MarkSent(ctx context.Context, id, recipient string) (*model.Analysis, error) {
	return c.transition(ctx, id, model.ActionSend, 0, func(a *model.Analysis) {
		a.SentTo = recipient
	})
}

// AttachReport records a rendered report on an approved or sent version.
func (c *Controller) AttachReport(ctx context.Context, id, reportID, pdfURL string) (*model.Analysis, error) {
	return store.Mutate(ctx, c.loader(id), c.store.UpdateAnalysis, func(a *model.Analysis) error {
		if !model.PDFAvailable(a.Status) {
			return apperr.IllegalTransition("analysis", a.ID, "attach report", string(a.Status),
				string(model.AnalysisApproved), string(model.AnalysisSent))
		}
		a.ReportID = reportID
		a.PDFURL = pdfURL
		return nil
	})
}

// Retry resets the latest version to pending and regenerates it. With no
// versions yet it behaves like Start.
func (c *Controller) Retry(ctx context.Context, submissionID string) (*model.Analysis, error) {
	latest, err := c.store.LatestAnalysis(ctx, submissionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return c.Start(ctx, submissionID)
	}
	if err != nil {
		return nil, err
	}

	a, err := c.transition(ctx, latest.ID, model.ActionRetry, 0, func(a *model.Analysis) {
		a.ResetForRetry()
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("analysis: retry",
		zap.String("submission_id", submissionID),
		zap.Int("version", a.Version),
		zap.Int("attempt", a.Attempt),
	)
	c.dispatch(a)
	return a, nil
}

// CreateVersion forks a version into version max+1 with a deep copy of its
// content and the same status. The source is not modified. A fork of a
// version still being generated is regenerated on its own.
func (c *Controller) CreateVersion(ctx context.Context, id string) (*model.Analysis, error) {
	src, err := c.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := c.createNext(ctx, src.SubmissionID, func(version int) *model.Analysis {
		fork := src.Fork(uuid.New().String(), version, c.now())
		if fork.Status == model.AnalysisProcessing {
			fork.Status = model.AnalysisPending
		}
		return fork
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("analysis: version created",
		zap.String("submission_id", a.SubmissionID),
		zap.Int("version", a.Version),
		zap.Int("forked_from", a.ForkedFrom),
	)
	if a.Status == model.AnalysisPending {
		c.dispatch(a)
	}
	return a, nil
}

// CreateFromWizard stores a wizard's approved outputs as a new completed
// version ready for review.
func (c *Controller) CreateFromWizard(ctx context.Context, submissionID string, outputs []model.FrameworkOutput) (*model.Analysis, error) {
	if len(outputs) == 0 {
		return nil, apperr.Invalid("frameworks", "no approved outputs")
	}
	return c.createNext(ctx, submissionID, func(version int) *model.Analysis {
		return &model.Analysis{
			SubmissionID: submissionID,
			Version:      version,
			Status:       model.AnalysisCompleted,
			Frameworks:   model.CloneOutputs(outputs),
		}
	})
}

// createNext inserts the value built for version max+1, retrying when a
// concurrent creator takes the number first.
func (c *Controller) createNext(ctx context.Context, submissionID string, build func(version int) *model.Analysis) (*model.Analysis, error) {
	for attempt := 1; ; attempt++ {
		next := 1
		latest, err := c.store.LatestAnalysis(ctx, submissionID)
		switch {
		case err == nil:
			next = latest.Version + 1
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}

		a := build(next)
		err = c.store.CreateAnalysis(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, apperr.ErrRevisionConflict) || attempt >= maxCreateAttempts {
			return nil, err
		}
	}
}

// transition applies action under optimistic concurrency and records the
// metric. extra runs after a successful status change.
func (c *Controller) transition(ctx context.Context, id string, action model.Action, expectedRevision int64, extra func(*model.Analysis)) (*model.Analysis, error) {
	var from model.AnalysisStatus
	a, err := store.Mutate(ctx, c.loader(id), c.store.UpdateAnalysis, func(a *model.Analysis) error {
		if err := checkRevision(a, expectedRevision); err != nil {
			return err
		}
		from = a.Status
		if err := a.Apply(action, c.now()); err != nil {
			return err
		}
		if extra != nil {
			extra(a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("analysis", string(from), string(a.Status)).Inc()
	return a, nil
}

func (c *Controller) dispatch(a *model.Analysis) {
	id, attempt := a.ID, a.Attempt
	c.runner.Submit("analysis", func(ctx context.Context) error {
		return c.generate(ctx, id, attempt)
	})
}

// generate runs one attempt for a version. Superseded attempts are dropped.
func (c *Controller) generate(ctx context.Context, id string, attempt int) error {
	a, ok, err := c.advance(ctx, id, attempt, model.ActionStart, nil)
	if err != nil || !ok {
		return err
	}
	log := zap.L().With(zap.String("submission_id", a.SubmissionID), zap.Int("version", a.Version))

	outputs, err := c.produce(ctx, a.SubmissionID)
	if err != nil {
		cause := apperr.External("analysis", err)
		metrics.ExternalFailures.WithLabelValues("analysis").Inc()
		if _, _, uerr := c.advance(ctx, id, attempt, model.ActionFail, func(a *model.Analysis) {
			a.Error = cause.Error()
		}); uerr != nil {
			return uerr
		}
		log.Warn("analysis: generation failed", zap.Error(cause))
		return cause
	}

	if _, ok, err = c.advance(ctx, id, attempt, model.ActionComplete, func(a *model.Analysis) {
		a.Frameworks = outputs
	}); err != nil {
		return err
	}
	if ok {
		log.Info("analysis: completed", zap.Int("frameworks", len(outputs)))
	}
	return nil
}

func (c *Controller) produce(ctx context.Context, submissionID string) ([]model.FrameworkOutput, error) {
	sub, err := c.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	enr, err := c.store.GetEnrichmentBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return c.gen.Analyze(ctx, sub, enr)
}

// advance applies a generation event while the version is still on attempt.
func (c *Controller) advance(ctx context.Context, id string, attempt int, action model.Action, extra func(*model.Analysis)) (*model.Analysis, bool, error) {
	stale := false
	var from model.AnalysisStatus
	a, err := store.Mutate(ctx, c.loader(id), c.store.UpdateAnalysis, func(a *model.Analysis) error {
		if a.Attempt != attempt || (a.Status != model.AnalysisPending && a.Status != model.AnalysisProcessing) {
			stale = true
			return store.ErrNoChange
		}
		if action == model.ActionStart && a.Status == model.AnalysisProcessing {
			return store.ErrNoChange
		}
		from = a.Status
		if err := a.Apply(action, c.now()); err != nil {
			return err
		}
		if extra != nil {
			extra(a)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if stale {
		return a, false, nil
	}
	if from != "" {
		metrics.Transitions.WithLabelValues("analysis", string(from), string(a.Status)).Inc()
	}
	return a, true, nil
}

func (c *Controller) loader(id string) func(context.Context) (*model.Analysis, error) {
	return func(ctx context.Context) (*model.Analysis, error) {
		return c.store.GetAnalysis(ctx, id)
	}
}

func checkRevision(a *model.Analysis, expected int64) error {
	if expected != 0 && a.Revision != expected {
		return eris.Wrapf(apperr.ErrRevisionConflict, "analysis %s at revision %d, expected %d", a.ID, a.Revision, expected)
	}
	return nil
}
