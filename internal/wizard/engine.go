// Package wizard walks an operator through the framework catalog one step at
// a time, generating each framework and iterating on it until approved.
package wizard

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/framework"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/store"
)

// StepRequest is everything a writer needs to produce one framework.
type StepRequest struct {
	Framework  framework.Framework
	Submission *model.Submission
	Enrichment *model.Enrichment // nil when none exists yet
	Step       model.FrameworkStep
	Prior      []model.StepSummary
}

// StepWriter generates the output for one wizard step.
type StepWriter interface {
	WriteStep(ctx context.Context, req StepRequest) (model.FrameworkOutput, error)
}

// Finalizer turns approved wizard outputs into an analysis version.
type Finalizer interface {
	CreateFromWizard(ctx context.Context, submissionID string, outputs []model.FrameworkOutput) (*model.Analysis, error)
}

// Engine drives wizard states.
type Engine struct {
	store     store.Store
	catalog   *framework.Catalog
	writer    StepWriter
	runner    jobs.Runner
	finalizer Finalizer
	now       func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(st store.Store, catalog *framework.Catalog, writer StepWriter, runner jobs.Runner, finalizer Finalizer) *Engine {
	return &Engine{
		store:     st,
		catalog:   catalog,
		writer:    writer,
		runner:    runner,
		finalizer: finalizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// State returns the submission's wizard, creating it on first access.
func (e *Engine) State(ctx context.Context, submissionID string) (*model.WizardState, error) {
	w, err := e.store.GetWizard(ctx, submissionID)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return w, err
	}
	if _, err := e.store.GetSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	w = model.NewWizardState(submissionID, e.catalog.StepDefs(), e.now())
	if err := e.store.CreateWizard(ctx, w); err != nil {
		if errors.Is(err, apperr.ErrRevisionConflict) {
			return e.store.GetWizard(ctx, submissionID)
		}
		return nil, err
	}
	return w, nil
}

// Framework returns the catalog entry for the wizard's active step.
func (e *Engine) Framework(w *model.WizardState) (framework.Framework, error) {
	return e.catalog.At(w.CurrentStep)
}

// Generate starts generation for a pending or failed step. Every earlier
// step must already be approved and every required question answered.
// Nil answers reuse the step's stored answers.
func (e *Engine) Generate(ctx context.Context, submissionID string, step int, stepContext string, answers map[string]string) (*model.WizardState, error) {
	fw, err := e.catalog.At(step)
	if err != nil {
		return nil, apperr.Invalid("step", err.Error())
	}
	if _, err := e.State(ctx, submissionID); err != nil {
		return nil, err
	}

	var (
		iteration int
		from      model.StepStatus
	)
	w, err := store.Mutate(ctx, e.loader(submissionID), e.store.UpdateWizard, func(w *model.WizardState) error {
		if s, err := w.Step(step); err == nil {
			from = s.Status
			if answers == nil {
				answers = s.Answers
			}
		}
		if missing := fw.MissingAnswers(answers); len(missing) > 0 {
			return apperr.Invalid("answers", "missing required: "+strings.Join(missing, ", "))
		}
		var err error
		iteration, err = w.BeginGenerate(step, stepContext, answers, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues("step", string(from), string(model.StepGenerating)).Inc()
	e.dispatch(submissionID, step, iteration)
	return w, nil
}

// Refine appends operator feedback to a generated step and regenerates it
// with the accumulated context.
func (e *Engine) Refine(ctx context.Context, submissionID string, step int, additional string) (*model.WizardState, error) {
	var iteration int
	w, err := store.Mutate(ctx, e.loader(submissionID), e.store.UpdateWizard, func(w *model.WizardState) error {
		var err error
		iteration, err = w.Refine(step, strings.TrimSpace(additional), e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues("step", string(model.StepGenerated), string(model.StepGenerating)).Inc()
	zap.L().Info("wizard: refine",
		zap.String("submission_id", submissionID),
		zap.Int("step", step),
		zap.Int("iteration", iteration),
	)
	e.dispatch(submissionID, step, iteration)
	return w, nil
}

// Approve accepts a generated step and advances the wizard.
func (e *Engine) Approve(ctx context.Context, submissionID string, step int) (*model.WizardState, error) {
	w, err := store.Mutate(ctx, e.loader(submissionID), e.store.UpdateWizard, func(w *model.WizardState) error {
		return w.Approve(step, e.now())
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("step", string(model.StepGenerated), string(model.StepApproved)).Inc()
	zap.L().Info("wizard: step approved",
		zap.String("submission_id", submissionID),
		zap.Int("step", step),
		zap.Int("current_step", w.CurrentStep),
	)
	return w, nil
}

// Finalize stores the approved outputs as a new analysis version once every
// step is approved.
func (e *Engine) Finalize(ctx context.Context, submissionID string) (*model.Analysis, error) {
	w, err := e.store.GetWizard(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !w.Complete() {
		s := w.Steps[w.CurrentStep]
		return nil, apperr.IllegalTransition("wizard", submissionID, "finalize",
			"step "+s.Key+" "+string(s.Status), "all steps approved")
	}
	return e.finalizer.CreateFromWizard(ctx, submissionID, w.ApprovedOutputs())
}

func (e *Engine) dispatch(submissionID string, step, iteration int) {
	e.runner.Submit("wizard_step", func(ctx context.Context) error {
		return e.generate(ctx, submissionID, step, iteration)
	})
}

func (e *Engine) generate(ctx context.Context, submissionID string, step, iteration int) error {
	log := zap.L().With(zap.String("submission_id", submissionID), zap.Int("step", step), zap.Int("iteration", iteration))

	w, err := e.store.GetWizard(ctx, submissionID)
	if err != nil {
		return err
	}
	s, err := w.Step(step)
	if err != nil {
		return err
	}
	if s.Status != model.StepGenerating || s.IterationCount != iteration {
		log.Debug("wizard: dropping superseded generation")
		return nil
	}

	out, err := e.write(ctx, w, *s)
	if err != nil {
		cause := apperr.External("wizard", err)
		metrics.ExternalFailures.WithLabelValues("wizard").Inc()
		_, uerr := store.Mutate(ctx, e.loader(submissionID), e.store.UpdateWizard, func(w *model.WizardState) error {
			if !w.FailGenerate(step, iteration, cause.Error(), e.now()) {
				return store.ErrNoChange
			}
			return nil
		})
		if uerr != nil {
			return uerr
		}
		log.Warn("wizard: generation failed", zap.Error(cause))
		return cause
	}

	applied := false
	_, err = store.Mutate(ctx, e.loader(submissionID), e.store.UpdateWizard, func(w *model.WizardState) error {
		applied = w.CompleteGenerate(step, iteration, out, e.now())
		if !applied {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return err
	}
	if applied {
		metrics.Transitions.WithLabelValues("step", string(model.StepGenerating), string(model.StepGenerated)).Inc()
		log.Info("wizard: step generated")
	}
	return nil
}

func (e *Engine) write(ctx context.Context, w *model.WizardState, s model.FrameworkStep) (model.FrameworkOutput, error) {
	fw, err := e.catalog.At(s.Index)
	if err != nil {
		return model.FrameworkOutput{}, err
	}
	sub, err := e.store.GetSubmission(ctx, w.SubmissionID)
	if err != nil {
		return model.FrameworkOutput{}, err
	}
	enr, err := e.store.GetEnrichmentBySubmission(ctx, w.SubmissionID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return model.FrameworkOutput{}, err
	}
	return e.writer.WriteStep(ctx, StepRequest{
		Framework:  fw,
		Submission: sub,
		Enrichment: enr,
		Step:       s,
		Prior:      w.PreviousSteps,
	})
}

func (e *Engine) loader(submissionID string) func(context.Context) (*model.WizardState, error) {
	return func(ctx context.Context) (*model.WizardState, error) {
		return e.store.GetWizard(ctx, submissionID)
	}
}
