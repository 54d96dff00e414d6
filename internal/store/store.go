package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
)

// Store defines the persistence interface for the review workflow.
//
// Every Update is a compare-and-swap on the entity's Revision: the write
// succeeds only if the stored revision equals the one carried by the value,
// and bumps it on success. A stale value yields apperr.ErrRevisionConflict.
// Reads of missing entities yield apperr.ErrNotFound.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, s *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	UpdateSubmission(ctx context.Context, s *model.Submission) error

	// Enrichments (one per submission)
	CreateEnrichment(ctx context.Context, e *model.Enrichment) error
	GetEnrichment(ctx context.Context, id string) (*model.Enrichment, error)
	GetEnrichmentBySubmission(ctx context.Context, submissionID string) (*model.Enrichment, error)
	UpdateEnrichment(ctx context.Context, e *model.Enrichment) error

	// Analyses. CreateAnalysis accepts only version max+1 for the submission.
	CreateAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, submissionID string) ([]model.Analysis, error)
	LatestAnalysis(ctx context.Context, submissionID string) (*model.Analysis, error)
	UpdateAnalysis(ctx context.Context, a *model.Analysis) error

	// Wizard states (one per submission)
	CreateWizard(ctx context.Context, w *model.WizardState) error
	GetWizard(ctx context.Context, submissionID string) (*model.WizardState, error)
	UpdateWizard(ctx context.Context, w *model.WizardState) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNoChange tells Mutate that fn decided to leave the entity as is.
var ErrNoChange = eris.New("no change")

// maxMutateAttempts bounds reload-and-reapply loops under contention.
const maxMutateAttempts = 5

// Mutate loads an entity, applies fn and saves it, reloading and
// reapplying fn when the save loses a revision race. Errors from fn abort
// without saving; ErrNoChange aborts without error and returns the
// loaded value.
func Mutate[T any](ctx context.Context, load func(context.Context) (T, error), save func(context.Context, T) error, fn func(T) error) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := load(ctx)
		if err != nil {
			return zero, err
		}
		if err := fn(v); err != nil {
			if errors.Is(err, ErrNoChange) {
				return v, nil
			}
			return zero, err
		}
		err = save(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, apperr.ErrRevisionConflict) || attempt >= maxMutateAttempts {
			return zero, err
		}
	}
}

func notFound(kind, id string) error {
	return eris.Wrapf(apperr.ErrNotFound, "%s %s", kind, id)
}

func conflict(kind, id string) error {
	return eris.Wrapf(apperr.ErrRevisionConflict, "%s %s", kind, id)
}
