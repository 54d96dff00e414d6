package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// drivers returns every local Store implementation for shared behavior tests.
func drivers(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func seedSubmission(t *testing.T, st Store) *model.Submission {
	t.Helper()
	sub := &model.Submission{CompanyName: "Acme", ContactEmail: "ceo@acme.test", Status: model.SubmissionReceived}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	return sub
}

func TestStore_SubmissionRoundTrip(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := seedSubmission(t, st)
			assert.NotEmpty(t, sub.ID)
			assert.Equal(t, int64(1), sub.Revision)

			got, err := st.GetSubmission(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, "Acme", got.CompanyName)

			got.Industry = "Manufacturing"
			require.NoError(t, st.UpdateSubmission(ctx, got))
			assert.Equal(t, int64(2), got.Revision)

			// Stale revision loses.
			sub.Industry = "Retail"
			err = st.UpdateSubmission(ctx, sub)
			assert.ErrorIs(t, err, apperr.ErrRevisionConflict)

			_, err = st.GetSubmission(ctx, "missing")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestStore_EnrichmentOnePerSubmission(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := seedSubmission(t, st)

			_, err := st.GetEnrichmentBySubmission(ctx, sub.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			e := &model.Enrichment{SubmissionID: sub.ID, Status: model.EnrichmentPending,
				Data: model.EnrichmentData{Profile: map[string]any{"name": "Acme"}}}
			require.NoError(t, st.CreateEnrichment(ctx, e))

			err = st.CreateEnrichment(ctx, &model.Enrichment{SubmissionID: sub.ID, Status: model.EnrichmentPending})
			assert.ErrorIs(t, err, apperr.ErrRevisionConflict)

			got, err := st.GetEnrichmentBySubmission(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, e.ID, got.ID)
			assert.Equal(t, "Acme", got.Data.Profile["name"])

			got.Status = model.EnrichmentCompleted
			got.IsLocked = true
			require.NoError(t, st.UpdateEnrichment(ctx, got))

			again, err := st.GetEnrichment(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, model.EnrichmentCompleted, again.Status)
			assert.Equal(t, int64(2), again.Revision)
			if name != "memory" {
				assert.False(t, again.IsLocked, "lock projection is not persisted")
			}

			err = st.UpdateEnrichment(ctx, &model.Enrichment{ID: "missing", Revision: 1})
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestStore_AnalysisVersionsContiguous(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := seedSubmission(t, st)

			_, err := st.LatestAnalysis(ctx, sub.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			// Version 2 before version 1 is rejected.
			err = st.CreateAnalysis(ctx, &model.Analysis{SubmissionID: sub.ID, Version: 2, Status: model.AnalysisPending})
			assert.ErrorIs(t, err, apperr.ErrRevisionConflict)

			v1 := &model.Analysis{SubmissionID: sub.ID, Version: 1, Status: model.AnalysisPending}
			require.NoError(t, st.CreateAnalysis(ctx, v1))

			// Duplicate version 1 is rejected.
			err = st.CreateAnalysis(ctx, &model.Analysis{SubmissionID: sub.ID, Version: 1, Status: model.AnalysisPending})
			assert.ErrorIs(t, err, apperr.ErrRevisionConflict)

			v2 := &model.Analysis{SubmissionID: sub.ID, Version: 2, Status: model.AnalysisCompleted,
				Frameworks: []model.FrameworkOutput{{Key: "swot", Kind: model.KindSWOT, SWOT: &model.SWOT{Strengths: []string{"brand"}}}}}
			require.NoError(t, st.CreateAnalysis(ctx, v2))

			list, err := st.ListAnalyses(ctx, sub.ID)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, 1, list[0].Version)
			assert.Equal(t, 2, list[1].Version)

			latest, err := st.LatestAnalysis(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, v2.ID, latest.ID)
			require.Len(t, latest.Frameworks, 1)
			assert.Equal(t, []string{"brand"}, latest.Frameworks[0].SWOT.Strengths)

			latest.Status = model.AnalysisApproved
			require.NoError(t, st.UpdateAnalysis(ctx, latest))
			got, err := st.GetAnalysis(ctx, v2.ID)
			require.NoError(t, err)
			assert.Equal(t, model.AnalysisApproved, got.Status)

			v2.Status = model.AnalysisSent
			assert.ErrorIs(t, st.UpdateAnalysis(ctx, v2), apperr.ErrRevisionConflict)
		})
	}
}

func TestStore_WizardRoundTrip(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := seedSubmission(t, st)

			_, err := st.GetWizard(ctx, sub.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			w := model.NewWizardState(sub.ID, []model.StepDef{{Key: "swot", Kind: model.KindSWOT}, {Key: "pestel", Kind: model.KindPESTEL}}, sub.CreatedAt)
			require.NoError(t, st.CreateWizard(ctx, w))
			assert.ErrorIs(t, st.CreateWizard(ctx, w.Clone()), apperr.ErrRevisionConflict)

			got, err := st.GetWizard(ctx, sub.ID)
			require.NoError(t, err)
			_, err = got.BeginGenerate(0, "ctx", nil, sub.CreatedAt)
			require.NoError(t, err)
			require.NoError(t, st.UpdateWizard(ctx, got))

			again, err := st.GetWizard(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StepGenerating, again.Steps[0].Status)
			assert.Equal(t, int64(2), again.Revision)

			assert.ErrorIs(t, st.UpdateWizard(ctx, w), apperr.ErrRevisionConflict)
		})
	}
}

func TestMutate_RetriesOnConflict(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	sub := seedSubmission(t, st)

	calls := 0
	got, err := Mutate(ctx,
		func(ctx context.Context) (*model.Submission, error) { return st.GetSubmission(ctx, sub.ID) },
		st.UpdateSubmission,
		func(s *model.Submission) error {
			calls++
			if calls == 1 {
				// A concurrent writer bumps the revision underneath us.
				other, _ := st.GetSubmission(ctx, sub.ID)
				other.Country = "US"
				require.NoError(t, st.UpdateSubmission(ctx, other))
			}
			s.Industry = "Software"
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Software", got.Industry)
	assert.Equal(t, "US", got.Country)
}

func TestMutate_NoChange(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	sub := seedSubmission(t, st)

	got, err := Mutate(ctx,
		func(ctx context.Context) (*model.Submission, error) { return st.GetSubmission(ctx, sub.ID) },
		st.UpdateSubmission,
		func(*model.Submission) error { return ErrNoChange },
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
}

func TestMutate_FnErrorAborts(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	sub := seedSubmission(t, st)

	_, err := Mutate(ctx,
		func(ctx context.Context) (*model.Submission, error) { return st.GetSubmission(ctx, sub.ID) },
		st.UpdateSubmission,
		func(*model.Submission) error { return apperr.ErrLocked },
	)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	got, _ := st.GetSubmission(ctx, sub.ID)
	assert.Equal(t, int64(1), got.Revision)
}
