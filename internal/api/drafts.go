package api

import (
	"context"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/autosave"
	"github.com/sells-group/strategy-cli/internal/enrichment"
	"github.com/sells-group/strategy-cli/internal/model"
)

// EnrichmentDraft is a buffered edit to an enrichment.
type EnrichmentDraft struct {
	Data             model.EnrichmentData
	Token            string
	ExpectedRevision int64
}

// AnalysisDraft is a buffered edit to an analysis version.
type AnalysisDraft struct {
	Frameworks       []model.FrameworkOutput
	ExpectedRevision int64
}

// NewEnrichmentDrafts builds the scheduler that saves enrichment drafts
// through the gate. Later edits win field by field.
func NewEnrichmentDrafts(gate *enrichment.Gate, opts ...autosave.Option) *autosave.Scheduler[EnrichmentDraft] {
	save := func(ctx context.Context, id string, d EnrichmentDraft) error {
		_, err := gate.Update(ctx, id, d.Data, d.Token, d.ExpectedRevision)
		return err
	}
	merge := func(older, newer EnrichmentDraft) EnrichmentDraft {
		data := older.Data.Clone()
		data.Merge(newer.Data)
		return EnrichmentDraft{Data: data, Token: newer.Token, ExpectedRevision: newer.ExpectedRevision}
	}
	return autosave.New("enrichment", save, merge, opts...)
}

// NewAnalysisDrafts builds the scheduler that saves analysis drafts through
// the controller. Later edits replace earlier ones per framework key.
func NewAnalysisDrafts(analyses *analysis.Controller, opts ...autosave.Option) *autosave.Scheduler[AnalysisDraft] {
	save := func(ctx context.Context, id string, d AnalysisDraft) error {
		_, err := analyses.Update(ctx, id, d.Frameworks, d.ExpectedRevision)
		return err
	}
	merge := func(older, newer AnalysisDraft) AnalysisDraft {
		merged := &model.Analysis{Frameworks: model.CloneOutputs(older.Frameworks)}
		merged.ReplaceFrameworks(newer.Frameworks)
		return AnalysisDraft{Frameworks: merged.Frameworks, ExpectedRevision: newer.ExpectedRevision}
	}
	return autosave.New("analysis", save, merge, opts...)
}
