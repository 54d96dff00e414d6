package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

func TestParseStatuses(t *testing.T) {
	s, err := ParseAnalysisStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, AnalysisCompleted, s)

	_, err = ParseAnalysisStatus("finished")
	var ve *apperr.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = ParseEnrichmentStatus("failed")
	assert.Error(t, err)

	st, err := ParseStepStatus("generated")
	require.NoError(t, err)
	assert.Equal(t, StepGenerated, st)

	sub, err := ParseSubmissionStatus("draft")
	require.NoError(t, err)
	assert.Equal(t, SubmissionDraft, sub)
}

func TestNextAnalysisStatus(t *testing.T) {
	tests := []struct {
		from   AnalysisStatus
		action Action
		want   AnalysisStatus
		ok     bool
	}{
		{AnalysisPending, ActionStart, AnalysisProcessing, true},
		{AnalysisPending, ActionComplete, AnalysisCompleted, true},
		{AnalysisProcessing, ActionComplete, AnalysisCompleted, true},
		{AnalysisProcessing, ActionFail, AnalysisFailed, true},
		{AnalysisCompleted, ActionApprove, AnalysisApproved, true},
		{AnalysisApproved, ActionSend, AnalysisSent, true},
		{AnalysisSent, ActionRetry, AnalysisPending, true},
		{AnalysisFailed, ActionRetry, AnalysisPending, true},
		{AnalysisCompleted, ActionEdit, AnalysisCompleted, true},

		{AnalysisCompleted, ActionSend, "", false},
		{AnalysisSent, ActionSend, "", false},
		{AnalysisPending, ActionApprove, "", false},
		{AnalysisFailed, ActionApprove, "", false},
		{AnalysisApproved, ActionEdit, "", false},
		{AnalysisSent, ActionEdit, "", false},
		{AnalysisCompleted, ActionComplete, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := NextAnalysisStatus(tt.from, tt.action)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendOnlyFromApproved(t *testing.T) {
	all := []AnalysisStatus{AnalysisPending, AnalysisProcessing, AnalysisCompleted, AnalysisApproved, AnalysisSent, AnalysisFailed}
	for _, s := range all {
		_, err := NextAnalysisStatus(s, ActionSend)
		if s == AnalysisApproved {
			assert.NoError(t, err)
			continue
		}
		var te *apperr.TransitionError
		require.True(t, errors.As(err, &te), "status %s", s)
		assert.Equal(t, []string{"approved"}, te.Required)
	}
}

func TestAnalysisApproveTwice(t *testing.T) {
	_, err := NextAnalysisStatus(AnalysisApproved, ActionApprove)
	assert.ErrorIs(t, err, apperr.ErrAlreadyApproved)
}

func TestNextEnrichmentStatus(t *testing.T) {
	got, err := NextEnrichmentStatus(EnrichmentCompleted, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, EnrichmentApproved, got)

	_, err = NextEnrichmentStatus(EnrichmentApproved, ActionApprove)
	assert.ErrorIs(t, err, apperr.ErrAlreadyApproved)

	_, err = NextEnrichmentStatus(EnrichmentPending, ActionApprove)
	var te *apperr.TransitionError
	assert.True(t, errors.As(err, &te))

	for _, s := range []EnrichmentStatus{EnrichmentPending, EnrichmentCompleted, EnrichmentApproved} {
		got, err := NextEnrichmentStatus(s, ActionEdit)
		require.NoError(t, err)
		assert.Equal(t, s, got)

		got, err = NextEnrichmentStatus(s, ActionRetry)
		require.NoError(t, err)
		assert.Equal(t, EnrichmentPending, got)
	}
}

func TestNextStepStatus(t *testing.T) {
	got, err := NextStepStatus(StepPending, ActionGenerate)
	require.NoError(t, err)
	assert.Equal(t, StepGenerating, got)

	got, err = NextStepStatus(StepFailed, ActionGenerate)
	require.NoError(t, err)
	assert.Equal(t, StepGenerating, got)

	_, err = NextStepStatus(StepGenerated, ActionGenerate)
	assert.Error(t, err)

	got, err = NextStepStatus(StepGenerated, ActionRefine)
	require.NoError(t, err)
	assert.Equal(t, StepGenerating, got)

	_, err = NextStepStatus(StepApproved, ActionRefine)
	assert.Error(t, err)

	got, err = NextStepStatus(StepGenerating, ActionFail)
	require.NoError(t, err)
	assert.Equal(t, StepFailed, got)

	_, err = NextStepStatus(StepPending, ActionApprove)
	assert.Error(t, err)
}

func TestPDFAvailable(t *testing.T) {
	assert.True(t, PDFAvailable(AnalysisApproved))
	assert.True(t, PDFAvailable(AnalysisSent))
	assert.False(t, PDFAvailable(AnalysisCompleted))
	assert.False(t, PDFAvailable(AnalysisFailed))
}
