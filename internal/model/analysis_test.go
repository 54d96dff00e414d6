package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAnalysis() *Analysis {
	return &Analysis{
		ID:           "a1",
		SubmissionID: "s1",
		Version:      1,
		Status:       AnalysisSent,
		Frameworks: []FrameworkOutput{
			{Key: "swot", Kind: KindSWOT, SWOT: &SWOT{Strengths: []string{"brand"}}},
			{Key: "okrs", Kind: KindGeneric, Generic: map[string]any{"objectives": []any{"grow"}}},
		},
		PDFURL:   "https://pdf/1",
		SentTo:   "ceo@example.com",
		Revision: 7,
	}
}

func TestForkIsIndependent(t *testing.T) {
	src := sampleAnalysis()
	now := time.Now()

	fork := src.Fork("a2", 2, now)

	assert.Equal(t, 2, fork.Version)
	assert.Equal(t, AnalysisSent, fork.Status)
	assert.Equal(t, 1, fork.ForkedFrom)
	assert.Equal(t, int64(0), fork.Revision)

	fork.Frameworks[0].SWOT.Strengths[0] = "edited"
	fork.Frameworks[1].Generic["objectives"] = "replaced"

	assert.Equal(t, "brand", src.Frameworks[0].SWOT.Strengths[0])
	assert.Equal(t, []any{"grow"}, src.Frameworks[1].Generic["objectives"])
	assert.Equal(t, 1, src.Version)
	assert.Equal(t, int64(7), src.Revision)
}

func TestAnalysisApplyStampsTimes(t *testing.T) {
	a := &Analysis{ID: "a1", Status: AnalysisCompleted}
	now := time.Now()

	require.NoError(t, a.Apply(ActionApprove, now))
	require.NotNil(t, a.ApprovedAt)
	require.NoError(t, a.Apply(ActionSend, now))
	require.NotNil(t, a.SentAt)

	err := a.Apply(ActionSend, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis a1")
}

func TestAnalysisResetForRetry(t *testing.T) {
	a := sampleAnalysis()
	a.ResetForRetry()
	assert.Equal(t, AnalysisPending, a.Status)
	assert.Empty(t, a.PDFURL)
	assert.Empty(t, a.SentTo)
	assert.Equal(t, 1, a.Attempt)
}

func TestReplaceFrameworks(t *testing.T) {
	a := sampleAnalysis()
	a.ReplaceFrameworks([]FrameworkOutput{
		{Key: "swot", Kind: KindSWOT, SWOT: &SWOT{Strengths: []string{"team"}}},
		{Key: "vrio", Kind: KindGeneric, Generic: map[string]any{"resource": "data"}},
	})
	require.Len(t, a.Frameworks, 3)
	f, ok := a.Framework("swot")
	require.True(t, ok)
	assert.Equal(t, []string{"team"}, f.SWOT.Strengths)
	_, ok = a.Framework("vrio")
	assert.True(t, ok)
}

func TestDecodeFrameworkOutput(t *testing.T) {
	out, err := DecodeFrameworkOutput("swot", "SWOT", KindSWOT,
		[]byte(`{"summary":"solid","strengths":["a"],"weaknesses":[],"opportunities":["b"],"threats":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "solid", out.Summary)
	assert.Equal(t, []string{"a"}, out.SWOT.Strengths)
	assert.NoError(t, out.Validate())

	out, err = DecodeFrameworkOutput("vrio", "VRIO", "vrio", []byte(`{"summary":"x","resources":[{"name":"brand"}]}`))
	require.NoError(t, err)
	assert.Equal(t, KindGeneric, out.Kind)
	assert.NotContains(t, out.Generic, "summary")
	assert.NoError(t, out.Validate())

	_, err = DecodeFrameworkOutput("swot", "SWOT", KindSWOT, []byte(`{"strengths": "nope"}`))
	assert.Error(t, err)
}

func TestFrameworkOutputValidate(t *testing.T) {
	assert.Error(t, FrameworkOutput{Key: "x", Kind: KindSWOT}.Validate())
	assert.Error(t, FrameworkOutput{Key: "x", Kind: "bogus"}.Validate())
	assert.Error(t, FrameworkOutput{
		Key: "x", Kind: KindSWOT, SWOT: &SWOT{}, Generic: map[string]any{},
	}.Validate())
}

func TestHighlights(t *testing.T) {
	f := FrameworkOutput{Kind: KindMarket, Market: &MarketSizing{Currency: "USD", TAM: MarketFigure{Value: 1000}}}
	lines := f.Highlights(1)
	assert.Equal(t, []string{"TAM: 1000 USD"}, lines)
}

func TestEnrichmentMerge(t *testing.T) {
	d := EnrichmentData{
		Profile:   map[string]any{"name": "Acme", "hq": map[string]any{"city": "Austin", "state": "TX"}},
		Financial: map[string]any{"revenue": 10},
	}
	d.Merge(EnrichmentData{
		Profile:   map[string]any{"hq": map[string]any{"city": "Dallas"}, "name": nil},
		Market:    map[string]any{"size": "large"},
		Financial: nil,
	})

	assert.NotContains(t, d.Profile, "name")
	assert.Equal(t, map[string]any{"city": "Dallas", "state": "TX"}, d.Profile["hq"])
	assert.Equal(t, 10, d.Financial["revenue"])
	assert.Equal(t, "large", d.Market["size"])
}

func TestEnrichmentApplyAndRetry(t *testing.T) {
	e := &Enrichment{ID: "e1", Status: EnrichmentCompleted, Progress: 100}
	now := time.Now()
	require.NoError(t, e.Apply(ActionApprove, now))
	assert.Equal(t, EnrichmentApproved, e.Status)
	require.NotNil(t, e.ApprovedAt)

	e.Error = "old"
	e.ResetForRetry()
	assert.Equal(t, EnrichmentPending, e.Status)
	assert.Zero(t, e.Progress)
	assert.Empty(t, e.Error)
	assert.Nil(t, e.ApprovedAt)
	assert.Equal(t, 1, e.Attempt)

	e.Error = "boom"
	assert.True(t, e.Failed())
}
