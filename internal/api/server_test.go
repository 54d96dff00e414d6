package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/autosave"
	"github.com/sells-group/strategy-cli/internal/enrichment"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/framework"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/lease"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/publish"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/wizard"
	"github.com/sells-group/strategy-cli/pkg/mailer"
	"github.com/sells-group/strategy-cli/pkg/pdf"
)

type stubResearcher struct{}

func (stubResearcher) Enrich(_ context.Context, _ *model.Submission, progress enrichment.ProgressFunc) (model.EnrichmentData, error) {
	progress(50, "researching")
	return model.EnrichmentData{Profile: map[string]any{"description": "Freight broker"}}, nil
}

type stubAnalyst struct{}

func (stubAnalyst) Analyze(context.Context, *model.Submission, *model.Enrichment) ([]model.FrameworkOutput, error) {
	return []model.FrameworkOutput{swot("Generated")}, nil
}

type stubWriter struct{}

func (stubWriter) WriteStep(_ context.Context, req wizard.StepRequest) (model.FrameworkOutput, error) {
	out := model.FrameworkOutput{Key: req.Framework.Key, Title: req.Framework.Title, Kind: model.KindGeneric,
		Generic: map[string]any{"iteration": req.Step.IterationCount}}
	return out, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, doc pdf.Document) (string, error) {
	return "https://cdn.test/" + doc.ReportID + ".pdf", nil
}

type stubMailer struct{ sent []mailer.Message }

func (m *stubMailer) Send(_ context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func swot(strength string) model.FrameworkOutput {
	return model.FrameworkOutput{Key: "swot", Title: "SWOT Analysis", Kind: model.KindSWOT,
		SWOT: &model.SWOT{Strengths: []string{strength}}}
}

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	runner *jobs.Manual
	mail   *stubMailer
	store  *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	runner := &jobs.Manual{}
	bus := events.NewBus()
	guard := resilience.NewGuard(resilience.RetryConfig{MaxAttempts: 1}, resilience.CircuitBreakerConfig{FailureThreshold: 100})
	cat, err := framework.Default()
	require.NoError(t, err)

	leases := lease.NewMemory()
	gate := enrichment.NewGate(st, leases, stubResearcher{}, runner, bus, time.Minute)
	analyses := analysis.NewController(st, stubAnalyst{}, runner)
	bus.Subscribe(events.StartAnalysis, analyses.HandleStartAnalysis)
	mail := &stubMailer{}
	publisher := publish.New(st, analyses, stubRenderer{}, mail, bus, guard, leases)
	bus.Subscribe(events.AnalysisSent, publisher.HandleSent)

	s := New(Deps{
		Store:            st,
		Gate:             gate,
		Analyses:         analyses,
		Wizard:           wizard.NewEngine(st, cat, stubWriter{}, runner, analyses),
		Publisher:        publisher,
		EnrichmentDrafts: NewEnrichmentDrafts(gate, autosave.WithWindow(time.Hour)),
		AnalysisDrafts:   NewAnalysisDrafts(analyses, autosave.WithWindow(time.Hour)),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, runner: runner, mail: mail, store: st}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (h *harness) do(method, path string, body, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) drain() {
	h.runner.Drain(context.Background())
}

func (h *harness) intake() intakeResponse {
	h.t.Helper()
	var resp intakeResponse
	code := h.do(http.MethodPost, "/submissions", map[string]string{
		"company_name":  "Acme",
		"website":       "https://acme.test",
		"contact_name":  "Ada",
		"contact_email": "ceo@acme.test",
	}, &resp)
	require.Equal(h.t, http.StatusCreated, code)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])

	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntake_Validation(t *testing.T) {
	h := newHarness(t)
	var body errorBody
	code := h.do(http.MethodPost, "/submissions", map[string]string{"company_name": "Acme", "contact_email": "nope"}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, apperr.KindValidation, body.Code)
	assert.Equal(t, "contact_email", body.Field)
}

func TestNotYetCreated(t *testing.T) {
	h := newHarness(t)
	sub := h.intake()

	var body errorBody
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/submissions/"+sub.Submission.ID+"/analysis", nil, &body))
	assert.Equal(t, apperr.KindNotFound, body.Code)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/submissions/missing/enrichment", nil, &body))
	assert.Equal(t, apperr.KindNotFound, body.Code)
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	sub := h.intake()
	subID := sub.Submission.ID
	require.NotNil(t, sub.Enrichment)
	assert.Equal(t, model.EnrichmentPending, sub.Enrichment.Status)

	// Approve is illegal while generation is pending.
	var errBody errorBody
	code := h.do(http.MethodPost, "/enrichment/"+sub.Enrichment.ID+"/approve", nil, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.KindIllegalTransition, errBody.Code)
	assert.Equal(t, string(model.EnrichmentPending), errBody.Current)

	h.drain()
	var enr model.Enrichment
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/submissions/"+subID+"/enrichment", nil, &enr))
	assert.Equal(t, model.EnrichmentCompleted, enr.Status)
	assert.Equal(t, 100, enr.Progress)

	// Buffered edit is folded into the approval.
	var pending pendingResponse
	code = h.do(http.MethodPut, "/enrichment/"+enr.ID+"?autosave=true",
		map[string]any{"data": map[string]any{"market": map[string]any{"segment": "mid-market"}}}, &pending)
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, pending.Pending)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/enrichment/"+enr.ID+"/approve", map[string]any{}, &enr))
	assert.Equal(t, model.EnrichmentApproved, enr.Status)
	assert.Equal(t, "mid-market", enr.Data.Market["segment"])

	code = h.do(http.MethodPost, "/enrichment/"+enr.ID+"/approve", map[string]any{}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.KindAlreadyApproved, errBody.Code)

	// Approval started analysis v1.
	var a model.Analysis
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/submissions/"+subID+"/analysis", nil, &a))
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, model.AnalysisPending, a.Status)
	h.drain()

	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/analysis/"+a.ID,
		analysisEdit{Frameworks: []model.FrameworkOutput{swot("Edited")}}, &a))
	assert.Equal(t, model.AnalysisCompleted, a.Status)
	assert.Equal(t, "Edited", a.Frameworks[0].SWOT.Strengths[0])

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/analysis/"+a.ID+"/approve", analysisEdit{}, &a))
	assert.Equal(t, model.AnalysisApproved, a.Status)
	assert.NotEmpty(t, a.PDFURL)

	var pdfResp pdfResponse
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/analysis/"+a.ID+"/pdf", nil, &pdfResp))
	assert.Equal(t, a.PDFURL, pdfResp.PDFURL)

	code = h.do(http.MethodPost, "/analysis/"+a.ID+"/send", sendRequest{UserEmail: "bad"}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "userEmail", errBody.Field)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/analysis/"+a.ID+"/send", sendRequest{UserEmail: "ceo@acme.test"}, &a))
	assert.Equal(t, model.AnalysisSent, a.Status)
	require.Len(t, h.mail.sent, 1)

	var published publish.Result
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/submissions/"+subID+"/report/publish", nil, &published))
	assert.Equal(t, a.PDFURL, published.PDFURL)

	var v2 model.Analysis
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/analysis/"+a.ID+"/version", nil, &v2))
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, model.AnalysisSent, v2.Status)

	var versions []model.Analysis
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/submissions/"+subID+"/analysis/versions", nil, &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
}

func TestEnrichmentLease(t *testing.T) {
	h := newHarness(t)
	sub := h.intake()
	h.drain()
	id := sub.Enrichment.ID

	var l lease.Lease
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/enrichment/"+id+"/lease", claimRequest{Operator: "ana"}, &l))
	require.NotEmpty(t, l.Token)

	var errBody errorBody
	assert.Equal(t, http.StatusLocked, h.do(http.MethodPost, "/enrichment/"+id+"/lease", claimRequest{Operator: "bo"}, &errBody))
	assert.Equal(t, apperr.KindLocked, errBody.Code)

	edit := map[string]any{"data": map[string]any{"profile": map[string]any{"employees": 10}}}
	assert.Equal(t, http.StatusLocked, h.do(http.MethodPut, "/enrichment/"+id, edit, &errBody))

	edit["lease_token"] = l.Token
	var enr model.Enrichment
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/enrichment/"+id, edit, &enr))
	assert.EqualValues(t, 10, enr.Data.Profile["employees"])
	assert.True(t, enr.IsLocked)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/enrichment/"+id+"/lease?lease_token="+l.Token, nil, nil))
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/enrichment/"+id+"/lease", claimRequest{Operator: "bo"}, &l))
}

func TestUpdateSubmission_RevisionConflict(t *testing.T) {
	h := newHarness(t)
	sub := h.intake().Submission

	req := map[string]any{"company_name": "Acme Corp", "contact_email": "ceo@acme.test", "expected_revision": sub.Revision}
	var updated model.Submission
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/submissions/"+sub.ID, req, &updated))
	assert.Equal(t, "Acme Corp", updated.CompanyName)

	var errBody errorBody
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPut, "/submissions/"+sub.ID, req, &errBody))
	assert.Equal(t, apperr.KindRevisionConflict, errBody.Code)
}

func TestWizardFlow(t *testing.T) {
	h := newHarness(t)
	subID := h.intake().Submission.ID
	base := "/submissions/" + subID + "/wizard"

	var state wizardResponse
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, base, nil, &state))
	assert.Equal(t, 0, state.CurrentStep)
	require.NotNil(t, state.Framework)
	assert.Equal(t, "swot", state.Framework.Key)

	var errBody errorBody
	code := h.do(http.MethodPost, base+"/steps/1/generate", generateRequest{Answers: map[string]string{"geography": "US"}}, &errBody)
	assert.Equal(t, http.StatusConflict, code, "step 1 requires step 0 approved")

	code = h.do(http.MethodPost, base+"/steps/0/generate", generateRequest{}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "required answer missing")

	code = h.do(http.MethodPost, base+"/steps/0/generate", generateRequest{Answers: map[string]string{"advantages": "Speed"}}, &state)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, model.StepGenerating, state.Steps[0].Status)
	h.drain()

	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, base+"/steps/0/refine", refineRequest{Context: "More on pricing"}, &state))
	assert.Equal(t, 2, state.Steps[0].IterationCount)
	h.drain()

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, base+"/steps/0/approve", nil, &state))
	assert.Equal(t, model.StepApproved, state.Steps[0].Status)
	assert.Equal(t, 1, state.CurrentStep)
	require.Len(t, state.PreviousSteps, 1)

	code = h.do(http.MethodPost, base+"/steps/x/approve", nil, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code = h.do(http.MethodPost, base+"/finalize", nil, &errBody)
	assert.Equal(t, http.StatusConflict, code, "finalize needs every step approved")
}
