package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/lease"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/store"
)

type fakeGenerator struct {
	calls int
	err   error
	data  model.EnrichmentData
}

func (f *fakeGenerator) Enrich(_ context.Context, sub *model.Submission, progress ProgressFunc) (model.EnrichmentData, error) {
	f.calls++
	progress(50, "market research")
	if f.err != nil {
		return model.EnrichmentData{}, f.err
	}
	if f.data.IsZero() {
		return model.EnrichmentData{Profile: map[string]any{"name": sub.CompanyName}}, nil
	}
	return f.data, nil
}

type fixture struct {
	gate   *Gate
	store  *store.MemoryStore
	runner *jobs.Manual
	gen    *fakeGenerator
	bus    *events.Bus
	sub    *model.Submission
	starts []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemory(),
		runner: &jobs.Manual{},
		gen:    &fakeGenerator{},
		bus:    events.NewBus(),
	}
	f.gate = NewGate(f.store, lease.NewMemory(), f.gen, f.runner, f.bus, time.Minute)
	f.bus.Subscribe(events.StartAnalysis, func(_ context.Context, ev events.Event) error {
		f.starts = append(f.starts, ev.SubmissionID)
		return nil
	})

	f.sub = &model.Submission{CompanyName: "Acme", ContactEmail: "ceo@acme.test", Status: model.SubmissionReceived}
	require.NoError(t, f.store.CreateSubmission(context.Background(), f.sub))
	return f
}

func (f *fixture) completed(t *testing.T) *model.Enrichment {
	t.Helper()
	ctx := context.Background()
	e, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)
	f.runner.Drain(ctx)
	e, err = f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.EnrichmentCompleted, e.Status)
	return e
}

func TestGate_StartGeneratesToCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.GetBySubmission(ctx, f.sub.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	e, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentPending, e.Status)
	assert.Equal(t, 1, f.runner.Pending())

	// Idempotent.
	again, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID)
	assert.Equal(t, 1, f.runner.Pending())

	f.runner.Drain(ctx)
	got, err := f.gate.GetBySubmission(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "Acme", got.Data.Profile["name"])
}

func TestGate_StartUnknownSubmission(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGate_GenerationFailureStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.err = errors.New("perplexity: 500")

	e, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)
	f.runner.Drain(ctx)

	got, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentPending, got.Status)
	assert.True(t, got.Failed())
	assert.Contains(t, got.Error, "perplexity")

	// Approve is illegal while pending.
	_, err = f.gate.Approve(ctx, e.ID, nil, "", 0)
	var te *apperr.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "pending", te.Current)

	// Retry recovers.
	f.gen.err = nil
	retried, err := f.gate.Retry(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Attempt)
	assert.Empty(t, retried.Error)
	assert.Equal(t, "queued", retried.CurrentStep)
	f.runner.Drain(ctx)

	got, err = f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.Status)
}

func TestGate_StaleAttemptDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)
	_, err = f.gate.Retry(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.runner.Pending())

	f.gen.data = model.EnrichmentData{Market: map[string]any{"size": "large"}}
	f.runner.Drain(ctx)

	got, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, model.EnrichmentCompleted, got.Status)
	// The first job was superseded and never touched the record after retry.
	assert.Equal(t, 2, f.gen.calls)
}

func TestGate_ApproveEmitsStartAnalysisOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.completed(t)

	edits := &model.EnrichmentData{Financial: map[string]any{"revenue": "10M"}}
	approved, err := f.gate.Approve(ctx, e.ID, edits, "", e.Revision)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, "10M", approved.Data.Financial["revenue"])
	assert.Equal(t, []string{f.sub.ID}, f.starts)

	before, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)

	_, err = f.gate.Approve(ctx, e.ID, &model.EnrichmentData{Financial: map[string]any{"revenue": "99M"}}, "", 0)
	assert.ErrorIs(t, err, apperr.ErrAlreadyApproved)

	after, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, "10M", after.Data.Financial["revenue"])
	assert.Len(t, f.starts, 1)
}

func TestGate_IllegalApproveWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.gate.Start(ctx, f.sub.ID)
	require.NoError(t, err)

	edits := &model.EnrichmentData{Profile: map[string]any{"note": "operator edit"}}
	_, err = f.gate.Approve(ctx, e.ID, edits, "", 0)
	var te *apperr.TransitionError
	require.ErrorAs(t, err, &te)

	got, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentPending, got.Status)
	assert.Equal(t, e.Revision, got.Revision)
	assert.NotContains(t, got.Data.Profile, "note")
	assert.Empty(t, f.starts)
}

func TestGate_ApproveUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Approve(context.Background(), "missing", nil, "", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGate_UpdateMergesWithoutStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.completed(t)

	got, err := f.gate.Update(ctx, e.ID, model.EnrichmentData{Profile: map[string]any{"hq": "Austin"}}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.Status)
	assert.Equal(t, "Acme", got.Data.Profile["name"])
	assert.Equal(t, "Austin", got.Data.Profile["hq"])

	_, err = f.gate.Update(ctx, e.ID, model.EnrichmentData{}, "", e.Revision)
	assert.ErrorIs(t, err, apperr.ErrRevisionConflict)
}

func TestGate_LeaseBlocksOtherEditors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.completed(t)

	l, err := f.gate.Claim(ctx, e.ID, "alice")
	require.NoError(t, err)

	got, err := f.gate.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)
	assert.Equal(t, "alice", got.LockedBy)

	_, err = f.gate.Claim(ctx, e.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrLocked)

	_, err = f.gate.Update(ctx, e.ID, model.EnrichmentData{Macro: map[string]any{"x": 1}}, "", 0)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	_, err = f.gate.Approve(ctx, e.ID, nil, "bogus", 0)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	_, err = f.gate.Update(ctx, e.ID, model.EnrichmentData{Macro: map[string]any{"x": 1}}, l.Token, 0)
	require.NoError(t, err)

	// Approval releases the holder's lease.
	approved, err := f.gate.Approve(ctx, e.ID, nil, l.Token, 0)
	require.NoError(t, err)
	assert.False(t, approved.IsLocked)
}

func TestGate_RetryCreatesWhenAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.gate.Retry(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentPending, e.Status)
	assert.Equal(t, 1, f.runner.Pending())
}

func TestGate_RetryAfterApprovalRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.completed(t)
	_, err := f.gate.Approve(ctx, e.ID, nil, "", 0)
	require.NoError(t, err)

	retried, err := f.gate.Retry(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentPending, retried.Status)
	assert.Nil(t, retried.ApprovedAt)
}
