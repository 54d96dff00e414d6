package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/strategy-cli/internal/model"
)

// MemoryStore implements Store in process memory. Values are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*model.Submission
	enrichments map[string]*model.Enrichment
	analyses    map[string]*model.Analysis
	wizards     map[string]*model.WizardState
	now         func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*model.Submission),
		enrichments: make(map[string]*model.Enrichment),
		analyses:    make(map[string]*model.Analysis),
		wizards:     make(map[string]*model.WizardState),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) stamp(id *string, created, updated *time.Time, rev *int64) {
	now := m.now()
	if *id == "" {
		*id = uuid.New().String()
	}
	if created.IsZero() {
		*created = now
	}
	*updated = now
	*rev = 1
}

// --- Submissions ---

func (m *MemoryStore) CreateSubmission(_ context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.Revision)
	if _, ok := m.submissions[s.ID]; ok {
		return conflict("submission", s.ID)
	}
	c := *s
	m.submissions[s.ID] = &c
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, notFound("submission", id)
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) UpdateSubmission(_ context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.submissions[s.ID]
	if !ok {
		return notFound("submission", s.ID)
	}
	if cur.Revision != s.Revision {
		return conflict("submission", s.ID)
	}
	s.Revision++
	s.UpdatedAt = m.now()
	c := *s
	m.submissions[s.ID] = &c
	return nil
}

// --- Enrichments ---

func (m *MemoryStore) CreateEnrichment(_ context.Context, e *model.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.enrichments {
		if cur.SubmissionID == e.SubmissionID {
			return conflict("enrichment for submission", e.SubmissionID)
		}
	}
	m.stamp(&e.ID, &e.CreatedAt, &e.UpdatedAt, &e.Revision)
	m.enrichments[e.ID] = e.Clone()
	return nil
}

func (m *MemoryStore) GetEnrichment(_ context.Context, id string) (*model.Enrichment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrichments[id]
	if !ok {
		return nil, notFound("enrichment", id)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) GetEnrichmentBySubmission(_ context.Context, submissionID string) (*model.Enrichment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.enrichments {
		if e.SubmissionID == submissionID {
			return e.Clone(), nil
		}
	}
	return nil, notFound("enrichment for submission", submissionID)
}

func (m *MemoryStore) UpdateEnrichment(_ context.Context, e *model.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.enrichments[e.ID]
	if !ok {
		return notFound("enrichment", e.ID)
	}
	if cur.Revision != e.Revision {
		return conflict("enrichment", e.ID)
	}
	e.Revision++
	e.UpdatedAt = m.now()
	m.enrichments[e.ID] = e.Clone()
	return nil
}

// --- Analyses ---

func (m *MemoryStore) CreateAnalysis(_ context.Context, a *model.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxVersion := 0
	for _, cur := range m.analyses {
		if cur.SubmissionID == a.SubmissionID && cur.Version > maxVersion {
			maxVersion = cur.Version
		}
	}
	if a.Version != maxVersion+1 {
		return conflict("analysis version for submission", a.SubmissionID)
	}
	m.stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Revision)
	m.analyses[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) GetAnalysis(_ context.Context, id string) (*model.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analyses[id]
	if !ok {
		return nil, notFound("analysis", id)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ListAnalyses(_ context.Context, submissionID string) ([]model.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Analysis
	for _, a := range m.analyses {
		if a.SubmissionID == submissionID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryStore) LatestAnalysis(ctx context.Context, submissionID string) (*model.Analysis, error) {
	list, _ := m.ListAnalyses(ctx, submissionID)
	if len(list) == 0 {
		return nil, notFound("analysis for submission", submissionID)
	}
	return &list[len(list)-1], nil
}

func (m *MemoryStore) UpdateAnalysis(_ context.Context, a *model.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.analyses[a.ID]
	if !ok {
		return notFound("analysis", a.ID)
	}
	if cur.Revision != a.Revision {
		return conflict("analysis", a.ID)
	}
	a.Revision++
	a.UpdatedAt = m.now()
	m.analyses[a.ID] = a.Clone()
	return nil
}

// --- Wizard ---

func (m *MemoryStore) CreateWizard(_ context.Context, w *model.WizardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wizards[w.SubmissionID]; ok {
		return conflict("wizard", w.SubmissionID)
	}
	id := w.SubmissionID
	m.stamp(&id, &w.CreatedAt, &w.UpdatedAt, &w.Revision)
	m.wizards[w.SubmissionID] = w.Clone()
	return nil
}

func (m *MemoryStore) GetWizard(_ context.Context, submissionID string) (*model.WizardState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wizards[submissionID]
	if !ok {
		return nil, notFound("wizard", submissionID)
	}
	return w.Clone(), nil
}

func (m *MemoryStore) UpdateWizard(_ context.Context, w *model.WizardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wizards[w.SubmissionID]
	if !ok {
		return notFound("wizard", w.SubmissionID)
	}
	if cur.Revision != w.Revision {
		return conflict("wizard", w.SubmissionID)
	}
	w.Revision++
	w.UpdatedAt = m.now()
	m.wizards[w.SubmissionID] = w.Clone()
	return nil
}
