package model

import "time"

// Analysis is one version of the strategic analysis for a submission.
// Versions are numbered 1..n per submission and never renumbered.
type Analysis struct {
	ID           string            `json:"id"`
	SubmissionID string            `json:"submission_id"`
	Version      int               `json:"version"`
	Status       AnalysisStatus    `json:"status"`
	Frameworks   []FrameworkOutput `json:"frameworks"`
	Error        string            `json:"error,omitempty"`
	Attempt      int               `json:"attempt"`
	ForkedFrom   int               `json:"forked_from,omitempty"`
	ReportID     string            `json:"report_id,omitempty"`
	PDFURL       string            `json:"pdf_url,omitempty"`
	SentTo       string            `json:"sent_to,omitempty"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	ApprovedAt   *time.Time        `json:"approved_at,omitempty"`
	Revision     int64             `json:"revision"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Apply moves the analysis through action and stamps the approval and
// delivery times. The caller records the recipient for sends.
func (a *Analysis) Apply(action Action, now time.Time) error {
	next, err := NextAnalysisStatus(a.Status, action)
	if err != nil {
		return withID(err, a.ID)
	}
	a.Status = next
	switch next {
	case AnalysisApproved:
		a.ApprovedAt = &now
	case AnalysisSent:
		a.SentAt = &now
	case AnalysisFailed:
	case AnalysisCompleted:
		a.Error = ""
	}
	return nil
}

// ResetForRetry queues a fresh generation for this version.
func (a *Analysis) ResetForRetry() {
	a.Status = AnalysisPending
	a.Error = ""
	a.PDFURL = ""
	a.ApprovedAt = nil
	a.SentAt = nil
	a.SentTo = ""
	a.Attempt++
}

// Fork returns a deep copy as a new version. The copy keeps the source's
// status and content; the source is left untouched.
func (a *Analysis) Fork(id string, version int, now time.Time) *Analysis {
	out := a.Clone()
	out.ID = id
	out.Version = version
	out.ForkedFrom = a.Version
	out.Attempt = 0
	out.Revision = 0
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

// Clone returns a deep copy.
func (a *Analysis) Clone() *Analysis {
	out := *a
	out.Frameworks = CloneOutputs(a.Frameworks)
	if a.SentAt != nil {
		t := *a.SentAt
		out.SentAt = &t
	}
	if a.ApprovedAt != nil {
		t := *a.ApprovedAt
		out.ApprovedAt = &t
	}
	return &out
}

// Framework returns the output with the given key.
func (a *Analysis) Framework(key string) (FrameworkOutput, bool) {
	for _, f := range a.Frameworks {
		if f.Key == key {
			return f, true
		}
	}
	return FrameworkOutput{}, false
}

// ReplaceFrameworks swaps in edited outputs, keyed by framework key. Outputs
// for keys not present in the edit are kept.
func (a *Analysis) ReplaceFrameworks(edits []FrameworkOutput) {
	idx := make(map[string]int, len(a.Frameworks))
	for i, f := range a.Frameworks {
		idx[f.Key] = i
	}
	for _, e := range edits {
		if i, ok := idx[e.Key]; ok {
			a.Frameworks[i] = e.Clone()
			continue
		}
		idx[e.Key] = len(a.Frameworks)
		a.Frameworks = append(a.Frameworks, e.Clone())
	}
}
