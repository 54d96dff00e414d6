package model

import (
	"sort"
	"time"
)

// Enrichment is the externally researched profile of a submission, reviewed
// by an operator before analysis begins. One per submission.
type Enrichment struct {
	ID           string           `json:"id"`
	SubmissionID string           `json:"submission_id"`
	Status       EnrichmentStatus `json:"status"`
	Progress     int              `json:"progress"`
	CurrentStep  string           `json:"current_step"`
	Data         EnrichmentData   `json:"data"`
	Error        string           `json:"error,omitempty"`
	Attempt      int              `json:"attempt"`

	// RejectionReason is stored with the record but no transition sets it.
	RejectionReason string `json:"rejection_reason,omitempty"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Revision   int64      `json:"revision"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Lock projection, filled from the lease manager on read.
	IsLocked      bool       `json:"is_locked"`
	LockedBy      string     `json:"locked_by,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
}

// Failed reports whether the latest generation attempt errored.
func (e *Enrichment) Failed() bool {
	return e.Status == EnrichmentPending && e.Error != ""
}

// Apply moves the enrichment through action, stamping the approval time.
func (e *Enrichment) Apply(action Action, now time.Time) error {
	next, err := NextEnrichmentStatus(e.Status, action)
	if err != nil {
		return withID(err, e.ID)
	}
	e.Status = next
	if next == EnrichmentApproved {
		e.ApprovedAt = &now
	}
	return nil
}

// ResetForRetry discards the previous attempt and queues a fresh one.
func (e *Enrichment) ResetForRetry() {
	e.Status = EnrichmentPending
	e.Progress = 0
	e.CurrentStep = "queued"
	e.Error = ""
	e.ApprovedAt = nil
	e.Attempt++
}

// Clone returns a deep copy.
func (e *Enrichment) Clone() *Enrichment {
	out := *e
	out.Data = e.Data.Clone()
	if e.ApprovedAt != nil {
		t := *e.ApprovedAt
		out.ApprovedAt = &t
	}
	if e.LockExpiresAt != nil {
		t := *e.LockExpiresAt
		out.LockExpiresAt = &t
	}
	return &out
}

// EnrichmentData holds the researched sections. Each section is a keyed bag
// of facts edited freely by the operator.
type EnrichmentData struct {
	Profile     map[string]any `json:"profile,omitempty"`
	Financial   map[string]any `json:"financial,omitempty"`
	Market      map[string]any `json:"market,omitempty"`
	Strategic   map[string]any `json:"strategic,omitempty"`
	Competitive map[string]any `json:"competitive,omitempty"`
	Macro       map[string]any `json:"macro,omitempty"`
}

// Sections returns the named sections in display order.
func (d *EnrichmentData) Sections() []struct {
	Name   string
	Fields map[string]any
} {
	return []struct {
		Name   string
		Fields map[string]any
	}{
		{"profile", d.Profile},
		{"financial", d.Financial},
		{"market", d.Market},
		{"strategic", d.Strategic},
		{"competitive", d.Competitive},
		{"macro", d.Macro},
	}
}

// Merge deep-merges partial into d. Nested maps merge key by key; any other
// value replaces the existing one. A nil value deletes the key.
func (d *EnrichmentData) Merge(partial EnrichmentData) {
	d.Profile = mergeMap(d.Profile, partial.Profile)
	d.Financial = mergeMap(d.Financial, partial.Financial)
	d.Market = mergeMap(d.Market, partial.Market)
	d.Strategic = mergeMap(d.Strategic, partial.Strategic)
	d.Competitive = mergeMap(d.Competitive, partial.Competitive)
	d.Macro = mergeMap(d.Macro, partial.Macro)
}

// IsZero reports whether no section carries data.
func (d EnrichmentData) IsZero() bool {
	return len(d.Profile) == 0 && len(d.Financial) == 0 && len(d.Market) == 0 &&
		len(d.Strategic) == 0 && len(d.Competitive) == 0 && len(d.Macro) == 0
}

// Clone returns a deep copy.
func (d EnrichmentData) Clone() EnrichmentData {
	return EnrichmentData{
		Profile:     cloneMap(d.Profile),
		Financial:   cloneMap(d.Financial),
		Market:      cloneMap(d.Market),
		Strategic:   cloneMap(d.Strategic),
		Competitive: cloneMap(d.Competitive),
		Macro:       cloneMap(d.Macro),
	}
}

func mergeMap(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMap(dv, sv)
				continue
			}
			dst[k] = cloneMap(sv)
			continue
		}
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
