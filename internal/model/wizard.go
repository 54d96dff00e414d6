package model

import (
	"fmt"
	"time"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

// TotalSteps is the number of frameworks the wizard walks through.
const TotalSteps = 12

// StepDef describes one wizard step when a state is first created.
type StepDef struct {
	Key   string
	Title string
	Kind  FrameworkKind
}

// WizardState tracks a submission's progress through the framework wizard.
// CurrentStep never decreases and PreviousSteps only grows.
type WizardState struct {
	SubmissionID  string          `json:"submission_id"`
	CurrentStep   int             `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
	Steps         []FrameworkStep `json:"steps"`
	PreviousSteps []StepSummary   `json:"previous_steps"`
	Revision      int64           `json:"revision"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FrameworkStep is the working state of one wizard step.
type FrameworkStep struct {
	Index          int               `json:"index"`
	Key            string            `json:"key"`
	Title          string            `json:"title"`
	Kind           FrameworkKind     `json:"kind"`
	Status         StepStatus        `json:"status"`
	IterationCount int               `json:"iteration_count"`
	Answers        map[string]string `json:"answers,omitempty"`
	Context        string            `json:"context,omitempty"`
	Refinements    []string          `json:"refinements,omitempty"`
	Output         *FrameworkOutput  `json:"output,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// StepSummary is the frozen record of an approved step.
type StepSummary struct {
	Index      int             `json:"index"`
	Key        string          `json:"key"`
	Title      string          `json:"title"`
	Status     StepStatus      `json:"status"`
	Iterations int             `json:"iterations"`
	Output     FrameworkOutput `json:"output"`
	ApprovedAt time.Time       `json:"approved_at"`
}

// NewWizardState builds a fresh state with every step pending.
func NewWizardState(submissionID string, defs []StepDef, now time.Time) *WizardState {
	w := &WizardState{
		SubmissionID: submissionID,
		TotalSteps:   len(defs),
		Steps:        make([]FrameworkStep, len(defs)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, d := range defs {
		w.Steps[i] = FrameworkStep{Index: i, Key: d.Key, Title: d.Title, Kind: d.Kind, Status: StepPending}
	}
	return w
}

// Step returns the step at idx.
func (w *WizardState) Step(idx int) (*FrameworkStep, error) {
	if idx < 0 || idx >= len(w.Steps) {
		return nil, apperr.Invalid("step", fmt.Sprintf("index %d out of range 0..%d", idx, len(w.Steps)-1))
	}
	return &w.Steps[idx], nil
}

// BeginGenerate moves step idx to generating. Every earlier step must be
// approved. Non-nil answers replace the stored ones. It returns the
// iteration the pending generation belongs to.
func (w *WizardState) BeginGenerate(idx int, context string, answers map[string]string, now time.Time) (int, error) {
	s, err := w.Step(idx)
	if err != nil {
		return 0, err
	}
	for j := 0; j < idx; j++ {
		if w.Steps[j].Status != StepApproved {
			return 0, apperr.IllegalTransition("step", w.stepID(idx), string(ActionGenerate),
				fmt.Sprintf("step %d %s", j, w.Steps[j].Status), fmt.Sprintf("step %d approved", j))
		}
	}
	next, err := NextStepStatus(s.Status, ActionGenerate)
	if err != nil {
		return 0, withID(err, w.stepID(idx))
	}
	s.Status = next
	s.Error = ""
	if context != "" {
		s.Context = context
	}
	if answers != nil {
		s.Answers = make(map[string]string, len(answers))
		for k, v := range answers {
			s.Answers[k] = v
		}
	}
	s.IterationCount++
	w.UpdatedAt = now
	return s.IterationCount, nil
}

// Refine appends additional context to a generated step and re-queues it.
func (w *WizardState) Refine(idx int, additional string, now time.Time) (int, error) {
	s, err := w.Step(idx)
	if err != nil {
		return 0, err
	}
	if additional == "" {
		return 0, apperr.Invalid("context", "refinement text is required")
	}
	next, err := NextStepStatus(s.Status, ActionRefine)
	if err != nil {
		return 0, withID(err, w.stepID(idx))
	}
	s.Status = next
	s.Error = ""
	s.Refinements = append(s.Refinements, additional)
	s.IterationCount++
	w.UpdatedAt = now
	return s.IterationCount, nil
}

// CompleteGenerate records a generation result. Results for a superseded
// iteration are ignored and reported as not applied.
func (w *WizardState) CompleteGenerate(idx, iteration int, out FrameworkOutput, now time.Time) bool {
	s, err := w.Step(idx)
	if err != nil || s.IterationCount != iteration || s.Status != StepGenerating {
		return false
	}
	s.Status = StepGenerated
	o := out.Clone()
	s.Output = &o
	s.Error = ""
	w.UpdatedAt = now
	return true
}

// FailGenerate records a generation error for the given iteration.
func (w *WizardState) FailGenerate(idx, iteration int, msg string, now time.Time) bool {
	s, err := w.Step(idx)
	if err != nil || s.IterationCount != iteration || s.Status != StepGenerating {
		return false
	}
	s.Status = StepFailed
	s.Error = msg
	w.UpdatedAt = now
	return true
}

// Approve accepts a generated step, freezes it into PreviousSteps and
// advances CurrentStep. CurrentStep stays on the last index once every step
// is approved.
func (w *WizardState) Approve(idx int, now time.Time) error {
	s, err := w.Step(idx)
	if err != nil {
		return err
	}
	next, err := NextStepStatus(s.Status, ActionApprove)
	if err != nil {
		return withID(err, w.stepID(idx))
	}
	s.Status = next

	summary := StepSummary{
		Index:      s.Index,
		Key:        s.Key,
		Title:      s.Title,
		Status:     next,
		Iterations: s.IterationCount,
		ApprovedAt: now,
	}
	if s.Output != nil {
		summary.Output = s.Output.Clone()
	}
	w.PreviousSteps = append(w.PreviousSteps, summary)

	if idx == w.CurrentStep && w.CurrentStep < len(w.Steps)-1 {
		w.CurrentStep++
	}
	w.UpdatedAt = now
	return nil
}

// Complete reports whether every step has been approved.
func (w *WizardState) Complete() bool {
	for _, s := range w.Steps {
		if s.Status != StepApproved {
			return false
		}
	}
	return len(w.Steps) > 0
}

// ApprovedOutputs returns the frozen outputs of approved steps in step order.
func (w *WizardState) ApprovedOutputs() []FrameworkOutput {
	out := make([]FrameworkOutput, 0, len(w.PreviousSteps))
	for _, p := range w.PreviousSteps {
		out = append(out, p.Output.Clone())
	}
	return out
}

// Clone returns a deep copy.
func (w *WizardState) Clone() *WizardState {
	out := *w
	out.Steps = make([]FrameworkStep, len(w.Steps))
	for i, s := range w.Steps {
		c := s
		if s.Answers != nil {
			c.Answers = make(map[string]string, len(s.Answers))
			for k, v := range s.Answers {
				c.Answers[k] = v
			}
		}
		c.Refinements = cloneStrings(s.Refinements)
		if s.Output != nil {
			o := s.Output.Clone()
			c.Output = &o
		}
		out.Steps[i] = c
	}
	out.PreviousSteps = make([]StepSummary, len(w.PreviousSteps))
	for i, p := range w.PreviousSteps {
		p.Output = p.Output.Clone()
		out.PreviousSteps[i] = p
	}
	return &out
}

func (w *WizardState) stepID(idx int) string {
	return fmt.Sprintf("%s/%d", w.SubmissionID, idx)
}
