package model

import (
	"github.com/sells-group/strategy-cli/internal/apperr"
)

// Action names a workflow command or generation event applied to an entity.
type Action string

const (
	ActionEdit     Action = "edit"
	ActionApprove  Action = "approve"
	ActionSend     Action = "send"
	ActionRetry    Action = "retry"
	ActionStart    Action = "start"    // background generation picked up
	ActionComplete Action = "complete" // generation succeeded
	ActionFail     Action = "fail"     // generation errored
	ActionGenerate Action = "generate"
	ActionRefine   Action = "refine"
)

// SubmissionStatus is informational only; it never gates a stage.
type SubmissionStatus string

const (
	SubmissionReceived  SubmissionStatus = "received"
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionPublished SubmissionStatus = "published"
)

// EnrichmentStatus is the review state of an enrichment.
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentCompleted EnrichmentStatus = "completed"
	EnrichmentApproved  EnrichmentStatus = "approved"
)

// AnalysisStatus is the lifecycle state of one analysis version.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisApproved   AnalysisStatus = "approved"
	AnalysisSent       AnalysisStatus = "sent"
	AnalysisFailed     AnalysisStatus = "failed"
)

// StepStatus is the state of a single wizard step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepGenerating StepStatus = "generating"
	StepGenerated  StepStatus = "generated"
	StepApproved   StepStatus = "approved"
	StepFailed     StepStatus = "failed"
)

// ParseSubmissionStatus validates a stored or client-supplied status.
func ParseSubmissionStatus(s string) (SubmissionStatus, error) {
	switch st := SubmissionStatus(s); st {
	case SubmissionReceived, SubmissionDraft, SubmissionPublished:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown submission status "+quote(s))
}

// ParseEnrichmentStatus validates a stored or client-supplied status.
func ParseEnrichmentStatus(s string) (EnrichmentStatus, error) {
	switch st := EnrichmentStatus(s); st {
	case EnrichmentPending, EnrichmentCompleted, EnrichmentApproved:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown enrichment status "+quote(s))
}

// ParseAnalysisStatus validates a stored or client-supplied status.
func ParseAnalysisStatus(s string) (AnalysisStatus, error) {
	switch st := AnalysisStatus(s); st {
	case AnalysisPending, AnalysisProcessing, AnalysisCompleted,
		AnalysisApproved, AnalysisSent, AnalysisFailed:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown analysis status "+quote(s))
}

// ParseStepStatus validates a stored or client-supplied status.
func ParseStepStatus(s string) (StepStatus, error) {
	switch st := StepStatus(s); st {
	case StepPending, StepGenerating, StepGenerated, StepApproved, StepFailed:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown step status "+quote(s))
}

// NextEnrichmentStatus returns the status reached by applying action.
// Approving an approved enrichment fails with ErrAlreadyApproved.
func NextEnrichmentStatus(from EnrichmentStatus, action Action) (EnrichmentStatus, error) {
	switch action {
	case ActionEdit:
		return from, nil
	case ActionRetry:
		return EnrichmentPending, nil
	case ActionComplete:
		if from == EnrichmentPending {
			return EnrichmentCompleted, nil
		}
		return "", illegal("enrichment", action, string(from), string(EnrichmentPending))
	case ActionApprove:
		switch from {
		case EnrichmentCompleted:
			return EnrichmentApproved, nil
		case EnrichmentApproved:
			return "", apperr.ErrAlreadyApproved
		}
		return "", illegal("enrichment", action, string(from), string(EnrichmentCompleted))
	}
	return "", illegal("enrichment", action, string(from))
}

// NextAnalysisStatus returns the status reached by applying action.
func NextAnalysisStatus(from AnalysisStatus, action Action) (AnalysisStatus, error) {
	switch action {
	case ActionRetry:
		return AnalysisPending, nil
	case ActionStart:
		if from == AnalysisPending {
			return AnalysisProcessing, nil
		}
		return "", illegal("analysis", action, string(from), string(AnalysisPending))
	case ActionComplete, ActionFail:
		if from == AnalysisPending || from == AnalysisProcessing {
			if action == ActionComplete {
				return AnalysisCompleted, nil
			}
			return AnalysisFailed, nil
		}
		return "", illegal("analysis", action, string(from), string(AnalysisPending), string(AnalysisProcessing))
	case ActionEdit:
		if from == AnalysisCompleted {
			return from, nil
		}
		return "", illegal("analysis", action, string(from), string(AnalysisCompleted))
	case ActionApprove:
		switch from {
		case AnalysisCompleted:
			return AnalysisApproved, nil
		case AnalysisApproved:
			return "", apperr.ErrAlreadyApproved
		}
		return "", illegal("analysis", action, string(from), string(AnalysisCompleted))
	case ActionSend:
		if from == AnalysisApproved {
			return AnalysisSent, nil
		}
		return "", illegal("analysis", action, string(from), string(AnalysisApproved))
	}
	return "", illegal("analysis", action, string(from))
}

// NextStepStatus returns the wizard step status reached by applying action.
func NextStepStatus(from StepStatus, action Action) (StepStatus, error) {
	switch action {
	case ActionGenerate:
		if from == StepPending || from == StepFailed {
			return StepGenerating, nil
		}
		return "", illegal("step", action, string(from), string(StepPending), string(StepFailed))
	case ActionComplete, ActionFail:
		if from != StepGenerating {
			return "", illegal("step", action, string(from), string(StepGenerating))
		}
		if action == ActionComplete {
			return StepGenerated, nil
		}
		return StepFailed, nil
	case ActionRefine:
		if from == StepGenerated {
			return StepGenerating, nil
		}
		return "", illegal("step", action, string(from), string(StepGenerated))
	case ActionApprove:
		if from == StepGenerated {
			return StepApproved, nil
		}
		return "", illegal("step", action, string(from), string(StepGenerated))
	}
	return "", illegal("step", action, string(from))
}

// PDFAvailable reports whether a rendered report may be downloaded or
// published for an analysis in status s.
func PDFAvailable(s AnalysisStatus) bool {
	return s == AnalysisApproved || s == AnalysisSent
}

func illegal(entity string, action Action, current string, required ...string) *apperr.TransitionError {
	return apperr.IllegalTransition(entity, "", string(action), current, required...)
}

func quote(s string) string {
	return `"` + s + `"`
}
