package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/store"
)

// intakeRequest is the customer intake form.
type intakeRequest struct {
	CompanyName      string `json:"company_name" validate:"required,max=200"`
	Website          string `json:"website" validate:"omitempty,url"`
	Industry         string `json:"industry" validate:"max=200"`
	Country          string `json:"country" validate:"max=100"`
	Challenge        string `json:"challenge" validate:"max=5000"`
	ContactName      string `json:"contact_name" validate:"max=200"`
	ContactEmail     string `json:"contact_email" validate:"required,email"`
	SalesforceID     string `json:"salesforce_id"`
	NotionPageID     string `json:"notion_page_id"`
	ExpectedRevision int64  `json:"expected_revision"`
}

func (req intakeRequest) apply(sub *model.Submission) {
	sub.CompanyName = req.CompanyName
	sub.Website = req.Website
	sub.Industry = req.Industry
	sub.Country = req.Country
	sub.Challenge = req.Challenge
	sub.ContactName = req.ContactName
	sub.ContactEmail = req.ContactEmail
	sub.SalesforceID = req.SalesforceID
	sub.NotionPageID = req.NotionPageID
}

type intakeResponse struct {
	Submission *model.Submission `json:"submission"`
	Enrichment *model.Enrichment `json:"enrichment"`
}

// createSubmission stores the intake form and starts enrichment.
func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "submission", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, "submission", validationError(err))
		return
	}

	sub := &model.Submission{Status: model.SubmissionReceived}
	req.apply(sub)
	if err := s.Store.CreateSubmission(r.Context(), sub); err != nil {
		writeError(w, r, "submission", err)
		return
	}
	zap.L().Info("api: submission received",
		zap.String("submission_id", sub.ID),
		zap.String("company", sub.CompanyName),
	)

	enr, err := s.Gate.Start(r.Context(), sub.ID)
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusCreated, intakeResponse{Submission: sub, Enrichment: enr})
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "submission", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// updateSubmission edits the company facts. Status is left alone.
func (s *Server) updateSubmission(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "submission", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, "submission", validationError(err))
		return
	}

	id := chi.URLParam(r, "id")
	sub, err := store.Mutate(r.Context(),
		func(ctx context.Context) (*model.Submission, error) { return s.Store.GetSubmission(ctx, id) },
		s.Store.UpdateSubmission,
		func(sub *model.Submission) error {
			if req.ExpectedRevision != 0 && sub.Revision != req.ExpectedRevision {
				return apperr.ErrRevisionConflict
			}
			req.apply(sub)
			return nil
		})
	if err != nil {
		writeError(w, r, "submission", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) getEnrichmentBySubmission(w http.ResponseWriter, r *http.Request) {
	e, err := s.Gate.GetBySubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) retryEnrichment(w http.ResponseWriter, r *http.Request) {
	e, err := s.Gate.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

func (s *Server) latestAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.Analyses.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Analyses.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	if versions == nil {
		versions = []model.Analysis{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) retryAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.Analyses.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) publishReport(w http.ResponseWriter, r *http.Request) {
	res, err := s.Publisher.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
