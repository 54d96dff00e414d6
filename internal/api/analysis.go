package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
)

type analysisEdit struct {
	Frameworks       []model.FrameworkOutput `json:"frameworks"`
	ExpectedRevision int64                   `json:"expected_revision"`
}

type sendRequest struct {
	UserEmail string `json:"userEmail"`
}

type pdfResponse struct {
	ID     string `json:"id"`
	PDFURL string `json:"pdf_url"`
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.Analyses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// updateAnalysis replaces edited frameworks, buffered with ?autosave=true.
func (s *Server) updateAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req analysisEdit
	if err := decode(r, &req); err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	if len(req.Frameworks) == 0 {
		writeError(w, r, "analysis", apperr.Invalid("frameworks", "is required"))
		return
	}
	for _, f := range req.Frameworks {
		if err := f.Validate(); err != nil {
			writeError(w, r, "analysis", err)
			return
		}
	}
	draft := AnalysisDraft{Frameworks: req.Frameworks, ExpectedRevision: req.ExpectedRevision}

	if boolQuery(r, "autosave") {
		s.AnalysisDrafts.Edit(id, draft)
		writeJSON(w, http.StatusAccepted, pendingResponse{ID: id, Pending: true})
		return
	}
	if err := s.AnalysisDrafts.Save(r.Context(), id, draft); err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	s.getAnalysis(w, r)
}

func (s *Server) discardAnalysisDraft(w http.ResponseWriter, r *http.Request) {
	s.AnalysisDrafts.Discard(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// approveAnalysis approves with any buffered draft and renders the PDF. A
// render failure is reported after the version is already approved.
func (s *Server) approveAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req analysisEdit
	if err := decode(r, &req); err != nil {
		writeError(w, r, "analysis", err)
		return
	}

	draft, pending, err := s.AnalysisDrafts.Take(id)
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	edits := req.Frameworks
	if pending {
		merged := &model.Analysis{Frameworks: model.CloneOutputs(draft.Frameworks)}
		merged.ReplaceFrameworks(req.Frameworks)
		edits = merged.Frameworks
	}

	a, err := s.Publisher.Approve(r.Context(), id, edits, req.ExpectedRevision)
	if err != nil {
		if a == nil && pending {
			s.AnalysisDrafts.Edit(id, draft)
		}
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) sendAnalysis(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	a, err := s.Publisher.Send(r.Context(), chi.URLParam(r, "id"), req.UserEmail)
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	a, err := s.Analyses.CreateVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) downloadPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	url, err := s.Publisher.Download(r.Context(), id)
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, pdfResponse{ID: id, PDFURL: url})
}

// renderPDF regenerates the PDF, e.g. after a failed render.
func (s *Server) renderPDF(w http.ResponseWriter, r *http.Request) {
	a, err := s.Publisher.Render(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, pdfResponse{ID: a.ID, PDFURL: a.PDFURL})
}
