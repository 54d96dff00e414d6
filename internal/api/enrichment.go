package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
)

type enrichmentEdit struct {
	Data             *model.EnrichmentData `json:"data"`
	LeaseToken       string                `json:"lease_token"`
	ExpectedRevision int64                 `json:"expected_revision"`
}

type claimRequest struct {
	Operator string `json:"operator" validate:"required"`
}

type releaseRequest struct {
	LeaseToken string `json:"lease_token" validate:"required"`
}

// pendingResponse acknowledges an edit buffered for autosave.
type pendingResponse struct {
	ID      string `json:"id"`
	Pending bool   `json:"pending"`
}

func (s *Server) getEnrichment(w http.ResponseWriter, r *http.Request) {
	e, err := s.Gate.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// updateEnrichment merges partial data. With ?autosave=true the edit is
// buffered and saved once edits go quiet; otherwise it is saved now along
// with any buffered draft.
func (s *Server) updateEnrichment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req enrichmentEdit
	if err := decode(r, &req); err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	if req.Data == nil {
		writeError(w, r, "enrichment", apperr.Invalid("data", "is required"))
		return
	}
	draft := EnrichmentDraft{Data: *req.Data, Token: req.LeaseToken, ExpectedRevision: req.ExpectedRevision}

	if boolQuery(r, "autosave") {
		s.EnrichmentDrafts.Edit(id, draft)
		writeJSON(w, http.StatusAccepted, pendingResponse{ID: id, Pending: true})
		return
	}
	if err := s.EnrichmentDrafts.Save(r.Context(), id, draft); err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	s.getEnrichment(w, r)
}

func (s *Server) discardEnrichmentDraft(w http.ResponseWriter, r *http.Request) {
	s.EnrichmentDrafts.Discard(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// approveEnrichment folds any buffered draft into the request's edits and
// approves in one write.
func (s *Server) approveEnrichment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req enrichmentEdit
	if err := decode(r, &req); err != nil {
		writeError(w, r, "enrichment", err)
		return
	}

	draft, pending, err := s.EnrichmentDrafts.Take(id)
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	edits := req.Data
	if pending {
		merged := draft.Data.Clone()
		if edits != nil {
			merged.Merge(*edits)
		}
		edits = &merged
	}

	e, err := s.Gate.Approve(r.Context(), id, edits, req.LeaseToken, req.ExpectedRevision)
	if err != nil {
		if pending {
			s.EnrichmentDrafts.Edit(id, draft)
		}
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) claimEnrichment(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, "enrichment", validationError(err))
		return
	}
	l, err := s.Gate.Claim(r.Context(), chi.URLParam(r, "id"), req.Operator)
	if err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) releaseEnrichment(w http.ResponseWriter, r *http.Request) {
	req := releaseRequest{LeaseToken: r.URL.Query().Get("lease_token")}
	if req.LeaseToken == "" {
		if err := decode(r, &req); err != nil {
			writeError(w, r, "enrichment", err)
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, "enrichment", validationError(err))
		return
	}
	if err := s.Gate.Release(r.Context(), chi.URLParam(r, "id"), req.LeaseToken); err != nil {
		writeError(w, r, "enrichment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
