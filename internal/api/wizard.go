package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/framework"
	"github.com/sells-group/strategy-cli/internal/model"
)

type generateRequest struct {
	Context string            `json:"context"`
	Answers map[string]string `json:"answers"`
}

type refineRequest struct {
	Context string `json:"context"`
}

// wizardResponse pairs the state with the questions of the active step.
type wizardResponse struct {
	*model.WizardState
	Framework *framework.Framework `json:"framework,omitempty"`
}

func (s *Server) wizardJSON(w http.ResponseWriter, status int, state *model.WizardState) {
	resp := wizardResponse{WizardState: state}
	if fw, err := s.Wizard.Framework(state); err == nil {
		resp.Framework = &fw
	}
	writeJSON(w, status, resp)
}

func (s *Server) wizardState(w http.ResponseWriter, r *http.Request) {
	state, err := s.Wizard.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	s.wizardJSON(w, http.StatusOK, state)
}

func (s *Server) wizardGenerate(w http.ResponseWriter, r *http.Request) {
	step, err := parseInt(chi.URLParam(r, "step"), "step")
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	var req generateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	state, err := s.Wizard.Generate(r.Context(), chi.URLParam(r, "id"), step, req.Context, req.Answers)
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	s.wizardJSON(w, http.StatusAccepted, state)
}

func (s *Server) wizardApprove(w http.ResponseWriter, r *http.Request) {
	step, err := parseInt(chi.URLParam(r, "step"), "step")
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	state, err := s.Wizard.Approve(r.Context(), chi.URLParam(r, "id"), step)
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	s.wizardJSON(w, http.StatusOK, state)
}

func (s *Server) wizardRefine(w http.ResponseWriter, r *http.Request) {
	step, err := parseInt(chi.URLParam(r, "step"), "step")
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	var req refineRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	if req.Context == "" {
		writeError(w, r, "wizard", apperr.Invalid("context", "is required"))
		return
	}
	state, err := s.Wizard.Refine(r.Context(), chi.URLParam(r, "id"), step, req.Context)
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	s.wizardJSON(w, http.StatusAccepted, state)
}

func (s *Server) wizardFinalize(w http.ResponseWriter, r *http.Request) {
	a, err := s.Wizard.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "wizard", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
