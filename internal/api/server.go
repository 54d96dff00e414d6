// Package api exposes the review workflow over HTTP.
package api

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/autosave"
	"github.com/sells-group/strategy-cli/internal/enrichment"
	"github.com/sells-group/strategy-cli/internal/publish"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/wizard"
)

// Deps are the services behind the API.
type Deps struct {
	Store            store.Store
	Gate             *enrichment.Gate
	Analyses         *analysis.Controller
	Wizard           *wizard.Engine
	Publisher        *publish.Pipeline
	EnrichmentDrafts *autosave.Scheduler[EnrichmentDraft]
	AnalysisDrafts   *autosave.Scheduler[AnalysisDraft]
	CORSOrigins      []string
}

// Server routes requests to the workflow services.
type Server struct {
	Deps
	validate *validator.Validate
}

// New builds a Server.
func New(deps Deps) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{Deps: deps, validate: v}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/submissions", func(r chi.Router) {
		r.Post("/", s.createSubmission)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSubmission)
			r.Put("/", s.updateSubmission)

			r.Get("/enrichment", s.getEnrichmentBySubmission)
			r.Post("/retry-enrichment", s.retryEnrichment)

			r.Get("/analysis", s.latestAnalysis)
			r.Get("/analysis/versions", s.listAnalyses)
			r.Post("/retry-analysis", s.retryAnalysis)
			r.Post("/report/publish", s.publishReport)

			r.Get("/wizard", s.wizardState)
			r.Post("/wizard/steps/{step}/generate", s.wizardGenerate)
			r.Post("/wizard/steps/{step}/approve", s.wizardApprove)
			r.Post("/wizard/steps/{step}/refine", s.wizardRefine)
			r.Post("/wizard/finalize", s.wizardFinalize)
		})
	})

	r.Route("/enrichment/{id}", func(r chi.Router) {
		r.Get("/", s.getEnrichment)
		r.Put("/", s.updateEnrichment)
		r.Delete("/draft", s.discardEnrichmentDraft)
		r.Post("/approve", s.approveEnrichment)
		r.Post("/lease", s.claimEnrichment)
		r.Delete("/lease", s.releaseEnrichment)
	})

	r.Route("/analysis/{id}", func(r chi.Router) {
		r.Get("/", s.getAnalysis)
		r.Put("/", s.updateAnalysis)
		r.Delete("/draft", s.discardAnalysisDraft)
		r.Post("/approve", s.approveAnalysis)
		r.Post("/send", s.sendAnalysis)
		r.Post("/version", s.createVersion)
		r.Get("/pdf", s.downloadPDF)
		r.Post("/pdf", s.renderPDF)
	})

	return r
}
