// Package publish turns an approved analysis version into a delivered report:
// PDF rendering, the customer email and the CRM/Notion notifications.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/lease"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/report"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/pkg/mailer"
	"github.com/sells-group/strategy-cli/pkg/pdf"
)

// Renderer produces a PDF for a report document and returns its URL.
type Renderer interface {
	Render(ctx context.Context, doc pdf.Document) (string, error)
}

// Sink is notified after a report has been delivered.
type Sink interface {
	Name() string
	Delivered(ctx context.Context, sub *model.Submission, a *model.Analysis) error
}

// sendLeaseTTL bounds how long one Send may hold a version while it
// renders and mails.
const sendLeaseTTL = 5 * time.Minute

// Result is the published report reference for a submission.
type Result struct {
	ReportID string `json:"report_id"`
	PDFURL   string `json:"pdf_url"`
}

// Pipeline coordinates approval, rendering and delivery.
type Pipeline struct {
	store    store.Store
	analyses *analysis.Controller
	renderer Renderer
	mail     mailer.Mailer
	sinks    []Sink
	bus      *events.Bus
	guard    *resilience.Guard
	leases   lease.Manager
	validate *validator.Validate
}

// New wires a Pipeline. Sinks may be empty; they run from HandleSent.
func New(st store.Store, analyses *analysis.Controller, renderer Renderer, mail mailer.Mailer, bus *events.Bus, guard *resilience.Guard, leases lease.Manager, sinks ...Sink) *Pipeline {
	return &Pipeline{
		store:    st,
		analyses: analyses,
		renderer: renderer,
		mail:     mail,
		sinks:    sinks,
		bus:      bus,
		guard:    guard,
		leases:   leases,
		validate: validator.New(),
	}
}

// Approve saves edits, approves the version and renders its PDF. A render
// failure leaves the version approved without a URL; the approved version
// is returned together with the error.
func (p *Pipeline) Approve(ctx context.Context, id string, edits []model.FrameworkOutput, expectedRevision int64) (*model.Analysis, error) {
	a, err := p.analyses.Approve(ctx, id, edits, expectedRevision)
	if err != nil {
		return nil, err
	}

	rendered, err := p.Render(ctx, id)
	if err != nil {
		zap.L().Warn("publish: pdf render failed after approval",
			zap.String("analysis_id", id),
			zap.Error(err),
		)
		return a, err
	}
	return rendered, nil
}

// Render (re)generates the PDF for an approved or sent version.
func (p *Pipeline) Render(ctx context.Context, id string) (*model.Analysis, error) {
	a, err := p.analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.PDFAvailable(a.Status) {
		return nil, apperr.IllegalTransition("analysis", a.ID, "render pdf", string(a.Status),
			string(model.AnalysisApproved), string(model.AnalysisSent))
	}
	sub, err := p.store.GetSubmission(ctx, a.SubmissionID)
	if err != nil {
		return nil, err
	}

	doc := pdf.Document{
		ReportID: report.ID(a),
		Title:    report.Title(sub),
		Markdown: report.Format(sub, a),
		Meta:     map[string]string{"submission_id": sub.ID, "version": fmt.Sprint(a.Version)},
	}

	start := time.Now()
	url, err := resilience.Call(ctx, p.guard, "pdf", "render", func(ctx context.Context) (string, error) {
		return p.renderer.Render(ctx, doc)
	})
	metrics.GenerationDuration.WithLabelValues("pdf", metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("pdf").Inc()
		return nil, err
	}

	zap.L().Info("publish: pdf rendered",
		zap.String("analysis_id", a.ID),
		zap.String("report_id", doc.ReportID),
	)
	return p.analyses.AttachReport(ctx, a.ID, doc.ReportID, url)
}

// Send emails the report to recipient and marks the version sent. The
// version must be approved. One send per version runs at a time: a second
// caller fails with apperr.ErrLocked before anything is mailed.
func (p *Pipeline) Send(ctx context.Context, id, recipient string) (*model.Analysis, error) {
	if err := p.validate.Var(recipient, "required,email"); err != nil {
		return nil, apperr.Invalid("userEmail", "must be a valid email address")
	}

	claim, err := p.leases.Acquire(ctx, sendResource(id), uuid.New().String(), sendLeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.leases.Release(context.WithoutCancel(ctx), claim.Resource, claim.Token); err != nil {
			zap.L().Warn("publish: release send lease", zap.String("analysis_id", id), zap.Error(err))
		}
	}()

	a, err := p.analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AnalysisApproved {
		return nil, apperr.IllegalTransition("analysis", a.ID, "send", string(a.Status), string(model.AnalysisApproved))
	}
	if a.PDFURL == "" {
		if a, err = p.Render(ctx, id); err != nil {
			return nil, err
		}
	}
	sub, err := p.store.GetSubmission(ctx, a.SubmissionID)
	if err != nil {
		return nil, err
	}

	msg := mailer.Message{
		To:      recipient,
		Subject: report.Title(sub),
		Text:    emailText(sub, a),
	}
	_, err = resilience.Call(ctx, p.guard, "mail", "send", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.mail.Send(ctx, msg)
	})
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("mail").Inc()
		return nil, err
	}

	sent, err := p.analyses.MarkSent(ctx, id, recipient)
	if err != nil {
		return nil, err
	}
	p.bus.Publish(ctx, events.Event{Topic: events.AnalysisSent, SubmissionID: sent.SubmissionID, EntityID: sent.ID})
	return sent, nil
}

// HandleSent is the events.AnalysisSent subscriber: it notifies the
// delivery sinks and marks the submission published.
func (p *Pipeline) HandleSent(ctx context.Context, ev events.Event) error {
	a, err := p.analyses.Get(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	sub, err := p.store.GetSubmission(ctx, a.SubmissionID)
	if err != nil {
		return err
	}
	p.notify(ctx, sub, a)
	p.markPublished(ctx, sub.ID)
	return nil
}

func sendResource(id string) string {
	return "analysis:" + id + ":send"
}

// Publish returns the report reference for the submission's latest version,
// rendering it first if needed. Status never changes.
func (p *Pipeline) Publish(ctx context.Context, submissionID string) (*Result, error) {
	a, err := p.analyses.Latest(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	a, err = p.ensurePDF(ctx, a, "publish")
	if err != nil {
		return nil, err
	}
	return &Result{ReportID: a.ReportID, PDFURL: a.PDFURL}, nil
}

// Download returns the PDF URL for an approved or sent version.
func (p *Pipeline) Download(ctx context.Context, id string) (string, error) {
	a, err := p.analyses.Get(ctx, id)
	if err != nil {
		return "", err
	}
	a, err = p.ensurePDF(ctx, a, "download")
	if err != nil {
		return "", err
	}
	return a.PDFURL, nil
}

func (p *Pipeline) ensurePDF(ctx context.Context, a *model.Analysis, action string) (*model.Analysis, error) {
	if !model.PDFAvailable(a.Status) {
		return nil, apperr.IllegalTransition("analysis", a.ID, action, string(a.Status),
			string(model.AnalysisApproved), string(model.AnalysisSent))
	}
	if a.PDFURL != "" {
		return a, nil
	}
	return p.Render(ctx, a.ID)
}

// notify runs every sink concurrently. Sink failures are logged only.
func (p *Pipeline) notify(ctx context.Context, sub *model.Submission, a *model.Analysis) {
	var g errgroup.Group
	for _, s := range p.sinks {
		g.Go(func() error {
			if err := s.Delivered(ctx, sub, a); err != nil {
				metrics.ExternalFailures.WithLabelValues(s.Name()).Inc()
				zap.L().Warn("publish: sink failed",
					zap.String("sink", s.Name()),
					zap.String("analysis_id", a.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) markPublished(ctx context.Context, submissionID string) {
	_, err := store.Mutate(ctx,
		func(ctx context.Context) (*model.Submission, error) { return p.store.GetSubmission(ctx, submissionID) },
		p.store.UpdateSubmission,
		func(s *model.Submission) error {
			if s.Status == model.SubmissionPublished {
				return store.ErrNoChange
			}
			s.Status = model.SubmissionPublished
			return nil
		})
	if err != nil {
		zap.L().Warn("publish: mark submission published", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func emailText(sub *model.Submission, a *model.Analysis) string {
	greeting := "Hello"
	if sub.ContactName != "" {
		greeting += " " + sub.ContactName
	}
	return fmt.Sprintf("%s,\n\nYour strategic analysis for %s is ready.\n\nDownload the report: %s\n\nIt covers %d frameworks. Reply to this email with any questions.\n",
		greeting, sub.CompanyName, a.PDFURL, len(a.Frameworks))
}
