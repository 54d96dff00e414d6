package publish

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/pkg/notion"
	"github.com/sells-group/strategy-cli/pkg/salesforce"
)

// NotionSink moves the submission's tracking page to a delivered status.
type NotionSink struct {
	Client         notion.Client
	DatabaseID     string
	StatusProperty string
	ReportProperty string
	Status         string // e.g. "Report Sent"
}

// Name implements Sink.
func (s *NotionSink) Name() string { return "notion" }

// Delivered implements Sink. Without a known page it finds or creates one in
// DatabaseID.
func (s *NotionSink) Delivered(ctx context.Context, sub *model.Submission, a *model.Analysis) error {
	pageID := sub.NotionPageID
	if pageID == "" {
		if s.DatabaseID == "" {
			zap.L().Debug("publish: no notion page or database, skipping", zap.String("submission_id", sub.ID))
			return nil
		}
		var err error
		pageID, err = notion.Track(ctx, s.Client, s.DatabaseID, notion.Tracked{
			SubmissionID: sub.ID,
			Company:      sub.CompanyName,
			ContactEmail: sub.ContactEmail,
			Status:       s.Status,
		})
		if err != nil {
			return err
		}
	}
	return notion.SetStatus(ctx, s.Client, pageID, notion.Progress{
		StatusProperty: s.StatusProperty,
		Status:         s.Status,
		ReportProperty: s.ReportProperty,
		ReportURL:      a.PDFURL,
		Version:        a.Version,
	})
}

// SalesforceSink records the report URL on the customer's Account.
type SalesforceSink struct {
	Client         salesforce.Client
	ReportURLField string
}

// Name implements Sink.
func (s *SalesforceSink) Name() string { return "salesforce" }

// Delivered implements Sink. Submissions without a matching Account are
// skipped.
func (s *SalesforceSink) Delivered(ctx context.Context, sub *model.Submission, a *model.Analysis) error {
	accountID := sub.SalesforceID
	if accountID == "" {
		acct, err := salesforce.FindAccount(ctx, s.Client, sub.CompanyName, sub.Website)
		if err != nil {
			return err
		}
		if acct == nil {
			zap.L().Info("publish: no salesforce account matched", zap.String("submission_id", sub.ID))
			return nil
		}
		accountID = acct.ID
	}

	sentAt := a.UpdatedAt
	if a.SentAt != nil {
		sentAt = *a.SentAt
	}
	return salesforce.RecordDelivery(ctx, s.Client, salesforce.Delivery{
		AccountID: accountID,
		Field:     s.ReportURLField,
		ReportURL: a.PDFURL,
		Recipient: a.SentTo,
		Version:   a.Version,
		SentAt:    sentAt,
	})
}
