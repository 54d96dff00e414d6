package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names on the tracking database.
const (
	PropName         = "Name"
	PropSubmissionID = "Submission ID"
	PropContact      = "Contact"
	PropStatus       = "Status"
	PropReport       = "Report"
	PropVersion      = "Version"
)

// Tracked is the submission summary mirrored onto a tracking page.
type Tracked struct {
	SubmissionID string
	Company      string
	ContactEmail string
	Status       string
}

// FindPage returns the tracking page id for a submission, or "" if none.
func FindPage(ctx context.Context, c Client, dbID, submissionID string) (string, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropSubmissionID,
			RichText: &notionapi.TextFilterCondition{Equals: submissionID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: find tracking page")
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// Track returns the submission's tracking page, creating it if absent.
func Track(ctx context.Context, c Client, dbID string, t Tracked) (string, error) {
	if id, err := FindPage(ctx, c, dbID, t.SubmissionID); err != nil || id != "" {
		return id, err
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: notionapi.Properties{
			PropName:         title(t.Company),
			PropSubmissionID: richText(t.SubmissionID),
			PropContact:      notionapi.EmailProperty{Type: notionapi.PropertyTypeEmail, Email: t.ContactEmail},
			PropStatus:       notionapi.StatusProperty{Status: notionapi.Status{Name: t.Status}},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: create tracking page")
	}
	return string(page.ID), nil
}

// Progress is a tracking page update. Empty property names fall back to
// the defaults; an empty ReportURL leaves the link alone.
type Progress struct {
	StatusProperty string
	Status         string
	ReportProperty string
	ReportURL      string
	Version        int
}

// SetStatus writes p to a tracking page.
func SetStatus(ctx context.Context, c Client, pageID string, p Progress) error {
	statusProp, reportProp := p.StatusProperty, p.ReportProperty
	if statusProp == "" {
		statusProp = PropStatus
	}
	if reportProp == "" {
		reportProp = PropReport
	}
	props := notionapi.Properties{
		statusProp: notionapi.StatusProperty{Status: notionapi.Status{Name: p.Status}},
	}
	if p.ReportURL != "" {
		props[reportProp] = notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: p.ReportURL}
	}
	if p.Version > 0 {
		props[PropVersion] = notionapi.NumberProperty{Type: notionapi.PropertyTypeNumber, Number: float64(p.Version)}
	}
	if _, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
		return eris.Wrap(err, "notion: set status")
	}
	return nil
}

func title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}
