package model

import (
	"errors"
	"time"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

// Submission is the customer's intake form: company facts plus contact
// details. Its status is informational only.
type Submission struct {
	ID           string           `json:"id"`
	CompanyName  string           `json:"company_name" validate:"required"`
	Website      string           `json:"website,omitempty" validate:"omitempty,url"`
	Industry     string           `json:"industry,omitempty"`
	Country      string           `json:"country,omitempty"`
	Challenge    string           `json:"challenge,omitempty"`
	ContactName  string           `json:"contact_name,omitempty"`
	ContactEmail string           `json:"contact_email" validate:"required,email"`
	SalesforceID string           `json:"salesforce_id,omitempty"`
	NotionPageID string           `json:"notion_page_id,omitempty"`
	Status       SubmissionStatus `json:"status"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func withID(err error, id string) error {
	var te *apperr.TransitionError
	if errors.As(err, &te) {
		te.ID = id
	}
	return err
}
