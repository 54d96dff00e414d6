package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Account is the subset of Account fields used to match a submission.
type Account struct {
	ID      string `json:"Id" salesforce:"Id"`
	Name    string `json:"Name" salesforce:"Name"`
	Website string `json:"Website" salesforce:"Website"`
}

// Delivery describes a report that was sent to a customer.
type Delivery struct {
	AccountID string
	Field     string // custom Account field holding the report URL
	ReportURL string
	Recipient string
	Version   int
	SentAt    time.Time
}

// FindAccount looks up an Account by website, falling back to an exact name
// match. Returns nil if nothing matches.
func FindAccount(ctx context.Context, c Client, name, website string) (*Account, error) {
	var where []string
	if website != "" {
		where = append(where, fmt.Sprintf("Website LIKE '%%%s%%'", escapeSoql(domainOf(website))))
	}
	if name != "" {
		where = append(where, fmt.Sprintf("Name = '%s'", escapeSoql(name)))
	}
	if len(where) == 0 {
		return nil, nil
	}

	soql := "SELECT Id, Name, Website FROM Account WHERE " + strings.Join(where, " OR ") + " LIMIT 1"
	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, "sf: find account")
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// RecordDelivery stores the report URL on the Account and logs a completed
// Task against it.
func RecordDelivery(ctx context.Context, c Client, d Delivery) error {
	if d.AccountID == "" {
		return eris.New("sf: account id is required")
	}
	if d.Field == "" {
		return eris.New("sf: report url field is required")
	}

	if err := c.UpdateOne(ctx, "Account", d.AccountID, map[string]any{d.Field: d.ReportURL}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: record report on account %s", d.AccountID))
	}

	_, err := c.InsertOne(ctx, "Task", map[string]any{
		"WhatId":       d.AccountID,
		"Subject":      fmt.Sprintf("Strategy report v%d sent", d.Version),
		"Description":  fmt.Sprintf("Sent to %s\n%s", d.Recipient, d.ReportURL),
		"Status":       "Completed",
		"ActivityDate": d.SentAt.Format("2006-01-02"),
	})
	if err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: log delivery task on account %s", d.AccountID))
	}
	return nil
}

func domainOf(website string) string {
	s := strings.ToLower(strings.TrimSpace(website))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// escapeSoql escapes single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
