package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	return NewClient(sf, WithRateLimit(100))
}

func TestSFClient_Query(t *testing.T) {
	var soql string
	client := newTestSFClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/query")
		soql = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalSize": 1,
			"done":      true,
			"records": []map[string]any{{
				"attributes": map[string]any{"type": "Account"},
				"Id":         "001xx",
				"Name":       "Acme Corp",
				"Website":    "acme.com",
			}},
		})
	}))

	acct, err := FindAccount(context.Background(), client, "Acme Corp", "https://www.acme.com/about")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "001xx", acct.ID)
	assert.Contains(t, soql, "Website LIKE '%acme.com%'")
	assert.Contains(t, soql, "Name = 'Acme Corp'")
}

func TestSFClient_QueryError(t *testing.T) {
	client := newTestSFClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"message": "invalid SOQL", "errorCode": "MALFORMED_QUERY"},
		})
	}))

	var out []Account
	err := client.Query(context.Background(), "INVALID", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: query")
}

func TestSFClient_InsertOneFailure(t *testing.T) {
	client := newTestSFClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "",
				"success": false,
				"errors":  []map[string]any{{"message": "required field missing"}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.InsertOne(context.Background(), "Task", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert Task failed")
}

func TestRecordDelivery(t *testing.T) {
	var (
		mu      sync.Mutex
		patched map[string]any
		task    map[string]any
	)
	client := newTestSFClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPatch && strings.Contains(r.URL.Path, "/sobjects/Account/001xx"):
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/sobjects/Task"):
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&task))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "00Txx", "success": true, "errors": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	err := RecordDelivery(context.Background(), client, Delivery{
		AccountID: "001xx",
		Field:     "Strategy_Report_URL__c",
		ReportURL: "https://pdf.test/r.pdf",
		Recipient: "ceo@acme.test",
		Version:   2,
		SentAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "https://pdf.test/r.pdf", patched["Strategy_Report_URL__c"])
	assert.Equal(t, "001xx", task["WhatId"])
	assert.Equal(t, "Strategy report v2 sent", task["Subject"])
	assert.Equal(t, "2026-03-01", task["ActivityDate"])
}

func TestRecordDelivery_Validation(t *testing.T) {
	err := RecordDelivery(context.Background(), nil, Delivery{Field: "X"})
	assert.ErrorContains(t, err, "account id is required")

	err = RecordDelivery(context.Background(), nil, Delivery{AccountID: "001"})
	assert.ErrorContains(t, err, "report url field is required")
}

func TestFindAccount_NoCriteria(t *testing.T) {
	acct, err := FindAccount(context.Background(), nil, "", "")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestDomainOfAndEscape(t *testing.T) {
	assert.Equal(t, "acme.com", domainOf(" HTTPS://www.Acme.com/path "))
	assert.Equal(t, "O\\'Brien", escapeSoql("O'Brien"))
}

func TestDial_RequiresClientID(t *testing.T) {
	_, err := Dial(Creds{})
	assert.ErrorContains(t, err, "client id is required")
}

func TestDial_RequiresPrivateKey(t *testing.T) {
	_, err := Dial(Creds{ClientID: "cid"})
	assert.ErrorContains(t, err, "private key is required")
}

func TestSFClient_UpdateOneRequiresID(t *testing.T) {
	client := newTestSFClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	}))

	err := client.UpdateOne(context.Background(), "Account", "", map[string]any{"Name": "x"})
	assert.ErrorContains(t, err, "without an id")
}

func TestWithRateLimit_Zero(t *testing.T) {
	c := NewClient(nil, WithRateLimit(5), WithRateLimit(0)).(*pacedClient)
	assert.Nil(t, c.limiter)
}
