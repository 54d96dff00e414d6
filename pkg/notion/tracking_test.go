package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func bySubmission(id string) any {
	return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == PropSubmissionID && pf.RichText != nil && pf.RichText.Equals == id
	})
}

func TestTrack_ReusesExistingPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db1", bySubmission("s1")).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-1"}}}, nil)

	id, err := Track(ctx, mc, "db1", Tracked{SubmissionID: "s1", Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "page-1", id)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestTrack_CreatesPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db1", bySubmission("s1")).
		Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		name, ok := req.Properties[PropName].(notionapi.TitleProperty)
		status, ok2 := req.Properties[PropStatus].(notionapi.StatusProperty)
		return ok && ok2 && req.Parent.DatabaseID == "db1" &&
			name.Title[0].Text.Content == "Acme" && status.Status.Name == "received"
	})).Return(&notionapi.Page{ID: "page-new"}, nil)

	id, err := Track(ctx, mc, "db1", Tracked{SubmissionID: "s1", Company: "Acme", ContactEmail: "a@b.test", Status: "received"})
	require.NoError(t, err)
	assert.Equal(t, "page-new", id)
	mc.AssertExpectations(t)
}

func TestTrack_QueryError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db1", mock.Anything).Return(nil, assert.AnError)

	_, err := Track(ctx, mc, "db1", Tracked{SubmissionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: find tracking page")
}

func TestSetStatus(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		st, ok := req.Properties["Stage"].(notionapi.StatusProperty)
		u, ok2 := req.Properties["PDF"].(notionapi.URLProperty)
		v, ok3 := req.Properties[PropVersion].(notionapi.NumberProperty)
		return ok && ok2 && ok3 && st.Status.Name == "Report Sent" && u.URL == "https://pdf.test/r.pdf" && v.Number == 2
	})).Return(&notionapi.Page{ID: "page-1"}, nil)

	require.NoError(t, SetStatus(ctx, mc, "page-1", Progress{
		StatusProperty: "Stage",
		Status:         "Report Sent",
		ReportProperty: "PDF",
		ReportURL:      "https://pdf.test/r.pdf",
		Version:        2,
	}))
	mc.AssertExpectations(t)
}

func TestSetStatus_Defaults(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		_, hasStatus := req.Properties[PropStatus]
		_, hasReport := req.Properties[PropReport]
		_, hasVersion := req.Properties[PropVersion]
		return hasStatus && !hasReport && !hasVersion
	})).Return(&notionapi.Page{ID: "page-1"}, nil)

	require.NoError(t, SetStatus(ctx, mc, "page-1", Progress{Status: "In Review"}))
	mc.AssertExpectations(t)
}

func TestSetStatus_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("UpdatePage", ctx, "page-1", mock.Anything).Return(nil, assert.AnError)

	err := SetStatus(ctx, mc, "page-1", Progress{Status: "Report Sent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: set status")
}

func TestNewClient_Options(t *testing.T) {
	c := NewClient("secret", WithRateLimit(0))
	nc, ok := c.(*limitedClient)
	require.True(t, ok)
	assert.Nil(t, nc.limiter)

	c = NewClient("secret", WithRateLimit(10))
	assert.NotNil(t, c.(*limitedClient).limiter)

	assert.NotNil(t, NewClient("secret").(*limitedClient).limiter)
}
