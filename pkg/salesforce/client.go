// Package salesforce records report deliveries on Salesforce Accounts using
// JWT-authenticated REST calls.
package salesforce

import (
	"context"
	"maps"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Salesforce API operations used for report delivery.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

// Creds identifies a connected app using the JWT bearer flow.
type Creds struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string
}

// ClientOption configures the client.
type ClientOption func(*pacedClient)

// WithRateLimit caps API calls per second. Zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *pacedClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// pacedClient wraps go-salesforce. The library takes no context, so ctx only
// bounds the limiter wait.
type pacedClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialised go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &pacedClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial authenticates with the JWT bearer flow and returns a Client.
func Dial(creds Creds, opts ...ClientOption) (Client, error) {
	if creds.ClientID == "" {
		return nil, eris.New("sf: client id is required")
	}
	if creds.PrivateKey == "" {
		return nil, eris.New("sf: private key is required")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}
	return NewClient(sf, opts...), nil
}

func (c *pacedClient) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *pacedClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	return eris.Wrap(c.sf.Query(soql, out), "sf: query")
}

func (c *pacedClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}
	result, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", sObjectName)
	}
	if !result.Success {
		return "", eris.Errorf("sf: insert %s failed: %v", sObjectName, result.Errors)
	}
	return result.Id, nil
}

func (c *pacedClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if id == "" {
		return eris.Errorf("sf: update %s without an id", sObjectName)
	}
	if err := c.pace(ctx); err != nil {
		return err
	}
	rec := maps.Clone(fields)
	if rec == nil {
		rec = map[string]any{}
	}
	rec["Id"] = id
	return eris.Wrapf(c.sf.UpdateOne(sObjectName, rec), "sf: update %s %s", sObjectName, id)
}
