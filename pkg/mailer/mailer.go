// Package mailer delivers report emails through SES or, for local runs, the log.
package mailer

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Message is a plain-text email with an optional HTML alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SES sends mail through Amazon SES.
type SES struct {
	api  SESAPI
	from string
}

// NewSES wraps an SES client.
func NewSES(api SESAPI, from string) *SES {
	return &SES{api: api, from: from}
}

// DialSES loads the default AWS credential chain for region.
func DialSES(ctx context.Context, region, from string) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "mailer: load aws config")
	}
	return NewSES(ses.NewFromConfig(cfg), from), nil
}

// Send implements Mailer.
func (s *SES) Send(ctx context.Context, msg Message) error {
	body := &types.Body{Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	out, err := s.api.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return eris.Wrapf(err, "mailer: ses send to %s", msg.To)
	}
	zap.L().Info("mailer: sent",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

// Log writes messages to the logger instead of sending them.
type Log struct{}

// Send implements Mailer.
func (Log) Send(_ context.Context, msg Message) error {
	zap.L().Info("mailer: message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}

// New selects a Mailer by provider name: "ses" or "log".
func New(ctx context.Context, provider, region, from string) (Mailer, error) {
	switch strings.ToLower(provider) {
	case "", "log":
		return Log{}, nil
	case "ses":
		return DialSES(ctx, region, from)
	default:
		return nil, eris.Errorf("mailer: unknown provider %q", provider)
	}
}
