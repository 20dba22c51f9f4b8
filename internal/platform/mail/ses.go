// Package mail sends transactional email through Amazon SES.
package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

// Message is one outgoing email with HTML and plain text bodies.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer is disabled, and drops every message, when no sender address is
// configured.
type SESMailer struct {
	client    sesAPI
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

func NewSESMailer(ctx context.Context, region, fromEmail, fromName string, logger zerolog.Logger) (*SESMailer, error) {
	logger = logger.With().Str("component", "mail").Logger()
	if fromEmail == "" {
		logger.Warn().Msg("email disabled: SES_FROM_EMAIL not configured")
		return &SESMailer{logger: logger}, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	logger.Info().Str("from", fromEmail).Str("region", region).Msg("email enabled")
	return newSESMailer(sesv2.NewFromConfig(cfg), fromEmail, fromName, logger), nil
}

func newSESMailer(client sesAPI, fromEmail, fromName string, logger zerolog.Logger) *SESMailer {
	return &SESMailer{client: client, fromEmail: fromEmail, fromName: fromName, logger: logger}
}

func (m *SESMailer) Enabled() bool {
	return m.client != nil
}

func (m *SESMailer) from() string {
	if m.fromName == "" {
		return m.fromEmail
	}
	return fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	if !m.Enabled() {
		m.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("skipping email, sender disabled")
		return nil
	}
	if msg.To == "" {
		return fmt.Errorf("mail: empty recipient")
	}

	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8(msg.Subject),
				Body: &types.Body{
					Html: utf8(msg.HTML),
					Text: utf8(msg.Text),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	ev := m.logger.Info().Str("to", msg.To).Str("subject", msg.Subject)
	if out != nil && out.MessageId != nil {
		ev = ev.Str("message_id", *out.MessageId)
	}
	ev.Msg("email sent")
	return nil
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
