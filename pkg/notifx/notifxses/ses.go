package notifxses

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/mave-cms/tenantcore/pkg/asyncx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
)

const (
	charset = "UTF-8"

	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
	bulkWorkers     = 4
)

// API is the subset of the SES client the provider calls.
type API interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESProvider implements notifx.EmailSender and notifx.BulkEmailSender using AWS SES.
type SESProvider struct {
	client      API
	fromAddress string
	attempts    int
	backoff     time.Duration
}

// NewSESProvider creates a new SES email provider.
func NewSESProvider(client API, fromAddress string) *SESProvider {
	return &SESProvider{
		client:      client,
		fromAddress: fromAddress,
		attempts:    defaultAttempts,
		backoff:     defaultBackoff,
	}
}

// WithRetry overrides how many times a throttled or failed send is retried
// and the first backoff delay.
func (p *SESProvider) WithRetry(attempts int, backoff time.Duration) *SESProvider {
	p.attempts = attempts
	p.backoff = backoff
	return p
}

// NewFromRegion loads the default AWS credential chain for region and
// returns a provider backed by a real SES client.
func NewFromRegion(ctx context.Context, region, fromAddress string) (*SESProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, sesErrors.NewWithCause(ErrConfig, err).WithDetail("region", region)
	}
	return NewSESProvider(ses.NewFromConfig(cfg), fromAddress), nil
}

// SendEmail sends a single email via SES.
func (p *SESProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	_, err := p.send(ctx, msg, notifx.ApplySendOptions(opts))
	return err
}

func (p *SESProvider) send(ctx context.Context, msg notifx.EmailMessage, so notifx.SendOptions) (string, error) {
	from := msg.From
	if from == "" {
		from = p.fromAddress
	}

	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String(charset)}
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String(charset)}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
			Body:    body,
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if so.ConfigID != "" {
		input.ConfigurationSetName = aws.String(so.ConfigID)
	}
	for k, v := range so.Tags {
		input.Tags = append(input.Tags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	out, err := asyncx.RetryWithBackoff(ctx, p.attempts, p.backoff, func(ctx context.Context) (*ses.SendEmailOutput, error) {
		out, err := p.client.SendEmail(ctx, input)
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			return nil, asyncx.Permanent(err)
		}
		return out, err
	})
	if err != nil {
		return "", sesErrors.NewWithCause(ErrSendFailed, err).
			WithDetail("to", msg.To).
			WithDetail("subject", msg.Subject)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBulkEmail sends each message individually, a few at a time.
func (p *SESProvider) SendBulkEmail(ctx context.Context, msgs []notifx.EmailMessage, opts ...notifx.Option) ([]notifx.SendResult, error) {
	so := notifx.ApplySendOptions(opts)
	ids, errs := asyncx.Pool(ctx, bulkWorkers, msgs, func(ctx context.Context, msg notifx.EmailMessage) (string, error) {
		return p.send(ctx, msg, so)
	})

	results := make([]notifx.SendResult, len(msgs))
	for i, msg := range msgs {
		if len(msg.To) > 0 {
			results[i].To = msg.To[0]
		}
		results[i].MessageID = ids[i]
		results[i].Success = errs == nil || errs[i] == nil
		if !results[i].Success {
			results[i].Error = errs[i].Error()
		}
	}

	return results, nil
}
