package notifxses_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
	"github.com/mave-cms/tenantcore/pkg/notifx/notifxses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	mu       sync.Mutex
	inputs   []*ses.SendEmailInput
	failures int
	err      error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("throttled")
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSES) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func message() notifx.EmailMessage {
	return notifx.EmailMessage{
		To:       []string{"ana@acme.test"},
		Subject:  "Welcome",
		TextBody: "hi",
		HTMLBody: "<p>hi</p>",
		ReplyTo:  "support@mave.io",
	}
}

func TestSendEmailBuildsInput(t *testing.T) {
	api := &fakeSES{}
	p := notifxses.NewSESProvider(api, "Mave <no-reply@mave.io>")

	err := p.SendEmail(context.Background(), message(), notifx.WithConfigID("tx"), notifx.WithTags(map[string]string{"kind": "welcome"}))
	require.NoError(t, err)
	require.Equal(t, 1, api.calls())

	in := api.inputs[0]
	assert.Equal(t, "Mave <no-reply@mave.io>", aws.ToString(in.Source))
	assert.Equal(t, []string{"ana@acme.test"}, in.Destination.ToAddresses)
	assert.Equal(t, "Welcome", aws.ToString(in.Message.Subject.Data))
	assert.Equal(t, "hi", aws.ToString(in.Message.Body.Text.Data))
	assert.Equal(t, []string{"support@mave.io"}, in.ReplyToAddresses)
	assert.Equal(t, "tx", aws.ToString(in.ConfigurationSetName))
	require.Len(t, in.Tags, 1)
	assert.Equal(t, "kind", aws.ToString(in.Tags[0].Name))
}

func TestSendEmailRetriesTransientFailures(t *testing.T) {
	api := &fakeSES{failures: 2}
	p := notifxses.NewSESProvider(api, "no-reply@mave.io").WithRetry(3, time.Millisecond)

	require.NoError(t, p.SendEmail(context.Background(), message()))
	assert.Equal(t, 3, api.calls())
}

func TestSendEmailDoesNotRetryRejection(t *testing.T) {
	api := &fakeSES{err: &types.MessageRejected{Message: aws.String("Email address is not verified")}}
	p := notifxses.NewSESProvider(api, "no-reply@mave.io").WithRetry(3, time.Millisecond)

	err := p.SendEmail(context.Background(), message())
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, notifxses.ErrSendFailed))
	assert.True(t, errx.IsType(err, errx.TypeExternal))
	assert.Equal(t, 1, api.calls())
}

func TestSendBulkEmail(t *testing.T) {
	api := &fakeSES{}
	p := notifxses.NewSESProvider(api, "no-reply@mave.io")

	msgs := []notifx.EmailMessage{message(), message(), message()}
	msgs[1].To = []string{"bo@acme.test"}

	results, err := p.SendBulkEmail(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "bo@acme.test", results[1].To)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, "m-1", r.MessageID)
	}
	assert.Equal(t, 3, api.calls())
}
