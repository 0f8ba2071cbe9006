package notifxconsole

import (
	"context"
	"strings"
	"sync"

	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
)

// ConsoleProvider prints emails via logx. Used in development and by tests
// that want to inspect what would have been sent.
type ConsoleProvider struct {
	mu      sync.Mutex
	sent    []notifx.EmailMessage
	failing error
}

// NewConsoleProvider creates a new console email provider.
func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{}
}

// FailWith makes every subsequent send return err. Pass nil to recover.
func (p *ConsoleProvider) FailWith(err error) {
	p.mu.Lock()
	p.failing = err
	p.mu.Unlock()
}

// SendEmail logs the email details instead of sending it.
func (p *ConsoleProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	p.mu.Lock()
	failing := p.failing
	if failing == nil {
		p.sent = append(p.sent, msg)
	}
	p.mu.Unlock()

	if failing != nil {
		return notifx.SendFailed(failing).WithDetail("to", msg.To)
	}

	so := notifx.ApplySendOptions(opts)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"from":    msg.From,
		"to":      strings.Join(msg.To, ", "),
		"subject": msg.Subject,
		"tags":    so.Tags,
	}).Info("notifx/console: email sent (dev mode)")

	if msg.TextBody != "" {
		logx.Debugf("notifx/console: text body:\n%s", msg.TextBody)
	}

	return nil
}

// Sent returns a copy of every message accepted so far.
func (p *ConsoleProvider) Sent() []notifx.EmailMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notifx.EmailMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentTo returns the messages addressed to email.
func (p *ConsoleProvider) SentTo(email string) []notifx.EmailMessage {
	var out []notifx.EmailMessage
	for _, m := range p.Sent() {
		for _, to := range m.To {
			if strings.EqualFold(to, email) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
