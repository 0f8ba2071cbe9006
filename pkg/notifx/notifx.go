package notifx

import (
	"context"
	"fmt"
	"strings"
)

// EmailSender sends a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error
}

// BulkEmailSender sends multiple emails in a batch.
type BulkEmailSender interface {
	SendBulkEmail(ctx context.Context, msgs []EmailMessage, opts ...Option) ([]SendResult, error)
}

// Notifier is the high-level notification interface.
type Notifier interface {
	EmailSender
	SendTemplatedEmail(ctx context.Context, name string, data any, msg EmailMessage, opts ...Option) error
}

// Client is the main entry point for sending notifications.
type Client struct {
	provider  EmailSender
	templates *TemplateRegistry
	from      string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithDefaultFrom sets the sender used when a message leaves From empty.
// A non-empty name renders as `Name <address>`.
func WithDefaultFrom(address, name string) ClientOption {
	return func(c *Client) {
		if address == "" {
			return
		}
		if name == "" {
			c.from = address
			return
		}
		c.from = fmt.Sprintf("%s <%s>", name, address)
	}
}

// NewClient creates a new notification client.
func NewClient(provider EmailSender, opts ...ClientOption) *Client {
	c := &Client{
		provider:  provider,
		templates: NewTemplateRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendEmail sends an email through the configured provider.
func (c *Client) SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error {
	if c.provider == nil {
		return notifxErrors.New(ErrNoProvider)
	}
	if len(msg.To) == 0 {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "no recipients")
	}
	for _, to := range msg.To {
		if !strings.Contains(to, "@") {
			return notifxErrors.New(ErrInvalidMessage).
				WithDetail("reason", "invalid recipient").
				WithDetail("to", to)
		}
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "empty subject")
	}
	if msg.From == "" {
		msg.From = c.from
	}
	return c.provider.SendEmail(ctx, msg, opts...)
}

// RegisterTemplate parses and stores a named template for later use.
func (c *Client) RegisterTemplate(name string, tmpl Template) error {
	return c.templates.Register(name, tmpl)
}

// Templates exposes the client's registry.
func (c *Client) Templates() *TemplateRegistry {
	return c.templates
}

// SendTemplatedEmail renders a template and sends the resulting email.
// The rendered subject is used only when msg.Subject is empty.
func (c *Client) SendTemplatedEmail(ctx context.Context, name string, data any, msg EmailMessage, opts ...Option) error {
	rendered, err := c.templates.Render(name, data)
	if err != nil {
		return err
	}

	if msg.Subject == "" {
		msg.Subject = rendered.Subject
	}
	msg.HTMLBody = rendered.HTML
	if rendered.Text != "" {
		msg.TextBody = rendered.Text
	}
	return c.SendEmail(ctx, msg, opts...)
}
