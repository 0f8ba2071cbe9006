// Package iamnotify renders and sends the identity emails: onboarding,
// password reset, second-factor changes and invitations.
package iamnotify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
)

const defaultProduct = "Mave CMS"

// Mailer sends the IAM emails through a notifx client.
type Mailer struct {
	client      *notifx.Client
	frontendURL string
	baseDomain  string
	product     string
}

// Option customizes a Mailer.
type Option func(*Mailer)

// WithBaseDomain makes organization links point at {slug}.{domain}.
func WithBaseDomain(domain string) Option {
	return func(m *Mailer) { m.baseDomain = strings.TrimPrefix(domain, ".") }
}

// WithProduct sets the product name printed in the footer.
func WithProduct(name string) Option {
	return func(m *Mailer) {
		if name != "" {
			m.product = name
		}
	}
}

// NewMailer registers the IAM templates on client.
func NewMailer(client *notifx.Client, frontendURL string, opts ...Option) (*Mailer, error) {
	m := &Mailer{
		client:      client,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		product:     defaultProduct,
	}
	for _, opt := range opts {
		opt(m)
	}
	for name, tmpl := range templates {
		if err := client.RegisterTemplate(name, tmpl); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ── Links ─────────────────────────────────────────────────────

func (m *Mailer) link(path string, query url.Values) string {
	s := m.frontendURL + path
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

// InvitationURL is the accept page for an invitation token.
func (m *Mailer) InvitationURL(token string) string {
	return m.link("/invitations/accept", url.Values{"token": {token}})
}

// PasswordResetURL is the reset page for a reset token.
func (m *Mailer) PasswordResetURL(token string) string {
	return m.link("/reset-password", url.Values{"token": {token}})
}

// VerificationURL is the email confirmation page.
func (m *Mailer) VerificationURL(token string) string {
	return m.link("/verify-email", url.Values{"token": {token}})
}

// SiteURL is the organization's public address. Organization domains hold
// the tenant label under the base domain.
func (m *Mailer) SiteURL(org *organization.Organization) string {
	if m.baseDomain == "" {
		return m.frontendURL
	}
	return "https://" + org.DomainOrSlug() + "." + m.baseDomain
}

// ── Sends ─────────────────────────────────────────────────────

type data map[string]any

func (m *Mailer) send(ctx context.Context, tpl, to string, d data) error {
	d["Product"] = m.product
	return m.client.SendTemplatedEmail(ctx, tpl, d, notifx.EmailMessage{To: []string{to}},
		notifx.WithTags(map[string]string{"template": tpl}))
}

func (m *Mailer) SendWelcome(ctx context.Context, u *user.User, org *organization.Organization) error {
	return m.send(ctx, TplWelcome, u.Email, data{
		"Name":             u.DisplayName(),
		"OrganizationName": org.Name,
		"LoginURL":         m.SiteURL(org) + "/login",
	})
}

func (m *Mailer) SendVerification(ctx context.Context, u *user.User, token string) error {
	return m.send(ctx, TplVerification, u.Email, data{
		"Name": u.DisplayName(),
		"Link": m.VerificationURL(token),
	})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, u *user.User, token string, ttl time.Duration) error {
	return m.send(ctx, TplPasswordReset, u.Email, data{
		"Name":      u.DisplayName(),
		"Link":      m.PasswordResetURL(token),
		"ExpiresIn": ttl.String(),
	})
}

func (m *Mailer) SendTwoFactorEnabled(ctx context.Context, u *user.User) error {
	return m.send(ctx, TplTwoFactorEnabled, u.Email, data{"Name": u.DisplayName()})
}

func (m *Mailer) SendTwoFactorDisabled(ctx context.Context, u *user.User) error {
	return m.send(ctx, TplTwoFactorDisabled, u.Email, data{"Name": u.DisplayName()})
}

func (m *Mailer) SendNewLogin(ctx context.Context, u *user.User, ip string, at time.Time) error {
	return m.send(ctx, TplNewLogin, u.Email, data{
		"Name": u.DisplayName(),
		"IP":   ip,
		"At":   at.UTC().Format(time.RFC1123),
	})
}

// SendInvitation mails an email-type invitation. inviter may be nil.
func (m *Mailer) SendInvitation(ctx context.Context, inv *invitation.Invitation, org *organization.Organization, inviter *user.User) error {
	if inv.Email == nil {
		return invitation.ErrInvalidInput("invitation has no email")
	}
	inviterName := "Someone"
	if inviter != nil {
		inviterName = inviter.FullName()
	}
	message := ""
	if inv.Message != nil {
		message = *inv.Message
	}
	return m.send(ctx, TplInvitation, *inv.Email, data{
		"InviterName":      inviterName,
		"OrganizationName": org.Name,
		"Message":          message,
		"Link":             m.InvitationURL(inv.Token),
		"ExpiresAt":        inv.ExpiresAt.UTC().Format("Jan 2, 2006"),
	})
}

func (m *Mailer) SendInvitationAccepted(ctx context.Context, inviter, member *user.User, org *organization.Organization) error {
	return m.send(ctx, TplInvitationAccepted, inviter.Email, data{
		"Name":             inviter.DisplayName(),
		"MemberName":       member.FullName(),
		"MemberEmail":      member.Email,
		"OrganizationName": org.Name,
	})
}

func (m *Mailer) SendOrganizationCreated(ctx context.Context, owner *user.User, org *organization.Organization) error {
	return m.send(ctx, TplOrgCreated, owner.Email, data{
		"Name":             owner.DisplayName(),
		"OrganizationName": org.Name,
		"SiteURL":          m.SiteURL(org),
	})
}

// ── Best effort ───────────────────────────────────────────────

// BestEffort runs fn and logs its failure instead of returning it. When
// diagnostics is non-nil the failed step name is appended to it.
func BestEffort(ctx context.Context, diagnostics *[]string, step string, fn func() error) {
	if err := fn(); err != nil {
		logx.WithContext(ctx).
			WithError(err).
			WithField("step", step).
			Warn("best-effort step failed")
		if diagnostics != nil {
			*diagnostics = append(*diagnostics, step)
		}
	}
}
