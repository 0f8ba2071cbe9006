package iamnotify

import "github.com/mave-cms/tenantcore/pkg/notifx"

// Template names registered on the notifx client.
const (
	TplWelcome            = "iam.welcome"
	TplVerification       = "iam.verification"
	TplPasswordReset      = "iam.password_reset"
	TplTwoFactorEnabled   = "iam.2fa_enabled"
	TplTwoFactorDisabled  = "iam.2fa_disabled"
	TplNewLogin           = "iam.new_login"
	TplInvitation         = "iam.invitation"
	TplInvitationAccepted = "iam.invitation_accepted"
	TplOrgCreated         = "iam.organization_created"
)

const layoutOpen = `<!DOCTYPE html><html><body style="font-family:sans-serif;max-width:560px;margin:auto">`
const layoutClose = `<p style="color:#888;font-size:12px">{{.Product}}</p></body></html>`

var templates = map[string]notifx.Template{
	TplWelcome: {
		Subject: `Welcome to {{.OrganizationName}}`,
		HTML: layoutOpen + `<h2>Welcome, {{.Name}}!</h2>
<p>Your account in <strong>{{.OrganizationName}}</strong> is ready.</p>
<p><a href="{{.LoginURL}}">Sign in</a></p>` + layoutClose,
		Text: "Welcome, {{.Name}}! Your account in {{.OrganizationName}} is ready. Sign in: {{.LoginURL}}",
	},
	TplVerification: {
		Subject: `Verify your email address`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>Confirm your email address by following <a href="{{.Link}}">this link</a>.</p>` + layoutClose,
		Text: "Hi {{.Name}}, confirm your email address: {{.Link}}",
	},
	TplPasswordReset: {
		Subject: `Reset your password`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>Someone asked to reset your password. <a href="{{.Link}}">Choose a new one</a>.</p>
<p>The link expires in {{.ExpiresIn}}. If this was not you, ignore this email.</p>` + layoutClose,
		Text: "Hi {{.Name}}, reset your password within {{.ExpiresIn}}: {{.Link}}",
	},
	TplTwoFactorEnabled: {
		Subject: `Two-factor authentication enabled`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>Two-factor authentication is now on for your account. Keep your backup codes somewhere safe.</p>` + layoutClose,
	},
	TplTwoFactorDisabled: {
		Subject: `Two-factor authentication disabled`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>Two-factor authentication was turned off for your account. If this was not you, reset your password now.</p>` + layoutClose,
	},
	TplNewLogin: {
		Subject: `New sign-in to your account`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>We noticed a sign-in on {{.At}}{{if .IP}} from {{.IP}}{{end}}.</p>` + layoutClose,
	},
	TplInvitation: {
		Subject: `You're invited to join {{.OrganizationName}}`,
		HTML: layoutOpen + `<p>{{.InviterName}} invited you to join <strong>{{.OrganizationName}}</strong>.</p>
{{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}
<p><a href="{{.Link}}">Accept the invitation</a> before {{.ExpiresAt}}.</p>` + layoutClose,
		Text: "{{.InviterName}} invited you to join {{.OrganizationName}}. Accept: {{.Link}}",
	},
	TplInvitationAccepted: {
		Subject: `{{.MemberName}} joined {{.OrganizationName}}`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>{{.MemberName}} ({{.MemberEmail}}) accepted your invitation to {{.OrganizationName}}.</p>` + layoutClose,
	},
	TplOrgCreated: {
		Subject: `{{.OrganizationName}} is ready`,
		HTML: layoutOpen + `<p>Hi {{.Name}},</p>
<p>Your organization <strong>{{.OrganizationName}}</strong> was created at <a href="{{.SiteURL}}">{{.SiteURL}}</a>.</p>` + layoutClose,
	},
}
