package authsrv

import (
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
)

// Messages returned verbatim to callers.
const (
	PasswordResetRequestedMessage = "If the email exists, a password reset link has been sent"
	PasswordResetDoneMessage      = "Password has been reset successfully"
	TwoFactorRequiredMessage      = "Two-factor authentication required"
)

// Login methods recorded by the audit trail.
const (
	MethodPassword   = "password"
	MethodInvitation = "invitation"
	MethodSignup     = "signup"
)

// AccountInput is the member part of every registration.
type AccountInput struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8,max=128"`
	Username  *string `json:"username,omitempty" validate:"omitempty,min=3,max=50"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

// RegisterInput joins an existing organization, named by id or slug.
type RegisterInput struct {
	Organization string `json:"organization" validate:"required"`
	AccountInput
}

// RegisterOrganizationInput creates a tenant and its first administrator.
type RegisterOrganizationInput struct {
	Organization organizationsrv.CreateInput `json:"organization"`
	Account      AccountInput                `json:"account"`
}

// RegisterInvitationInput signs up through an invitation token.
type RegisterInvitationInput struct {
	Token string `json:"token" validate:"required"`
	invitationsrv.MemberInput
}

// LoginInput identifies the member by email or username within an
// organization. TwoFactorCode may accompany the password.
type LoginInput struct {
	Organization  string `json:"organization" validate:"required"`
	Identifier    string `json:"identifier" validate:"required"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
}

// Session is the outcome of a successful registration or login.
type Session struct {
	User         *user.User                 `json:"user"`
	Organization *organization.Organization `json:"organization"`
	Tokens       *auth.TokenPair            `json:"tokens"`
	Assignment   *rbac.Assignment           `json:"assignment,omitempty"`
	Diagnostics  []string                   `json:"diagnostics,omitempty"`
}

// LoginResult carries either a session or a step-up token.
type LoginResult struct {
	RequiresTwoFactor bool     `json:"requires_two_factor"`
	TwoFactorToken    string   `json:"two_factor_token,omitempty"`
	Message           string   `json:"message,omitempty"`
	Session           *Session `json:"session,omitempty"`
}
