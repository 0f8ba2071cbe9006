package auth

import (
	"net/http"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// ============================================================================
// Token Types
// ============================================================================

// TokenType is carried in every token and checked on verification, so a
// token is only ever accepted where its kind is expected.
type TokenType string

const (
	TokenAccess        TokenType = "access"
	TokenRefresh       TokenType = "refresh"
	TokenStepUp        TokenType = "2fa"
	TokenPasswordReset TokenType = "password-reset"
)

// Claims is the verified content of a token.
type Claims struct {
	TokenID        string                `json:"jti"`
	UserID         kernel.UserID         `json:"sub"`
	OrganizationID kernel.OrganizationID `json:"organization_id"`
	Email          string                `json:"email"`
	Type           TokenType             `json:"type"`
	IssuedAt       time.Time             `json:"iat"`
	ExpiresAt      time.Time             `json:"exp"`
}

// Remaining is the lifetime left at now, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AuthContext converts access claims into the request identity.
func (c *Claims) AuthContext() *kernel.AuthContext {
	return &kernel.AuthContext{
		UserID:         c.UserID,
		OrganizationID: c.OrganizationID,
		Email:          c.Email,
		TokenID:        c.TokenID,
	}
}

// Subject identifies who a token is minted for.
type Subject struct {
	UserID         kernel.UserID
	OrganizationID kernel.OrganizationID
	Email          string
}

// TokenPair is a session.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeTokenExpired          = ErrRegistry.Register("TOKEN_EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Token has expired")
	CodeInvalidToken          = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid token")
	CodeInvalidTokenType      = ErrRegistry.Register("INVALID_TOKEN_TYPE", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid token type")
	CodeTokenRevoked          = ErrRegistry.Register("TOKEN_REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "Token has been revoked")
	CodeTokenGenerationFailed = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Token generation failed")
	CodeInvalidCredentials    = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid credentials")
	CodeAccountLocked         = ErrRegistry.Register("ACCOUNT_LOCKED", errx.TypeAuthorization, http.StatusUnauthorized, "Account is locked due to multiple failed login attempts")
	CodeAccountInactive       = ErrRegistry.Register("ACCOUNT_INACTIVE", errx.TypeAuthorization, http.StatusUnauthorized, "Account is inactive")
	CodeInvalid2FA            = ErrRegistry.Register("INVALID_2FA_CODE", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid 2FA code")
	CodeInvalidResetToken     = ErrRegistry.Register("INVALID_RESET_TOKEN", errx.TypeValidation, http.StatusBadRequest, "Invalid or expired reset token")
	CodeInvalidInput          = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid input")
)

func ErrTokenExpired() *errx.Error       { return ErrRegistry.New(CodeTokenExpired) }
func ErrInvalidToken() *errx.Error       { return ErrRegistry.New(CodeInvalidToken) }
func ErrInvalidTokenType() *errx.Error   { return ErrRegistry.New(CodeInvalidTokenType) }
func ErrTokenRevoked() *errx.Error       { return ErrRegistry.New(CodeTokenRevoked) }
func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }
func ErrAccountLocked() *errx.Error      { return ErrRegistry.New(CodeAccountLocked) }
func ErrAccountInactive() *errx.Error    { return ErrRegistry.New(CodeAccountInactive) }
func ErrInvalid2FA() *errx.Error         { return ErrRegistry.New(CodeInvalid2FA) }
func ErrInvalidResetToken() *errx.Error  { return ErrRegistry.New(CodeInvalidResetToken) }

func ErrTokenGenerationFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeTokenGenerationFailed, cause)
}

func ErrInvalidInput(msg string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidInput, msg)
}
