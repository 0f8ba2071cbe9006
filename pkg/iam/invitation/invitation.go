package invitation

import (
	"net/http"
	"strings"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// Type distinguishes addressed invitations from shareable links.
type Type string

const (
	TypeEmail Type = "email"
	TypeLink  Type = "link"
)

// Status is the stored lifecycle state. Expiry is also derived at read time
// from ExpiresAt, so a pending row can already be expired.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Metadata keys written on revocation.
const (
	MetaRevokedBy = "revoked_by"
	MetaRevokedAt = "revoked_at"
)

// Invitation bootstraps new members into an organization.
type Invitation struct {
	ID             string                `db:"id" json:"id"`
	OrganizationID kernel.OrganizationID `db:"organization_id" json:"organization_id"`
	Email          *string               `db:"email" json:"email,omitempty"`
	Token          string                `db:"token" json:"-"`
	RoleID         *string               `db:"role_id" json:"role_id,omitempty"`
	InvitedBy      kernel.UserID         `db:"invited_by" json:"invited_by"`
	Status         Status                `db:"status" json:"status"`
	Type           Type                  `db:"type" json:"type"`
	MaxUses        *int                  `db:"max_uses" json:"max_uses,omitempty"`
	UsedCount      int                   `db:"used_count" json:"used_count"`
	Message        *string               `db:"message" json:"message,omitempty"`
	Metadata       kernel.JSONMap        `db:"metadata" json:"metadata,omitempty"`
	AcceptedBy     *kernel.UserID        `db:"accepted_by" json:"accepted_by,omitempty"`
	AcceptedAt     *time.Time            `db:"accepted_at" json:"accepted_at,omitempty"`
	ExpiresAt      time.Time             `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}

func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IsExhausted reports whether a link has no uses left.
func (i *Invitation) IsExhausted() bool {
	return i.Type == TypeLink && i.MaxUses != nil && i.UsedCount >= *i.MaxUses
}

// CanAccept returns the reason the invitation cannot be accepted at now,
// or nil.
func (i *Invitation) CanAccept(now time.Time) error {
	if i.IsExhausted() {
		return ErrMaxUses()
	}
	if i.Status != StatusPending {
		return ErrAlreadyUsed()
	}
	if i.IsExpired(now) {
		return ErrExpired()
	}
	return nil
}

// MatchesEmail compares case-insensitively. Links match any address.
func (i *Invitation) MatchesEmail(email string) bool {
	if i.Type != TypeEmail || i.Email == nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*i.Email), strings.TrimSpace(email))
}

// EffectiveStatus folds read-time expiry into the stored status.
func (i *Invitation) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusPending && i.IsExpired(now) {
		return StatusExpired
	}
	return i.Status
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("INVITATION")

var (
	CodeNotFound         = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Invitation not found")
	CodeInvalidToken     = ErrRegistry.Register("INVALID_TOKEN", errx.TypeValidation, http.StatusBadRequest, "Invalid invitation token")
	CodeAlreadyUsed      = ErrRegistry.Register("ALREADY_USED", errx.TypeValidation, http.StatusBadRequest, "Invitation has already been used or revoked")
	CodeExpired          = ErrRegistry.Register("EXPIRED", errx.TypeValidation, http.StatusBadRequest, "Invitation has expired")
	CodeMaxUses          = ErrRegistry.Register("MAX_USES_REACHED", errx.TypeValidation, http.StatusBadRequest, "Invitation link has reached maximum uses")
	CodeAlreadyPending   = ErrRegistry.Register("ALREADY_PENDING", errx.TypeConflict, http.StatusConflict, "An active invitation already exists for this email")
	CodeMemberExists     = ErrRegistry.Register("MEMBER_EXISTS", errx.TypeConflict, http.StatusConflict, "User with this email already exists in the organization")
	CodeNotPending       = ErrRegistry.Register("NOT_PENDING", errx.TypeValidation, http.StatusBadRequest, "Only pending invitations can be revoked")
	CodeResendNotAllowed = ErrRegistry.Register("RESEND_NOT_ALLOWED", errx.TypeValidation, http.StatusBadRequest, "Only pending email invitations can be resent")
	CodeEmailMismatch    = ErrRegistry.Register("EMAIL_MISMATCH", errx.TypeValidation, http.StatusBadRequest, "Email does not match the invitation")
	CodeTokenTaken       = ErrRegistry.Register("TOKEN_TAKEN", errx.TypeConflict, http.StatusConflict, "Invitation token already exists")
	CodeInvalidInput     = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid invitation input")
	CodeSendFailed       = ErrRegistry.Register("SEND_FAILED", errx.TypeExternal, http.StatusBadGateway, "Failed to send invitation email")
)

func ErrNotFound() *errx.Error         { return ErrRegistry.New(CodeNotFound) }
func ErrInvalidToken() *errx.Error     { return ErrRegistry.New(CodeInvalidToken) }
func ErrAlreadyUsed() *errx.Error      { return ErrRegistry.New(CodeAlreadyUsed) }
func ErrExpired() *errx.Error          { return ErrRegistry.New(CodeExpired) }
func ErrMaxUses() *errx.Error          { return ErrRegistry.New(CodeMaxUses) }
func ErrAlreadyPending() *errx.Error   { return ErrRegistry.New(CodeAlreadyPending) }
func ErrMemberExists() *errx.Error     { return ErrRegistry.New(CodeMemberExists) }
func ErrNotPending() *errx.Error       { return ErrRegistry.New(CodeNotPending) }
func ErrResendNotAllowed() *errx.Error { return ErrRegistry.New(CodeResendNotAllowed) }
func ErrEmailMismatch() *errx.Error    { return ErrRegistry.New(CodeEmailMismatch) }
func ErrTokenTaken() *errx.Error       { return ErrRegistry.New(CodeTokenTaken) }
func ErrSendFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeSendFailed, cause)
}

func ErrInvalidInput(msg string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidInput, msg)
}
