package user

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// User is a member of exactly one organization. Email and username are
// unique within that organization only.
type User struct {
	ID             kernel.UserID         `db:"id" json:"id"`
	OrganizationID kernel.OrganizationID `db:"organization_id" json:"organization_id"`
	Email          string                `db:"email" json:"email"`
	Username       *string               `db:"username" json:"username,omitempty"`
	PasswordHash   string                `db:"password_hash" json:"-"`
	FirstName      *string               `db:"first_name" json:"first_name,omitempty"`
	LastName       *string               `db:"last_name" json:"last_name,omitempty"`
	IsActive       bool                  `db:"is_active" json:"is_active"`
	EmailVerified  bool                  `db:"email_verified" json:"email_verified"`
	// EmailDomainMatch records whether the email domain equals the tenant domain.
	EmailDomainMatch bool `db:"email_domain_match" json:"email_domain_match"`

	TwoFactorEnabled bool           `db:"two_factor_enabled" json:"two_factor_enabled"`
	TwoFactorSecret  *string        `db:"two_factor_secret" json:"-"`
	BackupCodes      pq.StringArray `db:"backup_codes" json:"-"`

	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`

	PasswordResetToken     *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpiresAt *time.Time `db:"password_reset_expires_at" json:"-"`

	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	LastLoginIP *string    `db:"last_login_ip" json:"-"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// IsDeleted reports whether the user is tombstoned.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// IsLocked reports whether the lockout window is still open at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LockExpired reports whether a lock was set and has since lapsed.
func (u *User) LockExpired(now time.Time) bool {
	return u.LockedUntil != nil && !now.Before(*u.LockedUntil)
}

// DisplayName is used in email greetings.
func (u *User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" {
		return *u.FirstName
	}
	return "User"
}

// FullName joins first and last names.
func (u *User) FullName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) == 0 {
		return u.Email
	}
	return strings.Join(parts, " ")
}

// EmailDomain returns the part of email after '@', lowercased.
func EmailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return strings.ToLower(email[i+1:])
	}
	return ""
}

// IsEmailIdentifier reports whether a login identifier is an email address.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewParams describes a member about to be created.
type NewParams struct {
	OrganizationID kernel.OrganizationID
	Email          string
	Username       *string
	PasswordHash   string
	FirstName      *string
	LastName       *string
	EmailVerified  bool
	// OrgDomain is the tenant domain compared against the email domain.
	OrgDomain *string
}

// New builds an active user with a fresh id. Email and username are
// normalized.
func New(p NewParams, now time.Time) *User {
	email := NormalizeEmail(p.Email)
	u := &User{
		ID:             kernel.NewUserID(uuid.NewString()),
		OrganizationID: p.OrganizationID,
		Email:          email,
		PasswordHash:   p.PasswordHash,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		IsActive:       true,
		EmailVerified:  p.EmailVerified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Username != nil {
		if name := strings.ToLower(strings.TrimSpace(*p.Username)); name != "" {
			u.Username = &name
		}
	}
	if p.OrgDomain != nil && *p.OrgDomain != "" {
		u.EmailDomainMatch = EmailDomain(email) == strings.ToLower(*p.OrgDomain)
	}
	return u
}

// ValidatePassword enforces the minimum length.
func ValidatePassword(password string, minLength int) error {
	if len(password) < minLength {
		return ErrWeakPassword().WithDetail("min_length", minLength)
	}
	return nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "User not found")
	CodeEmailTaken    = ErrRegistry.Register("EMAIL_TAKEN", errx.TypeConflict, http.StatusConflict, "User with this email already exists in the organization")
	CodeUsernameTaken = ErrRegistry.Register("USERNAME_TAKEN", errx.TypeConflict, http.StatusConflict, "User with this username already exists in the organization")
	CodeWrongTenant   = ErrRegistry.Register("WRONG_ORGANIZATION", errx.TypeValidation, http.StatusBadRequest, "User is not in the correct organization")
	CodeWeakPassword  = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Password is too short")
	CodeInactive      = ErrRegistry.Register("INACTIVE", errx.TypeForbidden, http.StatusForbidden, "User account is not active")
)

func ErrNotFound() *errx.Error      { return ErrRegistry.New(CodeNotFound) }
func ErrEmailTaken() *errx.Error    { return ErrRegistry.New(CodeEmailTaken) }
func ErrUsernameTaken() *errx.Error { return ErrRegistry.New(CodeUsernameTaken) }
func ErrWrongTenant() *errx.Error   { return ErrRegistry.New(CodeWrongTenant) }
func ErrWeakPassword() *errx.Error  { return ErrRegistry.New(CodeWeakPassword) }
func ErrInactive() *errx.Error      { return ErrRegistry.New(CodeInactive) }
