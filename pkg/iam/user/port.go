package user

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// Repository persists users. Lookups skip soft-deleted rows. The
// (organization_id, email) and (organization_id, username) pairs are unique
// in the store and surface as ErrEmailTaken / ErrUsernameTaken.
type Repository interface {
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error

	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByEmail(ctx context.Context, orgID kernel.OrganizationID, email string) (*User, error)
	FindByUsername(ctx context.Context, orgID kernel.OrganizationID, username string) (*User, error)
	ExistsByEmail(ctx context.Context, orgID kernel.OrganizationID, email string) (bool, error)

	// RecordFailedLogin increments the failure counter in one statement and
	// sets locked_until to lockUntil once the counter reaches threshold.
	RecordFailedLogin(ctx context.Context, id kernel.UserID, threshold int, lockUntil time.Time) (attempts int, err error)
	// ResetLoginFailures clears the counter and lock.
	ResetLoginFailures(ctx context.Context, id kernel.UserID) error
	RecordLogin(ctx context.Context, id kernel.UserID, at time.Time, ip string) error

	SetPasswordResetToken(ctx context.Context, id kernel.UserID, token string, expiresAt time.Time) error
	// ConsumePasswordReset swaps the hash and clears the stored reset token,
	// but only while token is still the stored one and unexpired at now.
	// It reports false when nothing matched.
	ConsumePasswordReset(ctx context.Context, id kernel.UserID, token, newHash string, now time.Time) (bool, error)

	// ConsumeBackupCode removes codeHash from the stored set and reports
	// whether it was present, so a code can succeed at most once.
	ConsumeBackupCode(ctx context.Context, id kernel.UserID, codeHash string) (bool, error)

	SoftDelete(ctx context.Context, id kernel.UserID) error
}
