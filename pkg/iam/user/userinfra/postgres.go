package userinfra

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

const userColumns = `
	id, organization_id, email, username, password_hash, first_name, last_name,
	is_active, email_verified, email_domain_match,
	two_factor_enabled, two_factor_secret, backup_codes,
	failed_login_attempts, locked_until,
	password_reset_token, password_reset_expires_at,
	last_login_at, last_login_ip, created_at, updated_at, deleted_at`

// PostgresUserRepository is the PostgreSQL implementation of user.Repository
type PostgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// Create inserts a user
func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (
			id, organization_id, email, username, password_hash, first_name, last_name,
			is_active, email_verified, email_domain_match,
			two_factor_enabled, two_factor_secret, backup_codes,
			failed_login_attempts, locked_until, created_at, updated_at
		) VALUES (
			:id, :organization_id, :email, :username, :password_hash, :first_name, :last_name,
			:is_active, :email_verified, :email_domain_match,
			:two_factor_enabled, :two_factor_secret, :backup_codes,
			:failed_login_attempts, :locked_until, :created_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, u); err != nil {
		return mapWriteError(err, u, "failed to create user")
	}
	return nil
}

// Update rewrites the profile and 2FA columns. Counters, reset tokens and
// login stamps have their own conditional statements.
func (r *PostgresUserRepository) Update(ctx context.Context, u *user.User) error {
	query := `
		UPDATE users SET
			email = :email,
			username = :username,
			password_hash = :password_hash,
			first_name = :first_name,
			last_name = :last_name,
			is_active = :is_active,
			email_verified = :email_verified,
			email_domain_match = :email_domain_match,
			two_factor_enabled = :two_factor_enabled,
			two_factor_secret = :two_factor_secret,
			backup_codes = :backup_codes,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`

	res, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, u)
	if err != nil {
		return mapWriteError(err, u, "failed to update user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound().WithDetail("user_id", u.ID.String())
	}
	return nil
}

func mapWriteError(err error, u *user.User, msg string) error {
	if dbx.IsUniqueViolation(err) {
		if strings.Contains(dbx.ConstraintName(err), "username") {
			return user.ErrUsernameTaken()
		}
		return user.ErrEmailTaken()
	}
	return errx.Wrap(err, msg, errx.TypeInternal).
		WithDetail("organization_id", u.OrganizationID.String())
}

// FindByID returns a live user
func (r *PostgresUserRepository) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return r.findOne(ctx, `id = $1`, id.String())
}

// FindByEmail matches the address case-insensitively within the organization
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, orgID kernel.OrganizationID, email string) (*user.User, error) {
	return r.findOne(ctx, `organization_id = $1 AND lower(email) = lower($2)`, orgID.String(), email)
}

// FindByUsername matches the username within the organization
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, orgID kernel.OrganizationID, username string) (*user.User, error) {
	return r.findOne(ctx, `organization_id = $1 AND username = $2`, orgID.String(), username)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, where string, args ...interface{}) (*user.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE ` + where + ` AND deleted_at IS NULL`

	var u user.User
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user", errx.TypeInternal)
	}
	return &u, nil
}

// ExistsByEmail reports whether a live user holds the address in the organization
func (r *PostgresUserRepository) ExistsByEmail(ctx context.Context, orgID kernel.OrganizationID, email string) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM users
		WHERE organization_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL)`

	var exists bool
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &exists, query, orgID.String(), email); err != nil {
		return false, errx.Wrap(err, "failed to check user email", errx.TypeInternal)
	}
	return exists, nil
}

// RecordFailedLogin increments the counter and arms the lock in one statement
func (r *PostgresUserRepository) RecordFailedLogin(ctx context.Context, id kernel.UserID, threshold int, lockUntil time.Time) (int, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN $3
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts`

	var attempts int
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &attempts, query, id.String(), threshold, lockUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, user.ErrNotFound()
		}
		return 0, errx.Wrap(err, "failed to record failed login", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	return attempts, nil
}

// ResetLoginFailures clears the counter and the lock
func (r *PostgresUserRepository) ResetLoginFailures(ctx context.Context, id kernel.UserID) error {
	query := `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String()); err != nil {
		return errx.Wrap(err, "failed to reset login failures", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	return nil
}

// RecordLogin stamps the last successful sign-in
func (r *PostgresUserRepository) RecordLogin(ctx context.Context, id kernel.UserID, at time.Time, ip string) error {
	query := `UPDATE users SET last_login_at = $2, last_login_ip = NULLIF($3, ''), updated_at = NOW() WHERE id = $1`
	if _, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String(), at, ip); err != nil {
		return errx.Wrap(err, "failed to record login", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	return nil
}

// SetPasswordResetToken stores the one live reset token, replacing any earlier one
func (r *PostgresUserRepository) SetPasswordResetToken(ctx context.Context, id kernel.UserID, token string, expiresAt time.Time) error {
	query := `UPDATE users SET password_reset_token = $2, password_reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String(), token, expiresAt); err != nil {
		return errx.Wrap(err, "failed to store reset token", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	return nil
}

// ConsumePasswordReset swaps the hash only while the stored token still matches
func (r *PostgresUserRepository) ConsumePasswordReset(ctx context.Context, id kernel.UserID, token, newHash string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET
			password_hash = $3,
			password_reset_token = NULL,
			password_reset_expires_at = NULL,
			failed_login_attempts = 0,
			locked_until = NULL,
			updated_at = $4
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND password_reset_token = $2
		  AND password_reset_expires_at > $4`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String(), token, newHash, now)
	if err != nil {
		return false, errx.Wrap(err, "failed to reset password", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ConsumeBackupCode removes the code only if it is still in the set
func (r *PostgresUserRepository) ConsumeBackupCode(ctx context.Context, id kernel.UserID, codeHash string) (bool, error) {
	query := `
		UPDATE users SET backup_codes = array_remove(backup_codes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_codes)`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String(), codeHash)
	if err != nil {
		return false, errx.Wrap(err, "failed to consume backup code", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SoftDelete tombstones a user
func (r *PostgresUserRepository) SoftDelete(ctx context.Context, id kernel.UserID) error {
	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete user", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound().WithDetail("user_id", id.String())
	}
	return nil
}
