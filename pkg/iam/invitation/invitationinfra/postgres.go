package invitationinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

const invitationColumns = `
	id, organization_id, email, token, role_id, invited_by, status, type,
	max_uses, used_count, message, metadata, accepted_by, accepted_at,
	expires_at, created_at, updated_at`

// PostgresInvitationRepository is the PostgreSQL implementation of invitation.Repository
type PostgresInvitationRepository struct {
	db *sqlx.DB
}

// NewPostgresInvitationRepository creates the invitation repository
func NewPostgresInvitationRepository(db *sqlx.DB) *PostgresInvitationRepository {
	return &PostgresInvitationRepository{db: db}
}

// Create inserts an invitation
func (r *PostgresInvitationRepository) Create(ctx context.Context, inv *invitation.Invitation) error {
	query := `
		INSERT INTO invitations (
			id, organization_id, email, token, role_id, invited_by, status, type,
			max_uses, used_count, message, metadata, accepted_by, accepted_at,
			expires_at, created_at, updated_at
		) VALUES (
			:id, :organization_id, :email, :token, :role_id, :invited_by, :status, :type,
			:max_uses, :used_count, :message, :metadata, :accepted_by, :accepted_at,
			:expires_at, :created_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, inv); err != nil {
		if dbx.IsUniqueViolation(err) {
			return invitation.ErrTokenTaken()
		}
		return errx.Wrap(err, "failed to create invitation", errx.TypeInternal).
			WithDetail("organization_id", inv.OrganizationID.String())
	}
	return nil
}

// Revoke flips a still-pending row to revoked
func (r *PostgresInvitationRepository) Revoke(ctx context.Context, id string, meta kernel.JSONMap, now time.Time) (bool, error) {
	query := `
		UPDATE invitations SET
			status = 'revoked',
			metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
			updated_at = $3
		WHERE id = $1 AND status = 'pending'`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id, meta, now)
	if err != nil {
		return false, errx.Wrap(err, "failed to revoke invitation", errx.TypeInternal).
			WithDetail("invitation_id", id)
	}
	return affectedOne(res)
}

// Extend pushes out the expiry of a pending email invitation
func (r *PostgresInvitationRepository) Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE invitations SET expires_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND type = 'email'`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id, expiresAt, now)
	if err != nil {
		return false, errx.Wrap(err, "failed to extend invitation", errx.TypeInternal).
			WithDetail("invitation_id", id)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.Wrap(err, "failed to read affected rows", errx.TypeInternal)
	}
	return n == 1, nil
}

// FindByID looks an invitation up by id
func (r *PostgresInvitationRepository) FindByID(ctx context.Context, id string) (*invitation.Invitation, error) {
	query := `SELECT` + invitationColumns + ` FROM invitations WHERE id = $1`

	var inv invitation.Invitation
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &inv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invitation.ErrNotFound().WithDetail("invitation_id", id)
		}
		return nil, errx.Wrap(err, "failed to find invitation by id", errx.TypeInternal).
			WithDetail("invitation_id", id)
	}
	return &inv, nil
}

// FindByToken looks an invitation up by token. The token is never echoed
// into error details.
func (r *PostgresInvitationRepository) FindByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	query := `SELECT` + invitationColumns + ` FROM invitations WHERE token = $1`

	var inv invitation.Invitation
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &inv, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invitation.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find invitation by token", errx.TypeInternal)
	}
	return &inv, nil
}

// FindPendingByEmail returns the newest live email invitation for an address
func (r *PostgresInvitationRepository) FindPendingByEmail(ctx context.Context, orgID kernel.OrganizationID, email string, now time.Time) (*invitation.Invitation, error) {
	query := `SELECT` + invitationColumns + ` FROM invitations
		WHERE organization_id = $1 AND lower(email) = lower($2)
		  AND type = 'email' AND status = 'pending' AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`

	var inv invitation.Invitation
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &inv, query, orgID.String(), email, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invitation.ErrNotFound().WithDetail("email", email)
		}
		return nil, errx.Wrap(err, "failed to find pending invitation", errx.TypeInternal).
			WithDetail("email", email)
	}
	return &inv, nil
}

// List pages through an organization's invitations, newest first
func (r *PostgresInvitationRepository) List(ctx context.Context, orgID kernel.OrganizationID, status *invitation.Status, opts kernel.PaginationOptions) (kernel.Paginated[invitation.Invitation], error) {
	opts = opts.Normalize()

	where := ` WHERE organization_id = $1`
	args := []interface{}{orgID.String()}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, string(*status))
	}

	var total int
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM invitations`+where, args...); err != nil {
		return kernel.Paginated[invitation.Invitation]{}, errx.Wrap(err, "failed to count invitations", errx.TypeInternal)
	}

	query := `SELECT` + invitationColumns + ` FROM invitations` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var items []invitation.Invitation
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &items, query, append(args, opts.PageSize, opts.Offset())...); err != nil {
		return kernel.Paginated[invitation.Invitation]{}, errx.Wrap(err, "failed to list invitations", errx.TypeInternal).
			WithDetail("organization_id", orgID.String())
	}
	return kernel.NewPaginated(items, opts.Page, opts.PageSize, total), nil
}

// ConsumeUse is the store-level arbiter for single use and max_uses
func (r *PostgresInvitationRepository) ConsumeUse(ctx context.Context, id string, acceptedBy kernel.UserID, now time.Time) (bool, error) {
	query := `
		UPDATE invitations SET
			used_count = used_count + 1,
			status = CASE
				WHEN type = 'email' THEN 'accepted'
				WHEN max_uses IS NOT NULL AND used_count + 1 >= max_uses THEN 'accepted'
				ELSE status
			END,
			accepted_by = $2,
			accepted_at = $3,
			updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND expires_at > $3
		  AND (type = 'email' OR max_uses IS NULL OR used_count < max_uses)`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id, acceptedBy.String(), now)
	if err != nil {
		return false, errx.Wrap(err, "failed to consume invitation", errx.TypeInternal).
			WithDetail("invitation_id", id)
	}
	return affectedOne(res)
}

// ExpireStale flips overdue pending rows to expired
func (r *PostgresInvitationRepository) ExpireStale(ctx context.Context, orgID kernel.OrganizationID, now time.Time) (int64, error) {
	query := `
		UPDATE invitations SET status = 'expired', updated_at = $2
		WHERE organization_id = $1 AND status = 'pending' AND expires_at <= $2`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, orgID.String(), now)
	if err != nil {
		return 0, errx.Wrap(err, "failed to expire invitations", errx.TypeInternal).
			WithDetail("organization_id", orgID.String())
	}
	n, _ := res.RowsAffected()
	return n, nil
}
