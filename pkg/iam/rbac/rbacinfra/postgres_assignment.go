package rbacinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

const assignmentColumns = `
	id, user_id, role_id, scope, resource_type, resource_id, conditions,
	expires_at, is_active, assigned_by, assigned_reason, assigned_at, updated_at`

// PostgresAssignmentRepository is the PostgreSQL implementation of rbac.AssignmentRepository
type PostgresAssignmentRepository struct {
	db *sqlx.DB
}

func NewPostgresAssignmentRepository(db *sqlx.DB) *PostgresAssignmentRepository {
	return &PostgresAssignmentRepository{db: db}
}

// Create inserts an assignment. The unique tuple index turns a duplicate
// into rbac.ErrAssignmentExists.
func (r *PostgresAssignmentRepository) Create(ctx context.Context, a *rbac.Assignment) error {
	query := `
		INSERT INTO user_roles (
			id, user_id, role_id, scope, resource_type, resource_id, conditions,
			expires_at, is_active, assigned_by, assigned_reason, assigned_at, updated_at
		) VALUES (
			:id, :user_id, :role_id, :scope, :resource_type, :resource_id, :conditions,
			:expires_at, :is_active, :assigned_by, :assigned_reason, :assigned_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, a); err != nil {
		if dbx.IsUniqueViolation(err) {
			return rbac.ErrAssignmentExists().
				WithDetail("user_id", a.UserID.String()).
				WithDetail("role_id", a.RoleID)
		}
		return errx.Wrap(err, "failed to create role assignment", errx.TypeInternal).
			WithDetail("user_id", a.UserID.String())
	}
	return nil
}

// FindByID returns an assignment
func (r *PostgresAssignmentRepository) FindByID(ctx context.Context, id string) (*rbac.Assignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM user_roles WHERE id = $1`

	var a rbac.Assignment
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rbac.ErrAssignmentNotFound().WithDetail("assignment_id", id)
		}
		return nil, errx.Wrap(err, "failed to find role assignment", errx.TypeInternal).
			WithDetail("assignment_id", id)
	}
	return &a, nil
}

// Delete removes an assignment
func (r *PostgresAssignmentRepository) Delete(ctx context.Context, id string) error {
	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete role assignment", errx.TypeInternal).
			WithDetail("assignment_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rbac.ErrAssignmentNotFound().WithDetail("assignment_id", id)
	}
	return nil
}

// ListEffective returns the user's active assignments that are unexpired at now
func (r *PostgresAssignmentRepository) ListEffective(ctx context.Context, userID kernel.UserID, now time.Time) ([]rbac.Assignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM user_roles
		WHERE user_id = $1 AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY assigned_at DESC`

	var list []rbac.Assignment
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &list, query, userID.String(), now); err != nil {
		return nil, errx.Wrap(err, "failed to list effective assignments", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return list, nil
}

// ListByUser returns every assignment of the user
func (r *PostgresAssignmentRepository) ListByUser(ctx context.Context, userID kernel.UserID) ([]rbac.Assignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM user_roles WHERE user_id = $1 ORDER BY assigned_at DESC`

	var list []rbac.Assignment
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &list, query, userID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to list user assignments", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	if list == nil {
		list = []rbac.Assignment{}
	}
	return list, nil
}

// ListByRole returns every assignment of the role
func (r *PostgresAssignmentRepository) ListByRole(ctx context.Context, roleID string) ([]rbac.Assignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM user_roles WHERE role_id = $1 ORDER BY assigned_at DESC`

	var list []rbac.Assignment
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &list, query, roleID); err != nil {
		return nil, errx.Wrap(err, "failed to list role assignments", errx.TypeInternal).
			WithDetail("role_id", roleID)
	}
	if list == nil {
		list = []rbac.Assignment{}
	}
	return list, nil
}

// UserIDsByRole returns the distinct holders of a role
func (r *PostgresAssignmentRepository) UserIDsByRole(ctx context.Context, roleID string) ([]kernel.UserID, error) {
	var ids []kernel.UserID
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &ids,
		`SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return nil, errx.Wrap(err, "failed to list role holders", errx.TypeInternal).
			WithDetail("role_id", roleID)
	}
	return ids, nil
}
