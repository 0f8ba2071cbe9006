package rbacinfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

const roleColumns = `
	id, organization_id, name, slug, description, permissions, priority,
	is_system, is_assignable, level, parent_role_id, metadata,
	created_at, updated_at, deleted_at`

// PostgresRoleRepository is the PostgreSQL implementation of rbac.RoleRepository
type PostgresRoleRepository struct {
	db *sqlx.DB
}

func NewPostgresRoleRepository(db *sqlx.DB) *PostgresRoleRepository {
	return &PostgresRoleRepository{db: db}
}

// Create inserts a role
func (r *PostgresRoleRepository) Create(ctx context.Context, role *rbac.Role) error {
	query := `
		INSERT INTO roles (
			id, organization_id, name, slug, description, permissions, priority,
			is_system, is_assignable, level, parent_role_id, metadata,
			created_at, updated_at
		) VALUES (
			:id, :organization_id, :name, :slug, :description, :permissions, :priority,
			:is_system, :is_assignable, :level, :parent_role_id, :metadata,
			:created_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, role); err != nil {
		if dbx.IsUniqueViolation(err) {
			return rbac.ErrRoleSlugTaken().WithDetail("slug", role.Slug)
		}
		return errx.Wrap(err, "failed to create role", errx.TypeInternal).
			WithDetail("slug", role.Slug)
	}
	return nil
}

// Update rewrites the mutable columns of a live role
func (r *PostgresRoleRepository) Update(ctx context.Context, role *rbac.Role) error {
	query := `
		UPDATE roles SET
			name = :name,
			slug = :slug,
			description = :description,
			permissions = :permissions,
			priority = :priority,
			is_assignable = :is_assignable,
			level = :level,
			parent_role_id = :parent_role_id,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`

	res, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, role)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return rbac.ErrRoleSlugTaken().WithDetail("slug", role.Slug)
		}
		return errx.Wrap(err, "failed to update role", errx.TypeInternal).
			WithDetail("role_id", role.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rbac.ErrRoleNotFound().WithDetail("role_id", role.ID)
	}
	return nil
}

// FindByID returns a live role
func (r *PostgresRoleRepository) FindByID(ctx context.Context, id string) (*rbac.Role, error) {
	query := `SELECT` + roleColumns + ` FROM roles WHERE id = $1 AND deleted_at IS NULL`

	var role rbac.Role
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &role, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rbac.ErrRoleNotFound().WithDetail("role_id", id)
		}
		return nil, errx.Wrap(err, "failed to find role by id", errx.TypeInternal).
			WithDetail("role_id", id)
	}
	return &role, nil
}

// FindBySlug looks among orgID's roles, or among system roles when orgID is nil
func (r *PostgresRoleRepository) FindBySlug(ctx context.Context, orgID *kernel.OrganizationID, slug string) (*rbac.Role, error) {
	var (
		role  rbac.Role
		err   error
		query string
	)
	if orgID == nil {
		query = `SELECT` + roleColumns + ` FROM roles
			WHERE slug = $1 AND organization_id IS NULL AND deleted_at IS NULL`
		err = dbx.Conn(ctx, r.db).GetContext(ctx, &role, query, slug)
	} else {
		query = `SELECT` + roleColumns + ` FROM roles
			WHERE slug = $1 AND organization_id = $2 AND deleted_at IS NULL`
		err = dbx.Conn(ctx, r.db).GetContext(ctx, &role, query, slug, orgID.String())
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rbac.ErrRoleNotFound().WithDetail("slug", slug)
		}
		return nil, errx.Wrap(err, "failed to find role by slug", errx.TypeInternal).
			WithDetail("slug", slug)
	}
	return &role, nil
}

// FindByIDs returns the live roles among ids, in no particular order
func (r *PostgresRoleRepository) FindByIDs(ctx context.Context, ids []string) ([]rbac.Role, error) {
	if len(ids) == 0 {
		return []rbac.Role{}, nil
	}
	query := `SELECT` + roleColumns + ` FROM roles WHERE id = ANY($1) AND deleted_at IS NULL`

	var roles []rbac.Role
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &roles, query, pq.Array(ids)); err != nil {
		return nil, errx.Wrap(err, "failed to find roles by ids", errx.TypeInternal)
	}
	return roles, nil
}

// List returns orgID's roles, plus system roles when includeSystem is set
func (r *PostgresRoleRepository) List(ctx context.Context, orgID *kernel.OrganizationID, includeSystem bool) ([]rbac.Role, error) {
	var (
		roles []rbac.Role
		err   error
	)
	if orgID == nil {
		query := `SELECT` + roleColumns + ` FROM roles
			WHERE organization_id IS NULL AND deleted_at IS NULL
			ORDER BY priority DESC, name ASC`
		err = dbx.Conn(ctx, r.db).SelectContext(ctx, &roles, query)
	} else {
		query := `SELECT` + roleColumns + ` FROM roles
			WHERE deleted_at IS NULL
			  AND (organization_id = $1 OR ($2 AND organization_id IS NULL))
			ORDER BY priority DESC, name ASC`
		err = dbx.Conn(ctx, r.db).SelectContext(ctx, &roles, query, orgID.String(), includeSystem)
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to list roles", errx.TypeInternal)
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	return roles, nil
}

// SoftDelete tombstones a role
func (r *PostgresRoleRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE roles SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete role", errx.TypeInternal).
			WithDetail("role_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rbac.ErrRoleNotFound().WithDetail("role_id", id)
	}
	return nil
}
