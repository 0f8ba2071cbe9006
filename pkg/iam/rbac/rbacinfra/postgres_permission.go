package rbacinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
)

const permissionColumns = `
	id, name, slug, description, module, category, risk_level,
	requires_mfa, requires_approval, depends_on, conflicts_with,
	is_system, is_active, is_deprecated, created_at, updated_at`

// PostgresPermissionRepository is the PostgreSQL implementation of rbac.PermissionRepository
type PostgresPermissionRepository struct {
	db *sqlx.DB
}

func NewPostgresPermissionRepository(db *sqlx.DB) *PostgresPermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

// Create inserts a permission
func (r *PostgresPermissionRepository) Create(ctx context.Context, p *rbac.Permission) error {
	query := `
		INSERT INTO permissions (
			id, name, slug, description, module, category, risk_level,
			requires_mfa, requires_approval, depends_on, conflicts_with,
			is_system, is_active, is_deprecated, created_at, updated_at
		) VALUES (
			:id, :name, :slug, :description, :module, :category, :risk_level,
			:requires_mfa, :requires_approval, :depends_on, :conflicts_with,
			:is_system, :is_active, :is_deprecated, :created_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, p); err != nil {
		if dbx.IsUniqueViolation(err) {
			return rbac.ErrPermissionSlugTaken().WithDetail("slug", p.Slug)
		}
		return errx.Wrap(err, "failed to create permission", errx.TypeInternal).
			WithDetail("slug", p.Slug)
	}
	return nil
}

// Update rewrites a permission
func (r *PostgresPermissionRepository) Update(ctx context.Context, p *rbac.Permission) error {
	query := `
		UPDATE permissions SET
			name = :name,
			description = :description,
			category = :category,
			risk_level = :risk_level,
			requires_mfa = :requires_mfa,
			requires_approval = :requires_approval,
			depends_on = :depends_on,
			conflicts_with = :conflicts_with,
			is_active = :is_active,
			is_deprecated = :is_deprecated,
			updated_at = :updated_at
		WHERE id = :id`

	res, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, p)
	if err != nil {
		return errx.Wrap(err, "failed to update permission", errx.TypeInternal).
			WithDetail("permission_id", p.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rbac.ErrPermissionNotFound().WithDetail("permission_id", p.ID)
	}
	return nil
}

// FindByID returns a permission
func (r *PostgresPermissionRepository) FindByID(ctx context.Context, id string) (*rbac.Permission, error) {
	return r.findOne(ctx, "id", id)
}

// FindBySlug returns a permission
func (r *PostgresPermissionRepository) FindBySlug(ctx context.Context, slug string) (*rbac.Permission, error) {
	return r.findOne(ctx, "slug", slug)
}

func (r *PostgresPermissionRepository) findOne(ctx context.Context, column, value string) (*rbac.Permission, error) {
	query := `SELECT` + permissionColumns + ` FROM permissions WHERE ` + column + ` = $1`

	var p rbac.Permission
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &p, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rbac.ErrPermissionNotFound().WithDetail(column, value)
		}
		return nil, errx.Wrap(err, "failed to find permission", errx.TypeInternal).
			WithDetail(column, value)
	}
	return &p, nil
}

// FindBySlugs returns the permissions among slugs that exist
func (r *PostgresPermissionRepository) FindBySlugs(ctx context.Context, slugs []string) ([]rbac.Permission, error) {
	if len(slugs) == 0 {
		return []rbac.Permission{}, nil
	}
	query := `SELECT` + permissionColumns + ` FROM permissions WHERE slug = ANY($1)`

	var perms []rbac.Permission
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &perms, query, pq.Array(slugs)); err != nil {
		return nil, errx.Wrap(err, "failed to find permissions by slug", errx.TypeInternal)
	}
	return perms, nil
}

// List returns the catalog ordered by module and slug
func (r *PostgresPermissionRepository) List(ctx context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Module != "" {
		args = append(args, filter.Module)
		where = append(where, fmt.Sprintf("module = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}

	query := `SELECT` + permissionColumns + ` FROM permissions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY module ASC, slug ASC"

	var perms []rbac.Permission
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &perms, query, args...); err != nil {
		return nil, errx.Wrap(err, "failed to list permissions", errx.TypeInternal)
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	return perms, nil
}
