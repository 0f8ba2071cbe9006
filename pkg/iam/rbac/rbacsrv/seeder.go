package rbacsrv

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/ptrx"
)

// Seeder writes the built-in permission catalog and system roles. Running it
// again only adds what is missing.
type Seeder struct {
	roles       rbac.RoleRepository
	permissions rbac.PermissionRepository
}

func NewSeeder(roles rbac.RoleRepository, permissions rbac.PermissionRepository) *Seeder {
	return &Seeder{roles: roles, permissions: permissions}
}

func (s *Seeder) Seed(ctx context.Context) error {
	now := time.Now()
	created := 0

	for _, seed := range rbac.DefaultPermissions() {
		_, err := s.permissions.FindBySlug(ctx, seed.Slug)
		if err == nil {
			continue
		}
		if !errx.IsCode(err, rbac.CodePermissionNotFound) {
			return err
		}

		p := &rbac.Permission{
			ID:            uuid.NewString(),
			Name:          seed.Name,
			Slug:          seed.Slug,
			Module:        seed.Module(),
			Category:      ptrx.String(seed.Category),
			Description:   ptrx.String(seed.Description),
			RiskLevel:     seed.Risk,
			RequiresMFA:   seed.RequiresMFA,
			DependsOn:     pq.StringArray(seed.DependsOn),
			ConflictsWith: pq.StringArray{},
			IsSystem:      true,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.permissions.Create(ctx, p); err != nil && !errx.IsCode(err, rbac.CodePermissionSlugTaken) {
			return err
		}
		created++
	}

	for _, seed := range rbac.DefaultRoles() {
		_, err := s.roles.FindBySlug(ctx, nil, seed.Slug)
		if err == nil {
			continue
		}
		if !errx.IsCode(err, rbac.CodeRoleNotFound) {
			return err
		}

		role := &rbac.Role{
			ID:           uuid.NewString(),
			Name:         seed.Name,
			Slug:         seed.Slug,
			Description:  ptrx.String(seed.Description),
			Permissions:  pq.StringArray(seed.Permissions),
			Priority:     seed.Priority,
			IsSystem:     true,
			IsAssignable: !seed.Restricted,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.roles.Create(ctx, role); err != nil && !errx.IsCode(err, rbac.CodeRoleSlugTaken) {
			return err
		}
		created++
	}

	if created > 0 {
		logx.Infof("rbac catalog seeded: %d records created", created)
	}
	return nil
}
