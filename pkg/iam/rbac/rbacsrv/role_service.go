package rbacsrv

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// ============================================================================
// Inputs
// ============================================================================

type CreateRoleInput struct {
	OrganizationID *kernel.OrganizationID `json:"organization_id,omitempty"`
	Name           string                 `json:"name" validate:"required,min=2,max=100"`
	Slug           string                 `json:"slug" validate:"required,min=2,max=100"`
	Description    *string                `json:"description,omitempty"`
	Permissions    []string               `json:"permissions"`
	Priority       int                    `json:"priority"`
	IsAssignable   *bool                  `json:"is_assignable,omitempty"`
	Level          int                    `json:"level"`
	ParentRoleID   *string                `json:"parent_role_id,omitempty"`
	Metadata       kernel.JSONMap         `json:"metadata,omitempty"`
}

type UpdateRoleInput struct {
	Name         *string        `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Description  *string        `json:"description,omitempty"`
	Permissions  []string       `json:"permissions,omitempty"`
	Priority     *int           `json:"priority,omitempty"`
	IsAssignable *bool          `json:"is_assignable,omitempty"`
	Metadata     kernel.JSONMap `json:"metadata,omitempty"`
}

type AssignRoleInput struct {
	UserID         kernel.UserID  `json:"user_id" validate:"required"`
	RoleID         string         `json:"role_id" validate:"required"`
	Scope          string         `json:"scope,omitempty"`
	ResourceType   *string        `json:"resource_type,omitempty"`
	ResourceID     *string        `json:"resource_id,omitempty"`
	Conditions     kernel.JSONMap `json:"conditions,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	AssignedReason *string        `json:"assigned_reason,omitempty"`
}

// ============================================================================
// RoleService
// ============================================================================

type RoleService struct {
	roles       rbac.RoleRepository
	permissions rbac.PermissionRepository
	assignments rbac.AssignmentRepository
	users       user.Repository
	orgs        organization.Repository
	resolver    *rbac.Resolver
	now         func() time.Time
}

func NewRoleService(
	roles rbac.RoleRepository,
	permissions rbac.PermissionRepository,
	assignments rbac.AssignmentRepository,
	users user.Repository,
	orgs organization.Repository,
	resolver *rbac.Resolver,
) *RoleService {
	return &RoleService{
		roles:       roles,
		permissions: permissions,
		assignments: assignments,
		users:       users,
		orgs:        orgs,
		resolver:    resolver,
		now:         time.Now,
	}
}

// CreateRole creates an organization role, or a system role when no
// organization is given.
func (s *RoleService) CreateRole(ctx context.Context, in CreateRoleInput) (*rbac.Role, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if slug == "" || strings.TrimSpace(in.Name) == "" {
		return nil, rbac.ErrInvalidInput("name and slug are required")
	}

	if in.OrganizationID != nil {
		if _, err := s.orgs.FindByID(ctx, *in.OrganizationID); err != nil {
			return nil, err
		}
	}

	if existing, err := s.roles.FindBySlug(ctx, in.OrganizationID, slug); err == nil && existing != nil {
		return nil, rbac.ErrRoleSlugTaken().WithDetail("slug", slug)
	} else if err != nil && !errx.IsCode(err, rbac.CodeRoleNotFound) {
		return nil, err
	}

	perms := rbac.Dedupe(in.Permissions)
	if err := s.validatePermissions(ctx, perms); err != nil {
		return nil, err
	}

	assignable := true
	if in.IsAssignable != nil {
		assignable = *in.IsAssignable
	}
	now := s.now()
	role := &rbac.Role{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Name:           strings.TrimSpace(in.Name),
		Slug:           slug,
		Description:    in.Description,
		Permissions:    pq.StringArray(perms),
		Priority:       in.Priority,
		IsSystem:       in.OrganizationID == nil,
		IsAssignable:   assignable,
		Level:          in.Level,
		ParentRoleID:   in.ParentRoleID,
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}

	logx.WithContext(ctx).WithFields(logx.Fields{
		"role_id": role.ID,
		"slug":    role.Slug,
		"system":  role.IsSystem,
	}).Info("role created")
	return role, nil
}

// GetRole returns a live role.
func (s *RoleService) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	return s.roles.FindByID(ctx, id)
}

// ListRoles returns an organization's roles, optionally with system roles.
func (s *RoleService) ListRoles(ctx context.Context, orgID *kernel.OrganizationID, includeSystem bool) ([]rbac.Role, error) {
	return s.roles.List(ctx, orgID, includeSystem)
}

// UpdateRole changes an organization role. A permission change clears the
// cache of every holder before returning.
func (s *RoleService) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*rbac.Role, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, rbac.ErrSystemRoleImmutable()
	}

	permsChanged := false
	if in.Name != nil {
		role.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		role.Description = in.Description
	}
	if in.Priority != nil {
		role.Priority = *in.Priority
	}
	if in.IsAssignable != nil {
		role.IsAssignable = *in.IsAssignable
	}
	if in.Metadata != nil {
		role.Metadata = in.Metadata
	}
	if in.Permissions != nil {
		perms := rbac.Dedupe(in.Permissions)
		if err := s.validatePermissions(ctx, perms); err != nil {
			return nil, err
		}
		permsChanged = !samePermissions(role.Permissions, perms)
		role.Permissions = pq.StringArray(perms)
	}
	role.UpdatedAt = s.now()

	if err := s.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	if permsChanged {
		if err := s.invalidateHolders(ctx, role.ID); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// RemoveRole soft-deletes an organization role and clears its holders' caches.
func (s *RoleService) RemoveRole(ctx context.Context, id string) error {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return rbac.ErrSystemRoleImmutable()
	}
	if err := s.roles.SoftDelete(ctx, id); err != nil {
		return err
	}
	return s.invalidateHolders(ctx, id)
}

// AssignRole grants a role to a user.
func (s *RoleService) AssignRole(ctx context.Context, in AssignRoleInput, assignedBy *kernel.UserID) (*rbac.Assignment, error) {
	u, err := s.users.FindByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.FindByID(ctx, in.RoleID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckGrant(ctx, role, assignedBy); err != nil {
		return nil, err
	}
	if !role.UsableIn(u.OrganizationID) {
		return nil, rbac.ErrRoleNotAssignable().WithDetail("reason", "role belongs to another organization")
	}

	scope := strings.TrimSpace(in.Scope)
	if scope == "" {
		scope = rbac.ScopeGlobal
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, rbac.ErrInvalidInput("expires_at must be in the future")
	}

	a := &rbac.Assignment{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		RoleID:         role.ID,
		Scope:          scope,
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		Conditions:     in.Conditions,
		ExpiresAt:      in.ExpiresAt,
		IsActive:       true,
		AssignedBy:     assignedBy,
		AssignedReason: in.AssignedReason,
		AssignedAt:     now,
		UpdatedAt:      now,
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := s.resolver.InvalidateUser(ctx, u.ID); err != nil {
		return nil, err
	}

	logx.WithContext(ctx).WithFields(logx.Fields{
		"assignment_id": a.ID,
		"user_id":       u.ID.String(),
		"role":          role.Slug,
		"scope":         scope,
	}).Info("role assigned")

	a.Role = role
	return a, nil
}

// CheckGrant reports whether grantor may hand out role. The super-admin role
// is held back from tenant admins and from internal grants with no grantor.
func (s *RoleService) CheckGrant(ctx context.Context, role *rbac.Role, grantor *kernel.UserID) error {
	if role.IsSuperAdmin() {
		if grantor == nil {
			return rbac.ErrSuperAdminRequired()
		}
		ok, err := s.resolver.IsSuperAdmin(ctx, *grantor)
		if err != nil {
			return err
		}
		if !ok {
			logx.WithContext(ctx).WithFields(logx.Fields{
				"grantor": grantor.String(),
				"role":    role.Slug,
			}).Warn("super-admin grant refused")
			return rbac.ErrSuperAdminRequired()
		}
		return nil
	}
	if !role.IsAssignable {
		return rbac.ErrRoleNotAssignable()
	}
	return nil
}

// AssignRoleBySlug grants the organization role named slug, falling back to
// the system role of the same slug.
func (s *RoleService) AssignRoleBySlug(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, slug string, assignedBy *kernel.UserID) (*rbac.Assignment, error) {
	role, err := s.roles.FindBySlug(ctx, &orgID, slug)
	if err != nil {
		if !errx.IsCode(err, rbac.CodeRoleNotFound) {
			return nil, err
		}
		if role, err = s.roles.FindBySlug(ctx, nil, slug); err != nil {
			return nil, err
		}
	}
	return s.AssignRole(ctx, AssignRoleInput{UserID: userID, RoleID: role.ID}, assignedBy)
}

// RevokeRole deletes an assignment and clears the holder's cache.
func (s *RoleService) RevokeRole(ctx context.Context, assignmentID string) error {
	a, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return err
	}
	if err := s.assignments.Delete(ctx, assignmentID); err != nil {
		return err
	}
	if err := s.resolver.InvalidateUser(ctx, a.UserID); err != nil {
		return err
	}

	logx.WithContext(ctx).WithFields(logx.Fields{
		"assignment_id": assignmentID,
		"user_id":       a.UserID.String(),
	}).Info("role revoked")
	return nil
}

// GetUserRoles returns the user's effective assignments with their roles.
func (s *RoleService) GetUserRoles(ctx context.Context, userID kernel.UserID) ([]rbac.Assignment, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.resolver.EffectiveAssignments(ctx, userID)
}

// GetRoleUsers returns every assignment of a role.
func (s *RoleService) GetRoleUsers(ctx context.Context, roleID string) ([]rbac.Assignment, error) {
	if _, err := s.roles.FindByID(ctx, roleID); err != nil {
		return nil, err
	}
	return s.assignments.ListByRole(ctx, roleID)
}

// GetAssignment returns one assignment.
func (s *RoleService) GetAssignment(ctx context.Context, id string) (*rbac.Assignment, error) {
	return s.assignments.FindByID(ctx, id)
}

// EnsureUserInOrganization reports a user outside orgID as not found, so
// callers cannot enumerate other tenants' members.
func (s *RoleService) EnsureUserInOrganization(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.OrganizationID != orgID {
		return user.ErrNotFound()
	}
	return nil
}

func (s *RoleService) validatePermissions(ctx context.Context, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}
	catalog, err := s.permissions.FindBySlugs(ctx, slugs)
	if err != nil {
		return err
	}
	return rbac.ValidatePermissionSet(slugs, catalog)
}

func (s *RoleService) invalidateHolders(ctx context.Context, roleID string) error {
	holders, err := s.assignments.UserIDsByRole(ctx, roleID)
	if err != nil {
		return err
	}
	return s.resolver.InvalidateUsers(ctx, holders)
}

func samePermissions(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := rbac.NewPermissionSet(a...)
	for _, s := range b {
		if !set.Has(s) {
			return false
		}
	}
	return true
}
