package rbac

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// RoleRepository persists roles. Soft-deleted roles are invisible to lookups.
type RoleRepository interface {
	Create(ctx context.Context, r *Role) error
	Update(ctx context.Context, r *Role) error
	FindByID(ctx context.Context, id string) (*Role, error)
	// FindBySlug looks in orgID's roles, or among system roles when orgID is nil.
	FindBySlug(ctx context.Context, orgID *kernel.OrganizationID, slug string) (*Role, error)
	FindByIDs(ctx context.Context, ids []string) ([]Role, error)
	// List returns orgID's roles, plus system roles when includeSystem is set.
	List(ctx context.Context, orgID *kernel.OrganizationID, includeSystem bool) ([]Role, error)
	SoftDelete(ctx context.Context, id string) error
}

// PermissionRepository persists the permission catalog.
type PermissionRepository interface {
	Create(ctx context.Context, p *Permission) error
	Update(ctx context.Context, p *Permission) error
	FindByID(ctx context.Context, id string) (*Permission, error)
	FindBySlug(ctx context.Context, slug string) (*Permission, error)
	FindBySlugs(ctx context.Context, slugs []string) ([]Permission, error)
	List(ctx context.Context, filter PermissionFilter) ([]Permission, error)
}

// PermissionFilter narrows PermissionRepository.List.
type PermissionFilter struct {
	Module     string
	Category   string
	ActiveOnly bool
}

// AssignmentRepository persists user-role links. The (user, role, scope,
// resource type, resource id) tuple is unique and surfaces as
// ErrAssignmentExists.
type AssignmentRepository interface {
	Create(ctx context.Context, a *Assignment) error
	FindByID(ctx context.Context, id string) (*Assignment, error)
	Delete(ctx context.Context, id string) error
	// ListEffective returns assignments active and unexpired at now, ordered
	// by assigned_at descending.
	ListEffective(ctx context.Context, userID kernel.UserID, now time.Time) ([]Assignment, error)
	ListByUser(ctx context.Context, userID kernel.UserID) ([]Assignment, error)
	ListByRole(ctx context.Context, roleID string) ([]Assignment, error)
	// UserIDsByRole returns the distinct users holding roleID.
	UserIDsByRole(ctx context.Context, roleID string) ([]kernel.UserID, error)
}

// PermissionCache is a concurrent key-value store of permission decisions.
// It is never a source of truth.
type PermissionCache interface {
	Get(ctx context.Context, key string) (allowed bool, found bool, err error)
	Set(ctx context.Context, key string, allowed bool, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// HierarchyExpander turns the directly assigned roles into the set whose
// permissions count. Inheritance through ParentRoleID plugs in here.
type HierarchyExpander interface {
	Expand(ctx context.Context, roles []Role) ([]Role, error)
}

// FlatHierarchy grants exactly the directly assigned roles.
type FlatHierarchy struct{}

func (FlatHierarchy) Expand(_ context.Context, roles []Role) ([]Role, error) {
	return roles, nil
}
