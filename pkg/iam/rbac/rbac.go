package rbac

import (
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/ptrx"
)

const (
	// SuperAdminSlug names the system role that bypasses tenant scoping.
	SuperAdminSlug = "super-admin"
	// AdminSlug is granted to whoever creates an organization.
	AdminSlug = "admin"
	// ScopeGlobal is the default assignment scope.
	ScopeGlobal = "global"
)

// Role groups permission slugs. A nil OrganizationID makes it a system role
// usable by every tenant.
type Role struct {
	ID             string                 `db:"id" json:"id"`
	OrganizationID *kernel.OrganizationID `db:"organization_id" json:"organization_id,omitempty"`
	Name           string                 `db:"name" json:"name"`
	Slug           string                 `db:"slug" json:"slug"`
	Description    *string                `db:"description" json:"description,omitempty"`
	Permissions    pq.StringArray         `db:"permissions" json:"permissions"`
	Priority       int                    `db:"priority" json:"priority"`
	IsSystem       bool                   `db:"is_system" json:"is_system"`
	IsAssignable   bool                   `db:"is_assignable" json:"is_assignable"`
	Level          int                    `db:"level" json:"level"`
	ParentRoleID   *string                `db:"parent_role_id" json:"parent_role_id,omitempty"`
	Metadata       kernel.JSONMap         `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time             `db:"deleted_at" json:"-"`
}

func (r *Role) IsDeleted() bool { return r.DeletedAt != nil }

// UsableIn reports whether the role can be granted inside orgID.
func (r *Role) UsableIn(orgID kernel.OrganizationID) bool {
	return r.OrganizationID == nil || *r.OrganizationID == orgID
}

// IsSuperAdmin reports whether r is the platform super-admin role. Only a
// system row matches; an organization role borrowing the slug does not.
func (r *Role) IsSuperAdmin() bool {
	return r.IsSystem && r.OrganizationID == nil && strings.EqualFold(r.Slug, SuperAdminSlug)
}

// RiskLevel classifies a permission.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Permission is a dotted module.action capability.
type Permission struct {
	ID               string         `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Slug             string         `db:"slug" json:"slug"`
	Description      *string        `db:"description" json:"description,omitempty"`
	Module           string         `db:"module" json:"module"`
	Category         *string        `db:"category" json:"category,omitempty"`
	RiskLevel        RiskLevel      `db:"risk_level" json:"risk_level"`
	RequiresMFA      bool           `db:"requires_mfa" json:"requires_mfa"`
	RequiresApproval bool           `db:"requires_approval" json:"requires_approval"`
	DependsOn        pq.StringArray `db:"depends_on" json:"depends_on"`
	ConflictsWith    pq.StringArray `db:"conflicts_with" json:"conflicts_with"`
	IsSystem         bool           `db:"is_system" json:"is_system"`
	IsActive         bool           `db:"is_active" json:"is_active"`
	IsDeprecated     bool           `db:"is_deprecated" json:"is_deprecated"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Assignment links a user to a role, optionally bound to a resource, a
// condition map, or an expiry.
type Assignment struct {
	ID             string         `db:"id" json:"id"`
	UserID         kernel.UserID  `db:"user_id" json:"user_id"`
	RoleID         string         `db:"role_id" json:"role_id"`
	Scope          string         `db:"scope" json:"scope"`
	ResourceType   *string        `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID     *string        `db:"resource_id" json:"resource_id,omitempty"`
	Conditions     kernel.JSONMap `db:"conditions" json:"conditions,omitempty"`
	ExpiresAt      *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	AssignedBy     *kernel.UserID `db:"assigned_by" json:"assigned_by,omitempty"`
	AssignedReason *string        `db:"assigned_reason" json:"assigned_reason,omitempty"`
	AssignedAt     time.Time      `db:"assigned_at" json:"assigned_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`

	Role *Role `db:"-" json:"role,omitempty"`
}

// IsEffective reports whether the assignment grants anything at now.
func (a *Assignment) IsEffective(now time.Time) bool {
	return a.IsActive && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// SameTuple reports whether two assignments collide on the unique key.
func (a *Assignment) SameTuple(b *Assignment) bool {
	return a.UserID == b.UserID && a.RoleID == b.RoleID && a.Scope == b.Scope &&
		ptrx.Value(a.ResourceType) == ptrx.Value(b.ResourceType) && ptrx.Value(a.ResourceID) == ptrx.Value(b.ResourceID)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("RBAC")

var (
	CodeRoleNotFound         = ErrRegistry.Register("ROLE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Role not found")
	CodeRoleSlugTaken        = ErrRegistry.Register("ROLE_SLUG_TAKEN", errx.TypeConflict, http.StatusConflict, "Role with this slug already exists")
	CodeSystemRoleImmutable  = ErrRegistry.Register("SYSTEM_ROLE_IMMUTABLE", errx.TypeForbidden, http.StatusForbidden, "System roles cannot be modified")
	CodeRoleNotAssignable    = ErrRegistry.Register("ROLE_NOT_ASSIGNABLE", errx.TypeValidation, http.StatusBadRequest, "This role cannot be assigned")
	CodePermissionNotFound   = ErrRegistry.Register("PERMISSION_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Permission not found")
	CodePermissionSlugTaken  = ErrRegistry.Register("PERMISSION_SLUG_TAKEN", errx.TypeConflict, http.StatusConflict, "Permission with this slug already exists")
	CodeSystemPermImmutable  = ErrRegistry.Register("SYSTEM_PERMISSION_IMMUTABLE", errx.TypeForbidden, http.StatusForbidden, "System permissions cannot be modified")
	CodeAssignmentNotFound   = ErrRegistry.Register("ASSIGNMENT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Role assignment not found")
	CodeAssignmentExists     = ErrRegistry.Register("ASSIGNMENT_EXISTS", errx.TypeConflict, http.StatusConflict, "User already has this role assignment")
	CodePermissionDependency = ErrRegistry.Register("PERMISSION_DEPENDENCY", errx.TypeValidation, http.StatusBadRequest, "Permission set is missing a required dependency")
	CodePermissionConflict   = ErrRegistry.Register("PERMISSION_CONFLICT", errx.TypeValidation, http.StatusBadRequest, "Permission set contains conflicting permissions")
	CodeSuperAdminRequired   = ErrRegistry.Register("SUPER_ADMIN_REQUIRED", errx.TypeForbidden, http.StatusForbidden, "Only a super admin can grant this role")
	CodeInvalidInput         = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid input")
)

func ErrRoleNotFound() *errx.Error         { return ErrRegistry.New(CodeRoleNotFound) }
func ErrRoleSlugTaken() *errx.Error        { return ErrRegistry.New(CodeRoleSlugTaken) }
func ErrSystemRoleImmutable() *errx.Error  { return ErrRegistry.New(CodeSystemRoleImmutable) }
func ErrRoleNotAssignable() *errx.Error    { return ErrRegistry.New(CodeRoleNotAssignable) }
func ErrPermissionNotFound() *errx.Error   { return ErrRegistry.New(CodePermissionNotFound) }
func ErrPermissionSlugTaken() *errx.Error  { return ErrRegistry.New(CodePermissionSlugTaken) }
func ErrSystemPermImmutable() *errx.Error  { return ErrRegistry.New(CodeSystemPermImmutable) }
func ErrAssignmentNotFound() *errx.Error   { return ErrRegistry.New(CodeAssignmentNotFound) }
func ErrAssignmentExists() *errx.Error     { return ErrRegistry.New(CodeAssignmentExists) }
func ErrPermissionDependency() *errx.Error { return ErrRegistry.New(CodePermissionDependency) }
func ErrPermissionConflict() *errx.Error   { return ErrRegistry.New(CodePermissionConflict) }
func ErrSuperAdminRequired() *errx.Error   { return ErrRegistry.New(CodeSuperAdminRequired) }

func ErrInvalidInput(msg string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidInput, msg)
}
