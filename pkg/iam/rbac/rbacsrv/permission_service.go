package rbacsrv

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type CreatePermissionInput struct {
	Name             string         `json:"name" validate:"required,min=2,max=100"`
	Slug             string         `json:"slug" validate:"required,min=3,max=100"`
	Description      *string        `json:"description,omitempty"`
	Category         *string        `json:"category,omitempty"`
	RiskLevel        rbac.RiskLevel `json:"risk_level,omitempty"`
	RequiresMFA      bool           `json:"requires_mfa"`
	RequiresApproval bool           `json:"requires_approval"`
	DependsOn        []string       `json:"depends_on,omitempty"`
	ConflictsWith    []string       `json:"conflicts_with,omitempty"`
}

type UpdatePermissionInput struct {
	Name             *string         `json:"name,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Category         *string         `json:"category,omitempty"`
	RiskLevel        *rbac.RiskLevel `json:"risk_level,omitempty"`
	RequiresMFA      *bool           `json:"requires_mfa,omitempty"`
	RequiresApproval *bool           `json:"requires_approval,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty"`
	ConflictsWith    []string        `json:"conflicts_with,omitempty"`
	IsDeprecated     *bool           `json:"is_deprecated,omitempty"`
}

// PermissionService manages the catalog and answers user permission queries.
type PermissionService struct {
	permissions rbac.PermissionRepository
	resolver    *rbac.Resolver
	now         func() time.Time
}

func NewPermissionService(permissions rbac.PermissionRepository, resolver *rbac.Resolver) *PermissionService {
	return &PermissionService{permissions: permissions, resolver: resolver, now: time.Now}
}

// Create adds a non-system permission. The module is the slug's first segment.
func (s *PermissionService) Create(ctx context.Context, in CreatePermissionInput) (*rbac.Permission, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	module, _, ok := strings.Cut(slug, ".")
	if !ok || module == "" {
		return nil, rbac.ErrInvalidInput("permission slug must look like module.action")
	}
	risk := in.RiskLevel
	if risk == "" {
		risk = rbac.RiskLow
	}
	if !risk.IsValid() {
		return nil, rbac.ErrInvalidInput("unknown risk level")
	}

	now := s.now()
	p := &rbac.Permission{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		Slug:             slug,
		Description:      in.Description,
		Module:           module,
		Category:         in.Category,
		RiskLevel:        risk,
		RequiresMFA:      in.RequiresMFA,
		RequiresApproval: in.RequiresApproval,
		DependsOn:        pq.StringArray(rbac.Dedupe(in.DependsOn)),
		ConflictsWith:    pq.StringArray(rbac.Dedupe(in.ConflictsWith)),
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.permissions.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PermissionService) Get(ctx context.Context, id string) (*rbac.Permission, error) {
	return s.permissions.FindByID(ctx, id)
}

func (s *PermissionService) List(ctx context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	return s.permissions.List(ctx, filter)
}

// Update changes a non-system permission.
func (s *PermissionService) Update(ctx context.Context, id string, in UpdatePermissionInput) (*rbac.Permission, error) {
	p, err := s.permissions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsSystem {
		return nil, rbac.ErrSystemPermImmutable()
	}

	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = in.Description
	}
	if in.Category != nil {
		p.Category = in.Category
	}
	if in.RiskLevel != nil {
		if !in.RiskLevel.IsValid() {
			return nil, rbac.ErrInvalidInput("unknown risk level")
		}
		p.RiskLevel = *in.RiskLevel
	}
	if in.RequiresMFA != nil {
		p.RequiresMFA = *in.RequiresMFA
	}
	if in.RequiresApproval != nil {
		p.RequiresApproval = *in.RequiresApproval
	}
	if in.DependsOn != nil {
		p.DependsOn = pq.StringArray(rbac.Dedupe(in.DependsOn))
	}
	if in.ConflictsWith != nil {
		p.ConflictsWith = pq.StringArray(rbac.Dedupe(in.ConflictsWith))
	}
	if in.IsDeprecated != nil {
		p.IsDeprecated = *in.IsDeprecated
	}
	p.UpdatedAt = s.now()

	if err := s.permissions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Remove deactivates a non-system permission.
func (s *PermissionService) Remove(ctx context.Context, id string) error {
	p, err := s.permissions.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if p.IsSystem {
		return rbac.ErrSystemPermImmutable()
	}
	p.IsActive = false
	p.UpdatedAt = s.now()
	return s.permissions.Update(ctx, p)
}

// UserPermissions returns the user's effective permission slugs, sorted.
func (s *PermissionService) UserPermissions(ctx context.Context, userID kernel.UserID) ([]string, error) {
	set, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Slugs(), nil
}

// UserPermissionsWithDetails returns the active catalog records behind the
// user's effective permissions.
func (s *PermissionService) UserPermissionsWithDetails(ctx context.Context, userID kernel.UserID) ([]rbac.Permission, error) {
	slugs, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissions.FindBySlugs(ctx, slugs)
	if err != nil {
		return nil, err
	}
	out := perms[:0]
	for _, p := range perms {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PermissionService) Check(ctx context.Context, userID kernel.UserID, slug string) (bool, error) {
	return s.resolver.HasPermission(ctx, userID, slug)
}

func (s *PermissionService) CheckAll(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error) {
	return s.resolver.HasAll(ctx, userID, slugs)
}

func (s *PermissionService) CheckAny(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error) {
	return s.resolver.HasAny(ctx, userID, slugs)
}
