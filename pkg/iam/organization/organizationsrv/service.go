package organizationsrv

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/subdomain"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// ============================================================================
// Inputs
// ============================================================================

type CreateInput struct {
	Name        string  `json:"name" validate:"required,min=2,max=255"`
	Slug        string  `json:"slug" validate:"required,min=2,max=100"`
	Domain      *string `json:"domain,omitempty"`
	Description *string `json:"description,omitempty"`
	LogoURL     *string `json:"logo_url,omitempty"`
	Plan        string  `json:"plan,omitempty"`
	// CustomSubdomain is used when Domain is empty.
	CustomSubdomain *string `json:"custom_subdomain,omitempty"`
	// AutoGenerateSubdomain defaults to true.
	AutoGenerateSubdomain *bool          `json:"auto_generate_subdomain,omitempty"`
	Settings              kernel.JSONMap `json:"settings,omitempty"`
	Branding              kernel.JSONMap `json:"branding,omitempty"`
}

type UpdateInput struct {
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=2,max=255"`
	Slug        *string        `json:"slug,omitempty" validate:"omitempty,min=2,max=100"`
	Domain      *string        `json:"domain,omitempty"`
	Description *string        `json:"description,omitempty"`
	LogoURL     *string        `json:"logo_url,omitempty"`
	Plan        *string        `json:"plan,omitempty"`
	Settings    kernel.JSONMap `json:"settings,omitempty"`
	Branding    kernel.JSONMap `json:"branding,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

// ============================================================================
// Service
// ============================================================================

type Service struct {
	orgs     organization.Repository
	resolver *subdomain.Resolver
	now      func() time.Time
}

func NewService(orgs organization.Repository, resolver *subdomain.Resolver) *Service {
	return &Service{orgs: orgs, resolver: resolver, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create registers a tenant. createdBy is recorded in the log only.
func (s *Service) Create(ctx context.Context, in CreateInput, createdBy *kernel.UserID) (*organization.Organization, error) {
	name := strings.TrimSpace(in.Name)
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if name == "" || slug == "" {
		return nil, organization.ErrInvalidInput().WithDetail("reason", "name and slug are required")
	}

	taken, err := s.orgs.SlugExists(ctx, slug, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, organization.ErrSlugTaken().WithDetail("slug", slug)
	}

	domain, err := s.resolveDomain(ctx, name, in)
	if err != nil {
		return nil, err
	}

	plan := strings.TrimSpace(in.Plan)
	if plan == "" {
		plan = organization.DefaultPlan
	}

	now := s.now()
	org := &organization.Organization{
		ID:          kernel.NewOrganizationID(uuid.NewString()),
		Name:        name,
		Slug:        slug,
		Domain:      domain,
		Description: in.Description,
		LogoURL:     in.LogoURL,
		Plan:        plan,
		Settings:    orEmpty(in.Settings),
		Branding:    orEmpty(in.Branding),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, err
	}

	fields := logx.Fields{"organization_id": org.ID, "slug": org.Slug}
	if domain != nil {
		fields["domain"] = *domain
	}
	if createdBy != nil {
		fields["created_by"] = *createdBy
	}
	logx.WithContext(ctx).WithFields(fields).Info("organization created")

	return org, nil
}

// resolveDomain picks the explicit domain, then the custom subdomain, then a
// generated one. It returns nil when generation is switched off.
func (s *Service) resolveDomain(ctx context.Context, name string, in CreateInput) (*string, error) {
	for _, candidate := range []*string{in.Domain, in.CustomSubdomain} {
		if candidate == nil || strings.TrimSpace(*candidate) == "" {
			continue
		}
		d, err := s.resolver.ValidateAndReserve(ctx, *candidate)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}

	if in.AutoGenerateSubdomain != nil && !*in.AutoGenerateSubdomain {
		return nil, nil
	}
	d, err := s.resolver.GenerateUnique(ctx, name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) Get(ctx context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	return s.orgs.FindByID(ctx, id)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*organization.Organization, error) {
	return s.orgs.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
}

func (s *Service) GetByDomain(ctx context.Context, domain string) (*organization.Organization, error) {
	return s.orgs.FindByDomain(ctx, strings.ToLower(strings.TrimSpace(domain)))
}

// GetUsable resolves an organization by id, falling back to slug, and
// reports inactive or deleted tenants as not found.
func (s *Service) GetUsable(ctx context.Context, idOrSlug string) (*organization.Organization, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return nil, organization.ErrIdentifierRequired()
	}
	org, err := s.orgs.FindByID(ctx, kernel.NewOrganizationID(idOrSlug))
	if errx.IsCode(err, organization.CodeNotFound) {
		org, err = s.GetBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if !org.IsUsable() {
		return nil, organization.ErrNotFound().WithDetail("organization", idOrSlug)
	}
	return org, nil
}

func (s *Service) List(ctx context.Context, filter organization.ListFilter, opts kernel.PaginationOptions) (kernel.Paginated[organization.Organization], error) {
	return s.orgs.List(ctx, filter, opts.Normalize())
}

// Update applies the non-nil fields. Slug and domain must stay unique among
// other organizations.
func (s *Service) Update(ctx context.Context, id kernel.OrganizationID, in UpdateInput) (*organization.Organization, error) {
	org, err := s.orgs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Slug != nil {
		slug := strings.ToLower(strings.TrimSpace(*in.Slug))
		if slug == "" {
			return nil, organization.ErrInvalidInput().WithDetail("reason", "slug cannot be empty")
		}
		if slug != org.Slug {
			taken, err := s.orgs.SlugExists(ctx, slug, id)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, organization.ErrSlugTaken().WithDetail("slug", slug)
			}
			org.Slug = slug
		}
	}

	if in.Domain != nil {
		if err := s.updateDomain(ctx, org, *in.Domain); err != nil {
			return nil, err
		}
	}

	if in.Name != nil {
		if name := strings.TrimSpace(*in.Name); name != "" {
			org.Name = name
		}
	}
	if in.Description != nil {
		org.Description = in.Description
	}
	if in.LogoURL != nil {
		org.LogoURL = in.LogoURL
	}
	if in.Plan != nil && strings.TrimSpace(*in.Plan) != "" {
		org.Plan = strings.TrimSpace(*in.Plan)
	}
	if in.Settings != nil {
		org.Settings = in.Settings
	}
	if in.Branding != nil {
		org.Branding = in.Branding
	}
	if in.IsActive != nil {
		org.IsActive = *in.IsActive
	}
	org.UpdatedAt = s.now()

	if err := s.orgs.Update(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// updateDomain clears the domain on an empty value.
func (s *Service) updateDomain(ctx context.Context, org *organization.Organization, raw string) error {
	if strings.TrimSpace(raw) == "" {
		org.Domain = nil
		return nil
	}
	d := subdomain.Normalize(raw)
	if org.Domain != nil && *org.Domain == d {
		return nil
	}
	if res := s.resolver.ValidateFormat(d); !res.Valid {
		return subdomain.ErrInvalid(res.Error).WithDetail("subdomain", d)
	}
	taken, err := s.orgs.DomainExists(ctx, d, org.ID)
	if err != nil {
		return err
	}
	if taken {
		return organization.ErrDomainTaken().WithDetail("domain", d)
	}
	org.Domain = &d
	return nil
}

func (s *Service) SoftDelete(ctx context.Context, id kernel.OrganizationID) error {
	if err := s.orgs.SoftDelete(ctx, id); err != nil {
		return err
	}
	logx.WithContext(ctx).WithOrganization(id).Info("organization deleted")
	return nil
}

func (s *Service) Restore(ctx context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	org, err := s.orgs.FindByIDIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if !org.IsDeleted() {
		return nil, organization.ErrNotDeleted()
	}
	if err := s.orgs.Restore(ctx, id); err != nil {
		return nil, err
	}
	logx.WithContext(ctx).WithOrganization(id).Info("organization restored")
	return s.orgs.FindByID(ctx, id)
}

func (s *Service) HardDelete(ctx context.Context, id kernel.OrganizationID) error {
	if err := s.orgs.HardDelete(ctx, id); err != nil {
		return err
	}
	logx.WithContext(ctx).WithOrganization(id).Warn("organization permanently deleted")
	return nil
}

// CheckSubdomainAvailability normalizes name and reports whether it can be
// claimed, with suggestions when it cannot.
func (s *Service) CheckSubdomainAvailability(ctx context.Context, name string) (*subdomain.Availability, error) {
	if strings.TrimSpace(name) == "" {
		return nil, subdomain.ErrInvalid("Subdomain is required")
	}
	return s.resolver.Check(ctx, name)
}

func orEmpty(m kernel.JSONMap) kernel.JSONMap {
	if m == nil {
		return kernel.JSONMap{}
	}
	return m
}
