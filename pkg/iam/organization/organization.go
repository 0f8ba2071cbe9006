package organization

import (
	"net/http"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// DefaultPlan is assigned when creation does not name one.
const DefaultPlan = "free"

// Organization is a tenant.
type Organization struct {
	ID          kernel.OrganizationID `db:"id" json:"id"`
	Name        string                `db:"name" json:"name"`
	Slug        string                `db:"slug" json:"slug"`
	Domain      *string               `db:"domain" json:"domain,omitempty"`
	Description *string               `db:"description" json:"description,omitempty"`
	LogoURL     *string               `db:"logo_url" json:"logo_url,omitempty"`
	Plan        string                `db:"plan" json:"plan"`
	Settings    kernel.JSONMap        `db:"settings" json:"settings"`
	Branding    kernel.JSONMap        `db:"branding" json:"branding"`
	IsActive    bool                  `db:"is_active" json:"is_active"`
	CreatedAt   time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time             `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time            `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the organization is tombstoned.
func (o *Organization) IsDeleted() bool {
	return o.DeletedAt != nil
}

// IsUsable reports whether members may register and sign in.
func (o *Organization) IsUsable() bool {
	return o.IsActive && !o.IsDeleted()
}

// DomainOrSlug is what emails and links address the tenant by.
func (o *Organization) DomainOrSlug() string {
	if o.Domain != nil && *o.Domain != "" {
		return *o.Domain
	}
	return o.Slug
}

// ListFilter narrows List.
type ListFilter struct {
	IsActive       *bool
	Search         string
	IncludeDeleted bool
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("ORG")

var (
	CodeNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Organization not found")
	CodeInactive      = ErrRegistry.Register("INACTIVE", errx.TypeNotFound, http.StatusNotFound, "Organization is not active")
	CodeSlugTaken     = ErrRegistry.Register("SLUG_TAKEN", errx.TypeConflict, http.StatusConflict, "Organization with this slug already exists")
	CodeDomainTaken   = ErrRegistry.Register("DOMAIN_TAKEN", errx.TypeConflict, http.StatusConflict, "Organization with this domain already exists")
	CodeNotDeleted    = ErrRegistry.Register("NOT_DELETED", errx.TypeValidation, http.StatusBadRequest, "Organization is not deleted")
	CodeIdentifierReq = ErrRegistry.Register("IDENTIFIER_REQUIRED", errx.TypeValidation, http.StatusBadRequest, "Organization ID or slug is required")
	CodeInvalidInput  = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid organization input")
)

func ErrNotFound() *errx.Error           { return ErrRegistry.New(CodeNotFound) }
func ErrInactive() *errx.Error           { return ErrRegistry.New(CodeInactive) }
func ErrSlugTaken() *errx.Error          { return ErrRegistry.New(CodeSlugTaken) }
func ErrDomainTaken() *errx.Error        { return ErrRegistry.New(CodeDomainTaken) }
func ErrNotDeleted() *errx.Error         { return ErrRegistry.New(CodeNotDeleted) }
func ErrIdentifierRequired() *errx.Error { return ErrRegistry.New(CodeIdentifierReq) }
func ErrInvalidInput() *errx.Error       { return ErrRegistry.New(CodeInvalidInput) }
