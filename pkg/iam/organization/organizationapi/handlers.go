package organizationapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/mave-cms/tenantcore/pkg/iam"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationsrv"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type Handlers struct {
	orgs *organizationsrv.Service
	mw   *auth.TokenMiddleware
}

func NewHandlers(orgs *organizationsrv.Service, mw *auth.TokenMiddleware) *Handlers {
	return &Handlers{orgs: orgs, mw: mw}
}

// RegisterRoutes mounts /api/v1/organizations. Managing arbitrary tenants
// by id is reserved to super-admins.
func (h *Handlers) RegisterRoutes(r fiber.Router) {
	g := r.Group("/api/v1/organizations")
	g.Get("/subdomain/check", h.checkSubdomain)

	authed := g.Group("", h.mw.Authenticate(), h.mw.RequireTenantMatch())
	authed.Get("/current", h.current)
	authed.Post("/", h.mw.RequirePermissions("organizations.create"), h.create)

	admin := authed.Group("", h.mw.RequireSuperAdmin())
	admin.Get("/", h.list)
	admin.Get("/:id", h.get)
	admin.Patch("/:id", h.update)
	admin.Delete("/:id", h.remove)
	admin.Post("/:id/restore", h.restore)
}

func (h *Handlers) checkSubdomain(c *fiber.Ctx) error {
	a, err := h.orgs.CheckSubdomainAvailability(c.UserContext(), c.Query("subdomain", c.Query("name")))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handlers) current(c *fiber.Ctx) error {
	if org, ok := auth.GetOrganization(c); ok {
		return c.JSON(org)
	}
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	org, err := h.orgs.Get(c.UserContext(), ac.OrganizationID)
	if err != nil {
		return err
	}
	return c.JSON(org)
}

func (h *Handlers) create(c *fiber.Ctx) error {
	var in organizationsrv.CreateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	var createdBy *kernel.UserID
	if ac, ok := auth.GetAuthContext(c); ok {
		createdBy = &ac.UserID
	}
	org, err := h.orgs.Create(c.UserContext(), in, createdBy)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(org)
}

func (h *Handlers) list(c *fiber.Ctx) error {
	filter := organization.ListFilter{
		Search:         c.Query("search"),
		IncludeDeleted: c.QueryBool("include_deleted", false),
	}
	if v := c.Query("is_active"); v != "" {
		active := c.QueryBool("is_active")
		filter.IsActive = &active
	}
	page, err := h.orgs.List(c.UserContext(), filter, httpx.Pagination(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handlers) get(c *fiber.Ctx) error {
	org, err := h.orgs.Get(c.UserContext(), kernel.NewOrganizationID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(org)
}

func (h *Handlers) update(c *fiber.Ctx) error {
	var in organizationsrv.UpdateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	org, err := h.orgs.Update(c.UserContext(), kernel.NewOrganizationID(c.Params("id")), in)
	if err != nil {
		return err
	}
	return c.JSON(org)
}

func (h *Handlers) remove(c *fiber.Ctx) error {
	id := kernel.NewOrganizationID(c.Params("id"))
	var err error
	if c.QueryBool("hard", false) {
		err = h.orgs.HardDelete(c.UserContext(), id)
	} else {
		err = h.orgs.SoftDelete(c.UserContext(), id)
	}
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) restore(c *fiber.Ctx) error {
	org, err := h.orgs.Restore(c.UserContext(), kernel.NewOrganizationID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(org)
}
