package invitationapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/mave-cms/tenantcore/pkg/iam"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type Handlers struct {
	invitations *invitationsrv.Service
	mw          *auth.TokenMiddleware
}

func NewHandlers(invitations *invitationsrv.Service, mw *auth.TokenMiddleware) *Handlers {
	return &Handlers{invitations: invitations, mw: mw}
}

// RegisterRoutes mounts /api/v1/invitations. Validation is public so the
// accept page can render before sign-up.
func (h *Handlers) RegisterRoutes(r fiber.Router) {
	g := r.Group("/api/v1/invitations")
	g.Get("/validate/:token", h.validate)

	authed := g.Group("", h.mw.Authenticate(), h.mw.RequireTenantMatch())
	authed.Post("/accept", h.acceptExisting)
	authed.Get("/", h.mw.RequirePermissions("users.view"), h.list)
	authed.Post("/email", h.mw.RequirePermissions("users.invite"), h.createEmail)
	authed.Post("/link", h.mw.RequirePermissions("users.invite"), h.createLink)
	authed.Post("/:id/revoke", h.mw.RequirePermissions("users.invite"), h.revoke)
	authed.Post("/:id/resend", h.mw.RequirePermissions("users.invite"), h.resend)
}

func (h *Handlers) validate(c *fiber.Ctx) error {
	res, err := h.invitations.Validate(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

type acceptRequest struct {
	Token string `json:"token" validate:"required"`
}

// acceptExisting joins the caller's account to an invitation. New accounts
// sign up through /auth/register/invitation.
func (h *Handlers) acceptExisting(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in acceptRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	res, err := h.invitations.AcceptExisting(c.UserContext(), in.Token, ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) list(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var status *invitation.Status
	if v := c.Query("status"); v != "" {
		st := invitation.Status(v)
		status = &st
	}
	page, err := h.invitations.List(c.UserContext(), ac.OrganizationID, status, httpx.Pagination(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handlers) createEmail(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in invitationsrv.CreateEmailInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	in.OrganizationID = ac.OrganizationID
	inv, err := h.invitations.CreateEmailInvitation(c.UserContext(), in, ac.UserID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

func (h *Handlers) createLink(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in invitationsrv.CreateLinkInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	in.OrganizationID = ac.OrganizationID
	link, err := h.invitations.CreateLinkInvitation(c.UserContext(), in, ac.UserID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

func (h *Handlers) revoke(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	inv, err := h.invitations.Revoke(c.UserContext(), ac.OrganizationID, c.Params("id"), ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(inv)
}

func (h *Handlers) resend(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	inv, err := h.invitations.Resend(c.UserContext(), ac.OrganizationID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(inv)
}

func identity(c *fiber.Ctx) (*kernel.AuthContext, error) {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return nil, iam.ErrUnauthorized()
	}
	return ac, nil
}
