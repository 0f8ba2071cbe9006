package authapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/mave-cms/tenantcore/pkg/iam"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/otp/otpsrv"
)

// Handlers exposes registration, sessions, password reset and 2FA.
type Handlers struct {
	auth      *authsrv.Service
	twoFactor *otpsrv.TwoFactorService
	mw        *auth.TokenMiddleware
}

func NewHandlers(authService *authsrv.Service, twoFactor *otpsrv.TwoFactorService, mw *auth.TokenMiddleware) *Handlers {
	return &Handlers{auth: authService, twoFactor: twoFactor, mw: mw}
}

// RegisterRoutes mounts /api/v1/auth. loginLimiter guards the credential routes
// and may be nil.
func (h *Handlers) RegisterRoutes(r fiber.Router, loginLimiter fiber.Handler) {
	if loginLimiter == nil {
		loginLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}

	g := r.Group("/api/v1/auth")
	g.Post("/register", h.register)
	g.Post("/register/organization", h.registerOrganization)
	g.Post("/register/invitation", h.registerInvitation)
	g.Post("/login", loginLimiter, h.login)
	g.Post("/login/2fa", loginLimiter, h.loginTwoFactor)
	g.Post("/refresh", h.refresh)
	g.Post("/password/forgot", loginLimiter, h.forgotPassword)
	g.Post("/password/reset", h.resetPassword)

	protected := g.Group("", h.mw.Authenticate())
	protected.Post("/logout", h.logout)
	protected.Get("/me", h.me)

	tf := protected.Group("/2fa")
	tf.Post("/secret", h.generateSecret)
	tf.Post("/enable", h.enableTwoFactor)
	tf.Post("/disable", h.disableTwoFactor)
	tf.Post("/backup-codes", h.regenerateBackupCodes)
	tf.Get("/status", h.twoFactorStatus)
}

// ── Registration ──────────────────────────────────────────────

func (h *Handlers) register(c *fiber.Ctx) error {
	var in authsrv.RegisterInput
	if err := httpx.Decode(c, &in); err != nil {
		return err
	}
	if in.Organization == "" {
		in.Organization = tenantID(c)
	}
	if err := httpx.Validate(&in); err != nil {
		return err
	}
	session, err := h.auth.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *Handlers) registerOrganization(c *fiber.Ctx) error {
	var in authsrv.RegisterOrganizationInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	session, err := h.auth.RegisterWithOrganization(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *Handlers) registerInvitation(c *fiber.Ctx) error {
	var in authsrv.RegisterInvitationInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	session, err := h.auth.RegisterWithInvitation(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// ── Sessions ──────────────────────────────────────────────────

func (h *Handlers) login(c *fiber.Ctx) error {
	var in authsrv.LoginInput
	if err := httpx.Decode(c, &in); err != nil {
		return err
	}
	if in.Organization == "" {
		in.Organization = tenantID(c)
	}
	if err := httpx.Validate(&in); err != nil {
		return err
	}
	res, err := h.auth.Login(c.UserContext(), in, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

type twoFactorLoginRequest struct {
	TwoFactorToken string `json:"two_factor_token" validate:"required"`
	Code           string `json:"code" validate:"required"`
}

func (h *Handlers) loginTwoFactor(c *fiber.Ctx) error {
	var in twoFactorLoginRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	session, err := h.auth.CompleteTwoFactorLogin(c.UserContext(), in.TwoFactorToken, in.Code, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(session)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handlers) refresh(c *fiber.Ctx) error {
	var in refreshRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	pair, err := h.auth.RefreshToken(c.UserContext(), in.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *Handlers) logout(c *fiber.Ctx) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	var in logoutRequest
	if len(c.Body()) > 0 {
		if err := httpx.Decode(c, &in); err != nil {
			return err
		}
	}
	if err := h.auth.Logout(c.UserContext(), claims, in.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *Handlers) me(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	u, err := h.auth.Me(c.UserContext(), ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

// ── Password reset ────────────────────────────────────────────

type forgotPasswordRequest struct {
	Organization string `json:"organization"`
	Email        string `json:"email" validate:"required,email"`
}

func (h *Handlers) forgotPassword(c *fiber.Ctx) error {
	var in forgotPasswordRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	if in.Organization == "" {
		in.Organization = tenantID(c)
	}
	msg, err := h.auth.RequestPasswordReset(c.UserContext(), in.Organization, in.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": msg})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

func (h *Handlers) resetPassword(c *fiber.Ctx) error {
	var in resetPasswordRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	if err := h.auth.ResetPassword(c.UserContext(), in.Token, in.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": authsrv.PasswordResetDoneMessage})
}

// ── Two-factor ────────────────────────────────────────────────

type codeRequest struct {
	Code string `json:"code" validate:"required"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handlers) generateSecret(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	enrollment, err := h.twoFactor.GenerateSecret(c.UserContext(), ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(enrollment)
}

func (h *Handlers) enableTwoFactor(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	var in codeRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	codes, err := h.twoFactor.Enable(c.UserContext(), ac.UserID, in.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":      "Two-factor authentication enabled",
		"backup_codes": codes,
	})
}

func (h *Handlers) disableTwoFactor(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	var in passwordRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	if err := h.twoFactor.Disable(c.UserContext(), ac.UserID, in.Password); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Two-factor authentication disabled"})
}

func (h *Handlers) regenerateBackupCodes(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	var in passwordRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	codes, err := h.twoFactor.RegenerateBackupCodes(c.UserContext(), ac.UserID, in.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"backup_codes": codes})
}

func (h *Handlers) twoFactorStatus(c *fiber.Ctx) error {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return iam.ErrUnauthorized()
	}
	st, err := h.twoFactor.Status(c.UserContext(), ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// tenantID is the organization resolved from the host, or "".
func tenantID(c *fiber.Ctx) string {
	if org, ok := auth.GetOrganization(c); ok {
		return org.ID.String()
	}
	return ""
}
