package authsrv

import (
	"context"
	"strings"
	"time"

	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/otp"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
)

const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 30 * time.Minute
)

// Notifier is the slice of the mailer used here.
type Notifier interface {
	SendWelcome(ctx context.Context, u *user.User, org *organization.Organization) error
	SendPasswordReset(ctx context.Context, u *user.User, token string, ttl time.Duration) error
	SendNewLogin(ctx context.Context, u *user.User, ip string, at time.Time) error
	SendOrganizationCreated(ctx context.Context, owner *user.User, org *organization.Organization) error
}

// RoleAssigner grants the owner role on organization sign-up.
type RoleAssigner interface {
	AssignRoleBySlug(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, slug string, assignedBy *kernel.UserID) (*rbac.Assignment, error)
}

type Config struct {
	MaxLoginAttempts  int
	LockoutDuration   time.Duration
	PasswordMinLength int
}

// Service orchestrates registration, login, sessions and password reset.
type Service struct {
	users        user.Repository
	orgs         *organizationsrv.Service
	invitations  *invitationsrv.Service
	roles        RoleAssigner
	tokens       auth.TokenService
	hasher       credential.Verifier
	secondFactor otp.CodeVerifier
	notifier     Notifier
	audit        auth.AuditService
	metrics      *metricsx.Metrics
	tx           dbx.Transactor
	cfg          Config
	now          func() time.Time
}

func NewService(
	users user.Repository,
	orgs *organizationsrv.Service,
	invitations *invitationsrv.Service,
	roles RoleAssigner,
	tokens auth.TokenService,
	hasher credential.Verifier,
	secondFactor otp.CodeVerifier,
	notifier Notifier,
	audit auth.AuditService,
	metrics *metricsx.Metrics,
	cfg Config,
) *Service {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = DefaultMaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	return &Service{
		users:        users,
		orgs:         orgs,
		invitations:  invitations,
		roles:        roles,
		tokens:       tokens,
		hasher:       hasher,
		secondFactor: secondFactor,
		notifier:     notifier,
		audit:        audit,
		metrics:      metrics,
		tx:           dbx.NopTransactor{},
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithTransactor sets the transactor that makes organization sign-up atomic.
func (s *Service) WithTransactor(tx dbx.Transactor) *Service {
	s.tx = tx
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ============================================================================
// Registration
// ============================================================================

// Register creates a member in an existing, usable organization.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	org, err := s.orgs.GetUsable(ctx, in.Organization)
	if err != nil {
		return nil, err
	}

	u, err := s.createMember(ctx, org, in.AccountInput)
	if err != nil {
		return nil, err
	}
	s.audit.LogAccountCreated(ctx, u.ID, org.ID, MethodSignup)

	session := &Session{User: u, Organization: org}
	iamnotify.BestEffort(ctx, &session.Diagnostics, "welcome_email", func() error {
		return s.notifier.SendWelcome(ctx, u, org)
	})
	return s.withTokens(session)
}

// RegisterWithOrganization creates a tenant and makes the new member its
// administrator. The role grant and email are best effort.
func (s *Service) RegisterWithOrganization(ctx context.Context, in RegisterOrganizationInput) (*Session, error) {
	if err := user.ValidatePassword(in.Account.Password, s.cfg.PasswordMinLength); err != nil {
		return nil, err
	}

	var (
		org *organization.Organization
		u   *user.User
	)
	// a failed owner insert must not leave the subdomain claimed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if org, err = s.orgs.Create(ctx, in.Organization, nil); err != nil {
			return err
		}
		u, err = s.createMember(ctx, org, in.Account)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogAccountCreated(ctx, u.ID, org.ID, MethodSignup)

	session := &Session{User: u, Organization: org}
	iamnotify.BestEffort(ctx, &session.Diagnostics, "admin_role_assignment", func() error {
		a, err := s.roles.AssignRoleBySlug(ctx, u.ID, org.ID, rbac.AdminSlug, nil)
		session.Assignment = a
		return err
	})
	iamnotify.BestEffort(ctx, &session.Diagnostics, "organization_created_email", func() error {
		return s.notifier.SendOrganizationCreated(ctx, u, org)
	})
	return s.withTokens(session)
}

// RegisterWithInvitation accepts an invitation as a new member.
func (s *Service) RegisterWithInvitation(ctx context.Context, in RegisterInvitationInput) (*Session, error) {
	res, err := s.invitations.Accept(ctx, in.Token, in.MemberInput)
	if err != nil {
		return nil, err
	}
	s.audit.LogAccountCreated(ctx, res.User.ID, res.Organization.ID, MethodInvitation)

	session := &Session{
		User:         res.User,
		Organization: res.Organization,
		Assignment:   res.Assignment,
		Diagnostics:  res.Diagnostics,
	}
	iamnotify.BestEffort(ctx, &session.Diagnostics, "welcome_email", func() error {
		return s.notifier.SendWelcome(ctx, res.User, res.Organization)
	})
	return s.withTokens(session)
}

func (s *Service) createMember(ctx context.Context, org *organization.Organization, in AccountInput) (*user.User, error) {
	if err := user.ValidatePassword(in.Password, s.cfg.PasswordMinLength); err != nil {
		return nil, err
	}
	email := user.NormalizeEmail(in.Email)
	exists, err := s.users.ExistsByEmail(ctx, org.ID, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, user.ErrEmailTaken().WithDetail("email", email)
	}
	if in.Username != nil && strings.TrimSpace(*in.Username) != "" {
		_, err := s.users.FindByUsername(ctx, org.ID, strings.ToLower(strings.TrimSpace(*in.Username)))
		if err == nil {
			return nil, user.ErrUsernameTaken()
		}
		if !errx.IsCode(err, user.CodeNotFound) {
			return nil, err
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	u := user.New(user.NewParams{
		OrganizationID: org.ID,
		Email:          email,
		Username:       in.Username,
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		OrgDomain:      org.Domain,
	}, s.now())

	// the unique indexes still decide concurrent sign-ups
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	logx.WithContext(ctx).WithFields(logx.Fields{
		"user_id":            u.ID,
		"organization_id":    org.ID,
		"email_domain_match": u.EmailDomainMatch,
	}).Info("user registered")
	return u, nil
}

func (s *Service) withTokens(session *Session) (*Session, error) {
	pair, err := s.tokens.IssuePair(subjectOf(session.User))
	if err != nil {
		return nil, err
	}
	session.Tokens = pair
	return session, nil
}

func subjectOf(u *user.User) auth.Subject {
	return auth.Subject{UserID: u.ID, OrganizationID: u.OrganizationID, Email: u.Email}
}

// ============================================================================
// Login
// ============================================================================

// Login checks the lockout, the password and, when enabled, the second
// factor. Without a code a 2FA account receives a short-lived step-up token.
func (s *Service) Login(ctx context.Context, in LoginInput, ip string) (*LoginResult, error) {
	org, err := s.orgs.GetUsable(ctx, in.Organization)
	if err != nil {
		return nil, err
	}

	u, err := s.findByIdentifier(ctx, org.ID, in.Identifier)
	if err != nil {
		if !errx.IsCode(err, user.CodeNotFound) {
			return nil, err
		}
		s.hasher.VerifyAgainstNothing(in.Password)
		s.audit.LogLoginAttempt(ctx, "", org.ID, MethodPassword, false, ip)
		s.metrics.Login(metricsx.LoginFailed)
		return nil, auth.ErrInvalidCredentials()
	}

	now := s.now()
	if u.IsLocked(now) {
		s.audit.LogLoginAttempt(ctx, u.ID, org.ID, MethodPassword, false, ip)
		s.metrics.Login(metricsx.LoginLocked)
		return nil, auth.ErrAccountLocked().WithDetail("locked_until", u.LockedUntil.UTC())
	}
	if u.LockExpired(now) {
		if err := s.users.ResetLoginFailures(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		s.recordFailure(ctx, u, ip)
		return nil, auth.ErrInvalidCredentials()
	}
	if !u.IsActive {
		s.audit.LogLoginAttempt(ctx, u.ID, org.ID, MethodPassword, false, ip)
		s.metrics.Login(metricsx.LoginFailed)
		return nil, auth.ErrAccountInactive()
	}

	if u.TwoFactorEnabled {
		if strings.TrimSpace(in.TwoFactorCode) == "" {
			token, _, err := s.tokens.Issue(subjectOf(u), auth.TokenStepUp)
			if err != nil {
				return nil, err
			}
			s.metrics.Login(metricsx.LoginStepUp)
			return &LoginResult{
				RequiresTwoFactor: true,
				TwoFactorToken:    token,
				Message:           TwoFactorRequiredMessage,
			}, nil
		}
		if err := s.checkSecondFactor(ctx, u, in.TwoFactorCode, ip); err != nil {
			return nil, err
		}
	}

	session, err := s.completeLogin(ctx, u, org, ip)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: session}, nil
}

// CompleteTwoFactorLogin finishes a login started with a step-up token.
func (s *Service) CompleteTwoFactorLogin(ctx context.Context, stepUpToken, code, ip string) (*Session, error) {
	claims, err := s.tokens.Verify(ctx, stepUpToken, auth.TokenStepUp)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errx.IsCode(err, user.CodeNotFound) {
			return nil, auth.ErrInvalidToken()
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, auth.ErrAccountInactive()
	}
	if u.IsLocked(s.now()) {
		s.metrics.Login(metricsx.LoginLocked)
		return nil, auth.ErrAccountLocked()
	}
	org, err := s.orgs.GetUsable(ctx, u.OrganizationID.String())
	if err != nil {
		return nil, err
	}

	if err := s.checkSecondFactor(ctx, u, code, ip); err != nil {
		return nil, err
	}
	// a step-up token is good for one completed login
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		logx.WithContext(ctx).WithError(err).Warn("failed to revoke step-up token")
	}
	return s.completeLogin(ctx, u, org, ip)
}

func (s *Service) checkSecondFactor(ctx context.Context, u *user.User, code, ip string) error {
	method, ok, err := s.secondFactor.VerifyCode(ctx, u, code)
	if err != nil {
		return err
	}
	s.audit.LogSecondFactor(ctx, u.ID, method, ok)
	if !ok {
		s.metrics.Login(metricsx.LoginSecondFactor)
		s.recordFailure(ctx, u, ip)
		return auth.ErrInvalid2FA()
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, u *user.User, ip string) {
	lockUntil := s.now().Add(s.cfg.LockoutDuration)
	attempts, err := s.users.RecordFailedLogin(ctx, u.ID, s.cfg.MaxLoginAttempts, lockUntil)
	if err != nil {
		logx.WithContext(ctx).WithError(err).WithUser(u.ID).Error("failed to record login failure")
	}
	s.audit.LogLoginAttempt(ctx, u.ID, u.OrganizationID, MethodPassword, false, ip)
	s.metrics.Login(metricsx.LoginFailed)

	if attempts >= s.cfg.MaxLoginAttempts {
		logx.WithContext(ctx).WithFields(logx.Fields{
			"user_id":      u.ID,
			"attempts":     attempts,
			"locked_until": lockUntil,
		}).Warn("account locked")
	}
}

func (s *Service) completeLogin(ctx context.Context, u *user.User, org *organization.Organization, ip string) (*Session, error) {
	now := s.now()
	if err := s.users.ResetLoginFailures(ctx, u.ID); err != nil {
		return nil, err
	}
	if err := s.users.RecordLogin(ctx, u.ID, now, ip); err != nil {
		return nil, err
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now

	s.audit.LogLoginAttempt(ctx, u.ID, org.ID, MethodPassword, true, ip)
	s.metrics.Login(metricsx.LoginSuccess)

	session := &Session{User: u, Organization: org}
	iamnotify.BestEffort(ctx, &session.Diagnostics, "new_login_email", func() error {
		return s.notifier.SendNewLogin(ctx, u, ip, now)
	})
	return s.withTokens(session)
}

func (s *Service) findByIdentifier(ctx context.Context, orgID kernel.OrganizationID, identifier string) (*user.User, error) {
	identifier = strings.TrimSpace(identifier)
	if user.IsEmailIdentifier(identifier) {
		return s.users.FindByEmail(ctx, orgID, user.NormalizeEmail(identifier))
	}
	return s.users.FindByUsername(ctx, orgID, strings.ToLower(identifier))
}

// ============================================================================
// Sessions
// ============================================================================

// RefreshToken rotates a session. The presented refresh token is revoked.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errx.IsCode(err, user.CodeNotFound) {
			return nil, auth.ErrInvalidToken()
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, auth.ErrAccountInactive()
	}

	pair, err := s.tokens.IssuePair(subjectOf(u))
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return nil, err
	}

	s.audit.LogTokenRefresh(ctx, u.ID, u.OrganizationID)
	return pair, nil
}

// Logout revokes the access token and, when given, the refresh token.
func (s *Service) Logout(ctx context.Context, access *auth.Claims, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, access); err != nil {
		return err
	}
	if refreshToken != "" {
		claims, err := s.tokens.Verify(ctx, refreshToken, auth.TokenRefresh)
		switch {
		case err != nil:
			logx.WithContext(ctx).WithError(err).Debug("ignoring unusable refresh token on logout")
		case claims.UserID != access.UserID:
			logx.WithContext(ctx).Warn("refresh token on logout belongs to another user")
		default:
			if err := s.tokens.Revoke(ctx, claims); err != nil {
				return err
			}
		}
	}
	s.audit.LogLogout(ctx, access.UserID, access.OrganizationID)
	return nil
}

// Me returns the profile of the authenticated member.
func (s *Service) Me(ctx context.Context, userID kernel.UserID) (*user.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, user.ErrInactive()
	}
	return u, nil
}

// ============================================================================
// Password reset
// ============================================================================

// RequestPasswordReset always answers with the same message, so callers
// cannot learn whether the address exists.
func (s *Service) RequestPasswordReset(ctx context.Context, orgIDOrSlug, email string) (string, error) {
	org, err := s.orgs.GetUsable(ctx, orgIDOrSlug)
	if err != nil {
		logx.WithContext(ctx).WithError(err).Debug("password reset for unknown organization")
		return PasswordResetRequestedMessage, nil
	}
	u, err := s.users.FindByEmail(ctx, org.ID, user.NormalizeEmail(email))
	if err != nil || !u.IsActive {
		s.audit.LogPasswordReset(ctx, "", "request", false)
		return PasswordResetRequestedMessage, nil
	}

	token, claims, err := s.tokens.Issue(subjectOf(u), auth.TokenPasswordReset)
	if err != nil {
		logx.WithContext(ctx).WithError(err).Error("failed to issue reset token")
		return PasswordResetRequestedMessage, nil
	}
	if err := s.users.SetPasswordResetToken(ctx, u.ID, token, claims.ExpiresAt); err != nil {
		logx.WithContext(ctx).WithError(err).Error("failed to store reset token")
		return PasswordResetRequestedMessage, nil
	}

	s.audit.LogPasswordReset(ctx, u.ID, "request", true)
	iamnotify.BestEffort(ctx, nil, "password_reset_email", func() error {
		return s.notifier.SendPasswordReset(ctx, u, token, claims.ExpiresAt.Sub(claims.IssuedAt))
	})
	return PasswordResetRequestedMessage, nil
}

// ResetPassword redeems a reset token once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := user.ValidatePassword(newPassword, s.cfg.PasswordMinLength); err != nil {
		return err
	}
	claims, err := s.tokens.Verify(ctx, token, auth.TokenPasswordReset)
	if err != nil {
		return auth.ErrInvalidResetToken()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	ok, err := s.users.ConsumePasswordReset(ctx, claims.UserID, token, hash, s.now())
	if err != nil {
		return err
	}
	if !ok {
		s.audit.LogPasswordReset(ctx, claims.UserID, "reset", false)
		return auth.ErrInvalidResetToken()
	}

	s.audit.LogPasswordReset(ctx, claims.UserID, "reset", true)
	return nil
}
