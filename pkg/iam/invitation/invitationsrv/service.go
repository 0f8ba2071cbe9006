package invitationsrv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultTokenBytes = 32

	tokenAttempts = 3
)

// Notifier is the slice of the mailer used here.
type Notifier interface {
	SendInvitation(ctx context.Context, inv *invitation.Invitation, org *organization.Organization, inviter *user.User) error
	SendInvitationAccepted(ctx context.Context, inviter, member *user.User, org *organization.Organization) error
	InvitationURL(token string) string
}

// RoleGranter assigns the invitation role on acceptance.
type RoleGranter interface {
	AssignRole(ctx context.Context, in rbacsrv.AssignRoleInput, assignedBy *kernel.UserID) (*rbac.Assignment, error)
}

type Config struct {
	TTL               time.Duration
	TokenBytes        int
	PasswordMinLength int
}

// ============================================================================
// Inputs / Results
// ============================================================================

type CreateEmailInput struct {
	OrganizationID kernel.OrganizationID `json:"-"`
	Email          string                `json:"email" validate:"required,email"`
	RoleID         *string               `json:"role_id,omitempty"`
	Message        *string               `json:"message,omitempty" validate:"omitempty,max=1000"`
	Metadata       kernel.JSONMap        `json:"metadata,omitempty"`
}

type CreateLinkInput struct {
	OrganizationID kernel.OrganizationID `json:"-"`
	RoleID         *string               `json:"role_id,omitempty"`
	MaxUses        *int                  `json:"max_uses,omitempty" validate:"omitempty,min=1"`
	Message        *string               `json:"message,omitempty" validate:"omitempty,max=1000"`
	Metadata       kernel.JSONMap        `json:"metadata,omitempty"`
}

// LinkInvitation is a created link plus the URL to share.
type LinkInvitation struct {
	Invitation *invitation.Invitation `json:"invitation"`
	URL        string                 `json:"url"`
}

// ValidationResult is what the accept page shows before sign-up.
type ValidationResult struct {
	IsValid    bool                   `json:"is_valid"`
	Error      string                 `json:"error,omitempty"`
	Invitation *invitation.Invitation `json:"invitation,omitempty"`
}

// MemberInput is the account created on acceptance.
type MemberInput struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8"`
	Username  *string `json:"username,omitempty" validate:"omitempty,min=3,max=50"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

// AcceptResult reports the member and the best-effort steps that failed.
type AcceptResult struct {
	User         *user.User                 `json:"user"`
	Organization *organization.Organization `json:"organization"`
	Invitation   *invitation.Invitation     `json:"invitation"`
	Assignment   *rbac.Assignment           `json:"assignment,omitempty"`
	Diagnostics  []string                   `json:"diagnostics,omitempty"`
}

// ============================================================================
// Service
// ============================================================================

type Service struct {
	invitations invitation.Repository
	orgs        organization.Repository
	users       user.Repository
	roles       rbac.RoleRepository
	granter     RoleGranter
	hasher      credential.Verifier
	tx          dbx.Transactor
	notifier    Notifier
	metrics     *metricsx.Metrics
	cfg         Config
	now         func() time.Time
}

func NewService(
	invitations invitation.Repository,
	orgs organization.Repository,
	users user.Repository,
	roles rbac.RoleRepository,
	granter RoleGranter,
	hasher credential.Verifier,
	tx dbx.Transactor,
	notifier Notifier,
	metrics *metricsx.Metrics,
	cfg Config,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = DefaultTokenBytes
	}
	return &Service{
		invitations: invitations,
		orgs:        orgs,
		users:       users,
		roles:       roles,
		granter:     granter,
		hasher:      hasher,
		tx:          tx,
		notifier:    notifier,
		metrics:     metrics,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ── Create ────────────────────────────────────────────────────

// CreateEmailInvitation invites one address and mails the token.
func (s *Service) CreateEmailInvitation(ctx context.Context, in CreateEmailInput, invitedBy kernel.UserID) (*invitation.Invitation, error) {
	email := user.NormalizeEmail(in.Email)
	if !user.IsEmailIdentifier(email) {
		return nil, invitation.ErrInvalidInput("a valid email is required")
	}

	org, err := s.usableOrg(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRole(ctx, in.RoleID, org.ID); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, org.ID, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, invitation.ErrMemberExists().WithDetail("email", email)
	}

	now := s.now()
	if _, err := s.invitations.FindPendingByEmail(ctx, org.ID, email, now); err == nil {
		return nil, invitation.ErrAlreadyPending().WithDetail("email", email)
	} else if !errx.IsCode(err, invitation.CodeNotFound) {
		return nil, err
	}

	inv := s.newInvitation(org.ID, invitation.TypeEmail, in.RoleID, in.Message, in.Metadata, invitedBy, now)
	inv.Email = &email
	if err := s.persist(ctx, inv); err != nil {
		return nil, err
	}

	s.metrics.Invitation(metricsx.InvitationCreated)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"invitation_id":   inv.ID,
		"organization_id": org.ID,
		"type":            inv.Type,
	}).Info("invitation created")

	iamnotify.BestEffort(ctx, nil, "invitation_email", func() error {
		return s.notifier.SendInvitation(ctx, inv, org, s.lookupUser(ctx, invitedBy))
	})

	return inv, nil
}

// CreateLinkInvitation creates a shareable link, optionally capped at
// MaxUses acceptances.
func (s *Service) CreateLinkInvitation(ctx context.Context, in CreateLinkInput, invitedBy kernel.UserID) (*LinkInvitation, error) {
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, invitation.ErrInvalidInput("max_uses must be at least 1")
	}

	org, err := s.usableOrg(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRole(ctx, in.RoleID, org.ID); err != nil {
		return nil, err
	}

	inv := s.newInvitation(org.ID, invitation.TypeLink, in.RoleID, in.Message, in.Metadata, invitedBy, s.now())
	inv.MaxUses = in.MaxUses
	if err := s.persist(ctx, inv); err != nil {
		return nil, err
	}

	s.metrics.Invitation(metricsx.InvitationCreated)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"invitation_id":   inv.ID,
		"organization_id": org.ID,
		"type":            inv.Type,
	}).Info("invitation created")

	return &LinkInvitation{Invitation: inv, URL: s.notifier.InvitationURL(inv.Token)}, nil
}

func (s *Service) newInvitation(orgID kernel.OrganizationID, typ invitation.Type, roleID, message *string, meta kernel.JSONMap, invitedBy kernel.UserID, now time.Time) *invitation.Invitation {
	if meta == nil {
		meta = kernel.JSONMap{}
	}
	return &invitation.Invitation{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		RoleID:         roleID,
		InvitedBy:      invitedBy,
		Status:         invitation.StatusPending,
		Type:           typ,
		Message:        message,
		Metadata:       meta,
		ExpiresAt:      now.Add(s.cfg.TTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// persist assigns a fresh token, retrying on the rare unique collision.
func (s *Service) persist(ctx context.Context, inv *invitation.Invitation) error {
	var err error
	for i := 0; i < tokenAttempts; i++ {
		if inv.Token, err = newToken(s.cfg.TokenBytes); err != nil {
			return err
		}
		err = s.invitations.Create(ctx, inv)
		if !errx.IsCode(err, invitation.CodeTokenTaken) {
			return err
		}
	}
	return err
}

func newToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errx.Wrap(err, "failed to generate invitation token", errx.TypeInternal)
	}
	return hex.EncodeToString(b), nil
}

// ── Validate / Accept ─────────────────────────────────────────

// Validate looks a token up without consuming it. Failures are reported in
// the result, not as an error, except for store failures.
func (s *Service) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	inv, err := s.load(ctx, token)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeValidation {
			return &ValidationResult{Error: e.Message}, nil
		}
		return nil, err
	}
	return &ValidationResult{IsValid: true, Invitation: inv}, nil
}

// load returns the invitation only if it can be accepted now.
func (s *Service) load(ctx context.Context, token string) (*invitation.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invitation.ErrInvalidToken()
	}
	inv, err := s.invitations.FindByToken(ctx, token)
	if err != nil {
		if errx.IsCode(err, invitation.CodeNotFound) {
			return nil, invitation.ErrInvalidToken()
		}
		return nil, err
	}
	if err := inv.CanAccept(s.now()); err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept creates the member and consumes one use of the invitation in a
// single transaction. Role grant and the inviter notification follow
// outside it and only contribute diagnostics when they fail.
func (s *Service) Accept(ctx context.Context, token string, in MemberInput) (*AcceptResult, error) {
	inv, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if !inv.MatchesEmail(in.Email) {
		return nil, invitation.ErrEmailMismatch()
	}
	if err := user.ValidatePassword(in.Password, s.cfg.PasswordMinLength); err != nil {
		return nil, err
	}
	org, err := s.usableOrg(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	now := s.now()
	u := user.New(user.NewParams{
		OrganizationID: org.ID,
		Email:          in.Email,
		Username:       in.Username,
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		EmailVerified:  inv.Type == invitation.TypeEmail,
		OrgDomain:      org.Domain,
	}, now)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		return s.consume(ctx, inv, u.ID, now)
	})
	if err != nil {
		return nil, err
	}

	return s.afterAccept(ctx, inv, org, u), nil
}

// AcceptExisting attaches an invitation to a member who already has an
// account in the invitation's organization.
func (s *Service) AcceptExisting(ctx context.Context, token string, userID kernel.UserID) (*AcceptResult, error) {
	inv, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.OrganizationID != inv.OrganizationID {
		return nil, user.ErrWrongTenant()
	}
	if !inv.MatchesEmail(u.Email) {
		return nil, invitation.ErrEmailMismatch()
	}
	org, err := s.usableOrg(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.consume(ctx, inv, u.ID, now)
	}); err != nil {
		return nil, err
	}

	return s.afterAccept(ctx, inv, org, u), nil
}

// consume is the single-use / max-uses arbiter.
func (s *Service) consume(ctx context.Context, inv *invitation.Invitation, by kernel.UserID, now time.Time) error {
	ok, err := s.invitations.ConsumeUse(ctx, inv.ID, by, now)
	if err != nil {
		return err
	}
	if !ok {
		if inv.Type == invitation.TypeLink && inv.MaxUses != nil {
			return invitation.ErrMaxUses()
		}
		return invitation.ErrAlreadyUsed()
	}
	return nil
}

func (s *Service) afterAccept(ctx context.Context, inv *invitation.Invitation, org *organization.Organization, u *user.User) *AcceptResult {
	res := &AcceptResult{User: u, Organization: org}

	if inv.RoleID != nil {
		iamnotify.BestEffort(ctx, &res.Diagnostics, "role_assignment", func() error {
			reason := "invitation " + inv.ID
			a, err := s.granter.AssignRole(ctx, rbacsrv.AssignRoleInput{
				UserID:         u.ID,
				RoleID:         *inv.RoleID,
				AssignedReason: &reason,
			}, &inv.InvitedBy)
			res.Assignment = a
			return err
		})
	}

	iamnotify.BestEffort(ctx, &res.Diagnostics, "inviter_notification", func() error {
		inviter, err := s.users.FindByID(ctx, inv.InvitedBy)
		if err != nil {
			return err
		}
		return s.notifier.SendInvitationAccepted(ctx, inviter, u, org)
	})

	if fresh, err := s.invitations.FindByID(ctx, inv.ID); err == nil {
		res.Invitation = fresh
	} else {
		res.Invitation = inv
	}

	s.metrics.Invitation(metricsx.InvitationAccepted)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"invitation_id":   inv.ID,
		"organization_id": org.ID,
		"user_id":         u.ID,
		"diagnostics":     res.Diagnostics,
	}).Info("invitation accepted")

	return res
}

// ── Revoke / Resend / List ────────────────────────────────────

// Revoke moves a pending invitation of orgID to revoked.
func (s *Service) Revoke(ctx context.Context, orgID kernel.OrganizationID, id string, revokedBy kernel.UserID) (*invitation.Invitation, error) {
	inv, err := s.find(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != invitation.StatusPending {
		return nil, invitation.ErrNotPending()
	}

	now := s.now()
	meta := kernel.JSONMap{
		invitation.MetaRevokedBy: revokedBy.String(),
		invitation.MetaRevokedAt: now.UTC().Format(time.RFC3339),
	}
	ok, err := s.invitations.Revoke(ctx, inv.ID, meta, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// accepted or expired since it was read
		return nil, invitation.ErrNotPending()
	}
	inv.Metadata = inv.Metadata.Clone()
	for k, v := range meta {
		inv.Metadata[k] = v
	}
	inv.Status = invitation.StatusRevoked
	inv.UpdatedAt = now

	s.metrics.Invitation(metricsx.InvitationRevoked)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"invitation_id": inv.ID,
		"revoked_by":    revokedBy,
	}).Info("invitation revoked")
	return inv, nil
}

// Resend extends a pending email invitation and mails it again. Unlike
// creation, a delivery failure is returned.
func (s *Service) Resend(ctx context.Context, orgID kernel.OrganizationID, id string) (*invitation.Invitation, error) {
	inv, err := s.find(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if inv.Type != invitation.TypeEmail || inv.Status != invitation.StatusPending {
		return nil, invitation.ErrResendNotAllowed()
	}
	org, err := s.usableOrg(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ok, err := s.invitations.Extend(ctx, inv.ID, now.Add(s.cfg.TTL), now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invitation.ErrNotPending()
	}
	inv.ExpiresAt = now.Add(s.cfg.TTL)
	inv.UpdatedAt = now

	if err := s.notifier.SendInvitation(ctx, inv, org, s.lookupUser(ctx, inv.InvitedBy)); err != nil {
		return nil, invitation.ErrSendFailed(err).WithDetail("invitation_id", inv.ID)
	}

	s.metrics.Invitation(metricsx.InvitationResent)
	return inv, nil
}

// List marks stale rows expired and pages through orgID's invitations.
func (s *Service) List(ctx context.Context, orgID kernel.OrganizationID, status *invitation.Status, opts kernel.PaginationOptions) (kernel.Paginated[invitation.Invitation], error) {
	if status != nil && !status.IsValid() {
		return kernel.Paginated[invitation.Invitation]{}, invitation.ErrInvalidInput("unknown status")
	}
	if _, err := s.ExpireStale(ctx, orgID); err != nil {
		logx.WithContext(ctx).WithError(err).Warn("failed to expire stale invitations")
	}
	return s.invitations.List(ctx, orgID, status, opts.Normalize())
}

// ExpireStale stores the expired status on pending rows past expiry.
func (s *Service) ExpireStale(ctx context.Context, orgID kernel.OrganizationID) (int64, error) {
	return s.invitations.ExpireStale(ctx, orgID, s.now())
}

// ── helpers ───────────────────────────────────────────────────

func (s *Service) find(ctx context.Context, orgID kernel.OrganizationID, id string) (*invitation.Invitation, error) {
	inv, err := s.invitations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.OrganizationID != orgID {
		return nil, invitation.ErrNotFound()
	}
	return inv, nil
}

func (s *Service) usableOrg(ctx context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	org, err := s.orgs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !org.IsUsable() {
		return nil, organization.ErrInactive()
	}
	return org, nil
}

func (s *Service) checkRole(ctx context.Context, roleID *string, orgID kernel.OrganizationID) error {
	if roleID == nil {
		return nil
	}
	role, err := s.roles.FindByID(ctx, *roleID)
	if err != nil {
		return err
	}
	if role.IsSuperAdmin() {
		return rbac.ErrSuperAdminRequired().WithDetail("role_id", *roleID)
	}
	if !role.UsableIn(orgID) || !role.IsAssignable {
		return rbac.ErrRoleNotAssignable().WithDetail("role_id", *roleID)
	}
	return nil
}

func (s *Service) lookupUser(ctx context.Context, id kernel.UserID) *user.User {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil
	}
	return u
}
