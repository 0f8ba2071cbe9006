package invitationsrv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iammemory"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	invites  []string
	accepted []string
	fail     error
}

func (n *recordingNotifier) SendInvitation(_ context.Context, inv *invitation.Invitation, _ *organization.Organization, _ *user.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.invites = append(n.invites, *inv.Email)
	return nil
}

func (n *recordingNotifier) SendInvitationAccepted(_ context.Context, _, member *user.User, _ *organization.Organization) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.accepted = append(n.accepted, member.Email)
	return nil
}

func (n *recordingNotifier) InvitationURL(token string) string {
	return "https://acme.mave.io/invitations/" + token
}

type stubGranter struct {
	fail  error
	calls []rbacsrv.AssignRoleInput
}

func (g *stubGranter) AssignRole(_ context.Context, in rbacsrv.AssignRoleInput, _ *kernel.UserID) (*rbac.Assignment, error) {
	g.calls = append(g.calls, in)
	if g.fail != nil {
		return nil, g.fail
	}
	return &rbac.Assignment{ID: "a-1", UserID: in.UserID, RoleID: in.RoleID, Scope: rbac.ScopeGlobal, IsActive: true}, nil
}

type fixture struct {
	svc      *invitationsrv.Service
	orgs     *iammemory.OrganizationRepository
	users    *iammemory.UserRepository
	invs     *iammemory.InvitationRepository
	roles    *iammemory.RoleRepository
	notifier *recordingNotifier
	granter  *stubGranter
	org      *organization.Organization
	inviter  *user.User
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orgs:     iammemory.NewOrganizationRepository(),
		users:    iammemory.NewUserRepository(),
		invs:     iammemory.NewInvitationRepository(),
		roles:    iammemory.NewRoleRepository(),
		notifier: &recordingNotifier{},
		granter:  &stubGranter{},
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	hasher := credential.NewArgon2Hasher(credential.Params{Memory: 1024, Iterations: 1})
	f.svc = invitationsrv.NewService(
		f.invs, f.orgs, f.users, f.roles, f.granter, hasher, dbx.NopTransactor{}, f.notifier, nil,
		invitationsrv.Config{PasswordMinLength: 8},
	).WithClock(func() time.Time { return f.now })

	ctx := context.Background()
	domain := "acme"
	f.org = &organization.Organization{
		ID: kernel.NewOrganizationID("org-acme"), Name: "Acme", Slug: "acme", Domain: &domain,
		Plan: organization.DefaultPlan, IsActive: true, CreatedAt: f.now, UpdatedAt: f.now,
	}
	require.NoError(t, f.orgs.Create(ctx, f.org))

	f.inviter = user.New(user.NewParams{OrganizationID: f.org.ID, Email: "owner@acme.test", PasswordHash: "x"}, f.now)
	require.NoError(t, f.users.Create(ctx, f.inviter))

	orgID := f.org.ID
	require.NoError(t, f.roles.Create(ctx, &rbac.Role{
		ID: "r-editor", OrganizationID: &orgID, Name: "Editor", Slug: "editor",
		Permissions: []string{"content.view"}, IsAssignable: true,
	}))
	return f
}

func member(email string) invitationsrv.MemberInput {
	return invitationsrv.MemberInput{Email: email, Password: "correct-horse"}
}

func TestEmailInvitationIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role := "r-editor"

	inv, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{
		OrganizationID: f.org.ID, Email: " New@Acme.test ", RoleID: &role,
	}, f.inviter.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@acme.test", *inv.Email)
	assert.Len(t, inv.Token, 64)
	assert.Equal(t, f.now.Add(invitationsrv.DefaultTTL), inv.ExpiresAt)
	assert.Equal(t, []string{"new@acme.test"}, f.notifier.invites)

	res, err := f.svc.Accept(ctx, inv.Token, member("NEW@acme.test"))
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
	assert.True(t, res.User.EmailVerified)
	assert.False(t, res.User.EmailDomainMatch)
	assert.Equal(t, f.org.ID, res.User.OrganizationID)
	require.NotNil(t, res.Assignment)
	assert.Equal(t, "r-editor", f.granter.calls[0].RoleID)
	assert.Equal(t, invitation.StatusAccepted, res.Invitation.Status)
	require.NotNil(t, res.Invitation.AcceptedBy)
	assert.Equal(t, res.User.ID, *res.Invitation.AcceptedBy)
	assert.Equal(t, []string{"new@acme.test"}, f.notifier.accepted)

	_, err = f.svc.Accept(ctx, inv.Token, invitationsrv.MemberInput{Email: "new@acme.test", Password: "another-pass"})
	assert.True(t, errx.IsCode(err, invitation.CodeAlreadyUsed))
}

func TestEmailInvitationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "owner@acme.test"}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeMemberExists))

	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "x@acme.test"}, f.inviter.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "X@acme.test"}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeAlreadyPending))

	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "not-an-email"}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeInvalidInput))

	foreign := kernel.NewOrganizationID("org-other")
	require.NoError(t, f.roles.Create(ctx, &rbac.Role{ID: "r-foreign", OrganizationID: &foreign, Slug: "foreign", IsAssignable: true}))
	role := "r-foreign"
	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "y@acme.test", RoleID: &role}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, rbac.CodeRoleNotAssignable))
}

func TestAcceptRejectsOtherEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "a@acme.test"}, f.inviter.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, inv.Token, member("b@acme.test"))
	assert.True(t, errx.IsCode(err, invitation.CodeEmailMismatch))

	_, err = f.svc.Accept(ctx, inv.Token, invitationsrv.MemberInput{Email: "a@acme.test", Password: "short"})
	assert.True(t, errx.IsCode(err, user.CodeWeakPassword))
}

func TestLinkInvitationMaxUses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	two := 2

	link, err := f.svc.CreateLinkInvitation(ctx, invitationsrv.CreateLinkInput{OrganizationID: f.org.ID, MaxUses: &two}, f.inviter.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.mave.io/invitations/"+link.Invitation.Token, link.URL)
	assert.Nil(t, link.Invitation.Email)

	res, err := f.svc.Accept(ctx, link.Invitation.Token, member("one@acme.test"))
	require.NoError(t, err)
	assert.False(t, res.User.EmailVerified)
	assert.Equal(t, invitation.StatusPending, res.Invitation.Status)
	assert.Equal(t, 1, res.Invitation.UsedCount)

	res, err = f.svc.Accept(ctx, link.Invitation.Token, member("two@acme.test"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Invitation.UsedCount)

	_, err = f.svc.Accept(ctx, link.Invitation.Token, member("three@acme.test"))
	assert.True(t, errx.IsCode(err, invitation.CodeMaxUses))

	_, err = f.users.FindByEmail(ctx, f.org.ID, "three@acme.test")
	assert.True(t, errx.IsCode(err, user.CodeNotFound))

	zero := 0
	_, err = f.svc.CreateLinkInvitation(ctx, invitationsrv.CreateLinkInput{OrganizationID: f.org.ID, MaxUses: &zero}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeInvalidInput))
}

func TestRoleGrantFailureIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.granter.fail = errors.New("role store down")
	role := "r-editor"

	link, err := f.svc.CreateLinkInvitation(ctx, invitationsrv.CreateLinkInput{OrganizationID: f.org.ID, RoleID: &role}, f.inviter.ID)
	require.NoError(t, err)

	res, err := f.svc.Accept(ctx, link.Invitation.Token, member("new@acme.test"))
	require.NoError(t, err)
	assert.Contains(t, res.Diagnostics, "role_assignment")
	assert.Nil(t, res.Assignment)

	_, err = f.users.FindByEmail(ctx, f.org.ID, "new@acme.test")
	assert.NoError(t, err, "the member survives a failed grant")
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "a@acme.test"}, f.inviter.ID)
	require.NoError(t, err)

	res, err := f.svc.Validate(ctx, inv.Token)
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	res, err = f.svc.Validate(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, invitation.CodeInvalidToken.Message, res.Error)

	f.now = f.now.Add(invitationsrv.DefaultTTL + time.Second)
	res, err = f.svc.Validate(ctx, inv.Token)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, invitation.CodeExpired.Message, res.Error)
}

func TestRevokeAndResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "a@acme.test"}, f.inviter.ID)
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	resent, err := f.svc.Resend(ctx, f.org.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(invitationsrv.DefaultTTL), resent.ExpiresAt)
	assert.Len(t, f.notifier.invites, 2)

	f.notifier.fail = errors.New("smtp down")
	_, err = f.svc.Resend(ctx, f.org.ID, inv.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeSendFailed))
	f.notifier.fail = nil

	_, err = f.svc.Revoke(ctx, kernel.NewOrganizationID("org-other"), inv.ID, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeNotFound))

	revoked, err := f.svc.Revoke(ctx, f.org.ID, inv.ID, f.inviter.ID)
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusRevoked, revoked.Status)
	assert.Equal(t, f.inviter.ID.String(), revoked.Metadata[invitation.MetaRevokedBy])

	_, err = f.svc.Revoke(ctx, f.org.ID, inv.ID, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeNotPending))

	_, err = f.svc.Resend(ctx, f.org.ID, inv.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeResendNotAllowed))

	_, err = f.svc.Accept(ctx, inv.Token, member("a@acme.test"))
	assert.True(t, errx.IsCode(err, invitation.CodeAlreadyUsed))
}

// acceptingRepo lands an acceptance between the service's read and its
// conditional write.
type acceptingRepo struct {
	*iammemory.InvitationRepository
	acceptAs kernel.UserID
	now      time.Time
}

func (r *acceptingRepo) accept(ctx context.Context, id string) {
	if r.acceptAs != "" {
		_, _ = r.InvitationRepository.ConsumeUse(ctx, id, r.acceptAs, r.now)
		r.acceptAs = ""
	}
}

func (r *acceptingRepo) Revoke(ctx context.Context, id string, meta kernel.JSONMap, now time.Time) (bool, error) {
	r.accept(ctx, id)
	return r.InvitationRepository.Revoke(ctx, id, meta, now)
}

func (r *acceptingRepo) Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	r.accept(ctx, id)
	return r.InvitationRepository.Extend(ctx, id, expiresAt, now)
}

func TestRevokeAndResendLoseToConcurrentAccept(t *testing.T) {
	tests := []struct {
		name string
		act  func(ctx context.Context, svc *invitationsrv.Service, f *fixture, id string) error
	}{
		{"revoke", func(ctx context.Context, svc *invitationsrv.Service, f *fixture, id string) error {
			_, err := svc.Revoke(ctx, f.org.ID, id, f.inviter.ID)
			return err
		}},
		{"resend", func(ctx context.Context, svc *invitationsrv.Service, f *fixture, id string) error {
			_, err := svc.Resend(ctx, f.org.ID, id)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			repo := &acceptingRepo{InvitationRepository: f.invs, now: f.now}
			hasher := credential.NewArgon2Hasher(credential.Params{Memory: 1024, Iterations: 1})
			svc := invitationsrv.NewService(
				repo, f.orgs, f.users, f.roles, f.granter, hasher, dbx.NopTransactor{}, f.notifier, nil,
				invitationsrv.Config{PasswordMinLength: 8},
			).WithClock(func() time.Time { return f.now })

			inv, err := svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "race@acme.test"}, f.inviter.ID)
			require.NoError(t, err)
			before, err := f.invs.FindByID(ctx, inv.ID)
			require.NoError(t, err)

			repo.acceptAs = kernel.NewUserID("u-member")
			err = tt.act(ctx, svc, f, inv.ID)
			assert.True(t, errx.IsCode(err, invitation.CodeNotPending), "got %v", err)

			stored, err := f.invs.FindByID(ctx, inv.ID)
			require.NoError(t, err)
			assert.Equal(t, invitation.StatusAccepted, stored.Status)
			assert.Equal(t, 1, stored.UsedCount)
			require.NotNil(t, stored.AcceptedBy)
			assert.Equal(t, kernel.NewUserID("u-member"), *stored.AcceptedBy)
			assert.Equal(t, before.ExpiresAt, stored.ExpiresAt)
			assert.NotContains(t, stored.Metadata, invitation.MetaRevokedBy)
		})
	}
}

func TestRevokeAndResendRefuseAcceptedInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "done@acme.test"}, f.inviter.ID)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, inv.Token, member("done@acme.test"))
	require.NoError(t, err)
	accepted, err := f.invs.FindByID(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctx, f.org.ID, inv.ID, f.inviter.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeNotPending))
	_, err = f.svc.Resend(ctx, f.org.ID, inv.ID)
	assert.True(t, errx.IsCode(err, invitation.CodeResendNotAllowed))

	stored, err := f.invs.FindByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, stored)
}

func TestInvitationCannotCarrySuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.roles.Create(ctx, &rbac.Role{
		ID: "r-root", Name: "Super Admin", Slug: rbac.SuperAdminSlug,
		IsSystem: true, IsAssignable: true,
	}))
	role := "r-root"

	_, err := f.svc.CreateLinkInvitation(ctx, invitationsrv.CreateLinkInput{OrganizationID: f.org.ID, RoleID: &role}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, rbac.CodeSuperAdminRequired))

	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "x@acme.test", RoleID: &role}, f.inviter.ID)
	assert.True(t, errx.IsCode(err, rbac.CodeSuperAdminRequired))
}

func TestListExpiresStaleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "a@acme.test"}, f.inviter.ID)
	require.NoError(t, err)
	f.now = f.now.Add(invitationsrv.DefaultTTL + time.Hour)
	_, err = f.svc.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{OrganizationID: f.org.ID, Email: "b@acme.test"}, f.inviter.ID)
	require.NoError(t, err)

	expired := invitation.StatusExpired
	page, err := f.svc.List(ctx, f.org.ID, &expired, kernel.PaginationOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a@acme.test", *page.Items[0].Email)

	bogus := invitation.Status("archived")
	_, err = f.svc.List(ctx, f.org.ID, &bogus, kernel.PaginationOptions{})
	assert.True(t, errx.IsCode(err, invitation.CodeInvalidInput))
}

func TestAcceptExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLinkInvitation(ctx, invitationsrv.CreateLinkInput{OrganizationID: f.org.ID}, f.inviter.ID)
	require.NoError(t, err)

	existing := user.New(user.NewParams{OrganizationID: f.org.ID, Email: "member@acme.test", PasswordHash: "x"}, f.now)
	require.NoError(t, f.users.Create(ctx, existing))
	res, err := f.svc.AcceptExisting(ctx, link.Invitation.Token, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.User.ID)

	outsider := user.New(user.NewParams{OrganizationID: kernel.NewOrganizationID("org-other"), Email: "out@other.test", PasswordHash: "x"}, f.now)
	require.NoError(t, f.users.Create(ctx, outsider))
	_, err = f.svc.AcceptExisting(ctx, link.Invitation.Token, outsider.ID)
	assert.True(t, errx.IsCode(err, user.CodeWrongTenant))
}
