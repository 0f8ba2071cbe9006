package otpsrv

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/iam/otp"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// Notifier is the slice of the mailer used here.
type Notifier interface {
	SendTwoFactorEnabled(ctx context.Context, u *user.User) error
	SendTwoFactorDisabled(ctx context.Context, u *user.User) error
}

// Status is the 2FA summary shown to the account owner.
type Status struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// TwoFactorService manages TOTP enrollment and verifies second factors.
type TwoFactorService struct {
	users    user.Repository
	verifier credential.Verifier
	notifier Notifier
	cfg      otp.Config
	now      func() time.Time
}

var _ otp.CodeVerifier = (*TwoFactorService)(nil)

func NewTwoFactorService(users user.Repository, verifier credential.Verifier, notifier Notifier, cfg otp.Config) *TwoFactorService {
	return &TwoFactorService{
		users:    users,
		verifier: verifier,
		notifier: notifier,
		cfg:      cfg.WithDefaults(),
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *TwoFactorService) WithClock(now func() time.Time) *TwoFactorService {
	s.now = now
	return s
}

// GenerateSecret stores a pending secret and returns the enrollment material.
// Calling it again before Enable replaces the pending secret.
func (s *TwoFactorService) GenerateSecret(ctx context.Context, userID kernel.UserID) (*otp.Enrollment, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, otp.ErrAlreadyEnabled()
	}

	enrollment, err := otp.NewEnrollment(s.cfg.Issuer, u.Email)
	if err != nil {
		return nil, err
	}

	u.TwoFactorSecret = &enrollment.Secret
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to store 2FA secret", errx.TypeInternal)
	}

	return enrollment, nil
}

// Enable confirms the pending secret with a live code and returns the
// plaintext backup codes. They are not retrievable afterwards.
func (s *TwoFactorService) Enable(ctx context.Context, userID kernel.UserID, code string) ([]string, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, otp.ErrAlreadyEnabled()
	}
	if u.TwoFactorSecret == nil || *u.TwoFactorSecret == "" {
		return nil, otp.ErrNoPendingSecret()
	}
	if !otp.ValidateTOTP(code, *u.TwoFactorSecret, s.now(), s.cfg.Skew) {
		return nil, otp.ErrInvalidCode()
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	u.TwoFactorEnabled = true
	u.BackupCodes = hashes
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to enable 2FA", errx.TypeInternal)
	}

	logx.WithContext(ctx).WithUser(u.ID).Info("2FA enabled")
	iamnotify.BestEffort(ctx, nil, "2fa_enabled_email", func() error {
		return s.notifier.SendTwoFactorEnabled(ctx, u)
	})

	return codes, nil
}

// Disable turns 2FA off after re-checking the password.
func (s *TwoFactorService) Disable(ctx context.Context, userID kernel.UserID, password string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return otp.ErrNotEnabled()
	}
	if !s.verifier.Verify(u.PasswordHash, password) {
		return otp.ErrInvalidPassword()
	}

	u.TwoFactorEnabled = false
	u.TwoFactorSecret = nil
	u.BackupCodes = nil
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return errx.Wrap(err, "failed to disable 2FA", errx.TypeInternal)
	}

	logx.WithContext(ctx).WithUser(u.ID).Info("2FA disabled")
	iamnotify.BestEffort(ctx, nil, "2fa_disabled_email", func() error {
		return s.notifier.SendTwoFactorDisabled(ctx, u)
	})
	return nil
}

// RegenerateBackupCodes replaces every stored backup code.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID kernel.UserID, password string) ([]string, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.TwoFactorEnabled {
		return nil, otp.ErrNotEnabled()
	}
	if !s.verifier.Verify(u.PasswordHash, password) {
		return nil, otp.ErrInvalidPassword()
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	u.BackupCodes = hashes
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to store backup codes", errx.TypeInternal)
	}
	return codes, nil
}

func (s *TwoFactorService) Status(ctx context.Context, userID kernel.UserID) (*Status, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &Status{Enabled: u.TwoFactorEnabled}
	if u.TwoFactorEnabled {
		st.BackupCodesRemaining = len(u.BackupCodes)
	}
	return st, nil
}

// VerifyCode tries the TOTP first and then the backup codes. A matching
// backup code is removed by a conditional store update, so losing a race
// for the same code reports false.
func (s *TwoFactorService) VerifyCode(ctx context.Context, u *user.User, code string) (string, bool, error) {
	if !u.TwoFactorEnabled || u.TwoFactorSecret == nil {
		return "", false, otp.ErrNotEnabled()
	}

	if otp.LooksLikeTOTP(code) && otp.ValidateTOTP(code, *u.TwoFactorSecret, s.now(), s.cfg.Skew) {
		return otp.MethodTOTP, true, nil
	}

	// every digest check is a full argon2 run, so only well-formed codes get one
	normalized := otp.NormalizeBackupCode(code)
	if !otp.LooksLikeBackupCode(normalized, s.cfg.BackupCodeLength) {
		return "", false, nil
	}
	for _, digest := range u.BackupCodes {
		if !s.verifier.Verify(digest, normalized) {
			continue
		}
		consumed, err := s.users.ConsumeBackupCode(ctx, u.ID, digest)
		if err != nil {
			return "", false, errx.Wrap(err, "failed to consume backup code", errx.TypeInternal)
		}
		if !consumed {
			return "", false, nil
		}
		logx.WithContext(ctx).WithUser(u.ID).Info("backup code consumed")
		return otp.MethodBackup, true, nil
	}

	return "", false, nil
}

func (s *TwoFactorService) newBackupCodes() ([]string, []string, error) {
	codes, err := otp.GenerateBackupCodes(s.cfg.BackupCodeCount, s.cfg.BackupCodeLength)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		h, err := s.verifier.Hash(c)
		if err != nil {
			return nil, nil, otp.ErrGenerationFailed(err)
		}
		hashes[i] = h
	}
	return codes, hashes, nil
}
