package otp

import (
	"context"

	"github.com/mave-cms/tenantcore/pkg/iam/user"
)

// Verification methods reported by CodeVerifier.
const (
	MethodTOTP   = "totp"
	MethodBackup = "backup_code"
)

// CodeVerifier checks a second-factor code for a user with 2FA enabled.
// A matching backup code is consumed.
type CodeVerifier interface {
	VerifyCode(ctx context.Context, u *user.User, code string) (method string, ok bool, err error)
}
