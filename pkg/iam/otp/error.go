package otp

import (
	"net/http"

	"github.com/mave-cms/tenantcore/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("OTP")

var (
	CodeAlreadyEnabled   = ErrRegistry.Register("ALREADY_ENABLED", errx.TypeValidation, http.StatusBadRequest, "2FA is already enabled")
	CodeNotEnabled       = ErrRegistry.Register("NOT_ENABLED", errx.TypeValidation, http.StatusBadRequest, "2FA is not enabled")
	CodeNoPendingSecret  = ErrRegistry.Register("NO_PENDING_SECRET", errx.TypeValidation, http.StatusBadRequest, "2FA secret not generated. Please generate a secret first")
	CodeInvalidCode      = ErrRegistry.Register("INVALID_CODE", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid 2FA code")
	CodeInvalidPassword  = ErrRegistry.Register("INVALID_PASSWORD", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid password")
	CodeGenerationFailed = ErrRegistry.Register("GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to generate 2FA material")
)

func ErrAlreadyEnabled() *errx.Error  { return ErrRegistry.New(CodeAlreadyEnabled) }
func ErrNotEnabled() *errx.Error      { return ErrRegistry.New(CodeNotEnabled) }
func ErrNoPendingSecret() *errx.Error { return ErrRegistry.New(CodeNoPendingSecret) }
func ErrInvalidCode() *errx.Error     { return ErrRegistry.New(CodeInvalidCode) }
func ErrInvalidPassword() *errx.Error { return ErrRegistry.New(CodeInvalidPassword) }
func ErrGenerationFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeGenerationFailed, cause)
}
