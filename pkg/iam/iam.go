package iam

import (
	"net/http"

	"github.com/mave-cms/tenantcore/pkg/errx"
)

// ============================================================================
// Error Registry
// ============================================================================

// Errors shared by the guards. Their messages never name the missing
// permission or role.
var ErrRegistry = errx.NewRegistry("IAM")

var (
	CodeUnauthorized            = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Unauthorized")
	CodeInvalidToken            = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired token")
	CodeAccessDenied            = ErrRegistry.Register("ACCESS_DENIED", errx.TypeForbidden, http.StatusForbidden, "Access denied")
	CodeInsufficientPermissions = ErrRegistry.Register("INSUFFICIENT_PERMISSIONS", errx.TypeForbidden, http.StatusForbidden, "Insufficient permissions")
	CodeTenantMismatch          = ErrRegistry.Register("TENANT_MISMATCH", errx.TypeForbidden, http.StatusForbidden, "Access denied for this organization")
)

func ErrUnauthorized() *errx.Error            { return ErrRegistry.New(CodeUnauthorized) }
func ErrInvalidToken() *errx.Error            { return ErrRegistry.New(CodeInvalidToken) }
func ErrAccessDenied() *errx.Error            { return ErrRegistry.New(CodeAccessDenied) }
func ErrInsufficientPermissions() *errx.Error { return ErrRegistry.New(CodeInsufficientPermissions) }
func ErrTenantMismatch() *errx.Error          { return ErrRegistry.New(CodeTenantMismatch) }
