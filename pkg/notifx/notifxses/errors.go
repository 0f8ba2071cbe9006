package notifxses

import (
	"net/http"

	"github.com/mave-cms/tenantcore/pkg/errx"
)

var sesErrors = errx.NewRegistry("NOTIFX_SES")

var (
	ErrSendFailed = sesErrors.Register("SEND_FAILED", errx.TypeExternal, http.StatusBadGateway, "SES send email failed")
	ErrConfig     = sesErrors.Register("CONFIG", errx.TypeInternal, http.StatusInternalServerError, "Failed to load AWS configuration")
)
