// Package httpx holds the fiber glue shared by the API packages: request
// binding with validation, pagination parsing and the error handler.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

var errRegistry = errx.NewRegistry("REQUEST")

var (
	CodeMalformedBody = errRegistry.Register("MALFORMED_BODY", errx.TypeValidation, http.StatusBadRequest, "Request body could not be parsed")
	CodeInvalidFields = errRegistry.Register("INVALID_FIELDS", errx.TypeValidation, http.StatusBadRequest, "Request validation failed")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind parses the JSON body into dst and validates its `validate` tags.
func Bind(c *fiber.Ctx, dst any) error {
	if err := Decode(c, dst); err != nil {
		return err
	}
	return Validate(dst)
}

// Decode parses the body without validating, for handlers that complete
// the input from the request before validation.
func Decode(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return errRegistry.NewWithCause(CodeMalformedBody, err)
	}
	return nil
}

// Validate checks v and reports failing fields by their JSON path.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errRegistry.NewWithCause(CodeInvalidFields, err)
	}
	fields := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fieldPath(fe.Namespace())] = fe.Tag()
	}
	return errRegistry.New(CodeInvalidFields).WithDetail("fields", fields)
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return strings.ToLower(rest)
	}
	return strings.ToLower(ns)
}

// Pagination reads ?page= and ?page_size=.
func Pagination(c *fiber.Ctx) kernel.PaginationOptions {
	return kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", kernel.DefaultPageSize),
	}.Normalize()
}

// ErrorHandler renders errx errors with their status and code. debug adds
// the wrapped cause to the body.
func ErrorHandler(debug bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := c.GetRespHeader(fiber.HeaderXRequestID, c.Get(fiber.HeaderXRequestID))

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":      fe.Message,
				"code":       "HTTP_ERROR",
				"status":     fe.Code,
				"request_id": requestID,
			})
		}

		var e *errx.Error
		if errors.As(err, &e) {
			entry := logx.WithContext(c.UserContext()).WithFields(logx.Fields{
				"path":   c.Path(),
				"method": c.Method(),
				"code":   e.Code,
				"status": e.HTTPStatus,
			})
			if e.HTTPStatus >= http.StatusInternalServerError {
				entry.WithError(err).Error("request failed")
			} else {
				entry.Debug("request rejected")
			}
			return c.Status(e.HTTPStatus).JSON(e.Body(requestID, debug))
		}

		logx.WithContext(c.UserContext()).WithError(err).WithFields(logx.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).Error("unhandled request error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":      "Internal Server Error",
			"code":       "INTERNAL_ERROR",
			"type":       string(errx.TypeInternal),
			"request_id": requestID,
		})
	}
}
