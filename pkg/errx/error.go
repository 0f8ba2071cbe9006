package errx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is a coded error carrying its HTTP mapping and context details.
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Type       Type                   `json:"type"`
	HTTPStatus int                    `json:"http_status"`
	Details    map[string]interface{} `json:"details,omitempty"`

	// Err is the cause. It never leaves the process unless a Body is built
	// with withCause.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is works against a
// freshly built sentinel such as rbac.ErrRoleNotFound().
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithDetail sets one detail and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// WithMessage replaces the human-readable message, keeping code and type.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// Body is the client-facing form of an Error.
type Body struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Type      Type                   `json:"type"`
	Status    int                    `json:"status"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     string                 `json:"underlying_error,omitempty"`
}

// Body renders e for a response. The cause is included only when withCause
// is set.
func (e *Error) Body(requestID string, withCause bool) Body {
	b := Body{
		Error:     e.Message,
		Code:      e.Code,
		Type:      e.Type,
		Status:    e.HTTPStatus,
		RequestID: requestID,
	}
	if len(e.Details) > 0 {
		b.Details = e.Details
	}
	if withCause && e.Err != nil {
		b.Cause = e.Err.Error()
	}
	return b
}

func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(&struct {
		*alias
		Error string `json:"error,omitempty"`
	}{
		alias: (*alias)(e),
		Error: e.Error(),
	})
}

// New builds an unregistered error whose code is the type name.
func New(message string, errType Type) *Error {
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: typeToHTTPStatus(errType),
	}
}

// Wrap adds context to err. When err already holds an *Error its code, type,
// status and a copy of its details win over errType.
func Wrap(err error, message string, errType Type) *Error {
	if err == nil {
		return nil
	}

	var inner *Error
	if errors.As(err, &inner) {
		return &Error{
			Code:       inner.Code,
			Message:    message,
			Type:       inner.Type,
			HTTPStatus: inner.HTTPStatus,
			Details:    copyDetails(inner.Details),
			Err:        err,
		}
	}

	e := New(message, errType)
	e.Err = err
	return e
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
