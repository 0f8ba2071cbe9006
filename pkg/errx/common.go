package errx

import "errors"

// Validation creates a validation error without a registered code.
func Validation(message string) *Error {
	return New(message, TypeValidation)
}

// IsType reports whether the first *Error in err's chain has the given type.
func IsType(err error, t Type) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsCode reports whether any *Error in err's chain carries the registered code.
func IsCode(err error, code *ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code.Code {
			return true
		}
		err = e.Err
	}
	return false
}
