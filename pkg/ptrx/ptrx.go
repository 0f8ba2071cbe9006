// Package ptrx converts between values and the optional pointers used for
// nullable columns.
package ptrx

// To returns a pointer to v.
func To[T any](v T) *T {
	return &v
}

// NonZero returns a pointer to v, or nil when v is the zero value.
func NonZero[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// Value dereferences p, returning the zero value for nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// ValueOr dereferences p, returning fallback for nil.
func ValueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

// String is NonZero for strings, the common case for optional text columns.
func String(s string) *string {
	return NonZero(s)
}
