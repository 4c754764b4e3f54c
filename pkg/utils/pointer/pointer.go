// Package pointer helps optional values, in flags and protobuf DTOs.
package pointer

// Ref returns a pointer to a copy of t.
func Ref[T any](t T) *T {
	return &t
}

// DerefOr returns *val, or fallback for nil.
func DerefOr[T any](val *T, fallback T) T {
	if val == nil {
		return fallback
	}
	return *val
}
