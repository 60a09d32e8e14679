package utils

// Value dereferences v, returning the zero value of T for a nil pointer.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// Ptr returns a pointer to a copy of v. Handy for optional JSON fields in literals.
func Ptr[T any](v T) *T {
	return &v
}
