package utils

// Deref returns the value behind p, or the zero value when p is nil
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
