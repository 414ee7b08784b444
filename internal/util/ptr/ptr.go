// Package ptr provides helpers for creating pointers to literal values.
package ptr

// To returns a pointer to v.
func To[T any](v T) *T { return &v }
