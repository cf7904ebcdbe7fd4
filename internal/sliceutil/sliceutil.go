// Package sliceutil holds small helpers for working with lists of pointers
// whose identity matters to callers.
package sliceutil

import "context"

// DeleteByReference removes the first element pointer-equal to item.
// The list is returned unchanged when item is not present.
func DeleteByReference[T any](list []*T, item *T) []*T {
	for i, elem := range list {
		if elem == item {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

// WithFirstMatch returns a lookup that reads the list from provider on every
// call and invokes fn with the first element matching pred. Nothing happens
// when no element matches.
func WithFirstMatch[T any](provider func() []*T) func(pred func(*T) bool, fn func(*T)) {
	return func(pred func(*T) bool, fn func(*T)) {
		for _, elem := range provider() {
			if pred(elem) {
				fn(elem)
				return
			}
		}
	}
}

// WithFirstMatchCtx is WithFirstMatch for callbacks that block and can fail.
// A miss returns nil.
func WithFirstMatchCtx[T any](provider func() []*T) func(ctx context.Context, pred func(*T) bool, fn func(context.Context, *T) error) error {
	return func(ctx context.Context, pred func(*T) bool, fn func(context.Context, *T) error) error {
		for _, elem := range provider() {
			if pred(elem) {
				return fn(ctx, elem)
			}
		}
		return nil
	}
}

// Overwrite replaces every field of *dst with src while keeping dst itself,
// so anyone holding the pointer sees the new value.
func Overwrite[T any](dst *T, src T) *T {
	*dst = src
	return dst
}
