// Package menutree holds the index arithmetic and reachability walk used
// by menus. It knows nothing about native menus or locking.
package menutree

import "errors"

// ErrOutOfRange is returned by RemoveIndex for positions outside the list.
var ErrOutOfRange = errors.New("menu index out of range")

// InsertIndex normalizes an insertion position for a list of length n.
// Negative values count from the end, and anything outside the list
// clamps to its start or end.
func InsertIndex(index, n int) int {
	if index < 0 {
		index += n
		if index < 0 {
			return 0
		}
	}
	if index > n {
		return n
	}
	return index
}

// RemoveIndex normalizes the position of an existing element. Unlike
// InsertIndex it does not clamp.
func RemoveIndex(index, n int) (int, error) {
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return 0, ErrOutOfRange
	}
	return index, nil
}

// Reaches reports whether target is from itself or a descendant of from,
// following children. Nodes already visited are skipped, so a malformed
// graph cannot loop forever.
func Reaches[T comparable](from, target T, children func(T) []T) bool {
	seen := map[T]struct{}{}
	stack := []T{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, children(n)...)
	}
	return false
}
