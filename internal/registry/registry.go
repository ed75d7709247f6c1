// Package registry maps monotonically allocated ids to live objects.
//
// Entries are held through weak pointers, so a registry never keeps an
// object alive on its own. Callers pair Allocate with a runtime cleanup (or
// an explicit Remove) to free the slot once the object goes away.
package registry

import (
	"sync"
	"weak"
)

// Registry is safe for concurrent use. The zero value is ready to use.
type Registry[T any] struct {
	mu      sync.RWMutex
	next    uint64
	entries map[uint64]weak.Pointer[T]
}

// New returns an empty registry whose first id is 1.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: map[uint64]weak.Pointer[T]{}}
}

// NewFrom returns an empty registry whose first id is first, which must be
// at least 1.
func NewFrom[T any](first uint64) *Registry[T] {
	r := New[T]()
	r.next = first - 1
	return r
}

// Allocate assigns the next id, calls build with it and stores the result.
// Both steps happen under the registry lock, so build must not call back
// into the same registry. A nil result is not stored.
func (r *Registry[T]) Allocate(build func(id uint64) *T) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[uint64]weak.Pointer[T]{}
	}
	r.next++
	id := r.next
	obj := build(id)
	if obj != nil {
		r.entries[id] = weak.Make(obj)
	}
	return obj
}

// Lookup returns the object stored under id. Unknown ids and objects that
// are already unreachable report false.
func (r *Registry[T]) Lookup(id uint64) (*T, bool) {
	r.mu.RLock()
	wp, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	obj := wp.Value()
	return obj, obj != nil
}

// Remove frees the slot for id and reports whether it was present.
func (r *Registry[T]) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len returns the number of occupied slots.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for every live object until fn returns false. It iterates
// over a snapshot taken under the lock; fn itself runs unlocked and may use
// the registry.
func (r *Registry[T]) Range(fn func(id uint64, obj *T) bool) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.entries))
	ptrs := make([]weak.Pointer[T], 0, len(r.entries))
	for id, wp := range r.entries {
		ids = append(ids, id)
		ptrs = append(ptrs, wp)
	}
	r.mu.RUnlock()

	for i, wp := range ptrs {
		obj := wp.Value()
		if obj == nil {
			continue
		}
		if !fn(ids[i], obj) {
			return
		}
	}
}
