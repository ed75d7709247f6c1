package wintray

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"strconv"
	"sync"

	"github.com/eyasliu/wintray/internal/native"
)

// IconHandle wraps a native icon handle. An owned handle is destroyed
// exactly once, when the caller has closed it and no TrayIcon uses it any
// more. A borrowed handle is never destroyed.
type IconHandle struct {
	st *handleState
}

type handleState struct {
	value   native.Handle
	owned   bool
	backend native.Backend
	log     Logger

	mu       sync.Mutex
	refs     int
	closed   bool
	released bool
}

// NewIconHandle wraps value. With owned set the handle is destroyed once
// it is no longer used.
func (t *Tray) NewIconHandle(value uint64, owned bool) (*IconHandle, error) {
	if value == 0 {
		return nil, fmt.Errorf("%w: zero icon handle", ErrArgumentValue)
	}
	if value > math.MaxUint {
		return nil, fmt.Errorf("%w: %#x", ErrOverflow, value)
	}
	return t.newIconHandle(native.Handle(value), owned), nil
}

// IconHandleFromInt borrows a handle owned by someone else, for example
// one obtained from another library.
func (t *Tray) IconHandleFromInt(value uint64) (*IconHandle, error) {
	return t.NewIconHandle(value, false)
}

// ParseIconHandle borrows a handle given as text, in decimal or with a
// 0x, 0o or 0b prefix.
func (t *Tray) ParseIconHandle(s string) (*IconHandle, error) {
	v, err := strconv.ParseUint(s, 0, bits.UintSize)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w: %q", ErrOverflow, s)
		}
		return nil, fmt.Errorf("%w: icon handle %q is not an integer", ErrArgumentType, s)
	}
	return t.IconHandleFromInt(v)
}

func (t *Tray) newIconHandle(value native.Handle, owned bool) *IconHandle {
	st := &handleState{
		value:   value,
		owned:   owned,
		backend: t.backend,
		log:     t.log,
		refs:    1,
	}
	h := &IconHandle{st: st}
	runtime.AddCleanup(h, func(st *handleState) { st.close() }, st)
	return h
}

// Value returns the native handle.
func (h *IconHandle) Value() uintptr { return uintptr(h.st.value) }

// Owned reports whether the handle is destroyed once unused.
func (h *IconHandle) Owned() bool { return h.st.owned }

// Equal compares handles by value.
func (h *IconHandle) Equal(other *IconHandle) bool {
	return other != nil && h.st.value == other.st.value
}

// Released reports whether the native icon has been destroyed.
func (h *IconHandle) Released() bool {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.released
}

// Close gives up the caller's use of the handle. Icons showing it keep it
// alive until they switch to another handle or are destroyed.
func (h *IconHandle) Close() error {
	return h.st.close()
}

func (st *handleState) close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()
	return st.release()
}

// retain fails once the caller has closed the handle.
func (st *handleState) retain() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed || st.refs == 0 {
		return false
	}
	st.refs++
	return true
}

func (st *handleState) release() error {
	st.mu.Lock()
	st.refs--
	if st.refs > 0 || st.released {
		st.mu.Unlock()
		return nil
	}
	st.released = st.owned
	st.mu.Unlock()
	if !st.owned {
		return nil
	}
	if err := st.backend.DestroyIcon(st.value); err != nil {
		_ = st.log.Errorf("destroy icon %#x: %v", uintptr(st.value), err)
		return resourceError("destroy icon", err)
	}
	return nil
}
