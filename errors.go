package wintray

import (
	"errors"
	"fmt"

	"github.com/eyasliu/wintray/internal/native"
)

var (
	// ErrArgumentType reports a value of the wrong kind, for example a
	// handle string that is not a number or a setter that does not apply to
	// the item's kind.
	ErrArgumentType = errors.New("wintray: wrong argument type")
	// ErrArgumentValue reports a value outside its domain.
	ErrArgumentValue = errors.New("wintray: invalid argument value")
	// ErrOverflow reports a handle value wider than a native handle, or an
	// icon id that no longer fits the shell's 32-bit field.
	ErrOverflow = errors.New("wintray: value overflows native field")
	// ErrIndexOutOfRange reports a menu or icon index outside the available range.
	ErrIndexOutOfRange = errors.New("wintray: index out of range")
	// ErrStateConflict reports an operation that clashes with the current
	// state of an object.
	ErrStateConflict = errors.New("wintray: state conflict")
	// ErrBusy is returned to the caller that lost a race for the message
	// loop or for a menu popup.
	ErrBusy = fmt.Errorf("%w: busy", ErrStateConflict)
	// ErrDestroyed is returned by operations on a destroyed TrayIcon.
	ErrDestroyed = fmt.Errorf("%w: destroyed", ErrStateConflict)
	// ErrCycle reports a submenu insertion that would make a menu its own
	// descendant.
	ErrCycle = errors.New("wintray: submenu cycle")
	// ErrResource reports a failed shell call.
	ErrResource = errors.New("wintray: native resource error")
	// ErrUnsupported is returned by New when no notification area is
	// available and no Backend was given.
	ErrUnsupported = native.ErrUnsupported
)

// ResourceError wraps a failed shell call.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("wintray: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *ResourceError) Is(target error) bool { return target == ErrResource }

func resourceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ResourceError{Op: op, Err: err}
}
