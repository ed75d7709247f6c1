//go:build !windows

package native

// Default returns the shell backend of the running platform. Only Windows
// has one; elsewhere use nativetest.
func Default() (Backend, error) {
	return nil, ErrUnsupported
}
