package wintray

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/eyasliu/wintray/internal/native"
)

// LoadIcon extracts icon number index from an .ico, .exe or .dll file.
// large selects the large size class instead of the small one. The
// returned handle is owned.
func (t *Tray) LoadIcon(path string, index int, large bool) (*IconHandle, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative icon index %d", ErrArgumentValue, index)
	}
	h, err := t.backend.LoadIcon(path, index, large)
	switch {
	case errors.Is(err, native.ErrIconIndex):
		return nil, fmt.Errorf("%w: icon %d in %s", ErrIndexOutOfRange, index, path)
	case err != nil:
		return nil, resourceError("load icon "+path, err)
	}
	return t.newIconHandle(h, true), nil
}

// LoadIconBytes loads an icon from the contents of an icon file.
func (t *Tray) LoadIconBytes(data []byte, index int, large bool) (*IconHandle, error) {
	path, err := iconBytesToFilePath(data)
	if err != nil {
		return nil, resourceError("write icon file", err)
	}
	return t.LoadIcon(path, index, large)
}

// iconBytesToFilePath stores data in the temp dir under a name derived from
// its hash, reusing an existing file.
func iconBytesToFilePath(iconBytes []byte) (string, error) {
	bh := md5.Sum(iconBytes)
	dataHash := hex.EncodeToString(bh[:])
	iconFilePath := filepath.Join(os.TempDir(), "wintray_icon_"+dataHash+".ico")

	if _, err := os.Stat(iconFilePath); os.IsNotExist(err) {
		if err := os.WriteFile(iconFilePath, iconBytes, 0644); err != nil {
			return "", err
		}
	}
	return iconFilePath, nil
}

// IsHeadless reports whether the process runs in a remote shell session,
// where no notification area is reachable.
func IsHeadless() bool {
	for _, key := range []string{"SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// IsSupported reports whether the native backend can be used: the process
// runs on Windows in an interactive session.
func IsSupported() bool {
	return runtime.GOOS == "windows" && !IsHeadless()
}
