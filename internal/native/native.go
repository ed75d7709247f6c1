// Package native is the boundary between the tray objects and the OS
// shell. Backend covers the calls that may be issued from any goroutine;
// Thread covers the calls bound to one locked OS thread (window creation,
// the message pump and popup menu tracking).
package native

import "errors"

// Handle is an opaque OS handle (HWND, HMENU or HICON). Zero is never valid.
type Handle uintptr

// Window messages.
const (
	WMNull          uint32 = 0x0000
	WMDestroy       uint32 = 0x0002
	WMClose         uint32 = 0x0010
	WMQuit          uint32 = 0x0012
	WMMouseMove     uint32 = 0x0200
	WMLButtonDown   uint32 = 0x0201
	WMLButtonUp     uint32 = 0x0202
	WMLButtonDblClk uint32 = 0x0203
	WMRButtonDown   uint32 = 0x0204
	WMRButtonUp     uint32 = 0x0205
	WMRButtonDblClk uint32 = 0x0206
	WMMButtonDown   uint32 = 0x0207
	WMMButtonUp     uint32 = 0x0208
	WMMButtonDblClk uint32 = 0x0209
	WMUser          uint32 = 0x0400
)

// NotifyOp selects the Shell_NotifyIcon operation.
type NotifyOp uint32

const (
	NIMAdd    NotifyOp = 0x0
	NIMModify NotifyOp = 0x1
	NIMDelete NotifyOp = 0x2
)

// NotifyIconData flags.
const (
	NIFMessage uint32 = 0x1
	NIFIcon    uint32 = 0x2
	NIFTip     uint32 = 0x4
)

// TrackPopupMenu flags.
const (
	TPMLeftAlign    uint32 = 0x0000
	TPMRightButton  uint32 = 0x0002
	TPMCenterAlign  uint32 = 0x0004
	TPMRightAlign   uint32 = 0x0008
	TPMTopAlign     uint32 = 0x0000
	TPMVCenterAlign uint32 = 0x0010
	TPMBottomAlign  uint32 = 0x0020
	TPMNoNotify     uint32 = 0x0080
	TPMReturnCmd    uint32 = 0x0100
)

// Menu item types and states.
const (
	MFTString     uint32 = 0x0000
	MFTRadioCheck uint32 = 0x0200
	MFTSeparator  uint32 = 0x0800

	MFSEnabled  uint32 = 0x0000
	MFSDisabled uint32 = 0x0003
	MFSChecked  uint32 = 0x0008
)

// TipLen is the capacity of the tooltip buffer in UTF-16 units, including
// the terminating NUL.
const TipLen = 128

var (
	ErrUnsupported  = errors.New("notification area is not supported on this platform")
	ErrIconNotFound = errors.New("icon file not found or not an icon")
	ErrIconIndex    = errors.New("icon index exceeds icons in file")
)

// Msg is a window message as retrieved from a thread queue.
type Msg struct {
	Hwnd    Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
}

// WindowProc handles a message for a window created through Thread. When
// handled is false the backend applies its default processing.
type WindowProc func(hwnd Handle, msg uint32, wparam, lparam uintptr) (result uintptr, handled bool)

// NotifyIconData describes one notification area icon.
type NotifyIconData struct {
	Wnd             Handle
	ID              uint32
	Flags           uint32
	CallbackMessage uint32
	Icon            Handle
	Tip             string
}

// MenuItemInfo describes one popup menu entry.
type MenuItemInfo struct {
	ID      uint32
	Type    uint32
	State   uint32
	Label   string
	SubMenu Handle
}

type Point struct {
	X, Y int32
}

// Backend is the process-wide side of the shell API. All methods are safe
// to call from any goroutine.
type Backend interface {
	// AttachThread binds a Thread to the calling OS thread. The caller must
	// hold runtime.LockOSThread until Release.
	AttachThread() (Thread, error)

	PostMessage(hwnd Handle, msg uint32, wparam, lparam uintptr) error
	NotifyIcon(op NotifyOp, data *NotifyIconData) error

	LoadIcon(path string, index int, large bool) (Handle, error)
	DestroyIcon(icon Handle) error

	CreatePopupMenu() (Handle, error)
	DestroyMenu(menu Handle) error
	InsertMenuItem(menu Handle, pos int, info *MenuItemInfo) error
	SetMenuItem(menu Handle, pos int, info *MenuItemInfo) error
	RemoveMenuItem(menu Handle, pos int) error
	MenuItemCount(menu Handle) (int, error)

	CursorPos() (Point, error)
}

// Thread is bound to the OS thread that called Backend.AttachThread and
// must only be used from it.
type Thread interface {
	CreateWindow(class string, proc WindowProc) (Handle, error)
	DestroyWindow(hwnd Handle) error

	// GetMessage blocks for the next message. ok is false once the quit
	// message posted by PostQuitMessage is retrieved.
	GetMessage() (msg Msg, ok bool, err error)
	DispatchMessage(msg *Msg)
	PostQuitMessage(code int)

	SetForegroundWindow(hwnd Handle)
	// TrackPopupMenu shows menu and blocks until it is dismissed. It returns
	// the id of the selected item, or zero.
	TrackPopupMenu(menu Handle, flags uint32, pt Point, owner Handle) (uint32, error)
	// EndMenu dismisses the menu being tracked on this thread.
	EndMenu()

	Release()
}
