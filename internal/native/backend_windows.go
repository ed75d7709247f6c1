//go:build windows

package native

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	k32 = windows.NewLazySystemDLL("Kernel32.dll")
	u32 = windows.NewLazySystemDLL("User32.dll")
	s32 = windows.NewLazySystemDLL("Shell32.dll")

	pGetModuleHandle     = k32.NewProc("GetModuleHandleW")
	pCreatePopupMenu     = u32.NewProc("CreatePopupMenu")
	pCreateWindowEx      = u32.NewProc("CreateWindowExW")
	pDefWindowProc       = u32.NewProc("DefWindowProcW")
	pDestroyIcon         = u32.NewProc("DestroyIcon")
	pDestroyMenu         = u32.NewProc("DestroyMenu")
	pDestroyWindow       = u32.NewProc("DestroyWindow")
	pDispatchMessage     = u32.NewProc("DispatchMessageW")
	pEndMenu             = u32.NewProc("EndMenu")
	pGetCursorPos        = u32.NewProc("GetCursorPos")
	pGetMenuItemCount    = u32.NewProc("GetMenuItemCount")
	pGetMessage          = u32.NewProc("GetMessageW")
	pInsertMenuItem      = u32.NewProc("InsertMenuItemW")
	pPostMessage         = u32.NewProc("PostMessageW")
	pPostQuitMessage     = u32.NewProc("PostQuitMessage")
	pRegisterClass       = u32.NewProc("RegisterClassExW")
	pRemoveMenu          = u32.NewProc("RemoveMenu")
	pSetForegroundWindow = u32.NewProc("SetForegroundWindow")
	pSetMenuItemInfo     = u32.NewProc("SetMenuItemInfoW")
	pTrackPopupMenu      = u32.NewProc("TrackPopupMenu")
	pTranslateMessage    = u32.NewProc("TranslateMessage")
	pExtractIconEx       = s32.NewProc("ExtractIconExW")
	pShellNotifyIcon     = s32.NewProc("Shell_NotifyIconW")
)

const (
	cwUseDefault = 0x80000000
	wsOverlapped = 0x00000000
	wsSysMenu    = 0x00080000
	wmNCDestroy  = 0x0082

	mfByPosition = 0x00000400

	miimState   = 0x00000001
	miimID      = 0x00000002
	miimSubMenu = 0x00000004
	miimString  = 0x00000040
	miimFType   = 0x00000100
)

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
	Private uint32
}

type wndClassEx struct {
	Size, Style                        uint32
	WndProc                            uintptr
	ClsExtra, WndExtra                 int32
	Instance, Icon, Cursor, Background windows.Handle
	MenuName, ClassName                *uint16
	IconSm                             windows.Handle
}

type notifyIconData struct {
	Size                       uint32
	Wnd                        windows.Handle
	ID, Flags, CallbackMessage uint32
	Icon                       windows.Handle
	Tip                        [TipLen]uint16
	State, StateMask           uint32
	Info                       [256]uint16
	Timeout                    uint32
	InfoTitle                  [64]uint16
	InfoFlags                  uint32
	GuidItem                   windows.GUID
	BalloonIcon                windows.Handle
}

type menuItemInfo struct {
	Size, Mask, Type, State, ID     uint32
	SubMenu, Checked, Unchecked     windows.Handle
	ItemData                        uintptr
	TypeData                        *uint16
	Cch                             uint32
	Item                            windows.Handle
}

// One callback serves every window; messages are routed to the WindowProc
// registered for the hwnd.
var (
	wndProcCallback = windows.NewCallback(wndProc)

	windowContext     = map[Handle]WindowProc{}
	windowContextSync sync.RWMutex

	classes   = map[string]bool{}
	classesMu sync.Mutex
)

func getWindowContext(hwnd Handle) WindowProc {
	windowContextSync.RLock()
	defer windowContextSync.RUnlock()
	return windowContext[hwnd]
}

func setWindowContext(hwnd Handle, proc WindowProc) {
	windowContextSync.Lock()
	defer windowContextSync.Unlock()
	if proc == nil {
		delete(windowContext, hwnd)
		return
	}
	windowContext[hwnd] = proc
}

func wndProc(hwnd, message, wparam, lparam uintptr) uintptr {
	h := Handle(hwnd)
	if proc := getWindowContext(h); proc != nil {
		if r, ok := proc(h, uint32(message), wparam, lparam); ok {
			return r
		}
	}
	if message == wmNCDestroy {
		setWindowContext(h, nil)
	}
	r, _, _ := pDefWindowProc.Call(hwnd, message, wparam, lparam)
	return r
}

func registerClass(name string) (*uint16, error) {
	className, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	classesMu.Lock()
	defer classesMu.Unlock()
	if classes[name] {
		return className, nil
	}
	instance, _, _ := pGetModuleHandle.Call(0)
	wc := wndClassEx{
		WndProc:   wndProcCallback,
		Instance:  windows.Handle(instance),
		ClassName: className,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	if r, _, err := pRegisterClass.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		return nil, err
	}
	classes[name] = true
	return className, nil
}

type winBackend struct{}

// Default returns the shell backend of the running platform.
func Default() (Backend, error) {
	return winBackend{}, nil
}

func (winBackend) AttachThread() (Thread, error) {
	return &winThread{id: windows.GetCurrentThreadId()}, nil
}

func (winBackend) PostMessage(hwnd Handle, message uint32, wparam, lparam uintptr) error {
	if r, _, err := pPostMessage.Call(uintptr(hwnd), uintptr(message), wparam, lparam); r == 0 {
		return err
	}
	return nil
}

func (winBackend) NotifyIcon(op NotifyOp, data *NotifyIconData) error {
	nid := notifyIconData{
		Wnd:             windows.Handle(data.Wnd),
		ID:              data.ID,
		Flags:           data.Flags,
		CallbackMessage: data.CallbackMessage,
		Icon:            windows.Handle(data.Icon),
	}
	nid.Size = uint32(unsafe.Sizeof(nid))
	if data.Flags&NIFTip != 0 {
		tip, err := windows.UTF16FromString(data.Tip)
		if err != nil {
			return err
		}
		if len(tip) > TipLen {
			tip = tip[:TipLen]
			tip[TipLen-1] = 0
		}
		copy(nid.Tip[:], tip)
	}
	if r, _, err := pShellNotifyIcon.Call(uintptr(op), uintptr(unsafe.Pointer(&nid))); r == 0 {
		return err
	}
	return nil
}

func (winBackend) LoadIcon(path string, index int, large bool) (Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	// nIconIndex -1 asks for the number of icons in the file.
	n, _, _ := pExtractIconEx.Call(uintptr(unsafe.Pointer(p)), ^uintptr(0), 0, 0, 0)
	count := uint32(n)
	if count == 0 || count == ^uint32(0) {
		return 0, ErrIconNotFound
	}
	if uint32(index) >= count {
		return 0, ErrIconIndex
	}
	var icon windows.Handle
	var largeOut, smallOut uintptr
	if large {
		largeOut = uintptr(unsafe.Pointer(&icon))
	} else {
		smallOut = uintptr(unsafe.Pointer(&icon))
	}
	pExtractIconEx.Call(uintptr(unsafe.Pointer(p)), uintptr(index), largeOut, smallOut, 1)
	if icon == 0 {
		return 0, ErrIconNotFound
	}
	return Handle(icon), nil
}

func (winBackend) DestroyIcon(icon Handle) error {
	if r, _, err := pDestroyIcon.Call(uintptr(icon)); r == 0 {
		return err
	}
	return nil
}

func (winBackend) CreatePopupMenu() (Handle, error) {
	r, _, err := pCreatePopupMenu.Call()
	if r == 0 {
		return 0, err
	}
	return Handle(r), nil
}

func (winBackend) DestroyMenu(menu Handle) error {
	if r, _, err := pDestroyMenu.Call(uintptr(menu)); r == 0 {
		return err
	}
	return nil
}

func toMenuItemInfo(info *MenuItemInfo) (*menuItemInfo, error) {
	mii := &menuItemInfo{
		Mask:    miimFType | miimState | miimID | miimSubMenu,
		Type:    info.Type,
		State:   info.State,
		ID:      info.ID,
		SubMenu: windows.Handle(info.SubMenu),
	}
	mii.Size = uint32(unsafe.Sizeof(*mii))
	if info.Type&MFTSeparator == 0 {
		label, err := windows.UTF16FromString(info.Label)
		if err != nil {
			return nil, err
		}
		mii.Mask |= miimString
		mii.TypeData = &label[0]
		mii.Cch = uint32(len(label) - 1)
	}
	return mii, nil
}

func (winBackend) InsertMenuItem(menu Handle, pos int, info *MenuItemInfo) error {
	mii, err := toMenuItemInfo(info)
	if err != nil {
		return err
	}
	if r, _, err := pInsertMenuItem.Call(uintptr(menu), uintptr(pos), 1, uintptr(unsafe.Pointer(mii))); r == 0 {
		return err
	}
	return nil
}

func (winBackend) SetMenuItem(menu Handle, pos int, info *MenuItemInfo) error {
	mii, err := toMenuItemInfo(info)
	if err != nil {
		return err
	}
	if r, _, err := pSetMenuItemInfo.Call(uintptr(menu), uintptr(pos), 1, uintptr(unsafe.Pointer(mii))); r == 0 {
		return err
	}
	return nil
}

func (winBackend) RemoveMenuItem(menu Handle, pos int) error {
	if r, _, err := pRemoveMenu.Call(uintptr(menu), uintptr(pos), mfByPosition); r == 0 {
		return err
	}
	return nil
}

func (winBackend) MenuItemCount(menu Handle) (int, error) {
	r, _, err := pGetMenuItemCount.Call(uintptr(menu))
	if int32(r) == -1 {
		return 0, err
	}
	return int(int32(r)), nil
}

func (winBackend) CursorPos() (Point, error) {
	var pt point
	if r, _, err := pGetCursorPos.Call(uintptr(unsafe.Pointer(&pt))); r == 0 {
		return Point{}, err
	}
	return Point{X: pt.X, Y: pt.Y}, nil
}

type winThread struct {
	id uint32
}

func (t *winThread) CreateWindow(class string, proc WindowProc) (Handle, error) {
	className, err := registerClass(class)
	if err != nil {
		return 0, err
	}
	instance, _, _ := pGetModuleHandle.Call(0)
	r, _, err := pCreateWindowEx.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		uintptr(unsafe.Pointer(className)),
		wsOverlapped|wsSysMenu,
		cwUseDefault,
		cwUseDefault,
		cwUseDefault,
		cwUseDefault,
		0,
		0,
		instance,
		0,
	)
	if r == 0 {
		return 0, err
	}
	hwnd := Handle(r)
	setWindowContext(hwnd, proc)
	return hwnd, nil
}

func (t *winThread) DestroyWindow(hwnd Handle) error {
	if r, _, err := pDestroyWindow.Call(uintptr(hwnd)); r == 0 {
		return err
	}
	return nil
}

func (t *winThread) GetMessage() (Msg, bool, error) {
	var m msg
	r, _, err := pGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
	switch int32(r) {
	case -1:
		return Msg{}, false, err
	case 0:
		return Msg{Hwnd: Handle(m.Hwnd), Message: m.Message, WParam: m.WParam, LParam: m.LParam}, false, nil
	}
	return Msg{Hwnd: Handle(m.Hwnd), Message: m.Message, WParam: m.WParam, LParam: m.LParam}, true, nil
}

func (t *winThread) DispatchMessage(in *Msg) {
	m := msg{
		Hwnd:    windows.Handle(in.Hwnd),
		Message: in.Message,
		WParam:  in.WParam,
		LParam:  in.LParam,
	}
	_, _, _ = pTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
	_, _, _ = pDispatchMessage.Call(uintptr(unsafe.Pointer(&m)))
}

func (t *winThread) PostQuitMessage(code int) {
	_, _, _ = pPostQuitMessage.Call(uintptr(code))
}

func (t *winThread) SetForegroundWindow(hwnd Handle) {
	_, _, _ = pSetForegroundWindow.Call(uintptr(hwnd))
}

func (t *winThread) TrackPopupMenu(menu Handle, flags uint32, pt Point, owner Handle) (uint32, error) {
	r, _, err := pTrackPopupMenu.Call(
		uintptr(menu),
		uintptr(flags),
		uintptr(pt.X),
		uintptr(pt.Y),
		0,
		uintptr(owner),
		0,
	)
	// The owner must see one more message for the menu to close reliably
	// when the user clicks elsewhere.
	_, _, _ = pPostMessage.Call(uintptr(owner), uintptr(WMNull), 0, 0)
	if r == 0 && flags&TPMReturnCmd == 0 {
		return 0, err
	}
	return uint32(r), nil
}

func (t *winThread) EndMenu() {
	_, _, _ = pEndMenu.Call()
}

func (t *winThread) Release() {}
