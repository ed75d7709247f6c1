// Package nativetest provides an in-memory native.Backend. It keeps the
// shell semantics the tray code relies on (per-thread message queues,
// window procedures, notification icon bookkeeping, nested popup menu
// tracking) so trays and menus can be driven from tests on any platform.
package nativetest

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eyasliu/wintray/internal/native"
)

const (
	selectMessage  uint32 = 0x7ff0
	dismissMessage uint32 = 0x7ff1

	queueSize = 10000
)

var (
	ErrInvalidHandle = errors.New("nativetest: invalid handle")
	ErrNotTracking   = errors.New("nativetest: no popup menu is being tracked")
)

// Track records one TrackPopupMenu call.
type Track struct {
	Menu  native.Handle
	Flags uint32
	Point native.Point
	Owner native.Handle
}

type window struct {
	class string
	proc  native.WindowProc
	th    *thread
}

type icon struct {
	alive     bool
	large     bool
	destroyed int
}

type menu struct {
	items []native.MenuItemInfo
}

type notifyKey struct {
	wnd native.Handle
	id  uint32
}

// Backend is safe for concurrent use.
type Backend struct {
	mu         sync.Mutex
	next       uintptr
	windows    map[native.Handle]*window
	icons      map[native.Handle]*icon
	files      map[string]int
	notified   map[notifyKey]native.NotifyIconData
	notifyErr  error
	notifyOps  map[native.NotifyOp]int
	menus      map[native.Handle]*menu
	cursor     native.Point
	tracks     []Track
	tracking   map[*thread]native.Handle
	foreground native.Handle
}

var _ native.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		next:      0x1000,
		windows:   map[native.Handle]*window{},
		icons:     map[native.Handle]*icon{},
		files:     map[string]int{},
		notified:  map[notifyKey]native.NotifyIconData{},
		notifyOps: map[native.NotifyOp]int{},
		menus:     map[native.Handle]*menu{},
		tracking:  map[*thread]native.Handle{},
	}
}

// handle must be called with b.mu held.
func (b *Backend) handle() native.Handle {
	b.next += 4
	return native.Handle(b.next)
}

func (b *Backend) AttachThread() (native.Thread, error) {
	return &thread{b: b, queue: make(chan native.Msg, queueSize)}, nil
}

func (b *Backend) PostMessage(hwnd native.Handle, msg uint32, wparam, lparam uintptr) error {
	b.mu.Lock()
	w := b.windows[hwnd]
	b.mu.Unlock()
	if w == nil {
		return fmt.Errorf("post message %#x: %w", msg, ErrInvalidHandle)
	}
	w.th.queue <- native.Msg{Hwnd: hwnd, Message: msg, WParam: wparam, LParam: lparam}
	return nil
}

func (b *Backend) NotifyIcon(op native.NotifyOp, data *native.NotifyIconData) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notifyErr != nil {
		return b.notifyErr
	}
	if b.windows[data.Wnd] == nil {
		return fmt.Errorf("notify icon %d: window: %w", data.ID, ErrInvalidHandle)
	}
	key := notifyKey{data.Wnd, data.ID}
	cur, exists := b.notified[key]
	switch op {
	case native.NIMAdd:
		if exists {
			return fmt.Errorf("notify icon %d: already added", data.ID)
		}
		b.notified[key] = *data
	case native.NIMModify:
		if !exists {
			return fmt.Errorf("notify icon %d: not added", data.ID)
		}
		if data.Flags&native.NIFIcon != 0 {
			cur.Icon = data.Icon
		}
		if data.Flags&native.NIFTip != 0 {
			cur.Tip = data.Tip
		}
		if data.Flags&native.NIFMessage != 0 {
			cur.CallbackMessage = data.CallbackMessage
		}
		cur.Flags |= data.Flags
		b.notified[key] = cur
	case native.NIMDelete:
		if !exists {
			return fmt.Errorf("notify icon %d: not added", data.ID)
		}
		delete(b.notified, key)
	default:
		return fmt.Errorf("notify icon %d: unknown op %d", data.ID, op)
	}
	b.notifyOps[op]++
	return nil
}

func (b *Backend) LoadIcon(path string, index int, large bool) (native.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count, ok := b.files[path]
	if !ok || count == 0 {
		return 0, native.ErrIconNotFound
	}
	if index < 0 || index >= count {
		return 0, native.ErrIconIndex
	}
	h := b.handle()
	b.icons[h] = &icon{alive: true, large: large}
	return h, nil
}

func (b *Backend) DestroyIcon(h native.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ic := b.icons[h]
	if ic == nil || !ic.alive {
		return fmt.Errorf("destroy icon %#x: %w", h, ErrInvalidHandle)
	}
	ic.alive = false
	ic.destroyed++
	return nil
}

func (b *Backend) CreatePopupMenu() (native.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handle()
	b.menus[h] = &menu{}
	return h, nil
}

// DestroyMenu destroys menu and, like the shell, every submenu still
// attached to it.
func (b *Backend) DestroyMenu(h native.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.menus[h] == nil {
		return fmt.Errorf("destroy menu %#x: %w", h, ErrInvalidHandle)
	}
	b.destroyMenuLocked(h)
	return nil
}

func (b *Backend) destroyMenuLocked(h native.Handle) {
	m := b.menus[h]
	if m == nil {
		return
	}
	delete(b.menus, h)
	for _, it := range m.items {
		if it.SubMenu != 0 {
			b.destroyMenuLocked(it.SubMenu)
		}
	}
}

func (b *Backend) InsertMenuItem(h native.Handle, pos int, info *native.MenuItemInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.menus[h]
	if m == nil {
		return fmt.Errorf("insert menu item: %w", ErrInvalidHandle)
	}
	if pos < 0 || pos > len(m.items) {
		pos = len(m.items)
	}
	m.items = slices.Insert(m.items, pos, *info)
	return nil
}

func (b *Backend) SetMenuItem(h native.Handle, pos int, info *native.MenuItemInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.menus[h]
	if m == nil {
		return fmt.Errorf("set menu item: %w", ErrInvalidHandle)
	}
	if pos < 0 || pos >= len(m.items) {
		return fmt.Errorf("set menu item %d: position out of range", pos)
	}
	m.items[pos] = *info
	return nil
}

func (b *Backend) RemoveMenuItem(h native.Handle, pos int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.menus[h]
	if m == nil {
		return fmt.Errorf("remove menu item: %w", ErrInvalidHandle)
	}
	if pos < 0 || pos >= len(m.items) {
		return fmt.Errorf("remove menu item %d: position out of range", pos)
	}
	m.items = slices.Delete(m.items, pos, pos+1)
	return nil
}

func (b *Backend) MenuItemCount(h native.Handle) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.menus[h]
	if m == nil {
		return 0, fmt.Errorf("menu item count: %w", ErrInvalidHandle)
	}
	return len(m.items), nil
}

func (b *Backend) CursorPos() (native.Point, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor, nil
}

// NewIcon returns a fresh valid icon handle, as if acquired by the caller.
func (b *Backend) NewIcon() native.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handle()
	b.icons[h] = &icon{alive: true}
	return h
}

// IconValid reports whether h is a live icon.
func (b *Backend) IconValid(h native.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ic := b.icons[h]
	return ic != nil && ic.alive
}

// IconDestroyCount returns how many times DestroyIcon succeeded for h.
func (b *Backend) IconDestroyCount(h native.Handle) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ic := b.icons[h]; ic != nil {
		return ic.destroyed
	}
	return 0
}

// IconLarge reports whether h was loaded in the large size class.
func (b *Backend) IconLarge(h native.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ic := b.icons[h]
	return ic != nil && ic.large
}

// AddIconFile makes path loadable with count icons in it.
func (b *Backend) AddIconFile(path string, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = count
}

// FailNotify makes every following NotifyIcon call fail with err. A nil
// err restores normal behavior.
func (b *Backend) FailNotify(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyErr = err
}

// Notified returns the current shell state of the icon with id.
func (b *Backend) Notified(id uint32) (native.NotifyIconData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.notified {
		if k.id == id {
			return v, true
		}
	}
	return native.NotifyIconData{}, false
}

// NotifiedCount returns how many icons are in the notification area.
func (b *Backend) NotifiedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notified)
}

// NotifyCalls returns how many successful calls used op.
func (b *Backend) NotifyCalls(op native.NotifyOp) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifyOps[op]
}

func (b *Backend) SetCursor(pt native.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = pt
}

// ClassWindows lists the live windows of class.
func (b *Backend) ClassWindows(class string) []native.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []native.Handle
	for h, w := range b.windows {
		if w.class == class {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

// Foreground returns the last window passed to SetForegroundWindow.
func (b *Backend) Foreground() native.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.foreground
}

// MenuItems returns a copy of the entries of menu h.
func (b *Backend) MenuItems(h native.Handle) ([]native.MenuItemInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.menus[h]
	if m == nil {
		return nil, false
	}
	return slices.Clone(m.items), true
}

// MenuCount returns the number of live popup menus.
func (b *Backend) MenuCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.menus)
}

// LastTrack returns the most recent TrackPopupMenu call.
func (b *Backend) LastTrack() (Track, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tracks) == 0 {
		return Track{}, false
	}
	return b.tracks[len(b.tracks)-1], true
}

// WaitTracking waits until some thread is inside TrackPopupMenu.
func (b *Backend) WaitTracking(timeout time.Duration) bool {
	_, _, ok := b.waitTracking(timeout)
	return ok
}

func (b *Backend) waitTracking(timeout time.Duration) (*thread, native.Handle, bool) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		for th, h := range b.tracking {
			b.mu.Unlock()
			return th, h, true
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, 0, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Select chooses the entry with id in the tracked menu, or in one of its
// open submenus, as a user click would.
func (b *Backend) Select(id uint32) error {
	th, root, ok := b.waitTracking(5 * time.Second)
	if !ok {
		return ErrNotTracking
	}
	b.mu.Lock()
	selectable := b.selectableLocked(root, id, map[native.Handle]bool{})
	b.mu.Unlock()
	if !selectable {
		return fmt.Errorf("nativetest: item %d is not selectable", id)
	}
	th.queue <- native.Msg{Message: selectMessage, WParam: uintptr(id)}
	return nil
}

func (b *Backend) selectableLocked(h native.Handle, id uint32, seen map[native.Handle]bool) bool {
	m := b.menus[h]
	if m == nil || seen[h] {
		return false
	}
	seen[h] = true
	for _, it := range m.items {
		if it.SubMenu != 0 {
			if b.selectableLocked(it.SubMenu, id, seen) {
				return true
			}
			continue
		}
		if it.ID == id && it.Type&native.MFTSeparator == 0 && it.State&native.MFSDisabled == 0 {
			return true
		}
	}
	return false
}

// Dismiss closes the tracked menu without a selection.
func (b *Backend) Dismiss() error {
	th, _, ok := b.waitTracking(5 * time.Second)
	if !ok {
		return ErrNotTracking
	}
	th.queue <- native.Msg{Message: dismissMessage}
	return nil
}

type thread struct {
	b       *Backend
	queue   chan native.Msg
	endMenu atomic.Bool
}

var _ native.Thread = (*thread)(nil)

func (t *thread) CreateWindow(class string, proc native.WindowProc) (native.Handle, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	h := t.b.handle()
	t.b.windows[h] = &window{class: class, proc: proc, th: t}
	return h, nil
}

// DestroyWindow sends WM_DESTROY to the window procedure before the window
// disappears.
func (t *thread) DestroyWindow(hwnd native.Handle) error {
	t.b.mu.Lock()
	w := t.b.windows[hwnd]
	t.b.mu.Unlock()
	if w == nil {
		return fmt.Errorf("destroy window %#x: %w", hwnd, ErrInvalidHandle)
	}
	w.proc(hwnd, native.WMDestroy, 0, 0)
	t.b.mu.Lock()
	delete(t.b.windows, hwnd)
	t.b.mu.Unlock()
	return nil
}

func (t *thread) GetMessage() (native.Msg, bool, error) {
	m := <-t.queue
	return m, m.Message != native.WMQuit, nil
}

func (t *thread) DispatchMessage(m *native.Msg) {
	t.b.mu.Lock()
	w := t.b.windows[m.Hwnd]
	t.b.mu.Unlock()
	if w == nil {
		return
	}
	if _, handled := w.proc(m.Hwnd, m.Message, m.WParam, m.LParam); handled {
		return
	}
	if m.Message == native.WMClose {
		_ = t.DestroyWindow(m.Hwnd)
	}
}

func (t *thread) PostQuitMessage(code int) {
	t.queue <- native.Msg{Message: native.WMQuit, WParam: uintptr(code)}
}

func (t *thread) SetForegroundWindow(hwnd native.Handle) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.foreground = hwnd
}

// TrackPopupMenu runs a modal loop: window messages are dispatched while
// the menu is open, and the loop ends on Select, Dismiss or EndMenu.
func (t *thread) TrackPopupMenu(h native.Handle, flags uint32, pt native.Point, owner native.Handle) (uint32, error) {
	t.b.mu.Lock()
	if t.b.menus[h] == nil {
		t.b.mu.Unlock()
		return 0, fmt.Errorf("track popup menu: %w", ErrInvalidHandle)
	}
	t.b.tracks = append(t.b.tracks, Track{Menu: h, Flags: flags, Point: pt, Owner: owner})
	t.endMenu.Store(false)
	t.b.tracking[t] = h
	t.b.mu.Unlock()

	defer func() {
		t.b.mu.Lock()
		delete(t.b.tracking, t)
		t.b.mu.Unlock()
	}()

	for {
		m := <-t.queue
		switch m.Message {
		case selectMessage:
			return uint32(m.WParam), nil
		case dismissMessage:
			return 0, nil
		case native.WMQuit:
			t.queue <- m
			return 0, nil
		}
		t.DispatchMessage(&m)
		if t.endMenu.Load() {
			return 0, nil
		}
	}
}

func (t *thread) EndMenu() {
	t.endMenu.Store(true)
}

func (t *thread) Release() {}
