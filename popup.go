package wintray

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/eyasliu/wintray/internal/native"
)

const (
	// PopupWindowClass is the class of the hidden window owning a popup.
	PopupWindowClass = "WinTrayPopupWindowClass"

	closeMessage = native.WMUser + 21
)

// Point is a screen position.
type Point struct {
	X, Y int32
}

type HorizontalAlign int

const (
	AlignLeft HorizontalAlign = iota
	AlignCenter
	AlignRight
)

type VerticalAlign int

const (
	AlignTop VerticalAlign = iota
	AlignMiddle
	AlignBottom
)

// PopupOptions places a popup menu. The zero value shows the menu at the
// cursor, extending right and down from it.
type PopupOptions struct {
	// Position defaults to the cursor position.
	Position *Point
	// HorizontalAlign and VerticalAlign say where the menu sits relative
	// to Position.
	HorizontalAlign HorizontalAlign
	VerticalAlign   VerticalAlign
	// AllowRightClick lets the right mouse button select items.
	AllowRightClick bool
}

func (o *PopupOptions) flags() (uint32, error) {
	flags := native.TPMReturnCmd | native.TPMNoNotify
	switch o.HorizontalAlign {
	case AlignLeft:
		flags |= native.TPMLeftAlign
	case AlignCenter:
		flags |= native.TPMCenterAlign
	case AlignRight:
		flags |= native.TPMRightAlign
	default:
		return 0, fmt.Errorf("%w: horizontal align %d", ErrArgumentValue, o.HorizontalAlign)
	}
	switch o.VerticalAlign {
	case AlignTop:
		flags |= native.TPMTopAlign
	case AlignMiddle:
		flags |= native.TPMVCenterAlign
	case AlignBottom:
		flags |= native.TPMBottomAlign
	default:
		return 0, fmt.Errorf("%w: vertical align %d", ErrArgumentValue, o.VerticalAlign)
	}
	if o.AllowRightClick {
		flags |= native.TPMRightButton
	}
	return flags, nil
}

// popupSession owns the native menus built for one Popup call.
type popupSession struct {
	tray   *Tray
	id     uint64
	thread native.Thread

	mu    sync.Mutex
	nodes []popupNode
}

type popupNode struct {
	menu    *Menu
	binding *binding
}

// build creates the native instance of m and, recursively, of its
// submenus. It locks m, so callers may only hold locks of m's ancestors.
func (s *popupSession) build(m *Menu) (native.Handle, error) {
	h, err := s.tray.backend.CreatePopupMenu()
	if err != nil {
		return 0, resourceError("create popup menu", err)
	}
	b := &binding{session: s, handle: h}
	s.mu.Lock()
	s.nodes = append(s.nodes, popupNode{menu: m, binding: b})
	s.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for pos, it := range m.items {
		if err := b.insert(pos, it); err != nil {
			return 0, err
		}
	}
	m.bindings = append(m.bindings, b)
	return h, nil
}

// close detaches every native instance from its menu and destroys them.
// Edits racing with close may still add nodes, so it loops until no new
// node shows up.
func (s *popupSession) close() {
	done := 0
	for {
		s.mu.Lock()
		pending := slices.Clone(s.nodes[done:])
		s.mu.Unlock()
		if len(pending) == 0 {
			break
		}
		for _, n := range pending {
			n.menu.mu.Lock()
			n.binding.dead = true
			n.menu.bindings = slices.DeleteFunc(n.menu.bindings, func(b *binding) bool { return b == n.binding })
			n.menu.mu.Unlock()
		}
		done += len(pending)
	}

	backend := s.tray.backend
	s.mu.Lock()
	nodes := s.nodes
	s.nodes = nil
	s.mu.Unlock()
	for i := len(nodes) - 1; i >= 0; i-- {
		h := nodes[i].binding.handle
		if n, err := backend.MenuItemCount(h); err == nil {
			for pos := n - 1; pos >= 0; pos-- {
				_ = backend.RemoveMenuItem(h, pos)
			}
		}
		if err := backend.DestroyMenu(h); err != nil {
			_ = s.tray.log.Errorf("destroy popup menu: %v", err)
		}
	}
}

// refresh rewrites the entries of item in this session's menus.
func (s *popupSession) refresh(item *MenuItem) error {
	s.mu.Lock()
	nodes := slices.Clone(s.nodes)
	s.mu.Unlock()
	var first error
	for _, n := range nodes {
		n.menu.mu.Lock()
		if !n.binding.dead {
			if err := n.binding.refresh(n.menu.items, item); err != nil && first == nil {
				first = err
			}
		}
		n.menu.mu.Unlock()
	}
	return first
}

// levelsOf returns every menu of the session that holds item. The shell
// reports only the command id, so an item shown at several levels cannot
// be told apart by where it was clicked.
func (s *popupSession) levelsOf(item *MenuItem) []*Menu {
	s.mu.Lock()
	nodes := slices.Clone(s.nodes)
	s.mu.Unlock()
	var levels []*Menu
	for _, n := range nodes {
		if !slices.Contains(levels, n.menu) && slices.Contains(n.menu.Items(), item) {
			levels = append(levels, n.menu)
		}
	}
	return levels
}

func (s *popupSession) windowProc(hwnd native.Handle, msg uint32, wparam, lparam uintptr) (uintptr, bool) {
	if msg == closeMessage {
		s.thread.EndMenu()
		return 0, true
	}
	return 0, false
}

// refreshItem pushes the current state of item to every popped up menu.
func (t *Tray) refreshItem(item *MenuItem) error {
	var first error
	t.popups.Range(func(_ uint64, s *popupSession) bool {
		if err := s.refresh(item); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}

// Popup shows the menu and blocks until an item is selected or the menu
// is dismissed. It runs on the calling goroutine, which is locked to its
// OS thread meanwhile. Selecting a string or check item runs its callback
// on this goroutine before Popup returns; check items toggle first. A
// menu can be popped up by one caller at a time, others get ErrBusy.
func (m *Menu) Popup(opt *PopupOptions) error {
	if opt == nil {
		opt = &PopupOptions{}
	}
	flags, err := opt.flags()
	if err != nil {
		return err
	}
	if !m.popping.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.popping.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t := m.tray
	th, err := t.backend.AttachThread()
	if err != nil {
		return resourceError("attach thread", err)
	}
	defer th.Release()

	s := t.popups.Allocate(func(id uint64) *popupSession {
		return &popupSession{tray: t, id: id, thread: th}
	})
	defer t.popups.Remove(s.id)

	owner, err := th.CreateWindow(PopupWindowClass, s.windowProc)
	if err != nil {
		return resourceError("create popup window", err)
	}
	defer func() {
		if err := th.DestroyWindow(owner); err != nil {
			_ = t.log.Errorf("destroy popup window: %v", err)
		}
	}()

	root, err := s.build(m)
	if err != nil {
		s.close()
		return err
	}

	var pt native.Point
	if opt.Position != nil {
		pt = native.Point{X: opt.Position.X, Y: opt.Position.Y}
	} else if pt, err = t.backend.CursorPos(); err != nil {
		s.close()
		return resourceError("cursor position", err)
	}

	t.metrics.popups.Inc()
	m.setPoppedUp(owner)
	start := time.Now()
	th.SetForegroundWindow(owner)
	id, err := th.TrackPopupMenu(root, flags, pt, owner)
	m.clearPoppedUp()
	t.metrics.popupDuration.Observe(time.Since(start).Seconds())

	var selected *MenuItem
	var levels []*Menu
	if err == nil && id != 0 {
		if it, ok := t.items.Lookup(uint64(id)); ok {
			selected = it
			levels = s.levelsOf(it)
		}
	}
	s.close()
	if err != nil {
		return resourceError("track popup menu", err)
	}
	if selected != nil {
		t.activate(selected, levels)
	}
	return nil
}

// activate applies a selection. A radio item that ends up checked clears
// the other radio items of every menu in levels.
func (t *Tray) activate(item *MenuItem, levels []*Menu) {
	t.metrics.selections.Inc()
	if item.kind != ItemString && item.kind != ItemCheck {
		return
	}
	item.mu.Lock()
	if item.kind == ItemCheck {
		item.checked = !item.checked
	}
	radioOn := item.kind == ItemCheck && item.radio && item.checked
	cb := item.callback
	item.mu.Unlock()
	if err := t.refreshItem(item); err != nil {
		_ = t.log.Errorf("refresh %v: %v", item, err)
	}

	if radioOn {
		for _, level := range levels {
			for _, sib := range level.Items() {
				if sib == item || sib.kind != ItemCheck || !sib.Radio() {
					continue
				}
				if err := sib.SetChecked(false); err != nil {
					_ = t.log.Errorf("clear radio %v: %v", sib, err)
				}
			}
		}
	}
	if cb != nil {
		t.invoke("menu", func() { cb(item) })
	}
}
