package wintray

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eyasliu/wintray/internal/menutree"
	"github.com/eyasliu/wintray/internal/native"
)

// Menu is an ordered list of items that can be popped up. Items can be
// inserted and removed at any time, including while the menu is shown;
// the shown menu follows each edit.
type Menu struct {
	tray *Tray

	mu    sync.Mutex
	items []*MenuItem
	// bindings are the native instances of this menu in open popups.
	bindings []*binding

	popping  atomic.Bool
	popupMu  sync.Mutex
	poppedUp bool
	owner    native.Handle
	popped   chan struct{}
}

// binding is one native instance of a Menu inside a popup session.
// children holds the native submenu for each position, zero otherwise.
type binding struct {
	session  *popupSession
	handle   native.Handle
	children []native.Handle
	dead     bool
}

// NewMenu returns a menu holding items in order.
func (t *Tray) NewMenu(items ...*MenuItem) (*Menu, error) {
	m := &Menu{tray: t, popped: make(chan struct{})}
	for i, it := range items {
		if err := m.AppendItem(it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return m, nil
}

// Items returns a snapshot of the items.
func (m *Menu) Items() []*MenuItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

func (m *Menu) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// AppendItem adds item at the end.
func (m *Menu) AppendItem(item *MenuItem) error {
	return m.InsertItem(math.MaxInt, item)
}

// InsertItem places item before position index. A negative index counts
// from the end; indexes outside the menu clamp to its start or end.
func (m *Menu) InsertItem(index int, item *MenuItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", ErrArgumentValue)
	}
	if item.tray != m.tray {
		return fmt.Errorf("%w: item belongs to another tray", ErrArgumentValue)
	}
	if item.kind == ItemSubmenu {
		t := m.tray
		t.structureMu.Lock()
		defer t.structureMu.Unlock()
		if item.sub == nil {
			return fmt.Errorf("%w: submenu item has no menu attached", ErrArgumentValue)
		}
		if menutree.Reaches(item.sub, m, submenus) {
			return ErrCycle
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pos := menutree.InsertIndex(index, len(m.items))
	m.items = slices.Insert(m.items, pos, item)
	return m.mirror(func(b *binding) error { return b.insert(pos, item) })
}

// RemoveItem removes the item at index. A negative index counts from the
// end. Unlike InsertItem it fails with ErrIndexOutOfRange instead of
// clamping.
func (m *Menu) RemoveItem(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, err := menutree.RemoveIndex(index, len(m.items))
	if errors.Is(err, menutree.ErrOutOfRange) {
		return fmt.Errorf("%w: %d in menu of %d", ErrIndexOutOfRange, index, len(m.items))
	}
	m.items = slices.Delete(m.items, pos, pos+1)
	return m.mirror(func(b *binding) error { return b.remove(pos) })
}

// mirror applies an edit to every open native instance. An instance that
// fails stops following the menu; the first error is returned.
func (m *Menu) mirror(fn func(b *binding) error) error {
	var first error
	for _, b := range m.bindings {
		if b.dead {
			continue
		}
		if err := fn(b); err != nil {
			b.dead = true
			_ = m.tray.log.Errorf("update popped up menu: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// submenus lists the menus attached to the items of m.
func submenus(m *Menu) []*Menu {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Menu
	for _, it := range m.items {
		if it.kind == ItemSubmenu {
			out = append(out, it.sub)
		}
	}
	return out
}

// insert and remove must be called with the owning menu locked.
func (b *binding) insert(pos int, item *MenuItem) error {
	backend := b.session.tray.backend
	info := item.info()
	if item.kind == ItemSubmenu {
		child, err := b.session.build(item.sub)
		if err != nil {
			return err
		}
		info.SubMenu = child
	}
	if err := backend.InsertMenuItem(b.handle, pos, &info); err != nil {
		return resourceError("insert menu item", err)
	}
	b.children = slices.Insert(b.children, pos, info.SubMenu)
	return nil
}

// remove detaches the entry; a detached native submenu stays owned by the
// session and is destroyed with it.
func (b *binding) remove(pos int) error {
	if err := b.session.tray.backend.RemoveMenuItem(b.handle, pos); err != nil {
		return resourceError("remove menu item", err)
	}
	b.children = slices.Delete(b.children, pos, pos+1)
	return nil
}

// refresh rewrites every entry showing item. The owning menu must be locked.
func (b *binding) refresh(items []*MenuItem, item *MenuItem) error {
	for pos, it := range items {
		if it != item {
			continue
		}
		info := item.info()
		info.SubMenu = b.children[pos]
		if err := b.session.tray.backend.SetMenuItem(b.handle, pos, &info); err != nil {
			return resourceError("set menu item", err)
		}
	}
	return nil
}

// PoppedUp reports whether the menu is currently shown by Popup.
func (m *Menu) PoppedUp() bool {
	m.popupMu.Lock()
	defer m.popupMu.Unlock()
	return m.poppedUp
}

// WaitForPopup blocks until the menu is shown. A negative timeout waits
// forever; otherwise it reports whether the menu was shown in time.
func (m *Menu) WaitForPopup(timeout time.Duration) bool {
	m.popupMu.Lock()
	ch := m.popped
	m.popupMu.Unlock()
	return waitSignal(ch, timeout)
}

// Close dismisses the menu if it is popped up. It can be called from any
// goroutine; Popup returns once the menu has closed.
func (m *Menu) Close() error {
	// Popup clears the flag under popupMu before the owner window goes
	// away, so the window is alive while the lock is held.
	m.popupMu.Lock()
	defer m.popupMu.Unlock()
	if !m.poppedUp {
		return nil
	}
	if err := m.tray.backend.PostMessage(m.owner, closeMessage, 0, 0); err != nil {
		return resourceError("close menu", err)
	}
	return nil
}

func (m *Menu) setPoppedUp(owner native.Handle) {
	m.popupMu.Lock()
	defer m.popupMu.Unlock()
	m.poppedUp = true
	m.owner = owner
	close(m.popped)
}

func (m *Menu) clearPoppedUp() {
	m.popupMu.Lock()
	defer m.popupMu.Unlock()
	m.poppedUp = false
	m.owner = 0
	m.popped = make(chan struct{})
}
