package wintray

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eyasliu/wintray/internal/native"
)

// ItemKind is the variant of a MenuItem.
type ItemKind int

const (
	ItemSeparator ItemKind = iota
	ItemString
	ItemCheck
	ItemSubmenu
)

func (k ItemKind) String() string {
	switch k {
	case ItemSeparator:
		return "separator"
	case ItemString:
		return "string"
	case ItemCheck:
		return "check"
	case ItemSubmenu:
		return "submenu"
	}
	return fmt.Sprintf("ItemKind(%d)", int(k))
}

// MenuItem is an entry of a Menu. Items are created by the factory methods
// on Tray and may be placed in several menus. Setters take effect on menus
// that are popped up.
type MenuItem struct {
	tray *Tray
	id   uint64
	kind ItemKind

	mu       sync.RWMutex
	label    string
	enabled  bool
	checked  bool
	radio    bool
	callback func(*MenuItem)

	// sub is set once by SubmenuBuilder.Attach, under tray.structureMu.
	sub *Menu
}

func (t *Tray) newItem(kind ItemKind, label string) *MenuItem {
	if kind == ItemSeparator {
		return &MenuItem{tray: t, kind: kind}
	}
	it := t.items.Allocate(func(id uint64) *MenuItem {
		return &MenuItem{tray: t, id: id, kind: kind, label: label, enabled: true}
	})
	runtime.AddCleanup(it, func(id uint64) { t.items.Remove(id) }, it.id)
	return it
}

// SeparatorItem returns a separator line.
func (t *Tray) SeparatorItem() *MenuItem {
	return t.newItem(ItemSeparator, "")
}

// StringItem returns a plain item. cb may be nil.
func (t *Tray) StringItem(label string, cb func(*MenuItem)) *MenuItem {
	it := t.newItem(ItemString, label)
	it.callback = cb
	return it
}

// CheckItem returns an item with a check mark that toggles when selected.
// Selecting a radio item also clears the other radio items of its menu.
func (t *Tray) CheckItem(label string, checked, radio bool, cb func(*MenuItem)) *MenuItem {
	it := t.newItem(ItemCheck, label)
	it.checked = checked
	it.radio = radio
	it.callback = cb
	return it
}

// SubmenuBuilder completes a submenu item. The item cannot be placed in a
// menu before Attach.
type SubmenuBuilder struct {
	item *MenuItem
	used atomic.Bool
}

// SubmenuItem starts a submenu item labelled label.
func (t *Tray) SubmenuItem(label string) *SubmenuBuilder {
	return &SubmenuBuilder{item: t.newItem(ItemSubmenu, label)}
}

// Item returns the item, attached or not.
func (b *SubmenuBuilder) Item() *MenuItem { return b.item }

// Attach sets the menu shown by the item. It can be called once.
func (b *SubmenuBuilder) Attach(m *Menu) (*MenuItem, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil menu", ErrArgumentValue)
	}
	if m.tray != b.item.tray {
		return nil, fmt.Errorf("%w: menu belongs to another tray", ErrArgumentValue)
	}
	if !b.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: submenu already attached", ErrStateConflict)
	}
	t := b.item.tray
	t.structureMu.Lock()
	b.item.sub = m
	t.structureMu.Unlock()
	return b.item, nil
}

// ID returns the command id of the item, zero for separators. Native menus
// carry only the low 32 bits, so a Tray supports 2^32-1 items over its
// lifetime.
func (it *MenuItem) ID() uint64 { return it.id }

func (it *MenuItem) Kind() ItemKind { return it.kind }

func (it *MenuItem) Label() string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.label
}

func (it *MenuItem) Enabled() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.enabled
}

func (it *MenuItem) Checked() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.checked
}

func (it *MenuItem) Radio() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.radio
}

// Submenu returns the attached menu, or nil.
func (it *MenuItem) Submenu() *Menu {
	if it.kind != ItemSubmenu {
		return nil
	}
	it.tray.structureMu.Lock()
	defer it.tray.structureMu.Unlock()
	return it.sub
}

func (it *MenuItem) String() string {
	if it.kind == ItemSeparator {
		return "MenuItem(separator)"
	}
	return fmt.Sprintf("MenuItem(%s %d %q)", it.kind, it.id, it.Label())
}

func (it *MenuItem) SetLabel(label string) error {
	if it.kind == ItemSeparator {
		return fmt.Errorf("%w: separator has no label", ErrArgumentType)
	}
	return it.set(func() { it.label = label })
}

func (it *MenuItem) SetEnabled(enabled bool) error {
	if it.kind == ItemSeparator {
		return fmt.Errorf("%w: separator cannot be disabled", ErrArgumentType)
	}
	return it.set(func() { it.enabled = enabled })
}

func (it *MenuItem) SetChecked(checked bool) error {
	if it.kind != ItemCheck {
		return fmt.Errorf("%w: %s item has no check mark", ErrArgumentType, it.kind)
	}
	return it.set(func() { it.checked = checked })
}

func (it *MenuItem) SetRadio(radio bool) error {
	if it.kind != ItemCheck {
		return fmt.Errorf("%w: %s item has no check mark", ErrArgumentType, it.kind)
	}
	return it.set(func() { it.radio = radio })
}

// SetCallback replaces the function run when the item is selected.
func (it *MenuItem) SetCallback(cb func(*MenuItem)) error {
	if it.kind != ItemString && it.kind != ItemCheck {
		return fmt.Errorf("%w: %s item has no callback", ErrArgumentType, it.kind)
	}
	it.mu.Lock()
	it.callback = cb
	it.mu.Unlock()
	return nil
}

func (it *MenuItem) set(fn func()) error {
	it.mu.Lock()
	fn()
	it.mu.Unlock()
	return it.tray.refreshItem(it)
}

// info describes the item for the shell; SubMenu is filled by the caller.
func (it *MenuItem) info() native.MenuItemInfo {
	if it.kind == ItemSeparator {
		return native.MenuItemInfo{Type: native.MFTSeparator}
	}
	it.mu.RLock()
	defer it.mu.RUnlock()
	info := native.MenuItemInfo{
		ID:    uint32(it.id),
		Type:  native.MFTString,
		State: native.MFSEnabled,
		Label: it.label,
	}
	if !it.enabled {
		info.State |= native.MFSDisabled
	}
	if it.kind == ItemCheck {
		if it.radio {
			info.Type |= native.MFTRadioCheck
		}
		if it.checked {
			info.State |= native.MFSChecked
		}
	}
	return info
}
