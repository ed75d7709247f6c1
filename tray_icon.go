package wintray

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/eyasliu/wintray/internal/native"
)

// IconOptions configures a new TrayIcon.
type IconOptions struct {
	// Tip is the tooltip; Options.DefaultTip is used when empty.
	Tip string
	// Hidden keeps the icon out of the notification area until Show.
	Hidden bool
}

// TrayIcon is one icon in the notification area. Its methods are safe to
// call from any goroutine. An icon that becomes unreachable is destroyed
// by the garbage collector, unless one of its own callbacks refers to it;
// call Destroy to remove it deterministically.
type TrayIcon struct {
	tray *Tray
	id   uint64
	s    *iconSlot
}

// iconSlot is the state the cleanup needs after the TrayIcon is gone.
type iconSlot struct {
	mu        sync.RWMutex
	handle    *IconHandle
	hidden    bool
	added     bool
	destroyed bool
	tip       string
	callbacks [eventKinds]func(*TrayIcon)
}

// NewIcon creates an icon showing handle. The icon shares the handle with
// the caller, who may Close it right away. When the message loop runs and
// the icon is not hidden it is added to the notification area at once.
func (t *Tray) NewIcon(handle *IconHandle, opt *IconOptions) (*TrayIcon, error) {
	if handle == nil {
		return nil, fmt.Errorf("%w: nil icon handle", ErrArgumentValue)
	}
	if opt == nil {
		opt = &IconOptions{}
	}
	tip := opt.Tip
	if tip == "" {
		tip = t.opt.DefaultTip
	}
	tip = normalizeTip(tip)
	if !handle.st.retain() {
		return nil, fmt.Errorf("%w: icon handle is closed", ErrArgumentValue)
	}

	icon := t.icons.Allocate(func(id uint64) *TrayIcon {
		// The shell keys icons by a 32-bit id.
		if id > math.MaxUint32 {
			return nil
		}
		return &TrayIcon{
			tray: t,
			id:   id,
			s:    &iconSlot{handle: handle, hidden: opt.Hidden, tip: tip},
		}
	})
	if icon == nil {
		_ = handle.st.release()
		return nil, fmt.Errorf("%w: icon ids exhausted", ErrOverflow)
	}

	t.loop.mu.RLock()
	hwnd := t.loop.hwnd
	var err error
	if hwnd != 0 && !opt.Hidden {
		icon.s.mu.Lock()
		if err = t.notifyIcon(native.NIMAdd, hwnd, icon.id, icon.s); err == nil {
			icon.s.added = true
		}
		icon.s.mu.Unlock()
	}
	t.loop.mu.RUnlock()
	if err != nil {
		t.icons.Remove(icon.id)
		_ = handle.st.release()
		return nil, err
	}

	id := icon.id
	runtime.AddCleanup(icon, func(s *iconSlot) { _ = t.destroyIcon(id, s) }, icon.s)
	return icon, nil
}

// notifyIcon must be called with s.mu held.
func (t *Tray) notifyIcon(op native.NotifyOp, hwnd native.Handle, id uint64, s *iconSlot) error {
	data := &native.NotifyIconData{
		Wnd: hwnd,
		ID:  uint32(id),
	}
	switch op {
	case native.NIMAdd:
		data.Flags = native.NIFMessage | native.NIFIcon | native.NIFTip
		data.CallbackMessage = TrayMessage
		data.Icon = s.handle.st.value
		data.Tip = s.tip
	case native.NIMModify:
		data.Flags = native.NIFIcon | native.NIFTip
		data.Icon = s.handle.st.value
		data.Tip = s.tip
	}
	if err := t.backend.NotifyIcon(op, data); err != nil {
		return resourceError("notify icon", err)
	}
	return nil
}

// ID returns the id the shell reports events with.
func (i *TrayIcon) ID() uint64 { return i.id }

// Show adds the icon to the notification area. Without a running message
// loop it only clears the hidden flag, and the icon appears on Start.
func (i *TrayIcon) Show() error {
	return i.update(func(hwnd native.Handle, s *iconSlot) error {
		if hwnd != 0 && !s.added {
			if err := i.tray.notifyIcon(native.NIMAdd, hwnd, i.id, s); err != nil {
				return err
			}
			s.added = true
		}
		s.hidden = false
		return nil
	})
}

// Hide removes the icon from the notification area.
func (i *TrayIcon) Hide() error {
	return i.update(func(hwnd native.Handle, s *iconSlot) error {
		if s.added {
			if err := i.tray.notifyIcon(native.NIMDelete, hwnd, i.id, s); err != nil {
				return err
			}
			s.added = false
		}
		s.hidden = true
		return nil
	})
}

func (i *TrayIcon) Hidden() bool {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.hidden
}

func (i *TrayIcon) Tip() string {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.tip
}

// SetTip changes the tooltip. The text is NFC-normalized and cut to what
// the shell can display.
func (i *TrayIcon) SetTip(tip string) error {
	tip = normalizeTip(tip)
	return i.update(func(hwnd native.Handle, s *iconSlot) error {
		old := s.tip
		s.tip = tip
		if s.added {
			if err := i.tray.notifyIcon(native.NIMModify, hwnd, i.id, s); err != nil {
				s.tip = old
				return err
			}
		}
		return nil
	})
}

// Icon returns the handle currently shown.
func (i *TrayIcon) Icon() *IconHandle {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.handle
}

// UpdateIcon switches to handle and lets go of the previous one, which is
// destroyed if owned and not used elsewhere.
func (i *TrayIcon) UpdateIcon(handle *IconHandle) error {
	if handle == nil {
		return fmt.Errorf("%w: nil icon handle", ErrArgumentValue)
	}
	if !handle.st.retain() {
		return fmt.Errorf("%w: icon handle is closed", ErrArgumentValue)
	}
	var old *IconHandle
	err := i.update(func(hwnd native.Handle, s *iconSlot) error {
		old = s.handle
		s.handle = handle
		if s.added {
			if err := i.tray.notifyIcon(native.NIMModify, hwnd, i.id, s); err != nil {
				s.handle = old
				old = nil
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = handle.st.release()
		return err
	}
	return old.st.release()
}

// OnEvent sets the callback for kind; nil removes it. Callbacks run on the
// message loop goroutine. A callback replaced while the loop is delivering
// an event either sees the old or the new function, never a mix.
func (i *TrayIcon) OnEvent(kind EventKind, cb func(*TrayIcon)) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %v", ErrArgumentValue, kind)
	}
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if i.s.destroyed {
		return ErrDestroyed
	}
	i.s.callbacks[kind] = cb
	return nil
}

func (i *TrayIcon) callback(kind EventKind) func(*TrayIcon) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.callbacks[kind]
}

// Destroy removes the icon from the notification area, lets go of its
// handle and frees its id. Later calls return ErrDestroyed.
func (i *TrayIcon) Destroy() error {
	return i.tray.destroyIcon(i.id, i.s)
}

func (t *Tray) destroyIcon(id uint64, s *iconSlot) error {
	t.loop.mu.RLock()
	hwnd := t.loop.hwnd
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		t.loop.mu.RUnlock()
		return ErrDestroyed
	}
	s.destroyed = true
	var err error
	if s.added {
		err = t.notifyIcon(native.NIMDelete, hwnd, id, s)
		s.added = false
	}
	handle := s.handle
	s.handle = nil
	s.callbacks = [eventKinds]func(*TrayIcon){}
	s.mu.Unlock()
	t.loop.mu.RUnlock()

	t.icons.Remove(id)
	if rerr := handle.st.release(); err == nil {
		err = rerr
	}
	return err
}

// update runs fn with the icon locked and the message window pinned.
func (i *TrayIcon) update(fn func(hwnd native.Handle, s *iconSlot) error) error {
	i.tray.loop.mu.RLock()
	defer i.tray.loop.mu.RUnlock()
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if i.s.destroyed {
		return ErrDestroyed
	}
	return fn(i.tray.loop.hwnd, i.s)
}

// normalizeTip composes the text and cuts it to the shell's tooltip buffer
// without splitting a surrogate pair.
func normalizeTip(tip string) string {
	if n := strings.IndexByte(tip, 0); n >= 0 {
		tip = tip[:n]
	}
	tip = norm.NFC.String(tip)
	units := 0
	for n, r := range tip {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if units+w > native.TipLen-1 {
			return tip[:n]
		}
		units += w
	}
	return tip
}
