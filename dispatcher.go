package wintray

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eyasliu/wintray/internal/native"
)

const (
	// TrayMessage is the window message the shell sends for icon events.
	// wParam carries the icon id and the low word of lParam the mouse
	// message.
	TrayMessage = native.WMUser + 20

	// MessageWindowClass is the class of the hidden window that receives
	// TrayMessage while the loop runs.
	MessageWindowClass = "WinTrayWindowClass"
)

type loopState int32

const (
	stateIdle loopState = iota
	stateStarting
	stateRunning
	stateStopping
)

type dispatcher struct {
	state         atomic.Int32
	stopRequested atomic.Bool

	// mu guards hwnd and ready. Icon operations hold it for reading while
	// they talk to the shell, so the window cannot go away underneath them.
	mu    sync.RWMutex
	hwnd  native.Handle
	ready chan struct{}
}

func (d *dispatcher) init() {
	d.ready = make(chan struct{})
}

func (d *dispatcher) load() loopState {
	return loopState(d.state.Load())
}

// Start runs the message loop on the calling goroutine and blocks until
// Stop is called. Only one loop can run per Tray; other callers get
// ErrBusy. Icons that are not hidden are added to the notification area
// before the loop reports ready.
func (t *Tray) Start() error {
	d := &t.loop
	if !d.state.CompareAndSwap(int32(stateIdle), int32(stateStarting)) {
		return ErrBusy
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	th, err := t.backend.AttachThread()
	if err != nil {
		d.reset()
		return resourceError("attach thread", err)
	}
	defer th.Release()

	pumping := false
	hwnd, err := th.CreateWindow(MessageWindowClass, func(hwnd native.Handle, msg uint32, wparam, lparam uintptr) (uintptr, bool) {
		switch msg {
		case TrayMessage:
			t.notify(uint64(wparam), uint32(lparam&0xffff))
			return 0, true
		case native.WMClose:
			// The shell needs the window to delete icons.
			t.teardown()
			if err := th.DestroyWindow(hwnd); err != nil {
				_ = t.log.Errorf("destroy message window: %v", err)
			}
			return 0, true
		case native.WMDestroy:
			if pumping {
				th.PostQuitMessage(0)
			}
			return 0, true
		}
		return 0, false
	})
	if err != nil {
		d.reset()
		return resourceError("create message window", err)
	}

	d.mu.Lock()
	d.hwnd = hwnd
	err = t.addVisibleIcons(hwnd)
	ready := d.ready
	d.mu.Unlock()
	if err != nil {
		t.teardown()
		_ = th.DestroyWindow(hwnd)
		d.reset()
		return err
	}

	close(ready)
	d.state.Store(int32(stateRunning))
	if d.stopRequested.Swap(false) {
		t.Stop()
	}
	t.log.Debugf("message loop started, window %#x", uintptr(hwnd))

	pumping = true
	err = t.pump(th)
	pumping = false

	t.teardown()
	d.reset()
	t.log.Debugf("message loop stopped")
	return err
}

func (t *Tray) pump(th native.Thread) error {
	for {
		msg, ok, err := th.GetMessage()
		if err != nil {
			return resourceError("get message", err)
		}
		if !ok {
			return nil
		}
		th.DispatchMessage(&msg)
	}
}

// addVisibleIcons must be called with t.loop.mu held.
func (t *Tray) addVisibleIcons(hwnd native.Handle) error {
	var err error
	t.icons.Range(func(_ uint64, icon *TrayIcon) bool {
		s := icon.s
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed || s.hidden || s.added {
			return true
		}
		if err = t.notifyIcon(native.NIMAdd, hwnd, icon.id, s); err != nil {
			return false
		}
		s.added = true
		return true
	})
	return err
}

// teardown removes every icon from the notification area and forgets the
// message window.
func (t *Tray) teardown() {
	d := &t.loop
	d.mu.Lock()
	defer d.mu.Unlock()
	hwnd := d.hwnd
	t.icons.Range(func(_ uint64, icon *TrayIcon) bool {
		s := icon.s
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.added {
			if err := t.notifyIcon(native.NIMDelete, hwnd, icon.id, s); err != nil {
				_ = t.log.Errorf("remove icon %d: %v", icon.id, err)
			}
			s.added = false
		}
		return true
	})
	d.hwnd = 0
	select {
	case <-d.ready:
		d.ready = make(chan struct{})
	default:
	}
}

func (d *dispatcher) reset() {
	d.stopRequested.Store(false)
	d.state.Store(int32(stateIdle))
}

// notify delivers one icon event. Unknown icons, unmapped messages and
// events without a callback are dropped.
func (t *Tray) notify(id uint64, mouseMsg uint32) {
	kind, ok := eventFromMessage(mouseMsg)
	if !ok {
		t.metrics.unhandled.Inc()
		return
	}
	icon, ok := t.icons.Lookup(id)
	if !ok {
		t.metrics.unhandled.Inc()
		return
	}
	cb := icon.callback(kind)
	if cb == nil {
		t.metrics.unhandled.Inc()
		return
	}
	t.metrics.notifications.WithLabelValues(kind.String()).Inc()
	t.invoke("icon", func() { cb(icon) })
}

// Stop asks the running loop to exit. It does not wait for Start to
// return. Calling Stop when nothing runs does nothing.
func (t *Tray) Stop() {
	d := &t.loop
	for {
		switch d.load() {
		case stateRunning:
			if !d.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
				continue
			}
			d.mu.RLock()
			hwnd := d.hwnd
			d.mu.RUnlock()
			if err := t.backend.PostMessage(hwnd, native.WMClose, 0, 0); err != nil {
				_ = t.log.Errorf("post close to message window: %v", err)
			}
			return
		case stateStarting:
			d.stopRequested.Store(true)
			if d.load() == stateStarting {
				return
			}
			// Start moved on meanwhile; whoever clears the flag first
			// delivers the stop.
			if !d.stopRequested.Swap(false) {
				return
			}
		default:
			return
		}
	}
}

// WaitForReady blocks until the loop has created its window and added the
// visible icons. A negative timeout waits forever; otherwise it reports
// whether the loop became ready in time.
func (t *Tray) WaitForReady(timeout time.Duration) bool {
	t.loop.mu.RLock()
	ready := t.loop.ready
	t.loop.mu.RUnlock()
	return waitSignal(ready, timeout)
}

// Running reports whether the loop is pumping messages.
func (t *Tray) Running() bool {
	return t.loop.load() == stateRunning
}

// MessageWindow returns the hidden window of the running loop, or zero.
func (t *Tray) MessageWindow() uintptr {
	t.loop.mu.RLock()
	defer t.loop.mu.RUnlock()
	return uintptr(t.loop.hwnd)
}

func waitSignal(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	default:
	}
	switch {
	case timeout < 0:
		<-ch
		return true
	case timeout == 0:
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
