//go:build windows

package agent

import (
	"errors"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procSetWindowLongPtrW     = user32.NewProc("SetWindowLongPtrW")
	procCallWindowProcW       = user32.NewProc("CallWindowProcW")
	procDefWindowProcW        = user32.NewProc("DefWindowProcW")
	procPostMessageW          = user32.NewProc("PostMessageW")
	procGetKeyState           = user32.NewProc("GetKeyState")
	procSetForegroundWindow   = user32.NewProc("SetForegroundWindow")
	procRegisterWindowMessage = user32.NewProc("RegisterWindowMessageW")
)

// gwlpWndProc is GWLP_WNDPROC.
const gwlpWndProc = ^uintptr(3) // -4

// DetachMessageName names the registered window message that asks an
// embedded console to detach.
const DetachMessageName = "tabcon.Detach"

// ErrNoParent is returned when the console window is not embedded.
var ErrNoParent = errors.New("console window has no parent")

// DetachMessage returns the registered detach message id.
var DetachMessage = sync.OnceValue(func() uint32 {
	name, _ := windows.UTF16PtrFromString(DetachMessageName)
	id, _, _ := procRegisterWindowMessage.Call(uintptr(unsafe.Pointer(name)))
	return uint32(id)
})

// subclass is one filtered window.
type subclass struct {
	hwnd     uintptr
	parent   uintptr
	previous uintptr
	onDetach func()
}

// The OS calls one window procedure for every filtered window, so the
// per-window state is found by handle.
var (
	subclassMu sync.RWMutex
	subclasses = map[uintptr]*subclass{}

	filterProc = sync.OnceValue(func() uintptr {
		return syscall.NewCallback(filteredWindowProc)
	})
)

func filteredWindowProc(hwnd, msg, wp, lp uintptr) uintptr {
	subclassMu.RLock()
	s := subclasses[hwnd]
	subclassMu.RUnlock()
	if s == nil {
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wp, lp)
		return r
	}

	if uint32(msg) == DetachMessage() {
		s.onDetach()
		procSetForegroundWindow.Call(hwnd)
	} else {
		state, _, _ := procGetKeyState.Call(vkControl)
		route, out := RouteKey(KeyEvent{Msg: uint32(msg), WParam: wp, LParam: lp}, int16(state) < 0)
		if route != RouteHere {
			procPostMessageW.Call(s.parent, uintptr(out.Msg), out.WParam, out.LParam)
			if route == RouteParent {
				return 0
			}
		}
	}

	r, _, _ := procCallWindowProcW.Call(s.previous, hwnd, msg, wp, lp)
	return r
}

// windowFilter subclasses the console window of the console driver.
type windowFilter struct {
	mu sync.Mutex
	s  *subclass
}

// NewWindowFilter returns the console driver's WindowFilter.
func NewWindowFilter() WindowFilter { return &windowFilter{} }

func (f *windowFilter) Install(hwnd uintptr, onDetach func()) error {
	parent, _, _ := procGetParent.Call(hwnd)
	if parent == 0 {
		return ErrNoParent
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s != nil {
		return nil
	}

	s := &subclass{hwnd: hwnd, parent: parent, onDetach: onDetach}
	subclassMu.Lock()
	subclasses[hwnd] = s
	subclassMu.Unlock()

	prev, _, err := procSetWindowLongPtrW.Call(hwnd, gwlpWndProc, filterProc())
	if prev == 0 {
		subclassMu.Lock()
		delete(subclasses, hwnd)
		subclassMu.Unlock()
		return err
	}
	subclassMu.Lock()
	s.previous = prev
	subclassMu.Unlock()
	f.s = s
	return nil
}

func (f *windowFilter) Uninstall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s == nil {
		return
	}
	procSetWindowLongPtrW.Call(f.s.hwnd, gwlpWndProc, f.s.previous)
	subclassMu.Lock()
	delete(subclasses, f.s.hwnd)
	subclassMu.Unlock()
	f.s = nil
}
