//go:build windows

package remote

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/agent"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procGetWindowLongW      = user32.NewProc("GetWindowLongW")
	procSetWindowLongW      = user32.NewProc("SetWindowLongW")
	procSetParent           = user32.NewProc("SetParent")
	procGetClientRect       = user32.NewProc("GetClientRect")
	procGetWindowRect       = user32.NewProc("GetWindowRect")
	procSetWindowPos        = user32.NewProc("SetWindowPos")
	procShowWindow          = user32.NewProc("ShowWindow")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procPostMessageW        = user32.NewProc("PostMessageW")
)

const (
	gwlStyle   = ^uintptr(15) // -16
	gwlExStyle = ^uintptr(19) // -20

	wsChild            = 0x40000000
	wsCaption          = 0x00C00000
	wsBorder           = 0x00800000
	wsSysMenu          = 0x00080000
	wsThickFrame       = 0x00040000
	wsMinimizeBox      = 0x00020000
	wsMaximizeBox      = 0x00010000
	wsClipSiblings     = 0x04000000
	wsVScroll          = 0x00200000
	wsOverlappedWindow = 0x00CF0000
	wsExAppWindow      = 0x00040000
	wsExLayered        = 0x00080000

	swpNoSize         = 0x0001
	swpNoMove         = 0x0002
	swpNoActivate     = 0x0010
	swpFrameChanged   = 0x0020
	swpShowWindow     = 0x0040
	swHide            = 0
	swShow            = 5
	wmSysCommand      = 0x0112
	scClose           = 0xF060
	hwndTop           = 0
	embeddedStyleMask = wsCaption | wsBorder | wsSysMenu | wsThickFrame | wsMinimizeBox | wsMaximizeBox | wsClipSiblings
)

type rect struct {
	Left, Top, Right, Bottom int32
}

// embedWindow strips the frame from hwnd, makes it a child of parent and
// fills parent's client area with it.
func embedWindow(parent, hwnd uintptr) error {
	style, _, _ := procGetWindowLongW.Call(hwnd, gwlStyle)
	style = style&^embeddedStyleMask | wsChild
	exstyle, _, _ := procGetWindowLongW.Call(hwnd, gwlExStyle)
	exstyle &^= wsExAppWindow | wsExLayered

	procSetWindowLongW.Call(hwnd, gwlStyle, style)
	procSetWindowLongW.Call(hwnd, gwlExStyle, exstyle)
	if r, _, err := procSetParent.Call(hwnd, parent); r == 0 {
		return err
	}

	var rc rect
	procGetClientRect.Call(parent, uintptr(unsafe.Pointer(&rc)))
	procSetWindowPos.Call(hwnd, hwndTop, uintptr(rc.Left), uintptr(rc.Top),
		uintptr(rc.Right-rc.Left), uintptr(rc.Bottom-rc.Top), swpFrameChanged|swpShowWindow)
	return nil
}

func showWindow(hwnd uintptr) {
	procShowWindow.Call(hwnd, swShow)
}

// releaseWindow makes hwnd a top-level window over parent's area,
// brings it forward and tells its console driver to detach.
func releaseWindow(parent, hwnd uintptr) {
	var rc rect
	flags := uintptr(swpFrameChanged | swpShowWindow | swpNoActivate)
	placed := uintptr(0)
	if parent != 0 {
		placed, _, _ = procGetWindowRect.Call(parent, uintptr(unsafe.Pointer(&rc)))
	}
	if placed == 0 {
		flags |= swpNoSize | swpNoMove
	}
	procShowWindow.Call(hwnd, swHide)

	exstyle, _, _ := procGetWindowLongW.Call(hwnd, gwlExStyle)
	procSetParent.Call(hwnd, 0)
	procSetWindowLongW.Call(hwnd, gwlStyle, wsOverlappedWindow|wsClipSiblings|wsVScroll)
	procSetWindowLongW.Call(hwnd, gwlExStyle, exstyle|wsExAppWindow)

	procSetWindowPos.Call(hwnd, hwndTop, uintptr(rc.Left), uintptr(rc.Top),
		uintptr(rc.Right-rc.Left), uintptr(rc.Bottom-rc.Top), flags)
	procSetForegroundWindow.Call(hwnd)
	procPostMessageW.Call(hwnd, uintptr(agent.DetachMessage()), 0, 0)
}

func closeWindow(hwnd uintptr) {
	procPostMessageW.Call(hwnd, wmSysCommand, scClose, 0)
}
