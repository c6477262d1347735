//go:build windows

package agent

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	user32   = windows.NewLazySystemDLL("user32.dll")

	procGetConsoleWindow             = kernel32.NewProc("GetConsoleWindow")
	procSetConsoleTitleW             = kernel32.NewProc("SetConsoleTitleW")
	procGetConsoleAliasExesLengthW   = kernel32.NewProc("GetConsoleAliasExesLengthW")
	procGetConsoleAliasExesW         = kernel32.NewProc("GetConsoleAliasExesW")
	procGetConsoleAliasesLengthW     = kernel32.NewProc("GetConsoleAliasesLengthW")
	procGetConsoleAliasesW           = kernel32.NewProc("GetConsoleAliasesW")
	procAddConsoleAliasW             = kernel32.NewProc("AddConsoleAliasW")
	procGetConsoleScreenBufferInfoEx = kernel32.NewProc("GetConsoleScreenBufferInfoEx")
	procSetConsoleScreenBufferInfoEx = kernel32.NewProc("SetConsoleScreenBufferInfoEx")
	procGetWindowTextW               = user32.NewProc("GetWindowTextW")
	procGetParent                    = user32.NewProc("GetParent")
	procIsWindowVisible              = user32.NewProc("IsWindowVisible")
	procGetWindowRect                = user32.NewProc("GetWindowRect")
	procGetClientRect                = user32.NewProc("GetClientRect")
	procSetWindowPos                 = user32.NewProc("SetWindowPos")
	procGetDpiForWindow              = user32.NewProc("GetDpiForWindow")
	procSendMessageW                 = user32.NewProc("SendMessageW")
)

const (
	wmDpiChanged = 0x02E0

	swpNoZOrder      = 0x0004
	swpNoActivate    = 0x0010
	swpNoCopyBits    = 0x0100
	swpNoOwnerZOrder = 0x0200

	maxTitle = 1024
)

// consoleScreenBufferInfoEx is CONSOLE_SCREEN_BUFFER_INFOEX.
type consoleScreenBufferInfoEx struct {
	Size                uint32
	BufferSize          windows.Coord
	CursorPosition      windows.Coord
	Attributes          uint16
	Window              windows.SmallRect
	MaximumWindowSize   windows.Coord
	PopupAttributes     uint16
	FullscreenSupported int32
	ColorTable          [16]uint32
}

type rect struct {
	Left, Top, Right, Bottom int32
}

// systemConsole is the console of the current process.
type systemConsole struct{}

// SystemConsole returns the console of the current process.
func SystemConsole() Console { return systemConsole{} }

func (systemConsole) Window() uintptr {
	hwnd, _, _ := procGetConsoleWindow.Call()
	return hwnd
}

func (c systemConsole) Title() string {
	hwnd := c.Window()
	if hwnd == 0 {
		return ""
	}
	buf := make([]uint16, maxTitle)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

func (systemConsole) SetTitle(title string) error {
	p, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return err
	}
	if r, _, err := procSetConsoleTitleW.Call(uintptr(unsafe.Pointer(p))); r == 0 {
		return err
	}
	return nil
}

func (systemConsole) Directory() (string, error) { return os.Getwd() }

func (systemConsole) SetDirectory(dir string) error { return os.Chdir(dir) }

// EnvironmentBlock reads the live block; os.Environ queries the OS on
// every call on Windows.
func (systemConsole) EnvironmentBlock() string {
	env := os.Environ()
	if len(env) == 0 {
		return ""
	}
	return strings.Join(env, "\x00") + "\x00\x00"
}

func (systemConsole) Setenv(name, value string) error { return os.Setenv(name, value) }

func (systemConsole) Executable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}

func (systemConsole) Aliases() map[string]map[string]string {
	out := make(map[string]map[string]string)

	// The reported length is in bytes but undercounts; leave headroom.
	n, _, _ := procGetConsoleAliasExesLengthW.Call()
	exes := make([]uint16, n*2+2)
	if r, _, _ := procGetConsoleAliasExesW.Call(uintptr(unsafe.Pointer(&exes[0])), uintptr(len(exes)*2)); r == 0 {
		return out
	}

	for _, exe := range splitMulti(exes) {
		exePtr, err := windows.UTF16PtrFromString(exe)
		if err != nil {
			continue
		}
		size, _, _ := procGetConsoleAliasesLengthW.Call(uintptr(unsafe.Pointer(exePtr)))
		buf := make([]uint16, size/2+2)
		if r, _, _ := procGetConsoleAliasesW.Call(uintptr(unsafe.Pointer(&buf[0])), size, uintptr(unsafe.Pointer(exePtr))); r == 0 {
			continue
		}
		defs := make(map[string]string)
		for _, entry := range splitMulti(buf) {
			if name, target, ok := strings.Cut(entry, "="); ok && name != "" {
				defs[name] = target
			}
		}
		out[exe] = defs
	}
	return out
}

// splitMulti splits a NUL separated, double-NUL terminated list.
func splitMulti(buf []uint16) []string {
	var out []string
	for start := 0; start < len(buf) && buf[start] != 0; {
		end := start
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		out = append(out, windows.UTF16ToString(buf[start:end]))
		start = end + 1
	}
	return out
}

func (systemConsole) AddAlias(exe, name, target string) error {
	n, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	t, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return err
	}
	e, err := windows.UTF16PtrFromString(exe)
	if err != nil {
		return err
	}
	if r, _, err := procAddConsoleAliasW.Call(uintptr(unsafe.Pointer(n)), uintptr(unsafe.Pointer(t)), uintptr(unsafe.Pointer(e))); r == 0 {
		return err
	}
	return nil
}

func screenBuffer() (windows.Handle, *consoleScreenBufferInfoEx, error) {
	h, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return 0, nil, err
	}
	info := &consoleScreenBufferInfoEx{}
	info.Size = uint32(unsafe.Sizeof(*info))
	if r, _, err := procGetConsoleScreenBufferInfoEx.Call(uintptr(h), uintptr(unsafe.Pointer(info))); r == 0 {
		return 0, nil, err
	}
	return h, info, nil
}

func (systemConsole) Palette() (Palette, bool) {
	_, info, err := screenBuffer()
	if err != nil {
		return Palette{}, false
	}
	return Palette{Attributes: info.Attributes, Colors: info.ColorTable}, true
}

func (systemConsole) SetPalette(p Palette) error {
	h, info, err := screenBuffer()
	if err != nil {
		return err
	}
	info.Attributes = p.Attributes
	info.ColorTable = p.Colors
	// The window rectangle is read exclusive but written inclusive.
	info.Window.Right++
	info.Window.Bottom++
	if r, _, err := procSetConsoleScreenBufferInfoEx.Call(uintptr(h), uintptr(unsafe.Pointer(info))); r == 0 {
		return fmt.Errorf("failed to set screen buffer info: %w", err)
	}
	return nil
}

func (c systemConsole) FitToParent(visibleOnly bool) {
	hwnd := c.Window()
	if hwnd == 0 {
		return
	}
	if visibleOnly {
		if v, _, _ := procIsWindowVisible.Call(hwnd); v == 0 {
			return
		}
	}
	parent, _, _ := procGetParent.Call(hwnd)
	if parent == 0 {
		return
	}
	var want, have rect
	if r, _, _ := procGetWindowRect.Call(parent, uintptr(unsafe.Pointer(&want))); r == 0 {
		return
	}
	if r, _, _ := procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&have))); r == 0 {
		return
	}
	if want == have {
		return
	}
	procSetWindowPos.Call(hwnd, 0, 0, 0,
		uintptr(want.Right-want.Left), uintptr(want.Bottom-want.Top),
		swpNoZOrder|swpNoOwnerZOrder|swpNoActivate|swpNoCopyBits)
}

func (c systemConsole) DpiChanged() {
	hwnd := c.Window()
	if hwnd == 0 {
		return
	}
	parent, _, _ := procGetParent.Call(hwnd)
	if parent == 0 {
		return
	}
	var client rect
	if r, _, _ := procGetClientRect.Call(parent, uintptr(unsafe.Pointer(&client))); r == 0 {
		return
	}
	dpi, _, _ := procGetDpiForWindow.Call(hwnd)
	procSendMessageW.Call(hwnd, wmDpiChanged, dpi|dpi<<16, uintptr(unsafe.Pointer(&client)))
	c.FitToParent(true)
}

func (systemConsole) Terminate() {
	windows.TerminateProcess(windows.CurrentProcess(), 0)
}
