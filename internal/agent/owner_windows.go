//go:build windows

package agent

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

var (
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
)

// EnumWindows takes one callback for the life of the process, so the
// collector it appends to is shared and guarded.
var (
	enumMu   sync.Mutex
	enumPIDs []uint32

	enumProc = sync.OnceValue(func() uintptr {
		return syscall.NewCallback(func(hwnd, _ uintptr) uintptr {
			var pid uint32
			procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
			if pid != 0 {
				enumPIDs = append(enumPIDs, pid)
			}
			return 1
		})
	})
)

// desktopOwners lists owner candidates: processes with a top-level
// window whose image matches names come first, in window Z order, then
// every other process with a matching image. A console-only owner has no
// window of its own.
func desktopOwners(names []string) OwnerLocator {
	return mergeOwners(windowOwners(names), processOwners(names))
}

// windowOwners lists the processes with a top-level window on the
// desktop whose image matches names, in window Z order.
func windowOwners(names []string) OwnerLocator {
	return func() ([]uint32, error) {
		enumMu.Lock()
		enumPIDs = enumPIDs[:0]
		r, _, err := procEnumWindows.Call(enumProc(), 0)
		pids := append([]uint32(nil), enumPIDs...)
		enumMu.Unlock()
		if r == 0 {
			return nil, fmt.Errorf("failed to enumerate windows: %w", err)
		}

		var out []uint32
		for _, pid := range pids {
			path, err := osproc.ImagePath(pid)
			if err != nil || !osproc.HasImageSuffix(path, names) {
				continue
			}
			out = append(out, pid)
		}
		return out, nil
	}
}
