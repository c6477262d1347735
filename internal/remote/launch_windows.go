//go:build windows

package remote

import (
	"context"
	"fmt"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

// SystemLauncher creates processes with CreateProcess.
type SystemLauncher struct{}

// Launch starts spec suspended in a new, hidden console. The returned
// process owns both the process and main thread handles.
func (SystemLauncher) Launch(_ context.Context, spec LaunchSpec) (*osproc.Process, error) {
	cmdLine, err := windows.UTF16PtrFromString(spec.CommandLine())
	if err != nil {
		return nil, err
	}

	var env *uint16
	if block := spec.EnvironmentBlock(); block != "" {
		// The block has embedded NULs, which UTF16FromString rejects.
		u := utf16.Encode([]rune(block))
		env = &u[0]
	}

	var dir *uint16
	if d := spec.StartDirectory(); d != "" {
		if dir, err = windows.UTF16PtrFromString(d); err != nil {
			return nil, err
		}
	}

	si := &windows.StartupInfo{
		Flags:      windows.STARTF_USESHOWWINDOW,
		ShowWindow: windows.SW_HIDE,
	}
	si.Cb = uint32(unsafe.Sizeof(*si))
	sa := &windows.SecurityAttributes{InheritHandle: 1}
	sa.Length = uint32(unsafe.Sizeof(*sa))

	var pi windows.ProcessInformation
	flags := uint32(windows.CREATE_NEW_CONSOLE | windows.CREATE_SUSPENDED | windows.CREATE_UNICODE_ENVIRONMENT)
	if err := windows.CreateProcess(nil, cmdLine, sa, nil, false, flags, env, dir, si, &pi); err != nil {
		return nil, fmt.Errorf("failed to create process %q: %w", spec.Executable, err)
	}
	return osproc.FromHandle(pi.Process, pi.Thread)
}

// DefaultLauncher is the platform launcher.
func DefaultLauncher() Launcher { return SystemLauncher{} }

func driveExists(letter byte) bool {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return false
	}
	return mask&(1<<(letter-'a')) != 0
}
