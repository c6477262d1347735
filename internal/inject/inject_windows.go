//go:build windows

package inject

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = kernel32.NewProc("GetExitCodeThread")
	procLoadLibraryW       = kernel32.NewProc("LoadLibraryW")
)

// remoteThreadGrace bounds the wait for a remote thread after the
// caller gave up.
const remoteThreadGrace = 5000 // ms

// testHookFreed runs after the remote path buffer is released.
var testHookFreed func(remote uintptr)

func detectStrategy(target *osproc.Process, allowCross bool) (Strategy, error) {
	os64 := is64Bit
	if !os64 {
		var wow bool
		if err := windows.IsWow64Process(windows.CurrentProcess(), &wow); err == nil {
			os64 = wow
		}
	}

	targetWow64 := false
	if os64 {
		wow, err := target.IsWow64()
		if err != nil {
			return StrategyRefuse, fmt.Errorf("failed to query target bitness: %w", err)
		}
		targetWow64 = wow
	}
	return ChooseStrategy(is64Bit, os64, targetWow64, allowCross), nil
}

// loadRemote writes agentPath into the target and runs LoadLibraryW on it
// from a remote thread.
func loadRemote(ctx context.Context, target *osproc.Process, agentPath string) error {
	path, err := windows.UTF16FromString(agentPath)
	if err != nil {
		return err
	}
	size := uintptr(len(path)) * 2
	process := target.Handle()

	remote, _, err := procVirtualAllocEx.Call(uintptr(process), 0, size,
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if remote == 0 {
		return fmt.Errorf("failed to allocate in target: %w", err)
	}
	defer func() {
		procVirtualFreeEx.Call(uintptr(process), remote, 0, windows.MEM_RELEASE)
		if testHookFreed != nil {
			testHookFreed(remote)
		}
	}()

	if err := windows.WriteProcessMemory(process, remote, (*byte)(unsafe.Pointer(&path[0])), size, nil); err != nil {
		return fmt.Errorf("failed to write agent path: %w", err)
	}

	if err := procLoadLibraryW.Find(); err != nil {
		return err
	}
	r, _, err := procCreateRemoteThread.Call(uintptr(process), 0, 0, procLoadLibraryW.Addr(), remote, 0, 0)
	if r == 0 {
		return fmt.Errorf("failed to start remote thread: %w", err)
	}
	thread := windows.Handle(r)
	defer windows.CloseHandle(thread)

	cancel, release, err := osproc.CancelEvent(ctx)
	if err != nil {
		return err
	}
	defer release()

	which, err := windows.WaitForMultipleObjects([]windows.Handle{thread, cancel, process}, false, windows.INFINITE)
	switch {
	case err != nil:
		return err
	case which == windows.WAIT_OBJECT_0+1:
		// The remote thread may still read the path; give it a bounded
		// chance to finish before the buffer goes away.
		windows.WaitForMultipleObjects([]windows.Handle{thread, process}, false, remoteThreadGrace)
		return context.Cause(ctx)
	case which == windows.WAIT_OBJECT_0+2:
		return fmt.Errorf("%w: target exited", ErrRemoteLoadFailed)
	}

	// The exit code is the low half of the module handle.
	var module uint32
	if r, _, err := procGetExitCodeThread.Call(uintptr(thread), uintptr(unsafe.Pointer(&module))); r == 0 {
		return fmt.Errorf("failed to read remote thread result: %w", err)
	}
	if module == 0 {
		return ErrRemoteLoadFailed
	}
	return nil
}

// runHelper starts the opposite-bitness helper suspended, hands it an
// inheritable handle to target, and waits for its verdict.
func runHelper(ctx context.Context, target *osproc.Process, helperPath string) error {
	inherited, err := target.InheritableHandle()
	if err != nil {
		return err
	}
	defer windows.CloseHandle(inherited)

	// Only the target handle is inherited.
	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return err
	}
	defer attrs.Delete()
	if err := attrs.Update(windows.PROC_THREAD_ATTRIBUTE_HANDLE_LIST,
		unsafe.Pointer(&inherited), unsafe.Sizeof(inherited)); err != nil {
		return err
	}

	si := &windows.StartupInfoEx{ProcThreadAttributeList: attrs.List()}
	si.Cb = uint32(unsafe.Sizeof(*si))

	cmdline, err := windows.UTF16PtrFromString(HelperCommandLine(helperPath, target.PID(), uintptr(inherited)))
	if err != nil {
		return err
	}

	var pi windows.ProcessInformation
	flags := uint32(windows.CREATE_SUSPENDED | windows.CREATE_UNICODE_ENVIRONMENT | windows.EXTENDED_STARTUPINFO_PRESENT)
	if err := windows.CreateProcess(nil, cmdline, nil, nil, true, flags, nil, nil, &si.StartupInfo, &pi); err != nil {
		return fmt.Errorf("failed to start helper %s: %w", helperPath, err)
	}

	helper, err := osproc.FromHandle(pi.Process, pi.Thread)
	if err != nil {
		return err
	}
	defer helper.Close()

	if err := helper.Resume(); err != nil {
		helper.Terminate(1)
		return err
	}
	if err := helper.Wait(ctx); err != nil {
		helper.Terminate(1)
		return err
	}

	code, err := helper.ExitCode()
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: exit code %d", ErrHelperFailed, code)
	}
	return nil
}
