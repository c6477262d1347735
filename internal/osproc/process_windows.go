//go:build windows

package osproc

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Process is an owned process handle, optionally paired with the handle
// of a main thread that was created suspended.
type Process struct {
	pid    uint32
	handle windows.Handle

	mu     sync.Mutex
	thread windows.Handle
	closed bool

	watchOnce sync.Once
	done      chan struct{}
	stop      windows.Handle
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Current returns a real (non-pseudo) handle to the calling process.
func Current() (*Process, error) {
	var h windows.Handle
	cur := windows.CurrentProcess()
	if err := windows.DuplicateHandle(cur, cur, cur, &h, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return nil, fmt.Errorf("failed to duplicate current process handle: %w", err)
	}
	return FromHandle(h, 0)
}

// Open opens pid with full access.
func Open(pid uint32) (*Process, error) {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return FromHandle(h, 0)
}

// FromHandle takes ownership of a process handle and, when non-zero, a
// suspended main thread handle.
func FromHandle(h, thread windows.Handle) (*Process, error) {
	pid, err := windows.GetProcessId(h)
	if err != nil {
		windows.CloseHandle(h)
		if thread != 0 {
			windows.CloseHandle(thread)
		}
		return nil, fmt.Errorf("failed to query process id: %w", err)
	}
	return &Process{
		pid:    pid,
		handle: h,
		thread: thread,
		done:   make(chan struct{}),
	}, nil
}

// PID returns the process id.
func (p *Process) PID() uint32 { return p.pid }

// Handle returns the underlying handle. It stays valid until Close.
func (p *Process) Handle() windows.Handle { return p.handle }

// Done returns a channel closed when the process exits. It is never
// closed for a Process that is closed before the process exits.
func (p *Process) Done() <-chan struct{} {
	p.watchOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		stop, err := windows.CreateEvent(nil, 1, 0, nil)
		if err != nil {
			return
		}
		p.stop = stop
		p.wg.Add(1)
		go p.watch()
	})
	return p.done
}

func (p *Process) watch() {
	defer p.wg.Done()
	handles := []windows.Handle{p.handle, p.stop}
	ev, err := windows.WaitForMultipleObjects(handles, false, windows.INFINITE)
	if err == nil && ev == windows.WAIT_OBJECT_0 {
		close(p.done)
	}
}

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	ev, err := windows.WaitForSingleObject(p.handle, 0)
	return err == nil && ev == windows.WAIT_OBJECT_0
}

// ExitCode returns the exit status. A running process reports 259
// (STILL_ACTIVE).
func (p *Process) ExitCode() (uint32, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(p.handle, &code); err != nil {
		return 0, err
	}
	return code, nil
}

// Terminate kills the process with the given exit code.
func (p *Process) Terminate(code uint32) error {
	return windows.TerminateProcess(p.handle, code)
}

// Resume resumes the main thread if the process was created suspended.
// Later calls do nothing.
func (p *Process) Resume() error {
	p.mu.Lock()
	thread := p.thread
	p.thread = 0
	p.mu.Unlock()

	if thread == 0 {
		return nil
	}
	defer windows.CloseHandle(thread)
	if _, err := windows.ResumeThread(thread); err != nil {
		return fmt.Errorf("failed to resume main thread: %w", err)
	}
	return nil
}

// Suspended reports whether a main thread is still waiting for Resume.
func (p *Process) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thread != 0
}

// Duplicate returns an independent owner of the same process.
func (p *Process) Duplicate() (*Process, error) {
	h, err := p.duplicate(false)
	if err != nil {
		return nil, err
	}
	return FromHandle(h, 0)
}

// InheritableHandle returns a new inheritable handle to the process for
// passing to a child. The caller closes it.
func (p *Process) InheritableHandle() (windows.Handle, error) {
	return p.duplicate(true)
}

func (p *Process) duplicate(inherit bool) (windows.Handle, error) {
	var h windows.Handle
	cur := windows.CurrentProcess()
	if err := windows.DuplicateHandle(cur, p.handle, cur, &h, 0, inherit, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return 0, fmt.Errorf("failed to duplicate process handle: %w", err)
	}
	return h, nil
}

// Close releases the handles. It is idempotent.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		thread := p.thread
		p.thread = 0
		p.mu.Unlock()

		if p.stop != 0 {
			windows.SetEvent(p.stop)
			p.wg.Wait()
			windows.CloseHandle(p.stop)
		}
		if thread != 0 {
			windows.CloseHandle(thread)
		}
		windows.CloseHandle(p.handle)
	})
	return nil
}

// IsWow64 reports whether the process runs under 32-bit emulation on a
// 64-bit OS.
func (p *Process) IsWow64() (bool, error) {
	var wow bool
	if err := windows.IsWow64Process(p.handle, &wow); err != nil {
		return false, err
	}
	return wow, nil
}

// All lists every visible pid.
func All() ([]uint32, error) {
	return snapshot(func(windows.ProcessEntry32) bool { return true })
}

// Children lists the direct children of parent.
func Children(parent uint32) ([]uint32, error) {
	return snapshot(func(e windows.ProcessEntry32) bool { return e.ParentProcessID == parent })
}

func snapshot(keep func(windows.ProcessEntry32) bool) ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot processes: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	var out []uint32
	for err = windows.Process32First(snap, &entry); err == nil; err = windows.Process32Next(snap, &entry) {
		if keep(entry) {
			out = append(out, entry.ProcessID)
		}
	}
	return out, nil
}

// ImagePath returns the full executable path of pid.
func ImagePath(pid uint32) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf[:size]), nil
}
