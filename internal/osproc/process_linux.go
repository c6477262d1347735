//go:build linux

package osproc

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long the exit watcher blocks before checking
// whether the handle was closed.
const pollInterval = 200 // milliseconds

// Process is an owned pidfd. Linux processes are never created
// suspended, so Resume is a no-op.
type Process struct {
	pid   uint32
	pidfd int

	watchOnce sync.Once
	done      chan struct{}
	closing   chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Current returns a handle to the calling process.
func Current() (*Process, error) {
	return Open(uint32(os.Getpid()))
}

// Open opens a pidfd for pid.
func Open(pid uint32) (*Process, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return fromFd(pid, fd), nil
}

// FromOS opens a handle to a process started with os/exec. Reaping the
// child stays the caller's job.
func FromOS(p *os.Process) (*Process, error) {
	return Open(uint32(p.Pid))
}

func fromFd(pid uint32, fd int) *Process {
	return &Process{
		pid:     pid,
		pidfd:   fd,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// PID returns the process id.
func (p *Process) PID() uint32 { return p.pid }

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	p.watchOnce.Do(func() {
		select {
		case <-p.closing:
			return
		default:
		}
		p.wg.Add(1)
		go p.watch()
	})
	return p.done
}

// pollPidfd is unix.Poll; tests replace it.
var pollPidfd = unix.Poll

func (p *Process) watch() {
	defer p.wg.Done()
	fds := []unix.PollFd{{Fd: int32(p.pidfd), Events: unix.POLLIN}}
	for {
		select {
		case <-p.closing:
			return
		default:
		}
		n, err := pollPidfd(fds, pollInterval)
		switch {
		case err == nil && n > 0:
			close(p.done)
			return
		case err == nil, errors.Is(err, unix.EINTR):
		default:
			// Poll failed; ask the process directly instead.
			if errors.Is(unix.PidfdSendSignal(p.pidfd, 0, nil, 0), unix.ESRCH) {
				close(p.done)
				return
			}
			select {
			case <-p.closing:
				return
			case <-time.After(pollInterval * time.Millisecond):
			}
		}
	}
}

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	fds := []unix.PollFd{{Fd: int32(p.pidfd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0
}

// Terminate kills the process. The exit code is ignored; the process
// dies from SIGKILL.
func (p *Process) Terminate(uint32) error {
	return unix.PidfdSendSignal(p.pidfd, unix.SIGKILL, nil, 0)
}

// Resume does nothing on Linux.
func (p *Process) Resume() error { return nil }

// Suspended is always false on Linux.
func (p *Process) Suspended() bool { return false }

// Duplicate returns an independent owner of the same process.
func (p *Process) Duplicate() (*Process, error) {
	fd, err := unix.FcntlInt(uintptr(p.pidfd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate pidfd: %w", err)
	}
	return fromFd(p.pid, fd), nil
}

// Close releases the pidfd. It is idempotent.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		p.wg.Wait()
		err = unix.Close(p.pidfd)
	})
	return err
}

// All lists every visible pid.
func All() ([]uint32, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	out := make([]uint32, 0, len(procs))
	for _, proc := range procs {
		out = append(out, uint32(proc.PID))
	}
	return out, nil
}

// Children lists the direct children of parent.
func Children(parent uint32) ([]uint32, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	var out []uint32
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		if stat.PPID == int(parent) {
			out = append(out, uint32(proc.PID))
		}
	}
	return out, nil
}

// ImagePath returns the executable path of pid.
func ImagePath(pid uint32) (string, error) {
	proc, err := procfs.NewProc(int(pid))
	if err != nil {
		return "", err
	}
	return proc.Executable()
}
