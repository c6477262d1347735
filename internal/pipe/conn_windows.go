//go:build windows

package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

const pipeRoot = `\\.\pipe\`

// pipeRejectRemoteClients is PIPE_REJECT_REMOTE_CLIENTS.
const pipeRejectRemoteClients = 0x00000008

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetNamedPipeClientProcessId = kernel32.NewProc("GetNamedPipeClientProcessId")
	procGetNamedPipeServerProcessId = kernel32.NewProc("GetNamedPipeServerProcessId")
)

// pipeConn is a connected overlapped pipe handle in message mode.
type pipeConn struct {
	h    windows.Handle
	peer *osproc.Process

	closeOnce sync.Once
}

type pipeListener struct {
	pipeConn
}

func listen(name string, peer *osproc.Process) (listener, error) {
	path, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	// Null DACL: the peer may run under a different integrity level.
	sd, err := windows.NewSecurityDescriptor()
	if err != nil {
		return nil, fmt.Errorf("failed to build security descriptor: %w", err)
	}
	if err := sd.SetDACL(nil, true, false); err != nil {
		return nil, fmt.Errorf("failed to set DACL: %w", err)
	}
	sa := &windows.SecurityAttributes{SecurityDescriptor: sd}
	sa.Length = uint32(unsafe.Sizeof(*sa))

	h, err := windows.CreateNamedPipe(path,
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED|windows.FILE_FLAG_FIRST_PIPE_INSTANCE,
		windows.PIPE_TYPE_MESSAGE|windows.PIPE_READMODE_MESSAGE|pipeRejectRemoteClients,
		1, bufferSize, bufferSize, 0, sa)
	if err != nil {
		return nil, err
	}
	return &pipeListener{pipeConn{h: h, peer: peer}}, nil
}

func (l *pipeListener) accept(ctx context.Context) (conn, uint32, error) {
	_, err := l.do(ctx, func(ov *windows.Overlapped) error {
		err := windows.ConnectNamedPipe(l.h, ov)
		if errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var pid uint32
	if r, _, err := procGetNamedPipeClientProcessId.Call(uintptr(l.h), uintptr(unsafe.Pointer(&pid))); r == 0 {
		windows.DisconnectNamedPipe(l.h)
		return nil, 0, fmt.Errorf("failed to query client pid: %w", err)
	}

	// Ownership of the handle moves to the returned conn.
	c := &pipeConn{h: l.h, peer: l.peer}
	l.h = windows.InvalidHandle
	return c, pid, nil
}

func dial(ctx context.Context, name string, server *osproc.Process) (conn, uint32, error) {
	path, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, 0, err
	}
	h, err := windows.CreateFile(path,
		windows.GENERIC_READ|windows.GENERIC_WRITE, 0, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		return nil, 0, err
	}

	mode := uint32(windows.PIPE_READMODE_MESSAGE)
	if err := windows.SetNamedPipeHandleState(h, &mode, nil, nil); err != nil {
		windows.CloseHandle(h)
		return nil, 0, fmt.Errorf("failed to set message mode: %w", err)
	}

	var pid uint32
	if r, _, err := procGetNamedPipeServerProcessId.Call(uintptr(h), uintptr(unsafe.Pointer(&pid))); r == 0 {
		windows.CloseHandle(h)
		return nil, 0, fmt.Errorf("failed to query server pid: %w", err)
	}
	return &pipeConn{h: h, peer: server}, pid, nil
}

func (c *pipeConn) readMessage(ctx context.Context) ([]byte, error) {
	var msg []byte
	buf := make([]byte, bufferSize)
	for {
		n, err := c.do(ctx, func(ov *windows.Overlapped) error {
			return windows.ReadFile(c.h, buf, nil, ov)
		})
		msg = append(msg, buf[:n]...)
		switch {
		case errors.Is(err, windows.ERROR_MORE_DATA):
			continue
		case err != nil:
			return nil, err
		default:
			return msg, nil
		}
	}
}

func (c *pipeConn) writeMessage(ctx context.Context, data []byte) error {
	n, err := c.do(ctx, func(ov *windows.Overlapped) error {
		return windows.WriteFile(c.h, data, nil, ov)
	})
	if err != nil {
		return err
	}
	if int(n) != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (c *pipeConn) cancelIO() {
	windows.CancelIoEx(c.h, nil)
}

func (c *pipeConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.h == windows.InvalidHandle {
			return
		}
		windows.CancelIoEx(c.h, nil)
		err = windows.CloseHandle(c.h)
	})
	return err
}

// do issues one overlapped operation and waits for it to complete, for
// ctx to end, or for the peer to exit. A lost race cancels the operation
// and waits for it to retire before the OVERLAPPED is released.
func (c *pipeConn) do(ctx context.Context, op func(*windows.Overlapped) error) (uint32, error) {
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(ev)
	ov := &windows.Overlapped{HEvent: ev}

	err = op(ov)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) && !errors.Is(err, windows.ERROR_MORE_DATA) {
		return 0, err
	}

	cancel, release, err := osproc.CancelEvent(ctx)
	if err != nil {
		windows.CancelIoEx(c.h, ov)
		var n uint32
		windows.GetOverlappedResult(c.h, ov, &n, true)
		return 0, err
	}
	defer release()

	var n uint32
	which, err := windows.WaitForMultipleObjects([]windows.Handle{ev, cancel, c.peer.Handle()}, false, windows.INFINITE)
	if err == nil && which == windows.WAIT_OBJECT_0 {
		err = windows.GetOverlappedResult(c.h, ov, &n, true)
		return n, err
	}

	windows.CancelIoEx(c.h, ov)
	windows.GetOverlappedResult(c.h, ov, &n, true)
	switch {
	case err != nil:
		return 0, err
	case which == windows.WAIT_OBJECT_0+2:
		return 0, ErrPeerExited
	default:
		return 0, context.Cause(ctx)
	}
}
