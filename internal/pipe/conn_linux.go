//go:build linux

package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

// Abstract socket namespace: nothing to clean up on disk.
const pipeRoot = "@"

// maxMessage bounds one SOCK_SEQPACKET record.
const maxMessage = 1 << 20

// expired is any deadline in the past; setting it unblocks pending I/O.
var expired = time.Unix(1, 0)

type unixConn struct {
	c *net.UnixConn
}

type unixListener struct {
	ln *net.UnixListener
}

func listen(name string, _ *osproc.Process) (listener, error) {
	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: name, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	return &unixListener{ln: ln}, nil
}

func (l *unixListener) accept(ctx context.Context) (conn, uint32, error) {
	if err := l.ln.SetDeadline(time.Time{}); err != nil {
		return nil, 0, err
	}
	stop := context.AfterFunc(ctx, func() { l.ln.SetDeadline(expired) })
	defer stop()

	c, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, 0, err
	}
	pid, err := peerPID(c)
	if err != nil {
		c.Close()
		return nil, 0, err
	}
	return &unixConn{c: c}, pid, nil
}

func (l *unixListener) close() error {
	return l.ln.Close()
}

func dial(ctx context.Context, name string, _ *osproc.Process) (conn, uint32, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unixpacket", name)
	if err != nil {
		return nil, 0, err
	}
	c := nc.(*net.UnixConn)
	pid, err := peerPID(c)
	if err != nil {
		c.Close()
		return nil, 0, err
	}
	return &unixConn{c: c}, pid, nil
}

// peerPID reads SO_PEERCRED, captured by the kernel at connect time.
func peerPID(c *net.UnixConn) (uint32, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("failed to read peer credentials: %w", credErr)
	}
	return uint32(cred.Pid), nil
}

func (u *unixConn) readMessage(ctx context.Context) ([]byte, error) {
	if err := u.c.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { u.c.SetReadDeadline(expired) })
	defer stop()

	buf := make([]byte, maxMessage)
	n, _, flags, _, err := u.c.ReadMsgUnix(buf, nil)
	if err != nil {
		return nil, err
	}
	if flags&unix.MSG_TRUNC != 0 {
		return nil, ErrMessageTooLarge
	}
	if n == 0 {
		return nil, io.EOF
	}
	return buf[:n], nil
}

func (u *unixConn) writeMessage(ctx context.Context, data []byte) error {
	if len(data) > maxMessage {
		return ErrMessageTooLarge
	}
	if err := u.c.SetWriteDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { u.c.SetWriteDeadline(expired) })
	defer stop()

	n, err := u.c.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (u *unixConn) cancelIO() {
	u.c.SetDeadline(expired)
}

func (u *unixConn) close() error {
	err := u.c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
