//go:build linux

package osproc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestProcess_TerminateSignalsDone(t *testing.T) {
	cmd := startSleeper(t)
	p, err := FromOS(cmd.Process)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint32(cmd.Process.Pid), p.PID())
	assert.False(t, p.Exited())

	select {
	case <-p.Done():
		t.Fatal("Done closed before exit")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Terminate(1))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.True(t, p.Exited())
}

func TestProcess_WaitHonorsContext(t *testing.T) {
	cmd := startSleeper(t)
	p, err := FromOS(cmd.Process)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

func TestProcess_DuplicateIsIndependent(t *testing.T) {
	cmd := startSleeper(t)
	p, err := FromOS(cmd.Process)
	require.NoError(t, err)

	dup, err := p.Duplicate()
	require.NoError(t, err)
	defer dup.Close()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "Close must be idempotent")

	assert.Equal(t, p.PID(), dup.PID())
	require.NoError(t, dup.Terminate(0))
	select {
	case <-dup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("duplicate did not observe exit")
	}
}

func TestChildren_IncludesStartedChild(t *testing.T) {
	cmd := startSleeper(t)
	children, err := Children(uint32(os.Getpid()))
	require.NoError(t, err)
	assert.Contains(t, children, uint32(cmd.Process.Pid))

	path, err := ImagePath(uint32(cmd.Process.Pid))
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(cmd.Path)
	require.NoError(t, err)
	assert.Equal(t, want, path)

	child, err := FindChild(uint32(os.Getpid()), filepath.Base(want))
	require.NoError(t, err)
	defer child.Close()
	assert.Equal(t, uint32(cmd.Process.Pid), child.PID())
}

func TestFindByName_FindsSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	exe, err = filepath.EvalSymlinks(exe)
	require.NoError(t, err)

	pids, err := FindByName([]string{filepath.Base(exe)})
	require.NoError(t, err)
	assert.Contains(t, pids, uint32(os.Getpid()))

	pids, err = FindByName([]string{"no-such-image.exe"})
	require.NoError(t, err)
	assert.Empty(t, pids)
}

func TestProcess_DoneSurvivesPollFailure(t *testing.T) {
	pollPidfd = func([]unix.PollFd, int) (int, error) { return 0, unix.ENOMEM }
	t.Cleanup(func() { pollPidfd = unix.Poll })

	cmd := startSleeper(t)
	p, err := FromOS(cmd.Process)
	require.NoError(t, err)
	defer p.Close()

	done := p.Done()
	select {
	case <-done:
		t.Fatal("Done closed before exit")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit not noticed after poll failures")
	}
}
