//go:build !windows

package remote

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

// ExecLauncher starts processes with os/exec. There is no suspended
// start here, so the target runs from the moment Launch returns.
type ExecLauncher struct{}

func (ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (*osproc.Process, error) {
	args, err := shellquote.Split(spec.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to split arguments: %w", err)
	}
	cmd := exec.Command(spec.Executable, args...)
	cmd.Dir = spec.StartDirectory()
	if spec.EnvironmentBlock() != "" {
		for k, v := range spec.Environment.StringMap() {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", spec.Executable, err)
	}

	proc, err := osproc.FromOS(cmd.Process)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	// The pidfd outlives the reap.
	go cmd.Wait()
	return proc, nil
}

// DefaultLauncher is the platform launcher.
func DefaultLauncher() Launcher { return ExecLauncher{} }

func driveExists(byte) bool { return false }
