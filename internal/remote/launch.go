package remote

import (
	"context"
	"os"

	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// LaunchSpec describes a process to start.
type LaunchSpec struct {
	Executable string
	// Arguments is the raw argument string, appended after the quoted
	// executable.
	Arguments string
	// Directory is used only if it exists.
	Directory string
	// Environment replaces the inherited environment when it has
	// entries.
	Environment value.Object
}

// LaunchSpecFrom reads a start request.
func LaunchSpecFrom(info value.Object) LaunchSpec {
	spec := LaunchSpec{
		Executable: info.GetString(protocol.KeyExecutable),
		Arguments:  info.GetString(protocol.KeyArguments),
		Directory:  info.GetString(protocol.KeyDirectory),
	}
	if v := info.Get(protocol.KeyEnvironment); v.Kind() == value.KindObject {
		spec.Environment = v.Object()
	}
	return spec
}

// CommandLine is the quoted executable followed by the raw arguments.
func (s LaunchSpec) CommandLine() string {
	return `"` + s.Executable + `" ` + s.Arguments
}

// EnvironmentBlock is the OS environment block for s, or "" to inherit.
func (s LaunchSpec) EnvironmentBlock() string {
	block := value.WriteNameValuePairs(s.Environment, 0)
	if len(block) <= 1 {
		return ""
	}
	return block
}

// StartDirectory returns the directory to start in, or "" when none was
// given or it does not exist.
func (s LaunchSpec) StartDirectory() string {
	if s.Directory == "" || !directoryExists(s.Directory) {
		return ""
	}
	return s.Directory
}

// Launcher starts target processes. On Windows the process is created
// suspended, in a new hidden console.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (*osproc.Process, error)
}

// Injector places the agent into a target.
type Injector interface {
	Inject(ctx context.Context, target *osproc.Process, allowCrossBitness bool) error
}

func directoryExists(path string) bool {
	if fi, err := os.Stat(path); err == nil {
		return fi.IsDir()
	}
	letter, ok := driveLetter(path)
	return ok && driveExists(letter)
}

// driveLetter recognizes a bare drive path, "c:" or "c:\", and returns
// its lower-case letter.
func driveLetter(path string) (byte, bool) {
	if len(path) != 2 && len(path) != 3 {
		return 0, false
	}
	c := path[0] | 0x20
	if c < 'a' || c > 'z' || path[1] != ':' {
		return 0, false
	}
	if len(path) == 3 && path[2] != '\\' {
		return 0, false
	}
	return c, true
}
