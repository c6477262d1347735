// Package inject loads the tabcon agent module into another process.
//
// A target of the same bitness as this process is injected directly by
// running LoadLibraryW on a remote thread. A target of the opposite
// bitness needs a helper executable of that bitness, which receives the
// target pid and an inherited handle on its command line and performs
// the same-bitness injection itself.
package inject

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/osproc"
)

var (
	// ErrCrossBitness is returned when the target's bitness differs and
	// cross-bitness injection was not allowed.
	ErrCrossBitness = errors.New("target bitness differs from injector")
	// ErrHelperNotFound is returned when the opposite-bitness helper is
	// missing.
	ErrHelperNotFound = errors.New("injection helper not found")
	// ErrHelperFailed is returned when the helper exits non-zero.
	ErrHelperFailed = errors.New("injection helper failed")
	// ErrRemoteLoadFailed is returned when the remote LoadLibraryW call
	// returns no module.
	ErrRemoteLoadFailed = errors.New("remote module load failed")
	// ErrUnsupported is returned on platforms without injection.
	ErrUnsupported = errors.New("injection is not supported on this platform")
	// ErrInvalidHelperArgs is returned by ParseHelperArgs.
	ErrInvalidHelperArgs = errors.New("invalid helper arguments")
)

const is64Bit = strconv.IntSize == 64

// Strategy is how a target gets injected.
type Strategy int

const (
	StrategyRefuse Strategy = iota
	StrategySameBitness
	StrategyHelper
)

func (s Strategy) String() string {
	switch s {
	case StrategySameBitness:
		return "same-bitness"
	case StrategyHelper:
		return "helper"
	default:
		return "refuse"
	}
}

// ChooseStrategy decides how to inject. A WOW64 target on a 64-bit OS is
// 32-bit; any other target has the OS's bitness.
func ChooseStrategy(self64, os64, targetWow64, allowCross bool) Strategy {
	target64 := os64 && !targetWow64
	switch {
	case self64 == target64:
		return StrategySameBitness
	case allowCross:
		return StrategyHelper
	default:
		return StrategyRefuse
	}
}

// AgentName is the agent module file name for the given bitness.
func AgentName(is64 bool) string {
	return "tabcon-agent" + bits(is64) + ".dll"
}

// HelperName is the helper executable file name for the given bitness.
func HelperName(is64 bool) string {
	return "tabcon-injector" + bits(is64) + ".exe"
}

func bits(is64 bool) string {
	if is64 {
		return "64"
	}
	return "32"
}

// Injector injects the agent module into target processes.
type Injector struct {
	// AgentPath is the agent module for this process's bitness. Empty
	// means AgentName next to the helpers in HelperDir.
	AgentPath string
	// HelperDir holds the helper executables. Empty means the directory
	// of the running executable.
	HelperDir string
	Logger    logrus.FieldLogger
}

// Inject loads the agent into target. It blocks until the module is
// loaded, ctx ends, or target exits.
func (i *Injector) Inject(ctx context.Context, target *osproc.Process, allowCross bool) error {
	log := i.logger().WithField("pid", target.PID())

	strategy, err := detectStrategy(target, allowCross)
	if err != nil {
		metrics.Get().Injections.WithLabelValues(StrategyRefuse.String(), metrics.ResultError).Inc()
		return err
	}
	log = log.WithField("strategy", strategy)

	switch strategy {
	case StrategySameBitness:
		var path string
		if path, err = i.agentPath(); err == nil {
			err = loadRemote(ctx, target, path)
		}
	case StrategyHelper:
		var path string
		if path, err = i.helperPath(!is64Bit); err == nil {
			err = runHelper(ctx, target, path)
		}
	default:
		err = ErrCrossBitness
	}

	metrics.Get().Injections.WithLabelValues(strategy.String(), resultLabel(err)).Inc()
	if err != nil {
		log.WithError(err).Warn("agent injection failed")
		return fmt.Errorf("failed to inject process %d: %w", target.PID(), err)
	}
	log.Debug("agent injected")
	return nil
}

// LoadInto performs a same-bitness injection without strategy checks.
// The helper executable uses it after receiving its target.
func (i *Injector) LoadInto(ctx context.Context, target *osproc.Process) error {
	path, err := i.agentPath()
	if err != nil {
		return err
	}
	return loadRemote(ctx, target, path)
}

func (i *Injector) logger() logrus.FieldLogger {
	if i.Logger == nil {
		return logrus.StandardLogger()
	}
	return i.Logger
}

func (i *Injector) dir() (string, error) {
	if i.HelperDir != "" {
		return i.HelperDir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

func (i *Injector) agentPath() (string, error) {
	if i.AgentPath != "" {
		return i.AgentPath, nil
	}
	dir, err := i.dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AgentName(is64Bit)), nil
}

// helperPath returns the helper of the given bitness, or
// ErrHelperNotFound when it does not exist.
func (i *Injector) helperPath(is64 bool) (string, error) {
	dir, err := i.dir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, HelperName(is64))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrHelperNotFound, path)
	}
	return path, nil
}

// HelperCommandLine builds the helper's command line: the quoted
// executable followed by the target pid and handle value in decimal.
func HelperCommandLine(helperPath string, pid uint32, handle uintptr) string {
	return fmt.Sprintf(`"%s" %d %d`, helperPath, pid, handle)
}

// ParseHelperArgs parses the helper's arguments, excluding the program
// name. Both values must be non-zero.
func ParseHelperArgs(args []string) (pid uint32, handle uintptr, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%w: want <pid> <handle>, got %d arguments", ErrInvalidHelperArgs, len(args))
	}
	p, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 32)
	if err != nil || p == 0 {
		return 0, 0, fmt.Errorf("%w: bad pid %q", ErrInvalidHelperArgs, args[0])
	}
	h, err := strconv.ParseUint(strings.TrimSpace(args[1]), 10, 64)
	if err != nil || h == 0 {
		return 0, 0, fmt.Errorf("%w: bad handle %q", ErrInvalidHelperArgs, args[1])
	}
	return uint32(p), uintptr(h), nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCancelled
	default:
		return metrics.ResultError
	}
}
