// Command tabcon-injector injects the agent for tabcon when the target's
// bitness differs from tabcon's own. It is started with the target pid
// and an inherited process handle, and exits 0 on success.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/config"
	"github.com/standardbeagle/tabcon/internal/inject"
	"github.com/standardbeagle/tabcon/internal/logging"
)

// loadTimeout bounds the remote load.
const loadTimeout = 30 * time.Second

var errWrongProcess = errors.New("handle does not refer to the named process")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		log, closeLog = logging.Discard(), func() error { return nil }
	}
	defer closeLog()

	if err := injectTarget(args, cfg, log); err != nil {
		log.WithError(err).Error("injection failed")
		return 1
	}
	return 0
}

func injectTarget(args []string, cfg *config.Config, log logrus.FieldLogger) error {
	pid, handle, err := inject.ParseHelperArgs(args)
	if err != nil {
		return err
	}
	target, err := openTarget(handle)
	if err != nil {
		return err
	}
	defer target.Close()
	if target.PID() != pid {
		return fmt.Errorf("%w: handle is pid %d, want %d", errWrongProcess, target.PID(), pid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	inj := &inject.Injector{HelperDir: cfg.Agent.Directory, Logger: log.WithField("pid", pid)}
	return inj.LoadInto(ctx, target)
}
