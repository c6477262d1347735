package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabcon/internal/config"
	"github.com/standardbeagle/tabcon/internal/dispatch"
	"github.com/standardbeagle/tabcon/internal/inject"
	"github.com/standardbeagle/tabcon/internal/logging"
	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/remote"
)

// errAlreadyRunning is returned when another tabcon owns the consoles.
var errAlreadyRunning = errors.New("another tabcon instance is running")

// connectTimeout bounds the wait for a new agent to connect.
const connectTimeout = 15 * time.Second

// session is one running owner: the lock, the host queue and the
// manager of every console it controls.
type session struct {
	cfg      *config.Config
	log      *logrus.Logger
	closeLog func() error
	lock     *flock.Flock

	ctx    context.Context
	cancel context.CancelFunc

	queue   *dispatch.Queue
	host    *consoleHost
	manager *remote.Manager
}

func lockPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tabcon", "owner.lock")
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Agents pick their owner by executable name, so only one owner
	// may run at a time.
	path := lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		closeLog()
		return nil, errAlreadyRunning
	}

	s := &session{cfg: cfg, log: log, closeLog: closeLog, lock: lock}
	s.ctx, s.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	s.queue = dispatch.NewQueue(dispatch.WithQueueLogger(log))
	s.host = newConsoleHost(s.queue, cmd.OutOrStdout())
	s.manager = remote.NewManager(s.host,
		remote.WithLogger(log),
		remote.WithInjector(&inject.Injector{HelperDir: cfg.Agent.Directory, Logger: log}),
		remote.WithCrossBitness(cfg.Agent.AllowCrossBitness),
		remote.WithPipeOptions(pipe.WithPrefix(cfg.Agent.PipePrefix)),
	)

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(s.ctx, addr); err != nil {
				log.WithError(err).WithField("addr", addr).Warn("metrics endpoint stopped")
			}
		}()
		log.WithField("addr", addr).Info("serving metrics")
	}
	return s, nil
}

// close shuts every console down, waiting up to the configured timeout
// before killing the ones this session started.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.manager.Shutdown(ctx)

	s.queue.Seal()
	s.cancel()
	if uerr := s.lock.Unlock(); uerr != nil {
		s.log.WithError(uerr).Debug("failed to release lock")
	}
	s.closeLog()
	return err
}

// onMain runs fn on the host queue and waits for it.
func (s *session) onMain(fn func()) error {
	return s.queue.Do(s.ctx, fn)
}

// waitConnected waits for p's agent to connect.
func (s *session) waitConnected(p *remote.Process) error {
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()
	select {
	case <-p.Connected():
		return nil
	case <-p.Done():
		return fmt.Errorf("console ended before its agent connected")
	case <-ctx.Done():
		return fmt.Errorf("agent did not connect: %w", ctx.Err())
	}
}
