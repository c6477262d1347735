// Command tabcon-agent is the library injected into console processes.
// Build it with -buildmode=c-shared; loading it starts the agent.
package main

import "C"

import (
	"context"

	"github.com/standardbeagle/tabcon/internal/agent"
	"github.com/standardbeagle/tabcon/internal/config"
	"github.com/standardbeagle/tabcon/internal/logging"
	"github.com/standardbeagle/tabcon/internal/pipe"
)

func init() {
	go run()
}

func run() {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	// The target owns stdout and stderr; only a configured file gets logs.
	log := logging.Discard()
	closeLog := func() error { return nil }
	if cfg.Logging.File != "" {
		if l, c, err := logging.New(cfg.Logging); err == nil {
			log, closeLog = l, c
		}
	}
	defer closeLog()

	a := agent.New(agent.SystemConsole(),
		agent.WithLogger(log),
		agent.WithOwnerNames(cfg.Agent.OwnerNames...),
		agent.WithWatchdogInterval(cfg.Agent.WatchdogInterval),
		agent.WithWindowPollInterval(cfg.Agent.WindowPollInterval),
		agent.WithPipeOptions(pipe.WithPrefix(cfg.Agent.PipePrefix)),
		agent.WithWindowFilter(windowFilter()),
		agent.WithDetachHook(func() { log.Info("detached, agent dormant") }),
	)
	if err := a.Start(context.Background()); err != nil {
		log.WithError(err).WithField("host", a.Host()).Warn("agent not started")
		return
	}
	if a.Host() == agent.HostOwner {
		return
	}
	<-a.Done()
	log.WithField("host", a.Host()).Debug("agent stopped")
}

func main() {}
