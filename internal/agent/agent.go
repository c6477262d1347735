// Package agent is the code that runs inside a console process after
// injection. It finds the owning tabcon process, connects to it, serves
// console state commands over its own channel and reports title and
// environment changes until it is detached or its owner dies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// Host is what kind of process the agent was loaded into.
type Host int

const (
	// HostApp is an ordinary console application.
	HostApp Host = iota
	// HostConsoleDriver is the console host process that owns the
	// console window.
	HostConsoleDriver
	// HostOwner is tabcon itself; the agent does nothing there.
	HostOwner
)

func (h Host) String() string {
	switch h {
	case HostConsoleDriver:
		return "console-driver"
	case HostOwner:
		return "owner"
	default:
		return "app"
	}
}

// ConsoleDriverName is the image name of the Windows console host.
const ConsoleDriverName = "conhost.exe"

// DefaultOwnerNames are the image names of the owning application.
var DefaultOwnerNames = []string{"tabcon.exe"}

const (
	DefaultWatchdogInterval   = 2048 * time.Millisecond
	DefaultWindowPollInterval = 50 * time.Millisecond
)

var (
	// ErrOwnerNotFound is returned by Start when no owner accepted a
	// connection.
	ErrOwnerNotFound = errors.New("owner process not found")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("agent already started")
)

// Classify decides the host kind from the hosting executable's path.
func Classify(exePath string, ownerNames []string) Host {
	switch {
	case osproc.HasImageSuffix(exePath, ownerNames):
		return HostOwner
	case osproc.HasImageSuffix(exePath, []string{ConsoleDriverName}):
		return HostConsoleDriver
	default:
		return HostApp
	}
}

// OwnerLocator lists candidate owner pids, best first.
type OwnerLocator func() ([]uint32, error)

// StaticOwner is an OwnerLocator for a known owner pid.
func StaticOwner(pid uint32) OwnerLocator {
	return func() ([]uint32, error) { return []uint32{pid}, nil }
}

// WindowFilter intercepts messages sent to the console window. Only one
// filter is active per window.
type WindowFilter interface {
	// Install routes the keyboard messages of hwnd per RouteKey to its
	// parent. onDetach runs when the reserved detach message arrives.
	Install(hwnd uintptr, onDetach func()) error
	Uninstall()
}

// transactor is the owner-bound half of the agent's channels.
type transactor interface {
	Transact(ctx context.Context, req value.Object) (value.Object, error)
	Close() error
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Agent) { a.log = log }
}

// WithHost skips classification.
func WithHost(h Host) Option {
	return func(a *Agent) {
		a.host = h
		a.hostSet = true
	}
}

// WithOwnerNames sets the owner image names used for classification and
// by the desktop owner locator.
func WithOwnerNames(names ...string) Option {
	return func(a *Agent) { a.ownerNames = names }
}

// WithOwnerLocator overrides how owner candidates are found.
func WithOwnerLocator(l OwnerLocator) Option {
	return func(a *Agent) { a.locate = l }
}

// WithWatchdogInterval sets the drift polling interval.
func WithWatchdogInterval(d time.Duration) Option {
	return func(a *Agent) { a.watchdogInterval = d }
}

// WithWindowPollInterval sets how often the window finder polls.
func WithWindowPollInterval(d time.Duration) Option {
	return func(a *Agent) { a.windowPoll = d }
}

// WithPipeOptions passes options to both channels.
func WithPipeOptions(opts ...pipe.Option) Option {
	return func(a *Agent) { a.pipeOpts = append(a.pipeOpts, opts...) }
}

// WithWindowFilter sets the filter installed in the console driver.
func WithWindowFilter(f WindowFilter) Option {
	return func(a *Agent) { a.filter = f }
}

// WithDetachHook registers fn to run once the agent has been disposed
// because of a detach request.
func WithDetachHook(fn func()) Option {
	return func(a *Agent) { a.onDetached = fn }
}

// Agent is one attachment of the agent to its owner. All state that the
// background goroutines share lives here.
type Agent struct {
	console Console
	log     logrus.FieldLogger

	host             Host
	hostSet          bool
	ownerNames       []string
	locate           OwnerLocator
	watchdogInterval time.Duration
	windowPoll       time.Duration
	pipeOpts         []pipe.Option
	filter           WindowFilter
	onDetached       func()

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	owner  *osproc.Process

	ownerMu   sync.Mutex // serializes use of ownerPipe
	ownerPipe transactor

	serverMu sync.Mutex
	server   *pipe.Endpoint

	startOnce   sync.Once
	disposeOnce sync.Once
	detachOnce  sync.Once
	done        chan struct{}
}

// New returns an agent for console. Nothing runs until Start.
func New(console Console, opts ...Option) *Agent {
	a := &Agent{
		console:          console,
		log:              logrus.StandardLogger(),
		ownerNames:       DefaultOwnerNames,
		watchdogInterval: DefaultWatchdogInterval,
		windowPoll:       DefaultWindowPollInterval,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if !a.hostSet {
		a.host = Classify(console.Executable(), a.ownerNames)
	}
	if a.locate == nil {
		a.locate = desktopOwners(a.ownerNames)
	}
	a.log = a.log.WithFields(logrus.Fields{"pid": os.Getpid(), "host": a.host})
	return a
}

// Host reports the classified host kind.
func (a *Agent) Host() Host { return a.host }

// Done is closed once the agent has been disposed.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Start connects to the owner and starts the background goroutines.
// In the owner process itself it does nothing.
func (a *Agent) Start(ctx context.Context) error {
	err := ErrStarted
	a.startOnce.Do(func() {
		err = a.start(ctx)
	})
	return err
}

func (a *Agent) start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	if a.host == HostOwner {
		a.log.Debug("loaded into owner, staying idle")
		return nil
	}

	owner, conn, err := a.connectOwner()
	if err != nil {
		a.cancel()
		return err
	}
	a.owner = owner
	a.ownerPipe = conn
	a.log = a.log.WithField("owner", owner.PID())
	a.log.Info("connected to owner")

	switch a.host {
	case HostConsoleDriver:
		a.group.Go(a.hookWindow)
	default:
		a.group.Go(a.serve)
		a.group.Go(a.watchdog)
		a.group.Go(a.findWindow)
	}
	return nil
}

// connectOwner connects to the first candidate that accepts.
func (a *Agent) connectOwner() (*osproc.Process, transactor, error) {
	pids, err := a.locate()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate owner: %w", err)
	}
	self := uint32(os.Getpid())
	for _, pid := range pids {
		if pid == self {
			continue
		}
		proc, err := osproc.Open(pid)
		if err != nil {
			continue
		}
		ep, err := pipe.Connect(a.ctx, proc, a.pipeOptions()...)
		if err != nil {
			a.log.WithError(err).WithField("candidate", pid).Debug("owner candidate refused")
			proc.Close()
			continue
		}
		return proc, ep, nil
	}
	return nil, nil, ErrOwnerNotFound
}

func (a *Agent) pipeOptions() []pipe.Option {
	return append([]pipe.Option{pipe.WithLogger(a.log)}, a.pipeOpts...)
}

// serve runs the agent's own channel: announce it, wait for the owner to
// connect back, then answer commands.
func (a *Agent) serve() error {
	opts := append(a.pipeOptions(), pipe.WithReplied(a.replied))
	ep, err := pipe.Create(a.ctx, a.owner, opts...)
	if err != nil {
		a.log.WithError(err).Warn("failed to create command channel")
		return nil
	}
	a.serverMu.Lock()
	a.server = ep
	a.serverMu.Unlock()

	if _, err := a.sendToOwner(protocol.NewMessage(protocol.CommandPipeCreated)); err != nil {
		return nil
	}
	if err := ep.WaitForClient(); err != nil {
		a.log.WithError(err).Debug("owner did not connect back")
		return nil
	}
	err = ep.RunServer(a.Handlers().Serve)
	a.log.WithError(err).Debug("command channel closed")
	return nil
}

// replied runs after each response is written. A detach begins only
// once the owner has its answer.
func (a *Agent) replied(req value.Object) {
	if protocol.CommandOf(req) == protocol.CommandDetach {
		go a.Detach()
	}
}

// sendToOwner transacts msg on the owner channel. Callers never overlap
// on that channel.
func (a *Agent) sendToOwner(msg value.Object) (value.Object, error) {
	a.ownerMu.Lock()
	defer a.ownerMu.Unlock()
	if a.ownerPipe == nil {
		return value.Object{}, pipe.ErrClosed
	}
	resp, err := a.ownerPipe.Transact(a.ctx, msg)
	if err != nil {
		a.log.WithError(err).WithField("command", protocol.CommandName(msg)).Debug("owner notification failed")
	}
	return resp, err
}

// Detach releases the console: the window filter is removed and the
// agent disposed. The detach hook then runs.
func (a *Agent) Detach() {
	a.detachOnce.Do(func() {
		a.log.Info("detaching")
		if a.filter != nil {
			a.filter.Uninstall()
		}
		a.Dispose()
		if a.onDetached != nil {
			a.onDetached()
		}
	})
}

// Dispose stops all goroutines and closes both channels. It blocks until
// they have exited and is safe to call more than once, but not from one
// of the agent's own goroutines.
func (a *Agent) Dispose() {
	a.disposeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.group.Wait()

		a.serverMu.Lock()
		if a.server != nil {
			a.server.Close()
		}
		a.serverMu.Unlock()

		a.ownerMu.Lock()
		if a.ownerPipe != nil {
			a.ownerPipe.Close()
			a.ownerPipe = nil
		}
		a.ownerMu.Unlock()

		if a.owner != nil {
			a.owner.Close()
		}
		if a.filter != nil {
			a.filter.Uninstall()
		}
		close(a.done)
	})
}
