package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// Attachment modes, as reported in metrics.
const (
	modeStart  = "start"
	modeAttach = "attach"
	modeClone  = "clone"
)

// Process is the record for one controlled target process.
//
// Its pid is the single value other goroutines poll to learn whether the
// record is attached: it is 0 until the agent has connected and is
// cleared on detach and at the end.
type Process struct {
	m   *Manager
	log logrus.FieldLogger

	state       stateBox
	pid         atomic.Uint32
	hostWindow  atomic.Uintptr
	childWindow atomic.Uintptr
	detached    atomic.Bool

	cacheMu   sync.Mutex
	title     string
	directory string
	env       value.Object

	// ctx is the shutdown signal: cancelled exactly once, by Dispose or
	// when the lifecycle ends. ioCtx outlives it so queued messages can
	// still be flushed to the agent.
	ctx      context.Context
	cancel   context.CancelFunc
	ioCtx    context.Context
	ioCancel context.CancelFunc

	pipeMu sync.Mutex // guards out and serializes its use
	out    *pipe.Endpoint

	queueMu sync.Mutex
	queue   []value.Object
	wake    chan struct{}

	connectedOnce sync.Once
	connected     chan struct{}

	disposeOnce sync.Once
	closingOnce sync.Once
	bgMu        sync.Mutex
	ended       bool
	wg          sync.WaitGroup
	doneOnce    sync.Once
	done        chan struct{}
}

func newProcess(m *Manager) *Process {
	p := &Process{
		m:         m,
		log:       m.log,
		wake:      make(chan struct{}, 1),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.ioCtx, p.ioCancel = context.WithCancel(m.killCtx)
	return p
}

// PID returns the target's pid while attached, else 0.
func (p *Process) PID() uint32 { return p.pid.Load() }

// State returns the lifecycle state.
func (p *Process) State() State { return p.state.Load() }

// Done is closed once all background work has ended.
func (p *Process) Done() <-chan struct{} { return p.done }

// Connected is closed once commands can be sent to the agent.
func (p *Process) Connected() <-chan struct{} { return p.connected }

// SetHostWindow sets the window console windows are embedded into.
func (p *Process) SetHostWindow(hwnd uintptr) { p.hostWindow.Store(hwnd) }

// HostWindow returns the window set by SetHostWindow.
func (p *Process) HostWindow() uintptr { return p.hostWindow.Load() }

// ChildWindow returns the embedded console window, or 0.
func (p *Process) ChildWindow() uintptr { return p.childWindow.Load() }

// Title returns the last title the agent reported.
func (p *Process) Title() string {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.title
}

// Directory returns the last working directory the agent reported.
func (p *Process) Directory() string {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.directory
}

// Environment returns the last environment the agent reported.
func (p *Process) Environment() value.Object {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.env.Clone()
}

// Start launches a new process described by info and attaches to it.
// Start-only keys (Executable, Arguments, Directory, Environment) shape
// the launch; the rest is sent to the agent as SetState.
func (p *Process) Start(info value.Object) error {
	if err := p.begin(StateStarting, modeStart); err != nil {
		return err
	}
	info = info.Clone()
	go p.startFrom(info)
	return nil
}

// Attach takes over an existing process. The handle is duplicated; the
// caller keeps ownership of target.
func (p *Process) Attach(target *osproc.Process) error {
	dup, err := target.Duplicate()
	if err != nil {
		return fmt.Errorf("failed to duplicate process handle: %w", err)
	}
	if err := p.begin(StateAttaching, modeAttach); err != nil {
		dup.Close()
		return err
	}
	go p.lifecycle(dup, false, value.Object{})
	return nil
}

// Clone starts a new process seeded with other's current state.
func (p *Process) Clone(other *Process) error {
	if err := p.begin(StateCloning, modeClone); err != nil {
		return err
	}
	go func() {
		state, err := other.GetState(p.ctx)
		if err != nil {
			p.log.WithError(err).Warn("failed to read state to clone")
			p.end()
			return
		}
		p.startFrom(state)
	}()
	return nil
}

// begin moves out of StateCreated and counts the record as live.
func (p *Process) begin(s State, mode string) error {
	if !p.state.CompareAndSwap(StateCreated, s) {
		return fmt.Errorf("%w: cannot %s (state: %s)", ErrInvalidState, mode, p.State())
	}
	if err := p.m.acquire(p); err != nil {
		p.state.Advance(StateDisposed)
		p.cancel()
		p.ioCancel()
		p.closeDone()
		return err
	}
	p.m.metrics.Attachments.WithLabelValues(mode).Inc()
	p.wg.Add(1)
	return nil
}

// GetState asks the agent for its full state and refreshes the caches.
func (p *Process) GetState(ctx context.Context) (value.Object, error) {
	return p.Transact(ctx, protocol.NewMessage(protocol.CommandGetState))
}

// Transact sends msg and waits for the answer. Calls are serialized
// with each other and with the sender loop.
func (p *Process) Transact(ctx context.Context, msg value.Object) (value.Object, error) {
	p.pipeMu.Lock()
	if p.out == nil {
		p.pipeMu.Unlock()
		return value.Object{}, ErrNotConnected
	}
	resp, err := p.out.Transact(ctx, msg)
	p.pipeMu.Unlock()
	if err != nil {
		return value.Object{}, err
	}
	p.handleResponse(protocol.CommandOf(msg), resp)
	return resp, nil
}

// SendAsync queues msg for the sender loop. It may never be sent if the
// target dies first. Safe from any goroutine.
func (p *Process) SendAsync(msg value.Object) {
	p.queueMu.Lock()
	p.queue = append(p.queue, msg)
	p.queueMu.Unlock()
	p.kick()
}

func (p *Process) send(c protocol.Command) { p.SendAsync(protocol.NewMessage(c)) }

func (p *Process) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Activate tells the agent its console became the visible one.
func (p *Process) Activate() { p.send(protocol.CommandActivated) }

// Deactivate tells the agent its console was hidden.
func (p *Process) Deactivate() { p.send(protocol.CommandDeactivated) }

// SendDpiChanged asks the agent to re-apply the window's DPI.
func (p *Process) SendDpiChanged() { p.send(protocol.CommandCheckWindowDpi) }

// CheckWindowSize asks the agent to fit the console to the host window.
func (p *Process) CheckWindowSize() { p.send(protocol.CommandCheckWindowSize) }

// Detach gives the console back: the window is released to the desktop,
// the pid cleared, the agent told to detach, and the record disposed.
// The target keeps running. Call it from the host's main thread.
func (p *Process) Detach() {
	if p.pid.Load() != 0 {
		if hwnd := p.childWindow.Swap(0); hwnd != 0 {
			p.m.host.ReleaseWindow(p, hwnd)
		}
		p.detached.Store(true)
		p.pid.Store(0)
		p.send(protocol.CommandDetach)
	}
	p.Dispose()
}

// Dispose starts teardown and returns without waiting; see Close. It is
// idempotent and safe before the record ever started.
func (p *Process) Dispose() {
	p.disposeOnce.Do(func() {
		if p.state.CompareAndSwap(StateCreated, StateDisposed) {
			p.cancel()
			p.ioCancel()
			p.closeDone()
			return
		}
		p.state.Advance(StateClosing)
		if !p.detached.Load() && p.pid.Load() != 0 {
			p.notifyClosing()
		}
		p.cancel()
	})
}

// Close disposes the record and waits for its background work to end.
func (p *Process) Close(ctx context.Context) error {
	p.Dispose()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyClosing tells the agent and the host that the console is going
// away. It runs at most once.
func (p *Process) notifyClosing() {
	p.closingOnce.Do(func() {
		p.send(protocol.CommandClosed)
		p.post(func() { p.m.host.ProcessClosing(p) })
	})
}

func (p *Process) post(fn func()) {
	if !p.m.host.Post(fn) {
		p.log.Debug("host queue sealed, notification dropped")
	}
}

func (p *Process) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}
