// Package remote orchestrates the processes under tabcon's control. A
// Process record drives one target from launch or attach through agent
// injection and the channel handshake to its two message loops, and
// tears everything down deterministically. The Manager counts records
// that back a live OS process so shutdown can wait for all of them.
package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/dispatch"
	"github.com/standardbeagle/tabcon/internal/inject"
	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/pipe"
)

// killGrace bounds the wait for records after Shutdown gave up and
// killed their processes.
const killGrace = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithLauncher sets how new processes are created.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithInjector sets how the agent is placed into targets.
func WithInjector(i Injector) Option {
	return func(m *Manager) { m.injector = i }
}

// WithCrossBitness permits injection through the helper executable.
func WithCrossBitness(allow bool) Option {
	return func(m *Manager) { m.allowCross = allow }
}

// WithPool sets the pool for one-shot background work. It defaults to
// dispatch.Background.
func WithPool(pool *dispatch.Pool) Option {
	return func(m *Manager) { m.pool = pool }
}

// WithPipeOptions passes options to every channel the records open.
func WithPipeOptions(opts ...pipe.Option) Option {
	return func(m *Manager) { m.pipeOpts = append(m.pipeOpts, opts...) }
}

// Manager owns remote process records and the live-process count.
type Manager struct {
	host       Host
	log        logrus.FieldLogger
	launcher   Launcher
	injector   Injector
	allowCross bool
	pipeOpts   []pipe.Option
	metrics    *metrics.Registry
	pool       *dispatch.Pool

	mu           sync.Mutex
	cond         *sync.Cond
	live         int
	records      map[*Process]struct{}
	shuttingDown bool

	// killCtx ends when Shutdown gives up waiting; records then kill
	// what they started and stop flushing.
	killCtx context.Context
	kill    context.CancelFunc
}

// NewManager returns a manager reporting to host.
func NewManager(host Host, opts ...Option) *Manager {
	m := &Manager{
		host:     host,
		log:      logrus.StandardLogger(),
		launcher: DefaultLauncher(),
		metrics:  metrics.Get(),
		pool:     dispatch.Background(),
		records:  make(map[*Process]struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.killCtx, m.kill = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	if m.injector == nil {
		m.injector = &inject.Injector{Logger: m.log}
	}
	return m
}

// New returns a record in StateCreated. It backs nothing until Start,
// Attach or Clone.
func (m *Manager) New() *Process {
	return newProcess(m)
}

// Live returns the number of records backing a live OS process.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Processes returns the records currently backing a process.
func (m *Manager) Processes() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, 0, len(m.records))
	for p := range m.records {
		out = append(out, p)
	}
	return out
}

// acquire counts p as live. It fails once shutdown has begun.
func (m *Manager) acquire(p *Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown {
		return ErrShuttingDown
	}
	m.live++
	m.records[p] = struct{}{}
	m.metrics.LiveProcesses.Set(float64(m.live))
	return nil
}

func (m *Manager) release(p *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[p]; !ok {
		return
	}
	delete(m.records, p)
	m.live--
	m.metrics.LiveProcesses.Set(float64(m.live))
	if m.live == 0 {
		m.cond.Broadcast()
	}
}

// Wait blocks until no record backs a live process, or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.live > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}
	return nil
}

// Shutdown refuses new work, disposes every record and waits for them.
// If ctx ends first, processes this side created are killed and the
// wait continues briefly; ctx's error is returned in that case.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()

	records := m.Processes()
	jobs := make([]func() error, 0, len(records))
	for _, p := range records {
		jobs = append(jobs, func() error {
			p.Dispose()
			return nil
		})
	}
	m.pool.Run("dispose", jobs...)

	err := m.Wait(ctx)
	if err == nil {
		return nil
	}
	m.log.WithError(err).Warn("records still live, killing")
	m.kill()

	graceCtx, cancel := context.WithTimeout(context.Background(), killGrace)
	defer cancel()
	return errors.Join(err, m.Wait(graceCtx))
}
