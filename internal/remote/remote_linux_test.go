package remote

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/standardbeagle/tabcon/internal/agent"
	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// The test binary doubles as the target: with agentEnv set it waits to
// be "injected" and then runs a real agent against its parent.
const (
	agentEnv  = "TABCON_TEST_AGENT"
	markerEnv = "TABCON_TEST_MARKERS"
	prefixEnv = "TABCON_TEST_PREFIX"
)

func TestMain(m *testing.M) {
	if os.Getenv(agentEnv) == "1" {
		os.Exit(runTestAgent())
	}
	os.Exit(m.Run())
}

func runTestAgent() int {
	marker := filepath.Join(os.Getenv(markerEnv), strconv.Itoa(os.Getpid()))
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return 3
		}
		time.Sleep(10 * time.Millisecond)
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	a := agent.New(agent.SystemConsole(),
		agent.WithLogger(log),
		agent.WithHost(agent.HostApp),
		agent.WithOwnerLocator(agent.StaticOwner(uint32(os.Getppid()))),
		agent.WithPipeOptions(pipe.WithPrefix(os.Getenv(prefixEnv))),
		agent.WithWatchdogInterval(50*time.Millisecond),
	)
	if err := a.Start(context.Background()); err != nil {
		return 2
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	select {
	case <-a.Done():
		return 0
	case <-term:
		a.Dispose()
		return 0
	}
}

// markerInjector "injects" by dropping the file the child waits for.
type markerInjector struct {
	dir string

	mu  sync.Mutex
	err error
}

func (i *markerInjector) Inject(_ context.Context, target *osproc.Process, _ bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	return os.WriteFile(filepath.Join(i.dir, strconv.FormatUint(uint64(target.PID()), 10)), nil, 0o600)
}

// pidLauncher remembers every pid it started.
type pidLauncher struct {
	mu   sync.Mutex
	pids []uint32
}

func (l *pidLauncher) Launch(ctx context.Context, spec LaunchSpec) (*osproc.Process, error) {
	proc, err := ExecLauncher{}.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.pids = append(l.pids, proc.PID())
	l.mu.Unlock()
	return proc, nil
}

func (l *pidLauncher) last() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pids) == 0 {
		return 0
	}
	return l.pids[len(l.pids)-1]
}

type harness struct {
	t        *testing.T
	host     *recordingHost
	injector *markerInjector
	launcher *pidLauncher
	m        *Manager
	prefix   string
	dir      string
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:        t,
		host:     &recordingHost{},
		injector: &markerInjector{dir: t.TempDir()},
		launcher: &pidLauncher{},
		prefix:   "rt-" + uuid.NewString()[:8],
		dir:      t.TempDir(),
	}
	// Closing the tab ends the console the way a closed window would.
	h.host.onClose = func(p *Process) {
		if pid := p.PID(); pid != 0 {
			unix.Kill(int(pid), unix.SIGTERM)
		}
	}
	h.m = NewManager(h.host,
		WithLogger(quiet()),
		WithLauncher(h.launcher),
		WithInjector(h.injector),
		WithPipeOptions(pipe.WithPrefix(h.prefix)),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.m.Shutdown(ctx)
	})
	return h
}

func (h *harness) agentEnv() map[string]string {
	return map[string]string{
		agentEnv:  "1",
		markerEnv: h.injector.dir,
		prefixEnv: h.prefix,
	}
}

func (h *harness) startInfo() value.Object {
	exe, err := os.Executable()
	require.NoError(h.t, err)

	info := value.NewObject()
	info.SetString(protocol.KeyExecutable, exe)
	info.SetString(protocol.KeyArguments, "-test.run=^$")
	info.SetString(protocol.KeyDirectory, h.dir)
	info.Set(protocol.KeyEnvironment, value.ObjectValue(value.FromStringMap(h.agentEnv())))

	aliases := value.NewObject()
	aliases.Set("bash", value.ObjectValue(value.FromStringMap(map[string]string{"ll": "ls -l"})))
	info.Set(protocol.KeyAliases, value.ObjectValue(aliases))
	return info
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitConnected(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Connected():
	case <-p.Done():
		t.Fatal("record ended before the agent connected")
	case <-time.After(10 * time.Second):
		t.Fatalf("agent never connected (state %s)", p.State())
	}
}

func aliasOf(state value.Object, exe, name string) string {
	return state.Child(protocol.KeyAliases).Child(exe).GetString(name)
}

// eventuallyAlias polls GetState until the seeded alias shows up; the
// seed travels on the sender loop and may trail the first transaction.
func eventuallyAlias(t *testing.T, ctx context.Context, p *Process) value.Object {
	t.Helper()
	var state value.Object
	require.Eventually(t, func() bool {
		s, err := p.GetState(ctx)
		if err != nil {
			return false
		}
		state = s
		return aliasOf(s, "bash", "ll") == "ls -l"
	}, 10*time.Second, 20*time.Millisecond)
	return state
}

func sameDir(t *testing.T, want, got string) {
	t.Helper()
	w, err := filepath.EvalSymlinks(want)
	require.NoError(t, err)
	g, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, w, g)
}

func TestProcess_StartSeedsAndCloses(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	p := h.m.New()
	require.NoError(t, p.Start(h.startInfo()))
	waitConnected(t, p)

	state := eventuallyAlias(t, ctx, p)
	assert.Equal(t, StateRunning, p.State())
	assert.Equal(t, h.launcher.last(), p.PID())
	assert.Equal(t, 1, h.m.Live())

	sameDir(t, h.dir, state.GetString(protocol.KeyDirectory))
	sameDir(t, h.dir, p.Directory())
	assert.Equal(t, "1", state.Child(protocol.KeyEnvironment).GetString(agentEnv))
	assert.Equal(t, "1", p.Environment().GetString(agentEnv))
	assert.NotEmpty(t, state.GetString(protocol.KeyExecutable))
	assert.Equal(t, value.KindObject, state.Get(protocol.KeyColors).Kind())

	// The watchdog reports the environment on its first tick.
	assert.Eventually(t, func() bool {
		h.host.mu.Lock()
		defer h.host.mu.Unlock()
		return len(h.host.envs) > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, p.Close(ctx))
	assert.Equal(t, StateDisposed, p.State())
	assert.Zero(t, p.PID())
	assert.Equal(t, 0, h.m.Live())
	closing, closed := h.host.counts()
	assert.Equal(t, 1, closing)
	assert.Equal(t, 1, closed)

	_, err := p.GetState(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestProcess_SetStateRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	p := h.m.New()
	require.NoError(t, p.Start(h.startInfo()))
	waitConnected(t, p)

	other := t.TempDir()
	msg := protocol.NewMessage(protocol.CommandSetState)
	msg.SetString(protocol.KeyDirectory, other)
	msg.Set(protocol.KeyEnvironment, value.ObjectValue(value.FromStringMap(map[string]string{"TABCON_EXTRA": "x"})))
	_, err := p.Transact(ctx, msg)
	require.NoError(t, err)

	state, err := p.GetState(ctx)
	require.NoError(t, err)
	sameDir(t, other, state.GetString(protocol.KeyDirectory))
	assert.Equal(t, "x", state.Child(protocol.KeyEnvironment).GetString("TABCON_EXTRA"))

	require.NoError(t, p.Close(ctx))
}

func TestProcess_AttachAndDetach(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	exe, err := os.Executable()
	require.NoError(t, err)
	cmd := exec.Command(exe, "-test.run=^$")
	for k, v := range h.agentEnv() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	require.NoError(t, cmd.Start())
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	t.Cleanup(func() { cmd.Process.Kill() })

	target, err := osproc.FromOS(cmd.Process)
	require.NoError(t, err)
	defer target.Close()

	p := h.m.New()
	require.NoError(t, p.Attach(target))
	waitConnected(t, p)
	assert.Equal(t, target.PID(), p.PID())
	assert.ErrorIs(t, p.Attach(target), ErrInvalidState)

	p.Detach()
	assert.Zero(t, p.PID())
	require.NoError(t, p.Close(ctx))

	// The agent answers Detach, disposes and the console lives on
	// without it; here the test agent exits cleanly once detached.
	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("detached agent did not exit")
	}
	closing, closed := h.host.counts()
	assert.Zero(t, closing)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, h.m.Live())
}

func TestProcess_CloneCopiesState(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	src := h.m.New()
	require.NoError(t, src.Start(h.startInfo()))
	waitConnected(t, src)
	eventuallyAlias(t, ctx, src)

	p := h.m.New()
	require.NoError(t, p.Clone(src))
	waitConnected(t, p)
	state := eventuallyAlias(t, ctx, p)

	assert.NotEqual(t, src.PID(), p.PID())
	sameDir(t, h.dir, state.GetString(protocol.KeyDirectory))
	assert.Equal(t, 2, h.m.Live())

	require.NoError(t, h.m.Shutdown(ctx))
	assert.Equal(t, 0, h.m.Live())
	assert.Equal(t, StateDisposed, src.State())
	assert.Equal(t, StateDisposed, p.State())
}

func TestProcess_InjectionFailureKillsCreated(t *testing.T) {
	h := newHarness(t)
	h.injector.err = assert.AnError

	p := h.m.New()
	require.NoError(t, p.Start(h.startInfo()))
	waitDone(t, p)

	pid := h.launcher.last()
	require.NotZero(t, pid)
	assert.Eventually(t, func() bool {
		return unix.Kill(int(pid), 0) == unix.ESRCH
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, h.m.Live())
	assert.Equal(t, StateDisposed, p.State())
}

func TestProcess_PIDHiddenUntilRunning(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.m.injector = gatedInjector{gate: gate, next: h.injector}

	p := h.m.New()
	require.NoError(t, p.Start(h.startInfo()))
	require.Eventually(t, func() bool {
		return p.State() == StateInjecting
	}, 10*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.PID())
	assert.Equal(t, 1, h.m.Live())

	close(gate)
	waitConnected(t, p)
	assert.Equal(t, h.launcher.last(), p.PID())
}

func TestManager_ShutdownLeavesAttachedProcess(t *testing.T) {
	h := newHarness(t)
	// The host closes nothing, so the attached console outlives us.
	h.host.onClose = nil

	target, _ := h.agentChild(t)

	p := h.m.New()
	require.NoError(t, p.Attach(target))
	waitConnected(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := h.m.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.m.Live())
	waitDone(t, p)

	closing, _ := h.host.counts()
	assert.Equal(t, 1, closing)
	assert.False(t, target.Exited(), "an attached process is never killed")
}

// gatedInjector holds injection until gate closes.
type gatedInjector struct {
	gate <-chan struct{}
	next Injector
}

func (g gatedInjector) Inject(ctx context.Context, target *osproc.Process, allowCross bool) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.next.Inject(ctx, target, allowCross)
}

// agentChild starts a test agent that nothing else will end, and returns
// it with a function that kills it.
func (h *harness) agentChild(t *testing.T) (*osproc.Process, func()) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	cmd := exec.Command(exe, "-test.run=^$")
	for k, v := range h.agentEnv() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	require.NoError(t, cmd.Start())
	var once sync.Once
	kill := func() {
		once.Do(func() {
			cmd.Process.Kill()
			cmd.Wait()
		})
	}
	t.Cleanup(kill)
	target, err := osproc.FromOS(cmd.Process)
	require.NoError(t, err)
	t.Cleanup(func() { target.Close() })
	return target, kill
}

func TestProcess_PIDClearedBeforeExitWait(t *testing.T) {
	h := newHarness(t)
	// Nothing closes the console, so the record waits on the target.
	h.host.onClose = nil
	target, kill := h.agentChild(t)

	p := h.m.New()
	require.NoError(t, p.Attach(target))
	waitConnected(t, p)
	require.Equal(t, target.PID(), p.PID())

	p.Dispose()
	require.Eventually(t, func() bool {
		return p.PID() == 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateClosing, p.State())
	assert.Equal(t, 1, h.m.Live(), "still waiting for the target to exit")

	kill()
	waitDone(t, p)
	assert.Equal(t, 0, h.m.Live())
	assert.Equal(t, StateDisposed, p.State())
}
