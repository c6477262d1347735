package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabcon/internal/dispatch"
	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// recordingHost runs posted tasks inline and remembers notifications.
type recordingHost struct {
	BaseHost

	mu       sync.Mutex
	titles   []string
	envs     []value.Object
	closing  int
	closed   int
	released []uintptr
	onClose  func(p *Process)
}

func (h *recordingHost) Post(fn func()) bool {
	fn()
	return true
}

func (h *recordingHost) EmbedWindow(*Process, uintptr) bool { return false }

func (h *recordingHost) ReleaseWindow(_ *Process, hwnd uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, hwnd)
}

func (h *recordingHost) TitleChanged(_ *Process, title string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.titles = append(h.titles, title)
}

func (h *recordingHost) EnvironmentChanged(_ *Process, env value.Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
}

func (h *recordingHost) ProcessClosing(p *Process) {
	h.mu.Lock()
	h.closing++
	fn := h.onClose
	h.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (h *recordingHost) ProcessClosed(*Process) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *recordingHost) counts() (closing, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing, h.closed
}

type failingLauncher struct{ err error }

func (l failingLauncher) Launch(context.Context, LaunchSpec) (*osproc.Process, error) {
	return nil, l.err
}

type failingInjector struct{ err error }

func (i failingInjector) Inject(context.Context, *osproc.Process, bool) error { return i.err }

func quiet() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("record did not finish (state %s)", p.State())
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "disposed", StateDisposed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestStateBox_AdvanceOnlyMovesForward(t *testing.T) {
	var b stateBox
	assert.True(t, b.Advance(StateInjecting))
	assert.False(t, b.Advance(StateStarting))
	assert.Equal(t, StateInjecting, b.Load())
	assert.True(t, b.Advance(StateDisposed))
	assert.False(t, b.Advance(StateClosing))
	assert.False(t, b.CompareAndSwap(StateCreated, StateRunning))
}

func TestLaunchSpecFrom(t *testing.T) {
	info := value.NewObject()
	info.SetString(protocol.KeyExecutable, `C:\Windows\System32\cmd.exe`)
	info.SetString(protocol.KeyArguments, `/k echo "hi"`)
	info.SetString(protocol.KeyDirectory, `C:\src`)
	info.Set(protocol.KeyEnvironment, value.ObjectValue(value.FromStringMap(map[string]string{"b": "2", "A": "1"})))
	info.SetString(protocol.KeyTitle, "ignored")

	spec := LaunchSpecFrom(info)
	assert.Equal(t, `"C:\Windows\System32\cmd.exe" /k echo "hi"`, spec.CommandLine())
	assert.Equal(t, "A=1\x00b=2\x00\x00", spec.EnvironmentBlock())
	assert.Equal(t, `C:\src`, spec.Directory)
}

func TestLaunchSpec_EmptyEnvironmentInherits(t *testing.T) {
	assert.Equal(t, "", LaunchSpec{}.EnvironmentBlock())
	assert.Equal(t, "", LaunchSpec{Environment: value.NewObject()}.EnvironmentBlock())
	assert.Equal(t, `"x" `, LaunchSpec{Executable: "x"}.CommandLine())
}

func TestLaunchSpec_StartDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, LaunchSpec{Directory: dir}.StartDirectory())
	assert.Equal(t, "", LaunchSpec{Directory: dir + "/missing"}.StartDirectory())
	assert.Equal(t, "", LaunchSpec{}.StartDirectory())
}

func TestDriveLetter(t *testing.T) {
	tests := []struct {
		path string
		want byte
		ok   bool
	}{
		{"c:", 'c', true},
		{`D:\`, 'd', true},
		{"z:", 'z', true},
		{`c:\x`, 0, false},
		{"c:/", 0, false},
		{"1:", 0, false},
		{"cc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := driveLetter(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_WaitWithNothingLive(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	assert.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, 0, m.Live())
}

func TestManager_WaitHonorsContext(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	p := m.New()
	require.NoError(t, m.acquire(p))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()
	m.release(p)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait not woken by release")
	}
	m.release(p)
	assert.Equal(t, 0, m.Live())
}

func TestProcess_DisposeBeforeStart(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	p := m.New()
	assert.Equal(t, StateCreated, p.State())
	assert.Zero(t, p.PID())

	p.Dispose()
	p.Dispose()
	waitDone(t, p)
	assert.Equal(t, StateDisposed, p.State())
	assert.ErrorIs(t, p.Start(value.NewObject()), ErrInvalidState)
	assert.NoError(t, p.Close(context.Background()))
}

func TestProcess_DetachBeforeStart(t *testing.T) {
	h := &recordingHost{}
	m := NewManager(h, WithLogger(quiet()))
	p := m.New()
	p.Detach()
	waitDone(t, p)
	assert.Empty(t, h.released)
	assert.Zero(t, p.PID())
}

func TestProcess_TransactNotConnected(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	p := m.New()
	_, err := p.GetState(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestProcess_LaunchFailureEnds(t *testing.T) {
	h := &recordingHost{}
	m := NewManager(h, WithLogger(quiet()), WithLauncher(failingLauncher{err: errors.New("no such file")}))
	p := m.New()

	info := value.NewObject()
	info.SetString(protocol.KeyExecutable, "missing.exe")
	require.NoError(t, p.Start(info))
	waitDone(t, p)

	assert.Equal(t, StateDisposed, p.State())
	assert.Equal(t, 0, m.Live())
	closing, closed := h.counts()
	assert.Zero(t, closing)
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, p.Start(info), ErrInvalidState)
}

func TestProcess_CloneOfUnconnectedEnds(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	src := m.New()
	p := m.New()
	require.NoError(t, p.Clone(src))
	waitDone(t, p)
	assert.Equal(t, StateDisposed, p.State())
	assert.Equal(t, 0, m.Live())
}

func TestManager_ShutdownRefusesNew(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	require.NoError(t, m.Shutdown(context.Background()))

	p := m.New()
	assert.ErrorIs(t, p.Start(value.NewObject()), ErrShuttingDown)
	waitDone(t, p)
	assert.Equal(t, StateDisposed, p.State())
}

// blockingLauncher never launches; it waits for the record to go away.
type blockingLauncher struct{}

func (blockingLauncher) Launch(ctx context.Context, _ LaunchSpec) (*osproc.Process, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestManager_ShutdownDisposesOnPool(t *testing.T) {
	pool := dispatch.NewPool(1, quiet())
	block := make(chan struct{})
	require.True(t, pool.TryGo("busy", func() error { <-block; return nil }))

	m := NewManager(&recordingHost{}, WithLogger(quiet()), WithPool(pool), WithLauncher(blockingLauncher{}))
	p := m.New()
	require.NoError(t, p.Start(value.NewObject()))
	require.Equal(t, 1, m.Live())

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown finished while the pool was full")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, m.Live())

	close(block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, 0, m.Live())
	waitDone(t, p)
}

func TestManager_DefaultPoolIsShared(t *testing.T) {
	a := NewManager(&recordingHost{}, WithLogger(quiet()))
	b := NewManager(&recordingHost{}, WithLogger(quiet()))
	assert.Same(t, dispatch.Background(), a.pool)
	assert.Same(t, a.pool, b.pool)
}

func TestProcess_SendAsyncKeepsOrder(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	p := m.New()
	p.Activate()
	p.CheckWindowSize()
	p.SendDpiChanged()
	p.Deactivate()

	var got []protocol.Command
	for _, msg := range p.takeQueue() {
		got = append(got, protocol.CommandOf(msg))
	}
	assert.Equal(t, []protocol.Command{
		protocol.CommandActivated,
		protocol.CommandCheckWindowSize,
		protocol.CommandCheckWindowDpi,
		protocol.CommandDeactivated,
	}, got)
	assert.Empty(t, p.takeQueue())
}

func TestProcess_HandleNewState(t *testing.T) {
	h := &recordingHost{}
	m := NewManager(h, WithLogger(quiet()))
	p := m.New()

	state := protocol.NewMessage(protocol.CommandStateChanged)
	state.SetString(protocol.KeyTitle, "make")
	state.SetString(protocol.KeyDirectory, "/src")
	state.Set(protocol.KeyEnvironment, value.ObjectValue(value.FromStringMap(map[string]string{"A": "1"})))
	p.handleNewState(state)

	assert.Equal(t, "make", p.Title())
	assert.Equal(t, "/src", p.Directory())
	assert.Equal(t, "1", p.Environment().GetString("A"))
	assert.Equal(t, []string{"make"}, h.titles)
	require.Len(t, h.envs, 1)

	// Responses other than GetState leave the caches alone.
	other := value.NewObject()
	other.SetString(protocol.KeyTitle, "other")
	p.handleResponse(protocol.CommandSetState, other)
	assert.Equal(t, "make", p.Title())

	p.handleResponse(protocol.CommandGetState, other)
	assert.Equal(t, "other", p.Title())

	// A title of the wrong kind is ignored.
	bad := value.NewObject()
	bad.Set(protocol.KeyTitle, value.IntValue(1))
	p.handleNewState(bad)
	assert.Equal(t, "other", p.Title())
}

func TestProcess_Windows(t *testing.T) {
	m := NewManager(&recordingHost{}, WithLogger(quiet()))
	p := m.New()
	p.SetHostWindow(0x10)
	assert.Equal(t, uintptr(0x10), p.HostWindow())
	assert.Zero(t, p.ChildWindow())
}
