package remote

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/agent"
	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

func (p *Process) startFrom(info value.Object) {
	spec := LaunchSpecFrom(info)
	target, err := p.m.launcher.Launch(p.ctx, spec)
	if err != nil {
		p.log.WithError(err).WithField("exe", spec.Executable).Warn("failed to launch process")
		p.post(p.Dispose)
		p.end()
		return
	}
	p.lifecycle(target, true, info)
}

// lifecycle owns target for the life of the attachment: open our
// channel, inject, let the target run, seed its state, wait for the
// agent, publish the pid, run both message loops, then tear down.
func (p *Process) lifecycle(target *osproc.Process, created bool, info value.Object) {
	defer p.end()
	defer target.Close()

	log := p.log.WithFields(logrus.Fields{"pid": target.PID(), "created": created})
	p.state.Advance(StateInjecting)

	injected := false
	ep, err := pipe.Create(p.ctx, target, p.pipeOptions()...)
	if err != nil {
		log.WithError(err).Warn("failed to create channel")
	} else if err := p.m.injector.Inject(p.ctx, target, p.m.allowCross); err != nil {
		log.WithError(err).Warn("failed to inject agent")
	} else {
		injected = true
	}

	if injected {
		if created {
			if err := target.Resume(); err != nil {
				log.WithError(err).Warn("failed to resume process")
			}
		}
		if seed, ok := protocol.SeedState(info); ok {
			p.SendAsync(seed)
		}
		if err := ep.WaitForClient(); err != nil {
			log.WithError(err).Debug("agent never connected")
		} else {
			p.pid.Store(target.PID())
			p.state.Advance(StateRunning)
			log.Info("agent connected")
			if p.ctx.Err() != nil {
				// Disposed while the pid was still hidden.
				p.notifyClosing()
			}
			p.run(ep, target, log)
			p.pid.Store(0)
		}
	}
	if ep != nil {
		ep.Close()
	}

	p.state.Advance(StateClosing)
	if !p.m.host.Post(p.Dispose) {
		p.Dispose()
	}

	// After a detach the target is none of our business.
	if p.detached.Load() {
		return
	}
	if created && (!injected || p.childWindow.Load() == 0) {
		// A process we made that never got a window for the host to
		// close is still suspended or hidden; nobody else will end it.
		if err := target.Terminate(0); err != nil {
			log.WithError(err).Debug("failed to terminate process")
		}
	}
	if injected || created {
		p.waitExit(target, created, log)
	}
}

// waitExit waits for target to exit. If the manager gives up first, a
// process we created is killed.
func (p *Process) waitExit(target *osproc.Process, created bool, log logrus.FieldLogger) {
	select {
	case <-target.Done():
		log.Debug("process exited")
	case <-p.m.killCtx.Done():
		if created {
			log.Warn("killing process")
			target.Terminate(1)
			<-target.Done()
		}
	}
}

// end finishes the record once its lifecycle is over: all background
// goroutines are waited for, the outbound channel is closed and the
// record stops counting as live.
func (p *Process) end() {
	p.cancel()

	p.bgMu.Lock()
	p.ended = true
	p.bgMu.Unlock()
	p.wg.Done()
	p.wg.Wait()

	p.pipeMu.Lock()
	if p.out != nil {
		p.out.Close()
		p.out = nil
	}
	p.pipeMu.Unlock()
	p.ioCancel()

	p.pid.Store(0)
	p.state.Advance(StateDisposed)
	p.m.release(p)
	p.post(func() { p.m.host.ProcessClosed(p) })
	p.closeDone()
}

// goBackground runs fn on a goroutine that end waits for. It refuses once
// the record has ended.
func (p *Process) goBackground(fn func()) bool {
	p.bgMu.Lock()
	defer p.bgMu.Unlock()
	if p.ended {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
	return true
}

// run serves the agent's notifications and drains the send queue until
// the inbound channel closes, then flushes what is left.
func (p *Process) run(ep *pipe.Endpoint, target *osproc.Process, log logrus.FieldLogger) {
	sendCtx, stopSender := context.WithCancel(p.ctx)
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		p.sender(sendCtx, target)
	}()

	err := ep.RunServer(p.inbound(target).Serve)
	log.WithError(err).Debug("inbound channel closed")

	stopSender()
	<-senderDone
	p.flush()
}

func (p *Process) sender(ctx context.Context, target *osproc.Process) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-target.Done():
			return
		case <-p.wake:
		}
		// Until the agent's channel is up, messages wait in the queue.
		if !p.isConnected() {
			continue
		}
		p.sendAll(p.takeQueue())
	}
}

// flush sends whatever is still queued, best effort.
func (p *Process) flush() {
	for {
		msgs := p.takeQueue()
		if len(msgs) == 0 {
			return
		}
		p.sendAll(msgs)
	}
}

func (p *Process) isConnected() bool {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	return p.out != nil
}

func (p *Process) takeQueue() []value.Object {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	msgs := p.queue
	p.queue = nil
	return msgs
}

func (p *Process) sendAll(msgs []value.Object) {
	for _, msg := range msgs {
		if _, err := p.Transact(p.ioCtx, msg); err != nil {
			p.log.WithError(err).WithField("command", protocol.CommandName(msg)).Debug("queued message not delivered")
		}
	}
}

// inbound answers the agent's notifications.
func (p *Process) inbound(target *osproc.Process) protocol.Handlers {
	return protocol.Handlers{
		protocol.CommandPipeCreated: func(value.Object) value.Object {
			p.connectBack(target)
			return value.NewObject()
		},
		protocol.CommandWindowCreated: func(msg value.Object) value.Object {
			if hwnd := protocol.ParseHWND(msg.GetString(protocol.KeyHWND)); hwnd != 0 {
				p.post(func() { p.embed(hwnd) })
			}
			return value.NewObject()
		},
		protocol.CommandStateChanged: func(msg value.Object) value.Object {
			p.handleNewState(msg)
			return value.NewObject()
		},
	}
}

// connectBack opens the outbound channel to the agent's server and wakes
// the sender.
func (p *Process) connectBack(target *osproc.Process) {
	ep, err := pipe.Connect(p.ioCtx, target, p.pipeOptions()...)
	if err != nil {
		p.log.WithError(err).WithField("pid", target.PID()).Warn("failed to connect to agent")
		return
	}
	p.pipeMu.Lock()
	old := p.out
	p.out = ep
	p.pipeMu.Unlock()
	if old != nil {
		old.Close()
	}
	p.connectedOnce.Do(func() { close(p.connected) })
	p.kick()
}

func (p *Process) handleResponse(c protocol.Command, resp value.Object) {
	if c == protocol.CommandGetState {
		p.handleNewState(resp)
	}
}

// handleNewState caches a GetState answer or a StateChanged
// notification and tells the host.
func (p *Process) handleNewState(state value.Object) {
	if v := state.Get(protocol.KeyTitle); v.Kind() == value.KindString {
		title := v.Str()
		p.cacheMu.Lock()
		p.title = title
		p.cacheMu.Unlock()
		p.post(func() { p.m.host.TitleChanged(p, title) })
	}
	if v := state.Get(protocol.KeyEnvironment); v.Kind() == value.KindObject {
		env := v.Object()
		p.cacheMu.Lock()
		p.env = env.Clone()
		p.cacheMu.Unlock()
		p.post(func() { p.m.host.EnvironmentChanged(p, env) })
	}
	if v := state.Get(protocol.KeyDirectory); v.Kind() == value.KindString {
		p.cacheMu.Lock()
		p.directory = v.Str()
		p.cacheMu.Unlock()
	}
}

// embed runs on the host's main thread when the console window appears.
func (p *Process) embed(hwnd uintptr) {
	if p.pid.Load() == 0 || p.ctx.Err() != nil {
		return
	}
	embedded := p.m.host.EmbedWindow(p, hwnd)
	p.childWindow.Store(hwnd)

	p.send(protocol.CommandGetState)
	p.send(protocol.CommandCheckWindowSize)
	if embedded {
		p.injectDriver(hwnd)
	}
}

// injectDriver puts the agent into the console driver of the target so
// its key filter can route accelerators to the host window. The driver
// asks for its window over a channel of its own.
func (p *Process) injectDriver(hwnd uintptr) {
	pid := p.pid.Load()
	p.goBackground(func() {
		log := p.log.WithField("pid", pid)
		driver, err := osproc.FindChild(pid, agent.ConsoleDriverName)
		if err != nil {
			log.WithError(err).Debug("console driver not found")
			return
		}
		defer driver.Close()

		ep, err := pipe.Create(p.ctx, driver, p.pipeOptions()...)
		if err != nil {
			log.WithError(err).Debug("failed to create console driver channel")
			return
		}
		defer ep.Close()
		if err := p.m.injector.Inject(p.ctx, driver, p.m.allowCross); err != nil {
			log.WithError(err).Debug("failed to inject console driver")
			return
		}
		if err := ep.WaitForClient(); err != nil {
			return
		}
		ep.RunServer(protocol.Handlers{
			protocol.CommandConhostInjected: func(value.Object) value.Object {
				resp := value.NewObject()
				resp.SetString(protocol.KeyHWND, protocol.FormatHWND(hwnd))
				return resp
			},
		}.Serve)
	})
}

func (p *Process) pipeOptions() []pipe.Option {
	return append([]pipe.Option{pipe.WithLogger(p.log)}, p.m.pipeOpts...)
}
