package agent

import (
	"time"

	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// drift remembers the last title and environment reported to the owner.
type drift struct {
	title string
	env   string
}

// changes returns the StateChanged messages needed to bring the owner up
// to date, and records the new state. The first call reports
// everything.
func (d *drift) changes(c Console) []value.Object {
	var out []value.Object

	if c.Window() != 0 {
		if title := c.Title(); title != d.title {
			d.title = title
			msg := protocol.NewMessage(protocol.CommandStateChanged)
			msg.SetString(protocol.KeyTitle, title)
			out = append(out, msg)
		}
	}

	if env := c.EnvironmentBlock(); env != "" && env != d.env {
		d.env = env
		msg := protocol.NewMessage(protocol.CommandStateChanged)
		msg.Set(protocol.KeyEnvironment, value.ObjectValue(value.ParseNameValuePairs(env, 0)))
		out = append(out, msg)
	}
	return out
}

// watchdog kills this process when the owner dies and otherwise keeps
// the owner's view of title, environment and window size current.
func (a *Agent) watchdog() error {
	var d drift
	ticker := time.NewTicker(a.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return nil
		case <-a.owner.Done():
			a.log.Warn("owner exited, terminating")
			a.console.Terminate()
			return nil
		case <-ticker.C:
			for _, msg := range d.changes(a.console) {
				a.sendToOwner(msg)
			}
			a.console.FitToParent(true)
		}
	}
}

// findWindow announces the console window once it exists.
func (a *Agent) findWindow() error {
	for {
		if hwnd := a.console.Window(); hwnd != 0 {
			msg := protocol.NewMessage(protocol.CommandWindowCreated)
			msg.SetString(protocol.KeyHWND, protocol.FormatHWND(hwnd))
			a.sendToOwner(msg)
			return nil
		}
		select {
		case <-a.ctx.Done():
			return nil
		case <-a.owner.Done():
			return nil
		case <-time.After(a.windowPoll):
		}
	}
}

// hookWindow runs in the console driver: the owner answers
// ConhostInjected with the console window it embedded, and the key
// filter goes on that window.
func (a *Agent) hookWindow() error {
	resp, err := a.sendToOwner(protocol.NewMessage(protocol.CommandConhostInjected))
	if err != nil {
		return nil
	}
	hwnd := protocol.ParseHWND(resp.GetString(protocol.KeyHWND))
	if hwnd == 0 || a.filter == nil {
		return nil
	}
	if err := a.filter.Install(hwnd, func() { go a.Detach() }); err != nil {
		a.log.WithError(err).Debug("key filter not installed")
	}
	return nil
}
