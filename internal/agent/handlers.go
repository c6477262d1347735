package agent

import (
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// Handlers returns the command table served to the owner. Detach only
// answers here; the detach itself starts once the answer is written.
func (a *Agent) Handlers() protocol.Handlers {
	return protocol.Handlers{
		protocol.CommandGetState:        a.getState,
		protocol.CommandSetState:        a.setState,
		protocol.CommandCheckWindowSize: a.checkWindowSize,
		protocol.CommandCheckWindowDpi:  a.checkWindowDpi,
		protocol.CommandActivated:       a.checkWindowSize,
		protocol.CommandDeactivated:     empty,
		protocol.CommandClosed:          empty,
		protocol.CommandDetach:          empty,
	}
}

func empty(value.Object) value.Object { return value.NewObject() }

func (a *Agent) getState(value.Object) value.Object {
	c := a.console
	resp := value.NewObject()

	resp.Set(protocol.KeyAliases, value.ObjectValue(aliasesObject(c.Aliases())))

	colors := value.NewObject()
	if p, ok := c.Palette(); ok {
		colors = paletteObject(p)
	}
	resp.Set(protocol.KeyColors, value.ObjectValue(colors))

	dir, err := c.Directory()
	if err != nil {
		a.log.WithError(err).Debug("failed to read directory")
	}
	resp.SetString(protocol.KeyDirectory, dir)

	env := value.ParseNameValuePairs(c.EnvironmentBlock(), 0)
	resp.Set(protocol.KeyEnvironment, value.ObjectValue(env))
	resp.SetString(protocol.KeyExecutable, c.Executable())

	title := ""
	if c.Window() != 0 {
		title = c.Title()
	}
	resp.SetString(protocol.KeyTitle, title)
	return resp
}

func (a *Agent) setState(msg value.Object) value.Object {
	c := a.console
	log := a.log

	if v := msg.Get(protocol.KeyAliases); v.Kind() == value.KindObject {
		aliases := v.Object()
		for _, exe := range aliases.Keys() {
			defs := aliases.Get(exe)
			if defs.Kind() != value.KindObject {
				continue
			}
			for name, target := range defs.Object().StringMap() {
				if err := c.AddAlias(exe, name, target); err != nil {
					log.WithError(err).WithField("alias", name).Debug("failed to add alias")
				}
			}
		}
	}

	if v := msg.Get(protocol.KeyColors); v.Kind() == value.KindObject {
		if p, ok := c.Palette(); ok {
			if err := c.SetPalette(applyPalette(p, v.Object())); err != nil {
				log.WithError(err).Debug("failed to set palette")
			}
		}
	}

	if dir := msg.GetString(protocol.KeyDirectory); dir != "" {
		if err := c.SetDirectory(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Debug("failed to set directory")
		}
	}

	if v := msg.Get(protocol.KeyEnvironment); v.Kind() == value.KindObject {
		for name, val := range v.Object().StringMap() {
			if err := c.Setenv(name, val); err != nil {
				log.WithError(err).WithField("name", name).Debug("failed to set variable")
			}
		}
	}

	if v := msg.Get(protocol.KeyTitle); v.Kind() == value.KindString {
		if err := c.SetTitle(v.Str()); err != nil {
			log.WithError(err).Debug("failed to set title")
		}
	}
	return value.NewObject()
}

func (a *Agent) checkWindowSize(value.Object) value.Object {
	a.console.FitToParent(false)
	return value.NewObject()
}

func (a *Agent) checkWindowDpi(value.Object) value.Object {
	a.console.DpiChanged()
	return value.NewObject()
}
