//go:build !windows

package agent

import (
	"os"
	"strings"
	"sync"
)

// processConsole stands in for a console on platforms without one. It
// has no window and no palette; title and aliases live in memory.
type processConsole struct {
	mu      sync.Mutex
	title   string
	aliases map[string]map[string]string
}

// SystemConsole returns the console of the current process.
func SystemConsole() Console {
	return &processConsole{aliases: make(map[string]map[string]string)}
}

func (*processConsole) Window() uintptr { return 0 }

func (c *processConsole) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *processConsole) SetTitle(title string) error {
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	return nil
}

func (*processConsole) Directory() (string, error) { return os.Getwd() }

func (*processConsole) SetDirectory(dir string) error { return os.Chdir(dir) }

func (*processConsole) EnvironmentBlock() string {
	env := os.Environ()
	if len(env) == 0 {
		return ""
	}
	return strings.Join(env, "\x00") + "\x00\x00"
}

func (*processConsole) Setenv(name, value string) error { return os.Setenv(name, value) }

func (*processConsole) Executable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}

func (c *processConsole) Aliases() map[string]map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]string, len(c.aliases))
	for exe, defs := range c.aliases {
		cp := make(map[string]string, len(defs))
		for k, v := range defs {
			cp[k] = v
		}
		out[exe] = cp
	}
	return out
}

func (c *processConsole) AddAlias(exe, name, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defs := c.aliases[exe]
	if defs == nil {
		defs = make(map[string]string)
		c.aliases[exe] = defs
	}
	if target == "" {
		delete(defs, name)
		return nil
	}
	defs[name] = target
	return nil
}

func (*processConsole) Palette() (Palette, bool) { return Palette{}, false }

func (*processConsole) SetPalette(Palette) error { return nil }

func (*processConsole) FitToParent(bool) {}

func (*processConsole) DpiChanged() {}

func (*processConsole) Terminate() { os.Exit(1) }
