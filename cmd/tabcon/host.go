package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/standardbeagle/tabcon/internal/dispatch"
	"github.com/standardbeagle/tabcon/internal/remote"
	"github.com/standardbeagle/tabcon/internal/value"
)

// consoleHost is the terminal front end: each record is a numbered tab
// and its events are printed as they arrive. Callbacks run on the
// session queue, which stands in for a UI thread.
type consoleHost struct {
	remote.BaseHost

	mu   sync.Mutex
	out  io.Writer
	eol  string
	tabs []*remote.Process
}

func newConsoleHost(q *dispatch.Queue, out io.Writer) *consoleHost {
	return &consoleHost{
		BaseHost: remote.BaseHost{Poster: q},
		out:      out,
		eol:      "\n",
	}
}

// add numbers p as the next tab.
func (h *consoleHost) add(p *remote.Process) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs = append(h.tabs, p)
	return len(h.tabs)
}

func (h *consoleHost) list() []*remote.Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*remote.Process(nil), h.tabs...)
}

func (h *consoleHost) name(p *remote.Process) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, t := range h.tabs {
		if t == p {
			return fmt.Sprintf("tab %d", i+1)
		}
	}
	return "tab ?"
}

// setRaw switches line endings for a terminal in raw mode.
func (h *consoleHost) setRaw(raw bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if raw {
		h.eol = "\r\n"
	} else {
		h.eol = "\n"
	}
}

func (h *consoleHost) printf(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, format+h.eol, args...)
}

func (h *consoleHost) EmbedWindow(p *remote.Process, hwnd uintptr) bool {
	embedded := h.BaseHost.EmbedWindow(p, hwnd)
	h.printf("%s: console window %#x", h.name(p), hwnd)
	return embedded
}

func (h *consoleHost) TitleChanged(p *remote.Process, title string) {
	h.printf("%s: title %q", h.name(p), title)
}

func (h *consoleHost) EnvironmentChanged(p *remote.Process, env value.Object) {
	h.printf("%s: environment (%d variables)", h.name(p), env.Len())
}

func (h *consoleHost) ProcessClosing(p *remote.Process) {
	h.BaseHost.ProcessClosing(p)
	h.printf("%s: closing", h.name(p))
}

func (h *consoleHost) ProcessClosed(p *remote.Process) {
	h.printf("%s: closed", h.name(p))
}
