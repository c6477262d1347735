package remote

import (
	"github.com/standardbeagle/tabcon/internal/value"
)

// Host is the windowing shell that owns remote process records. Post
// runs fn on the shell's main thread; every other method is only ever
// called from a posted task.
type Host interface {
	Post(fn func()) bool
	// EmbedWindow adopts a console window that just appeared. It reports
	// whether the window was made a child of the record's host window.
	EmbedWindow(p *Process, hwnd uintptr) bool
	// ReleaseWindow turns an embedded console window back into a
	// standalone top-level window and asks its console driver to detach.
	ReleaseWindow(p *Process, hwnd uintptr)
	TitleChanged(p *Process, title string)
	EnvironmentChanged(p *Process, env value.Object)
	// ProcessClosing runs when a record is disposed without detaching;
	// the console is asked to close.
	ProcessClosing(p *Process)
	// ProcessClosed runs once the record's background work is over.
	ProcessClosed(p *Process)
}

// Poster runs functions on a main thread. *dispatch.Queue is one.
type Poster interface {
	Post(fn func()) bool
}

// BaseHost is a Host that manages console windows and ignores state
// notifications. Embed it and override what you need.
type BaseHost struct {
	Poster Poster
}

func (h BaseHost) Post(fn func()) bool {
	if h.Poster == nil {
		fn()
		return true
	}
	return h.Poster.Post(fn)
}

// EmbedWindow parents hwnd to the record's host window when it has one.
// Without one the console is simply shown.
func (BaseHost) EmbedWindow(p *Process, hwnd uintptr) bool {
	if parent := p.HostWindow(); parent != 0 {
		if err := embedWindow(parent, hwnd); err == nil {
			return true
		}
	}
	showWindow(hwnd)
	return false
}

func (BaseHost) ReleaseWindow(p *Process, hwnd uintptr) { releaseWindow(p.HostWindow(), hwnd) }

func (BaseHost) TitleChanged(*Process, string) {}

func (BaseHost) EnvironmentChanged(*Process, value.Object) {}

func (BaseHost) ProcessClosing(p *Process) {
	if hwnd := p.ChildWindow(); hwnd != 0 {
		closeWindow(hwnd)
	}
}

func (BaseHost) ProcessClosed(*Process) {}
