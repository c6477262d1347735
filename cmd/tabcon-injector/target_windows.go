package main

import (
	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

// openTarget adopts the process handle inherited from tabcon.
func openTarget(handle uintptr) (*osproc.Process, error) {
	return osproc.FromHandle(windows.Handle(handle), 0)
}
