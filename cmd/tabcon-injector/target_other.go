//go:build !windows

package main

import (
	"github.com/standardbeagle/tabcon/internal/inject"
	"github.com/standardbeagle/tabcon/internal/osproc"
)

func openTarget(uintptr) (*osproc.Process, error) { return nil, inject.ErrUnsupported }
