//go:build !windows

package main

import "github.com/standardbeagle/tabcon/internal/agent"

// Without console windows there is nothing to filter.
func windowFilter() agent.WindowFilter { return nil }
