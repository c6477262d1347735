package main

import "github.com/standardbeagle/tabcon/internal/agent"

func windowFilter() agent.WindowFilter { return agent.NewWindowFilter() }
