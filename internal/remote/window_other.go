//go:build !windows

package remote

func embedWindow(parent, hwnd uintptr) error { return ErrUnsupported }

func showWindow(uintptr) {}

func releaseWindow(parent, hwnd uintptr) {}

func closeWindow(uintptr) {}
