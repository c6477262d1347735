// Package osproc wraps an owned OS process handle.
//
// A *Process is the single owner of its handle: Close releases it
// exactly once and is safe to call repeatedly. Duplicate yields an
// independent owner of the same process. Done exposes process exit as a
// channel so blocking operations can race it with other signals.
package osproc

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported is returned on platforms without process handles.
	ErrUnsupported = errors.New("process handles are not supported on this platform")
	// ErrClosed is returned when using a Process after Close.
	ErrClosed = errors.New("process handle closed")
	// ErrNotFound is returned when no matching process exists.
	ErrNotFound = errors.New("process not found")
)

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FindChild returns the first child of parent whose image base name
// equals name, compared case-insensitively.
func FindChild(parent uint32, name string) (*Process, error) {
	children, err := Children(parent)
	if err != nil {
		return nil, err
	}
	for _, pid := range children {
		path, err := ImagePath(pid)
		if err != nil {
			continue
		}
		if strings.EqualFold(baseName(path), name) {
			return Open(pid)
		}
	}
	return nil, ErrNotFound
}

// FindByName lists the pids whose image base name matches one of names.
func FindByName(names []string) ([]uint32, error) {
	pids, err := All()
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, pid := range pids {
		path, err := ImagePath(pid)
		if err != nil {
			continue
		}
		if HasImageSuffix(path, names) {
			out = append(out, pid)
		}
	}
	return out, nil
}

// HasImageSuffix reports whether path ends with any of the given
// executable names, compared case-insensitively on a path separator
// boundary.
func HasImageSuffix(path string, names []string) bool {
	base := baseName(path)
	for _, n := range names {
		if strings.EqualFold(base, n) {
			return true
		}
	}
	return false
}

// baseName handles both separators so Windows paths classify correctly
// regardless of the build platform.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}
