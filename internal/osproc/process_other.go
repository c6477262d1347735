//go:build !windows && !linux

package osproc

import "os"

// Process is unavailable on this platform; every constructor fails with
// ErrUnsupported.
type Process struct {
	pid  uint32
	done chan struct{}
}

// Current fails with ErrUnsupported.
func Current() (*Process, error) { return nil, ErrUnsupported }

// Open fails with ErrUnsupported.
func Open(uint32) (*Process, error) { return nil, ErrUnsupported }

// FromOS fails with ErrUnsupported.
func FromOS(*os.Process) (*Process, error) { return nil, ErrUnsupported }

func (p *Process) PID() uint32 { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }
func (p *Process) Exited() bool { return false }
func (p *Process) Terminate(uint32) error { return ErrUnsupported }
func (p *Process) Resume() error { return nil }
func (p *Process) Suspended() bool { return false }
func (p *Process) Duplicate() (*Process, error) { return nil, ErrUnsupported }
func (p *Process) Close() error { return nil }

// All fails with ErrUnsupported.
func All() ([]uint32, error) { return nil, ErrUnsupported }

// Children fails with ErrUnsupported.
func Children(uint32) ([]uint32, error) { return nil, ErrUnsupported }

// ImagePath fails with ErrUnsupported.
func ImagePath(uint32) (string, error) { return "", ErrUnsupported }
