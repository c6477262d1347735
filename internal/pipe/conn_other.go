//go:build !windows && !linux

package pipe

import (
	"context"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

const pipeRoot = ""

func listen(string, *osproc.Process) (listener, error) {
	return nil, ErrUnsupported
}

func dial(context.Context, string, *osproc.Process) (conn, uint32, error) {
	return nil, 0, ErrUnsupported
}
