//go:build !windows

package inject

import (
	"context"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

func detectStrategy(*osproc.Process, bool) (Strategy, error) {
	return StrategyRefuse, ErrUnsupported
}

func loadRemote(context.Context, *osproc.Process, string) error {
	return ErrUnsupported
}

func runHelper(context.Context, *osproc.Process, string) error {
	return ErrUnsupported
}
