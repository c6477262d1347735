package agent

import (
	"errors"
	"os"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

// processOwners finds owners by image name alone.
func processOwners(names []string) OwnerLocator {
	return func() ([]uint32, error) {
		pids, err := osproc.FindByName(names)
		if err != nil {
			return nil, err
		}
		self := uint32(os.Getpid())
		out := pids[:0]
		for _, pid := range pids {
			if pid != self {
				out = append(out, pid)
			}
		}
		return out, nil
	}
}

// mergeOwners lists the candidates of primary, then those of fallback
// that primary did not name. Either locator may fail alone.
func mergeOwners(primary, fallback OwnerLocator) OwnerLocator {
	return func() ([]uint32, error) {
		first, errPrimary := primary()
		rest, errFallback := fallback()
		if errPrimary != nil && errFallback != nil {
			return nil, errors.Join(errPrimary, errFallback)
		}

		seen := make(map[uint32]bool)
		var out []uint32
		for _, pids := range [][]uint32{first, rest} {
			for _, pid := range pids {
				if !seen[pid] {
					seen[pid] = true
					out = append(out, pid)
				}
			}
		}
		return out, nil
	}
}
