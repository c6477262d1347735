//go:build !windows

package agent

// desktopOwners falls back to matching process image names; there is
// no desktop to walk.
func desktopOwners(names []string) OwnerLocator { return processOwners(names) }
