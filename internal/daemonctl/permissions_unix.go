//go:build !windows

package daemonctl

import "os"

// restrictToOwner restricts path to owner-only read/write via the ordinary
// POSIX permission bits.
func restrictToOwner(path string) error {
	return os.Chmod(path, 0o600)
}
