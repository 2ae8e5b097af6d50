//go:build windows

package daemonctl

import (
	"github.com/hectane/go-acl"
)

// restrictToOwner restricts path to the current user via an explicit ACL.
// os.Chmod on Windows only ever toggles the read-only attribute; it does not
// touch the ACL, so other local accounts can still read the registry file
// (which carries the daemon's pid and instance id) after a plain os.Chmod.
// acl.Chmod rewrites the DACL to approximate the POSIX bits instead.
func restrictToOwner(path string) error {
	return acl.Chmod(path, 0o600)
}
