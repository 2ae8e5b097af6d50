//go:build !windows

package daemonctl

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// daemonSignature is a substring expected in the command line of a genuine
// folder-mcp daemon process, used by findRunningSignature to recognise a
// peer daemon in the process list. processAlive does not check it.
const daemonSignature = "folder-daemon"

// processAlive reports whether pid names a live process, via a zero-signal
// probe: sending signal 0 checks for existence regardless of whether the
// caller has permission to actually signal it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == os.ErrPermission || strings.Contains(err.Error(), "operation not permitted")
}

// findRunningSignature scans /proc for a process whose command line carries
// the daemon signature, returning its pid. It returns false if /proc isn't
// available (e.g. non-Linux Unix) or no match is found; in that case the
// caller falls back to the registry file alone.
func findRunningSignature() (int, bool) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}

	self := os.Getpid()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		if strings.Contains(string(cmdline), daemonSignature) {
			return pid, true
		}
	}
	return 0, false
}
