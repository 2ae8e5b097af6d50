//go:build windows

package daemonctl

import (
	"golang.org/x/sys/windows"
)

// processAlive reports whether pid names a live process. Windows has no
// signal-0 equivalent, so liveness is probed by attempting to open the
// process with the weakest possible access right.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}

// findRunningSignature is a no-op on Windows: there is no portable way to
// enumerate process command lines without an additional dependency, so
// singleton enforcement there relies solely on the registry file.
func findRunningSignature() (int, bool) {
	return 0, false
}
