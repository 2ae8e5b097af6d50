//go:build !windows

package main

import "syscall"

// detachedProcessAttributes detaches the daemon from the starting
// terminal's session so it survives the launching shell exiting.
var detachedProcessAttributes = &syscall.SysProcAttr{
	Setsid: true,
}
