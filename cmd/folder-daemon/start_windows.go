//go:build windows

package main

import "syscall"

const (
	detachedProcess       = 0x00000008
	createNewProcessGroup = 0x00000200
)

// detachedProcessAttributes detaches the daemon from the starting
// console so it survives the launching shell exiting.
var detachedProcessAttributes = &syscall.SysProcAttr{
	CreationFlags: detachedProcess | createNewProcessGroup,
}
