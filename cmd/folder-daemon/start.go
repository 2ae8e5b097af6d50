package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/cmd"
	"github.com/okets/folder-mcp/internal/daemonctl"
)

func startMain(_ *cobra.Command, _ []string) error {
	if _, ok, err := daemonctl.Discover(); err != nil {
		return fmt.Errorf("unable to check for a running daemon: %w", err)
	} else if ok {
		return nil
	}

	executablePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("unable to determine executable path: %w", err)
	}

	daemonProcess := &exec.Cmd{
		Path:        executablePath,
		Args:        []string{executablePath, "run"},
		SysProcAttr: detachedProcessAttributes,
	}
	if err := daemonProcess.Start(); err != nil {
		return fmt.Errorf("unable to start daemon: %w", err)
	}
	return nil
}

var startCommand = &cobra.Command{
	Use:          "start",
	Short:        "Start the folder-mcp daemon if it's not already running",
	Args:         cmd.DisallowArguments,
	RunE:         startMain,
	SilenceUsage: true,
}
