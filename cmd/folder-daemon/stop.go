package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/cmd"
	"github.com/okets/folder-mcp/internal/daemonctl"
)

func stopMain(_ *cobra.Command, _ []string) error {
	record, ok, err := daemonctl.Discover()
	if err != nil {
		return fmt.Errorf("unable to check for a running daemon: %w", err)
	}
	if !ok {
		return nil
	}

	process, err := os.FindProcess(record.PID)
	if err != nil {
		return fmt.Errorf("unable to locate daemon process %d: %w", record.PID, err)
	}
	if err := process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("unable to signal daemon process %d: %w", record.PID, err)
	}

	for i := 0; i < stopPollAttempts; i++ {
		if _, stillRunning, err := daemonctl.Discover(); err != nil {
			return fmt.Errorf("unable to check daemon status: %w", err)
		} else if !stillRunning {
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return fmt.Errorf("daemon did not exit within the expected time")
}

const (
	stopPollAttempts = 20
	stopPollInterval = 250 * time.Millisecond
)

var stopCommand = &cobra.Command{
	Use:          "stop",
	Short:        "Stop the running folder-mcp daemon",
	Args:         cmd.DisallowArguments,
	RunE:         stopMain,
	SilenceUsage: true,
}
