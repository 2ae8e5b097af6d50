package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/cmd"
	"github.com/okets/folder-mcp/internal/controlplane"
	"github.com/okets/folder-mcp/internal/daemonctl"
	"github.com/okets/folder-mcp/internal/lifecycle"
)

func statusMain(_ *cobra.Command, _ []string) error {
	record, ok, err := daemonctl.Discover()
	if err != nil {
		return fmt.Errorf("unable to check for a running daemon: %w", err)
	}
	if !ok {
		fmt.Println("daemon is not running")
		return nil
	}

	var daemonStatus controlplane.DaemonStatus
	if err := getJSON(record.HTTPPort, "/api/v0/status", &daemonStatus); err != nil {
		return fmt.Errorf("unable to query daemon status: %w", err)
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd()) && !color.NoColor
	fmt.Printf("daemon running, pid %d, started %s\n", record.PID, humanize.Time(record.StartTime))
	fmt.Printf("%d folder(s) managed\n", daemonStatus.FolderCount)
	for _, snapshot := range daemonStatus.Folders {
		printFolderSnapshot(snapshot, colorize)
	}
	return nil
}

func printFolderSnapshot(snapshot lifecycle.Snapshot, colorize bool) {
	state := string(snapshot.State)
	if colorize {
		state = stateColor(snapshot.State).Sprint(state)
	}
	fmt.Printf("  %s  %s  pending=%d success=%d failed=%d\n",
		snapshot.Path, state, snapshot.Queue.Pending, snapshot.Queue.Success, snapshot.Queue.Failed)
	if snapshot.LastError != nil {
		fmt.Printf("    last error: %s\n", snapshot.LastError)
	}
}

func stateColor(state lifecycle.State) *color.Color {
	switch state {
	case lifecycle.StateActive:
		return color.New(color.FgGreen)
	case lifecycle.StateError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

// getJSON issues a GET to the daemon's control plane, listening only on
// loopback, and decodes its JSON response into dest.
func getJSON(port int, path string, dest interface{}) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	response, err := http.Get(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(dest)
}

var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Report the daemon's status and the folders it manages",
	Args:         cmd.DisallowArguments,
	RunE:         statusMain,
	SilenceUsage: true,
}
