// Command folder-daemon controls the lifecycle of the folder-mcp indexing
// daemon: running it in the foreground, starting/stopping a detached
// instance, and reporting its status.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/cmd"
)

func rootMain(command *cobra.Command, _ []string) error {
	command.Help()
	return nil
}

var rootCommand = &cobra.Command{
	Use:          "folder-daemon",
	Short:        "Control the lifecycle of the folder-mcp indexing daemon",
	RunE:         rootMain,
	SilenceUsage: true,
}

func init() {
	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		runCommand,
		startCommand,
		stopCommand,
		statusCommand,
		addFolderCommand,
		removeFolderCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
