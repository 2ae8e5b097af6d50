package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/internal/daemonctl"
)

func removeFolderMain(_ *cobra.Command, arguments []string) error {
	record, ok, err := daemonctl.Discover()
	if err != nil {
		return fmt.Errorf("unable to check for a running daemon: %w", err)
	}
	if !ok {
		return fmt.Errorf("daemon is not running")
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/api/v0/folders?path=%s", record.HTTPPort, url.QueryEscape(arguments[0]))
	request, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return fmt.Errorf("unable to reach daemon: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		return fmt.Errorf("daemon returned status %d", response.StatusCode)
	}
	return nil
}

var removeFolderCommand = &cobra.Command{
	Use:          "remove-folder <path>",
	Short:        "Stop managing a folder",
	Args:         cobra.ExactArgs(1),
	RunE:         removeFolderMain,
	SilenceUsage: true,
}
