package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/internal/controlplane"
	"github.com/okets/folder-mcp/internal/daemonctl"
)

func addFolderMain(_ *cobra.Command, arguments []string) error {
	record, ok, err := daemonctl.Discover()
	if err != nil {
		return fmt.Errorf("unable to check for a running daemon: %w", err)
	}
	if !ok {
		return fmt.Errorf("daemon is not running")
	}

	body, err := json.Marshal(controlplane.AddFolderRequest{
		Path:  arguments[0],
		Model: addFolderConfiguration.model,
	})
	if err != nil {
		return fmt.Errorf("unable to encode request: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v0/folders", record.HTTPPort)
	response, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unable to reach daemon: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		var errorBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(response.Body).Decode(&errorBody)
		return fmt.Errorf("daemon rejected folder: %s", errorBody.Error)
	}
	return nil
}

var addFolderConfiguration struct {
	model string
}

var addFolderCommand = &cobra.Command{
	Use:          "add-folder <path>",
	Short:        "Begin managing a folder",
	Args:         cobra.ExactArgs(1),
	RunE:         addFolderMain,
	SilenceUsage: true,
}

func init() {
	flags := addFolderCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&addFolderConfiguration.model, "model", "", "Embedding model id to use for this folder")
}
