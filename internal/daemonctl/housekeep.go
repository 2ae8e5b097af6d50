package daemonctl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mutagen-io/extstat"

	"github.com/okets/folder-mcp/internal/logging"
)

// maximumOrphanedTempFileAge is how long a "daemon-*.json.tmp" left behind by
// a writeRecord call that crashed mid-rename is allowed to sit in the data
// directory before Housekeep removes it.
const maximumOrphanedTempFileAge = 24 * time.Hour

// Housekeep removes orphaned temporary registry files left behind by a
// writeRecord call that was interrupted between CreateTemp and Rename (e.g.
// the daemon was killed mid-write). It is safe to call on every daemon
// start; a temp file younger than maximumOrphanedTempFileAge is left alone
// in case a concurrent writeRecord legitimately still owns it.
func Housekeep(logger *logging.Logger) {
	entries, err := os.ReadDir(dataDirectoryPath)
	if err != nil {
		return
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "daemon-") || !strings.HasSuffix(name, ".json.tmp") {
			continue
		}

		fullPath := filepath.Join(dataDirectoryPath, name)
		stat, err := extstat.NewFromFileName(fullPath)
		if err != nil {
			continue
		}
		if now.Sub(stat.AccessTime) <= maximumOrphanedTempFileAge {
			continue
		}

		if err := os.Remove(fullPath); err != nil && logger != nil {
			logger.Warn(fmt.Errorf("unable to remove orphaned registry temp file %s: %w", name, err))
		}
	}
}
