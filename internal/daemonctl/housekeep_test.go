package daemonctl

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHousekeepRemovesOldOrphanedTempFile(t *testing.T) {
	withTempDataDir(t)

	stale := filepath.Join(dataDirectoryPath, "daemon-stale.json.tmp")
	if err := os.WriteFile(stale, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	Housekeep(nil)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale orphaned temp file to be removed, stat err: %v", err)
	}
}

func TestHousekeepLeavesFreshOrphanedTempFileAlone(t *testing.T) {
	withTempDataDir(t)

	fresh := filepath.Join(dataDirectoryPath, "daemon-fresh.json.tmp")
	if err := os.WriteFile(fresh, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	Housekeep(nil)

	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh orphaned temp file to be left alone, got: %v", err)
	}
}

func TestHousekeepIgnoresUnrelatedFiles(t *testing.T) {
	withTempDataDir(t)

	other := filepath.Join(dataDirectoryPath, "daemon.log")
	if err := os.WriteFile(other, []byte("log line"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatal(err)
	}

	Housekeep(nil)

	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected unrelated file to be left alone, got: %v", err)
	}
}
