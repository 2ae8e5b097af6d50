package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReturnsDefaultsWhenConfigMissing(t *testing.T) {
	dir := t.TempDir()

	got, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Defaults()
	if len(got.Folders) != 0 {
		t.Fatalf("expected no folders, got %+v", got.Folders)
	}
	if got.Processing != want.Processing || got.ModelRegistry != want.ModelRegistry ||
		got.AutoRestart != want.AutoRestart || got.ShutdownTimeout != want.ShutdownTimeout ||
		got.Watcher != want.Watcher {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	yamlText := `
folders:
  - path: "${HOME_DIR}/docs"
    model: all-MiniLM-L6-v2
processing:
  batchSize: 32
  chunkSize: 400
autoRestart:
  delay: 2s
  maxDelay: 1m
watcher:
  debounceDelay: 250ms
`
	if err := os.WriteFile(configPath, []byte(yamlText), 0o644); err != nil {
		t.Fatal(err)
	}

	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("HOME_DIR=/home/tester\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(configPath, envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(got.Folders) != 1 || got.Folders[0].Path != "/home/tester/docs" {
		t.Fatalf("expected interpolated folder path, got %+v", got.Folders)
	}
	if got.Folders[0].Model != "all-MiniLM-L6-v2" {
		t.Fatalf("expected model override, got %q", got.Folders[0].Model)
	}
	if got.Processing.BatchSize != 32 || got.Processing.ChunkSize != 400 {
		t.Fatalf("expected processing overrides, got %+v", got.Processing)
	}
	if got.Processing.MaxConcurrentOperations != Defaults().Processing.MaxConcurrentOperations {
		t.Fatalf("expected unspecified field to keep its default")
	}
	if got.AutoRestart.Delay.Duration() != 2*time.Second {
		t.Fatalf("expected delay 2s, got %v", got.AutoRestart.Delay.Duration())
	}
	if got.AutoRestart.MaxDelay.Duration() != time.Minute {
		t.Fatalf("expected maxDelay 1m, got %v", got.AutoRestart.MaxDelay.Duration())
	}
	if got.Watcher.DebounceDelay.Duration() != 250*time.Millisecond {
		t.Fatalf("expected debounceDelay 250ms, got %v", got.Watcher.DebounceDelay.Duration())
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("procesing:\n  batchSize: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected an error for an unrecognized configuration key")
	}
}

func TestLoadRejectsChunkSizeOutOfRange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("processing:\n  chunkSize: 50\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected chunk size below 200 to be rejected")
	}
}

func TestLoadRejectsBatchSizeOutOfRange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("processing:\n  batchSize: 256\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected batch size above 128 to be rejected")
	}
}

func TestLoadRejectsWorkerCountOutOfRange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("processing:\n  maxConcurrentOperations: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected a worker count of zero to be rejected")
	}
}

func TestLoadRejectsModelRegistryCapacityOutOfRange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("modelRegistry:\n  capacity: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected a model registry capacity of zero to be rejected")
	}
}

func TestLoadRejectsFolderWithoutPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("folders:\n  - model: all-MiniLM-L6-v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected a folder entry missing a path to be rejected")
	}
}
