package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprintStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := Fingerprint(path, "note.txt")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Fingerprint(path, "note.txt")
	if err != nil {
		t.Fatal(err)
	}

	if first.Hash != second.Hash {
		t.Error("expected identical hash across repeated fingerprinting of unchanged content")
	}
	if first.Size != int64(len("hello world")) {
		t.Errorf("expected size %d, got %d", len("hello world"), first.Size)
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := Fingerprint(path, "note.txt")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("second, longer content"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, err := Fingerprint(path, "note.txt")
	if err != nil {
		t.Fatal(err)
	}

	if before.Hash == after.Hash {
		t.Error("expected hash to change when content changes")
	}
}

func TestIsSubPath(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "a", "b.txt")
	if !IsSubPath(child, dir) {
		t.Error("expected nested file to be a sub-path of its ancestor directory")
	}
	if IsSubPath(dir, dir) {
		t.Error("a path is not a sub-path of itself")
	}
	if IsSubPath(filepath.Dir(dir), dir) {
		t.Error("a parent directory is not a sub-path of its child")
	}
}

func TestGenerateDocumentId(t *testing.T) {
	id, err := GenerateDocumentId("notes/2024/report.md")
	if err != nil {
		t.Fatal(err)
	}
	if id != "notes-2024-report-md" {
		t.Errorf("expected collapsed separators, got %q", id)
	}

	if _, err := GenerateDocumentId("///"); err == nil {
		t.Fatal("expected error for a path that collapses to empty")
	}
}

func TestWalkRespectsIgnoreAndExtensions(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	mustWrite("keep.md", "kept")
	mustWrite("skip.bin", "skipped by extension")
	mustWrite("node_modules/pkg/index.js", "skipped by default ignore")
	mustWrite(".git/HEAD", "skipped by default ignore")

	ctx := context.Background()
	out, errCh := Walk(ctx, dir, WalkOptions{Extensions: []string{".md"}})

	var seen []string
	for fp := range out {
		seen = append(seen, fp.Path)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	if len(seen) != 1 || seen[0] != "keep.md" {
		t.Errorf("expected only keep.md, got %v", seen)
	}
}
