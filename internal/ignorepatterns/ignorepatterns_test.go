package ignorepatterns

import "testing"

func TestDefaultsAlwaysApplied(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Ignore(".git/config", false) {
		t.Error("expected .git/config to be ignored by default")
	}
	if !m.Ignore("node_modules/left-pad/index.js", false) {
		t.Error("expected node_modules contents to be ignored by default")
	}
	if !m.Ignore(".folder-mcp/state.db", false) {
		t.Error("expected .folder-mcp metadata directory to be ignored by default")
	}
}

func TestUserPatternIgnoresMatchingLeaf(t *testing.T) {
	m, err := New([]string{"*.tmp"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Ignore("notes.tmp", false) {
		t.Error("expected notes.tmp to be ignored")
	}
	if !m.Ignore("nested/dir/notes.tmp", false) {
		t.Error("expected leaf match to apply regardless of directory depth")
	}
	if m.Ignore("notes.txt", false) {
		t.Error("did not expect notes.txt to be ignored")
	}
}

func TestNegatedPatternUnignores(t *testing.T) {
	m, err := New([]string{"*.log", "!important.log"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Ignore("debug.log", false) {
		t.Error("expected debug.log to be ignored")
	}
	if m.Ignore("important.log", false) {
		t.Error("expected important.log to be unignored by the later negated pattern")
	}
}

func TestDirectoryOnlyPattern(t *testing.T) {
	m, err := New([]string{"build/"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Ignore("build", true) {
		t.Error("expected build directory to be ignored")
	}
	if m.Ignore("build", false) {
		t.Error("directory-only pattern should not match a plain file named build")
	}
}

func TestInvalidPatterns(t *testing.T) {
	for _, raw := range []string{"", "/", "//", "!", "!/"} {
		if Valid(raw) {
			t.Errorf("expected pattern %q to be invalid", raw)
		}
	}
}

func TestNewRejectsInvalidUserPattern(t *testing.T) {
	if _, err := New([]string{"/"}); err == nil {
		t.Fatal("expected error for root pattern")
	}
}
