package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveMaterializesDir(t *testing.T) {
	r := &DirResolver{Root: t.TempDir()}

	dir, err := r.Resolve("proj-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("workspace dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "AGENT.md")); err != nil {
		t.Errorf("manifest not written: %v", err)
	}

	// Second resolve is idempotent.
	dir2, err := r.Resolve("proj-1")
	if err != nil || dir2 != dir {
		t.Errorf("second Resolve = %q, %v", dir2, err)
	}
}

func TestResolveEmptyProjectFallsBackToHome(t *testing.T) {
	r := &DirResolver{Root: t.TempDir()}
	dir, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	home, _ := os.UserHomeDir()
	if dir != home {
		t.Errorf("dir = %q, want home %q", dir, home)
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	r := &DirResolver{Root: t.TempDir()}
	for _, id := range []string{"../evil", "a/b", `a\b`, ".."} {
		if _, err := r.Resolve(id); err == nil {
			t.Errorf("Resolve(%q) accepted", id)
		}
	}
}
