// Package workspace resolves project working directories for spawned
// sessions. The session core only needs "workspace ready, with a cwd";
// how the directory is materialized is this package's concern.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps a project id to an absolute working directory.
type Resolver interface {
	Resolve(projectID string) (string, error)
}

// DirResolver materializes <Root>/<projectID> lazily and drops a
// context manifest on first use. An empty project id falls back to the
// user's home directory.
type DirResolver struct {
	Root string
}

func (r *DirResolver) Resolve(projectID string) (string, error) {
	if projectID == "" || r.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return home, nil
	}
	if strings.ContainsAny(projectID, "/\\") || projectID == "." || projectID == ".." {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}

	dir := filepath.Join(r.Root, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("materialize workspace %s: %w", projectID, err)
	}

	manifest := filepath.Join(dir, "AGENT.md")
	if _, err := os.Stat(manifest); os.IsNotExist(err) {
		content := fmt.Sprintf("# Project %s\n\nWorkspace managed by deckd. Agent sessions start here.\n", projectID)
		if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("write manifest: %w", err)
		}
	}
	return dir, nil
}
