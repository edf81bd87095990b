package cache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TagSnapshot is the sorted list of release tags in the source repository.
// Provisioned images are keyed on it: a cached image built from the same
// snapshot needs no update.
type TagSnapshot []string

// CaptureTags lists the tags of the git repository at repoDir, sorted by
// version. Sorting is delegated to git so ordering matches what release
// tooling sees.
func CaptureTags(ctx context.Context, repoDir string) (TagSnapshot, error) {
	cmd := exec.CommandContext(ctx, "git", "tag", "--sort=version:refname")
	cmd.Dir = repoDir

	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("git tag: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("git tag: %w", err)
	}

	return parseTags(string(out)), nil
}

func parseTags(s string) TagSnapshot {
	var tags TagSnapshot
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			tags = append(tags, line)
		}
	}
	return tags
}

// Equal reports whether two snapshots list the same tags in the same order.
func (t TagSnapshot) Equal(other TagSnapshot) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// WriteFile stores the snapshot one tag per line.
func (t TagSnapshot) WriteFile(path string) error {
	var b strings.Builder
	for _, tag := range t {
		b.WriteString(tag)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ReadTagFile loads a snapshot written by WriteFile. A missing file yields
// a nil snapshot.
func ReadTagFile(path string) (TagSnapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseTags(string(data)), nil
}
