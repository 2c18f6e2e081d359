// Package artifact manages the on-disk layout of stage outputs.
//
// Artifacts are immutable once written: every write goes to a temp file in
// the destination directory and is renamed into place, so a partially
// written file is never observable under its final name.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Workspace roots all stage artifacts under a single directory, keyed by
// stage name and content fingerprint. A fingerprint directory is written
// once; a later execution of the same fingerprint (a forced re-run, or a
// retry after a partial write) gets a fresh versioned sibling so existing
// artifacts referenced by other runs or the cache are never touched.
type Workspace struct {
	root string
}

// NewWorkspace creates (if needed) and returns a workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact root not configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// StageDir returns a directory for a stage execution at the given
// fingerprint, creating it if needed. The first execution gets the plain
// fingerprint directory; if that directory already holds files, a new
// version suffix is allocated so prior artifacts stay immutable.
func (w *Workspace) StageDir(stage, fingerprint string) (string, error) {
	if stage == "" || fingerprint == "" {
		return "", fmt.Errorf("stage and fingerprint required")
	}
	base := filepath.Join(w.root, stage, fingerprint)
	dir := base
	for v := 2; ; v++ {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return "", fmt.Errorf("inspect stage dir: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		dir = fmt.Sprintf("%s.v%d", base, v)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %w", err)
	}
	return dir, nil
}

// WriteFile atomically writes data to path.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON to path.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, data)
}

// ReadJSON reads path and unmarshals it into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exists reports whether path exists and is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// AllExist reports whether every path exists. Used by the cache to verify
// an index entry before serving it.
func AllExist(paths []string) bool {
	for _, p := range paths {
		if !Exists(p) {
			return false
		}
	}
	return len(paths) > 0
}
