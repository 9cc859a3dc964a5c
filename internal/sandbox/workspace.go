package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// workspace is a throwaway host directory holding one run's files. It is
// bind-mounted into the container and removed when the run finishes,
// regardless of outcome.
type workspace struct {
	id  string
	dir string
}

type workspaceManager struct {
	root string
}

func newWorkspaceManager(root string) (*workspaceManager, error) {
	if err := ensureDir(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	return &workspaceManager{root: root}, nil
}

func (m *workspaceManager) Create() (*workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace %q: %w", dir, err)
	}
	return &workspace{id: id, dir: dir}, nil
}

func (w *workspace) ID() string  { return w.id }
func (w *workspace) Dir() string { return w.dir }

// WriteFile places a file at the workspace top level. The name must be a
// bare filename so submitted content cannot escape the directory.
func (w *workspace) WriteFile(name string, data []byte) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, "..") {
		return fmt.Errorf("invalid workspace filename %q", name)
	}
	return os.WriteFile(filepath.Join(w.dir, name), data, 0o644)
}

func (w *workspace) Remove() error {
	return os.RemoveAll(w.dir)
}

func ensureDir(path string, mode fs.FileMode) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is required")
	}
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	return nil
}
