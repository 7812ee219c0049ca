// Package workspace manages the per-deployment directories the provisioning
// tool runs in.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/davidthor/vmprov/pkg/iac/render"
)

// DefaultRoot is the workspace root used when none is configured.
const DefaultRoot = "terraform_deployments"

// Workspace is one deployment's isolated directory.
type Workspace struct {
	ID  string
	Dir string
}

// Path returns the path of a file inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Manager owns the workspace root directory.
type Manager struct {
	root string
}

// NewManager creates the root directory if it does not exist yet.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = DefaultRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", abs, err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create makes the directory for a deployment. Ids are expected to be unique;
// an existing directory is reused as is.
func (m *Manager) Create(id string) (*Workspace, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Open returns the workspace for an id without creating it.
func (m *Manager) Open(id string) (*Workspace, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	dir := filepath.Join(m.root, id)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", id)
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Remove deletes the workspace of id and everything in it. removed is false
// when there was no workspace.
func (m *Manager) Remove(id string) (removed bool, err error) {
	ws, err := m.Open(id)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return false, fmt.Errorf("failed to remove workspace %s: %w", ws.Dir, err)
	}
	return true, nil
}

func checkID(id string) error {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return fmt.Errorf("invalid deployment id %q", id)
	}
	return nil
}

// WriteDocuments writes the rendered documents, replacing earlier content.
// The variables file holds credentials and is only readable by the owner.
func (m *Manager) WriteDocuments(ws *Workspace, docs *render.Documents) error {
	if err := writeFile(ws.Path(render.MainFile), []byte(docs.Main), 0644); err != nil {
		return err
	}
	return writeFile(ws.Path(render.VariablesFile), []byte(docs.Variables), 0600)
}

// writeFile writes through a temp file and rename so the tool never reads a
// partially written document.
func writeFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vmprov-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
