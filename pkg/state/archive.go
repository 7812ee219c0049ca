// Package state copies finished deployment workspaces to a storage backend
// so the configuration and terraform state outlive the local directory.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/render"
	"github.com/davidthor/vmprov/pkg/state/backend"
	"github.com/davidthor/vmprov/pkg/workspace"
)

// Archived file names.
const (
	StateFile   = "terraform.tfstate"
	OutputsFile = "outputs.json"
)

// redacted replaces sensitive output values in the archive.
const redacted = "(sensitive)"

// Archiver writes deployment artifacts under deployments/<id>/.
type Archiver struct {
	backend backend.Backend
}

// NewArchiver creates an archiver on top of b.
func NewArchiver(b backend.Backend) *Archiver {
	return &Archiver{backend: b}
}

// NewArchiverFromConfig creates the backend described by cfg.
func NewArchiverFromConfig(cfg backend.Config) (*Archiver, error) {
	b, err := backend.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewArchiver(b), nil
}

// Backend returns the underlying backend.
func (a *Archiver) Backend() backend.Backend {
	return a.backend
}

// Archive copies the main document and, when present, the terraform state
// from ws, and writes outputs with sensitive values redacted. The variables
// file is never archived since it holds credentials.
func (a *Archiver) Archive(ctx context.Context, ws *workspace.Workspace, outputs map[string]iac.OutputValue) error {
	for _, name := range []string{render.MainFile, StateFile} {
		if err := a.copyFile(ctx, ws, name); err != nil {
			return errors.BackendError(a.backend.Type(), "archive "+name, err)
		}
	}

	if outputs != nil {
		if err := writeJSON(ctx, a.backend, deploymentPath(ws.ID, OutputsFile), redact(outputs)); err != nil {
			return errors.BackendError(a.backend.Type(), "archive "+OutputsFile, err)
		}
	}
	return nil
}

// Deployments lists the ids that have archived artifacts.
func (a *Archiver) Deployments(ctx context.Context) ([]string, error) {
	paths, err := a.backend.List(ctx, "deployments/")
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for _, p := range paths {
		// deployments/<id>/<file>
		parts := strings.Split(p, "/")
		if len(parts) >= 3 && parts[0] == "deployments" {
			ids[parts[1]] = true
		}
	}

	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

// Has reports whether a deployment was archived. Every archive holds the
// main document.
func (a *Archiver) Has(ctx context.Context, id string) (bool, error) {
	return a.backend.Exists(ctx, deploymentPath(id, render.MainFile))
}

// ReadFile returns one archived file of a deployment.
func (a *Archiver) ReadFile(ctx context.Context, id, name string) ([]byte, error) {
	reader, err := a.backend.Read(ctx, deploymentPath(id, name))
	if err != nil {
		if stderrors.Is(err, backend.ErrNotFound) {
			return nil, errors.NotFoundError("archived file", path.Join(id, name))
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Outputs returns the archived outputs of a deployment.
func (a *Archiver) Outputs(ctx context.Context, id string) (map[string]iac.OutputValue, error) {
	data, err := a.ReadFile(ctx, id, OutputsFile)
	if err != nil {
		return nil, err
	}
	var outputs map[string]iac.OutputValue
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return outputs, nil
}

// Delete removes every archived file of a deployment.
func (a *Archiver) Delete(ctx context.Context, id string) error {
	paths, err := a.backend.List(ctx, deploymentPath(id, ""))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := a.backend.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

func (a *Archiver) copyFile(ctx context.Context, ws *workspace.Workspace, name string) error {
	f, err := os.Open(ws.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return a.backend.Write(ctx, deploymentPath(ws.ID, name), f)
}

func deploymentPath(id, name string) string {
	if name == "" {
		return "deployments/" + id + "/"
	}
	return path.Join("deployments", id, name)
}

func redact(outputs map[string]iac.OutputValue) map[string]iac.OutputValue {
	out := make(map[string]iac.OutputValue, len(outputs))
	for k, v := range outputs {
		if v.Sensitive {
			v.Value = redacted
		}
		out[k] = v
	}
	return out
}

func writeJSON(ctx context.Context, b backend.Backend, p string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return b.Write(ctx, p, bytes.NewReader(content))
}
