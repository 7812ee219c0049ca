// Package backend defines the blob storage interface deployment archives are
// written to, and a registry of named implementations.
package backend

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrNotFound is returned by Read when the path does not exist.
var ErrNotFound = stderrors.New("not found")

// Backend stores opaque blobs under slash-separated paths.
type Backend interface {
	// Type returns the backend type (e.g., "local", "s3")
	Type() string

	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, data io.Reader) error

	// Delete is idempotent: deleting a missing path is not an error
	Delete(ctx context.Context, path string) error

	// List returns every path under prefix, relative to the backend root
	List(ctx context.Context, prefix string) ([]string, error)

	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type   string            `json:"type" yaml:"type" mapstructure:"type"`
	Config map[string]string `json:"config" yaml:"config" mapstructure:"config"`
}

// Factory creates a backend from its configuration map.
type Factory func(config map[string]string) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend type available to Create. Implementations call it
// from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates the backend named by cfg.Type.
func Create(cfg Config) (Backend, error) {
	mu.RLock()
	factory, ok := factories[cfg.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", cfg.Type, Types())
	}

	config := cfg.Config
	if config == nil {
		config = map[string]string{}
	}
	return factory(config)
}

// Types lists the registered backend types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
