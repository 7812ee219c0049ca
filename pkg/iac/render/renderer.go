// Package render turns a deployment config into terraform documents.
package render

import (
	"sort"
	"sync"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

// File names of the rendered documents inside a workspace.
const (
	MainFile      = "main.tf"
	VariablesFile = "terraform.tfvars"
)

// Documents holds the rendered configuration and its variables file. The
// variables file carries credentials.
type Documents struct {
	Main      string
	Variables string
}

// ProviderRenderer renders documents for one provider.
type ProviderRenderer interface {
	Provider() deployment.Provider
	RenderMain(cfg *deployment.Config) []byte
	RenderVariables(cfg *deployment.Config) []byte
}

// Renderer validates configs and dispatches them to provider renderers.
type Renderer struct {
	mu        sync.RWMutex
	providers map[deployment.Provider]ProviderRenderer
	validator *deployment.Validator
}

// NewRenderer returns a renderer with every built-in provider registered.
func NewRenderer() *Renderer {
	r := &Renderer{
		providers: make(map[deployment.Provider]ProviderRenderer),
		validator: deployment.NewValidator(),
	}
	r.Register(awsRenderer{})
	return r
}

// Register adds or replaces the renderer for a provider.
func (r *Renderer) Register(p ProviderRenderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Provider()] = p
}

// Providers lists the supported providers.
func (r *Renderer) Providers() []deployment.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]deployment.Provider, 0, len(r.providers))
	for p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render validates cfg and renders both documents. Output is a pure function
// of cfg.
func (r *Renderer) Render(cfg *deployment.Config) (*Documents, error) {
	if err := r.validator.Validate(cfg); err != nil {
		return nil, err
	}

	r.mu.RLock()
	pr, ok := r.providers[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.UnsupportedProviderError(string(cfg.Provider))
	}

	if err := deployment.ValidateCredentials(cfg.Provider, cfg.Credentials); err != nil {
		return nil, err
	}

	return &Documents{
		Main:      string(pr.RenderMain(cfg)),
		Variables: string(pr.RenderVariables(cfg)),
	}, nil
}

var defaultRenderer = NewRenderer()

// Render renders cfg with the built-in providers.
func Render(cfg *deployment.Config) (*Documents, error) {
	return defaultRenderer.Render(cfg)
}
