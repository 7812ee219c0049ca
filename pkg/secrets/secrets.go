// Package secrets resolves credential references such as env://AWS_SECRET
// into their values before a deployment is rendered.
package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

// Provider looks up secret values by key.
type Provider interface {
	// Name is the reference scheme handled by the provider, e.g. "env".
	Name() string

	Get(ctx context.Context, key string) (string, error)
}

// Manager dispatches references to providers by scheme. Values are read
// again on every resolution so rotated secrets are picked up.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewManager creates a manager with no providers.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// DefaultManager creates a manager with the environment and file providers
// registered.
func DefaultManager() *Manager {
	m := NewManager()
	m.RegisterProvider(NewEnvProvider())
	m.RegisterProvider(NewFileProvider())
	return m
}

// RegisterProvider adds or replaces the provider for its scheme.
func (m *Manager) RegisterProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// Restrict returns a manager holding only the providers for schemes.
// Schemes without a registered provider are ignored.
func (m *Manager) Restrict(schemes ...string) *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := NewManager()
	for _, scheme := range schemes {
		if p, ok := m.providers[scheme]; ok {
			out.providers[scheme] = p
		}
	}
	return out
}

// Schemes lists the registered reference schemes.
func (m *Manager) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.providers))
	for name := range m.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseReference splits "scheme://key". ok is false for plain values.
func ParseReference(value string) (scheme, key string, ok bool) {
	i := strings.Index(value, "://")
	if i <= 0 {
		return "", "", false
	}
	scheme = value[:i]
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return "", "", false
		}
	}
	return scheme, value[i+3:], true
}

// Resolve returns the value of a reference. Values that are not references
// are returned unchanged.
func (m *Manager) Resolve(ctx context.Context, value string) (string, error) {
	scheme, key, ok := ParseReference(value)
	if !ok {
		return value, nil
	}

	m.mu.RLock()
	provider, known := m.providers[scheme]
	m.mu.RUnlock()

	if !known {
		return "", errors.SecretError(value, fmt.Errorf("no provider for scheme %q", scheme))
	}

	resolved, err := provider.Get(ctx, key)
	if err != nil {
		return "", errors.SecretError(value, err)
	}

	return resolved, nil
}

// ResolveCredentials returns a copy of creds with every reference replaced
// by its value. A reference used by several fields is looked up once per
// call. A reference that cannot be resolved is a configuration error naming
// the credential field.
func (m *Manager) ResolveCredentials(ctx context.Context, creds deployment.Credentials) (deployment.Credentials, error) {
	out := creds.Clone()
	seen := make(map[string]string)

	providers := make([]string, 0, len(out))
	for p := range out {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, p := range providers {
		keys := make([]string, 0, len(out[p]))
		for k := range out[p] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			value := out[p][k]
			if resolved, ok := seen[value]; ok {
				out[p][k] = resolved
				continue
			}
			resolved, err := m.Resolve(ctx, value)
			if err != nil {
				cfgErr := errors.ConfigurationError(fmt.Sprintf("credentials.%s.%s", p, k), "reference could not be resolved")
				cfgErr.Cause = err
				return nil, cfgErr
			}
			seen[value] = resolved
			out[p][k] = resolved
		}
	}
	return out, nil
}
