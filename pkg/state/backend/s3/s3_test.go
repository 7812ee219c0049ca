package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/vmprov/pkg/state/backend"
)

func testConfig() map[string]string {
	return map[string]string{
		"bucket":           "vmprov-archive",
		"endpoint":         "http://127.0.0.1:9000",
		"access_key":       "test-key",
		"secret_key":       "test-secret",
		"force_path_style": "true",
	}
}

func TestNewBackend_MissingBucket(t *testing.T) {
	_, err := NewBackend(map[string]string{"region": "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewBackend_DefaultRegion(t *testing.T) {
	b, err := NewBackend(testConfig())
	require.NoError(t, err)

	s3b := b.(*Backend)
	assert.Equal(t, "us-east-1", s3b.region)
	assert.Equal(t, "s3", b.Type())
}

func TestNewBackend_Registered(t *testing.T) {
	b, err := backend.Create(backend.Config{Type: "s3", Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, "s3", b.Type())
}

func TestBackend_fullPath(t *testing.T) {
	tests := []struct {
		prefix   string
		path     string
		expected string
	}{
		{"", "deployments/abc/main.tf", "deployments/abc/main.tf"},
		{"vmprov", "deployments/abc/main.tf", "vmprov/deployments/abc/main.tf"},
		{"vmprov", "deployments/abc/", "vmprov/deployments/abc/"},
		{"vmprov", "", "vmprov/"},
	}

	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		assert.Equal(t, tt.expected, b.fullPath(tt.path), "prefix=%q path=%q", tt.prefix, tt.path)
	}
}

func TestBackend_relativePath(t *testing.T) {
	assert.Equal(t, "deployments/a/main.tf", (&Backend{prefix: "team"}).relativePath("team/deployments/a/main.tf"))
	assert.Equal(t, "deployments/a/main.tf", (&Backend{}).relativePath("deployments/a/main.tf"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("deployments/a/outputs.json"))
	assert.Equal(t, "application/json", contentType("deployments/a/terraform.tfstate"))
	assert.Equal(t, "text/plain", contentType("deployments/a/main.tf"))
}
