package cli

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/container"
	"github.com/davidthor/vmprov/pkg/secrets"
	"github.com/davidthor/vmprov/pkg/state/backend"
	"github.com/davidthor/vmprov/pkg/tracker"
)

func TestLoadSettings_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	s := loadSettings(v)
	assert.Equal(t, DefaultWorkspaceRoot, s.WorkspaceRoot)
	assert.Equal(t, "terraform", s.Runner)
	assert.Equal(t, container.DefaultImage, s.DockerImage)
	assert.Equal(t, iac.DefaultTimeout, s.CommandTimeout)
	assert.Equal(t, ":5000", s.Listen)
	assert.Equal(t, "/metrics", s.MetricsPath)
	assert.Equal(t, ArchiveNone, s.Archive.Type)
}

func TestLoadSettings_Overrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set(KeyRunner, "docker")
	v.Set(KeyCommandTimeout, "30m")
	v.Set(KeyArchiveBackend, "s3")
	v.Set(KeyArchiveConfig, map[string]interface{}{"bucket": "deployments", "region": "eu-west-1"})

	s := loadSettings(v)
	assert.Equal(t, "docker", s.Runner)
	assert.Equal(t, 30*time.Minute, s.CommandTimeout)
	assert.Equal(t, "s3", s.Archive.Type)
	assert.Equal(t, map[string]string{"bucket": "deployments", "region": "eu-west-1"}, s.Archive.Config)

	opts := s.RunnerOptions()
	assert.Equal(t, container.DefaultImage, opts.Image)
	assert.Equal(t, 30*time.Minute, opts.Timeout)
}

func TestNewArchiver(t *testing.T) {
	archiver, err := newArchiver(Settings{})
	require.NoError(t, err)
	assert.Nil(t, archiver)

	archiver, err = newArchiver(Settings{Archive: backend.Config{Type: "none"}})
	require.NoError(t, err)
	assert.Nil(t, archiver)

	archiver, err = newArchiver(Settings{Archive: backend.Config{Type: "local", Config: map[string]string{"path": t.TempDir()}}})
	require.NoError(t, err)
	require.NotNil(t, archiver)
	assert.Equal(t, "local", archiver.Backend().Type())

	_, err = newArchiver(Settings{Archive: backend.Config{Type: "ftp"}})
	assert.Error(t, err)
}

func TestNewOrchestrator(t *testing.T) {
	logger, _ := test.NewNullLogger()

	v := viper.New()
	setDefaults(v)
	v.Set(KeyWorkspaceRoot, t.TempDir())
	v.Set(KeyAWSSMRegion, "us-east-1")

	orchestrator, err := newOrchestrator(loadSettings(v), logger, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, orchestrator.ListDeployments())

	_, err = orchestrator.GetStatus("missing")
	assert.ErrorIs(t, err, tracker.ErrNotFound)

	v.Set(KeyRunner, "make")
	_, err = newOrchestrator(loadSettings(v), logger, nil, nil)
	assert.ErrorContains(t, err, "failed to create make runner")
}

func TestLoadSettings_AllowReferences(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	assert.Empty(t, loadSettings(v).AllowReferences)

	v.Set(KeyAllowReferences, "env, awssm")
	assert.Equal(t, []string{"env", "awssm"}, loadSettings(v).AllowReferences)

	v.Set(KeyAllowReferences, []string{"file", "env"})
	assert.Equal(t, []string{"file", "env"}, loadSettings(v).AllowReferences)
}

func TestNewServeResolver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	assert.Nil(t, newServeResolver(ctx, Settings{}, logger))

	resolver := newServeResolver(ctx, Settings{AllowReferences: []string{"env", "vault"}}, logger)
	require.NotNil(t, resolver)
	m, ok := resolver.(*secrets.Manager)
	require.True(t, ok)
	assert.Equal(t, []string{"env"}, m.Schemes())
}

func TestNormalizeConfigKey(t *testing.T) {
	assert.Equal(t, KeyWorkspaceRoot, normalizeConfigKey("workspace-root"))
	assert.Equal(t, KeyCommandTimeout, normalizeConfigKey("Command-Timeout"))
	assert.Equal(t, KeyAWSSMRegion, normalizeConfigKey(displayKey(KeyAWSSMRegion)))
	assert.True(t, isSettable(normalizeConfigKey("docker-image")))
	assert.False(t, isSettable(normalizeConfigKey("default-datacenter")))
}
