package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmerrors "github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

type countingProvider struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
}

func (p *countingProvider) Name() string { return "test" }

func (p *countingProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	v, ok := p.values[key]
	if !ok {
		return "", errors.New("missing")
	}
	return v, nil
}

type fakeSecretsManager struct {
	secrets map[string]string
	asked   []string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(params.SecretId)
	f.asked = append(f.asked, id)
	s, ok := f.secrets[id]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(s)}, nil
}

func TestDefaultManager(t *testing.T) {
	assert.Equal(t, []string{"env", "file"}, DefaultManager().Schemes())
}

func TestManager_Restrict(t *testing.T) {
	m := DefaultManager()
	m.RegisterProvider(&countingProvider{})

	assert.Equal(t, []string{"env"}, m.Restrict("env", "vault").Schemes())
	assert.Empty(t, m.Restrict().Schemes())
	assert.Equal(t, []string{"env", "file", "test"}, m.Schemes(), "original is unchanged")

	_, err := m.Restrict("env").Resolve(context.Background(), "file:///etc/hostname")
	require.Error(t, err)
	assert.True(t, vmerrors.Is(err, vmerrors.ErrCodeSecret))
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		key    string
		ok     bool
	}{
		{"env://AWS_SECRET", "env", "AWS_SECRET", true},
		{"awssm://prod/aws#secretKey", "awssm", "prod/aws#secretKey", true},
		{"file:///run/secrets/key", "file", "/run/secrets/key", true},
		{"AKIAEXAMPLE", "", "", false},
		{"://nothing", "", "", false},
		{"wJalr/K7MDENG+bPxRfiCY://x", "", "", false},
	}
	for _, tt := range tests {
		scheme, key, ok := ParseReference(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.scheme, scheme, tt.in)
		assert.Equal(t, tt.key, key, tt.in)
	}
}

func TestManager_Resolve(t *testing.T) {
	m := NewManager()
	p := &countingProvider{values: map[string]string{"db": "secret123"}}
	m.RegisterProvider(p)
	ctx := context.Background()

	t.Run("plain value passes through", func(t *testing.T) {
		v, err := m.Resolve(ctx, "literal")
		require.NoError(t, err)
		assert.Equal(t, "literal", v)
	})

	t.Run("reference", func(t *testing.T) {
		v, err := m.Resolve(ctx, "test://db")
		require.NoError(t, err)
		assert.Equal(t, "secret123", v)
	})

	t.Run("rotated value is read again", func(t *testing.T) {
		p.mu.Lock()
		p.values["db"] = "rotated"
		p.mu.Unlock()

		v, err := m.Resolve(ctx, "test://db")
		require.NoError(t, err)
		assert.Equal(t, "rotated", v)
		assert.Equal(t, 2, p.calls)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := m.Resolve(ctx, "test://nope")
		require.Error(t, err)
		assert.True(t, vmerrors.Is(err, vmerrors.ErrCodeSecret))
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := m.Resolve(ctx, "vault://x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vault://x")
	})
}

func TestManager_ResolveCredentials(t *testing.T) {
	t.Setenv("VMPROV_TEST_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "access")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0600))

	creds := deployment.Credentials{"aws": {
		deployment.AWSAccessKey: "file://" + path,
		deployment.AWSSecretKey: "env://VMPROV_TEST_SECRET",
		deployment.AWSRegion:    "eu-west-1",
	}}

	resolved, err := DefaultManager().ResolveCredentials(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, "from-file", resolved["aws"][deployment.AWSAccessKey])
	assert.Equal(t, "from-env", resolved["aws"][deployment.AWSSecretKey])
	assert.Equal(t, "eu-west-1", resolved["aws"][deployment.AWSRegion])
	assert.Equal(t, "env://VMPROV_TEST_SECRET", creds["aws"][deployment.AWSSecretKey], "input is not modified")
}

func TestManager_ResolveCredentials_LooksUpEachReferenceOncePerCall(t *testing.T) {
	m := NewManager()
	p := &countingProvider{values: map[string]string{"shared": "v1"}}
	m.RegisterProvider(p)

	creds := deployment.Credentials{"aws": {
		deployment.AWSAccessKey: "test://shared",
		deployment.AWSSecretKey: "test://shared",
	}}

	resolved, err := m.ResolveCredentials(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "v1", resolved["aws"][deployment.AWSAccessKey])
	assert.Equal(t, 1, p.calls)

	p.mu.Lock()
	p.values["shared"] = "v2"
	p.mu.Unlock()

	resolved, err = m.ResolveCredentials(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "v2", resolved["aws"][deployment.AWSSecretKey])
	assert.Equal(t, 2, p.calls)
}

func TestManager_ResolveCredentials_Failure(t *testing.T) {
	creds := deployment.Credentials{"aws": {deployment.AWSSecretKey: "env://VMPROV_DEFINITELY_UNSET_VAR"}}

	_, err := DefaultManager().ResolveCredentials(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, vmerrors.Is(err, vmerrors.ErrCodeConfiguration))
	assert.Contains(t, err.Error(), "credentials.aws.secretKey")
}

func TestAWSSecretsManagerProvider(t *testing.T) {
	fake := &fakeSecretsManager{secrets: map[string]string{
		"prod/aws":   `{"accessKey":"AKIA","port":5432}`,
		"plain/text": "raw-value",
	}}
	p := &AWSSecretsManagerProvider{client: fake}
	ctx := context.Background()

	v, err := p.Get(ctx, "prod/aws#accessKey")
	require.NoError(t, err)
	assert.Equal(t, "AKIA", v)

	v, err = p.Get(ctx, "prod/aws#port")
	require.NoError(t, err)
	assert.Equal(t, "5432", v)

	v, err = p.Get(ctx, "plain/text")
	require.NoError(t, err)
	assert.Equal(t, "raw-value", v)

	_, err = p.Get(ctx, "prod/aws#missing")
	assert.Error(t, err)

	_, err = p.Get(ctx, "plain/text#field")
	assert.Error(t, err)

	_, err = p.Get(ctx, "unknown")
	assert.Error(t, err)

	assert.Equal(t, "awssm", p.Name())
}
