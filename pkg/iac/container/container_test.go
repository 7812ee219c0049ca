package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/vmprov/pkg/iac"
)

// fakeDocker records calls and replays a scripted container run.
type fakeDocker struct {
	mu sync.Mutex

	haveImage bool
	pullHang  bool
	exitCode  int64
	hang      bool
	stdout    string
	stderr    string
	createErr error

	pulled  []string
	config  *container.Config
	host    *container.HostConfig
	killed  bool
	removed bool
}

func (f *fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	if f.haveImage {
		return []image.Summary{{ID: "sha256:abc"}}, nil
	}
	return nil, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.pulled = append(f.pulled, refStr)
	f.mu.Unlock()
	if f.pullHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return io.NopCloser(bytes.NewReader([]byte(`{"status":"done"}`))), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config = config
	f.host = hostConfig
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.hang {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
		return statusCh, errCh
	}
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

func TestRunner_Name(t *testing.T) {
	r := newRunner(&fakeDocker{}, iac.RunnerOptions{})
	assert.Equal(t, "docker", r.Name())
	assert.Equal(t, DefaultImage, r.image)
}

func TestRunner_Success(t *testing.T) {
	fake := &fakeDocker{haveImage: true, stdout: "Apply complete!\n"}
	r := newRunner(fake, iac.RunnerOptions{
		Image:       "hashicorp/terraform:1.8",
		Environment: map[string]string{"B": "2", "A": "1"},
	})

	outcome, err := r.Run(context.Background(), "/tmp/deployments/abc", "apply", "-auto-approve")
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, "Apply complete!\n", outcome.Stdout)
	assert.Empty(t, fake.pulled, "image present locally must not be pulled")
	assert.True(t, fake.removed)

	require.NotNil(t, fake.config)
	assert.Equal(t, "hashicorp/terraform:1.8", fake.config.Image)
	assert.Equal(t, []string{"apply", "-auto-approve"}, []string(fake.config.Cmd))
	assert.Equal(t, "/workspace", fake.config.WorkingDir)
	assert.Equal(t, []string{"TF_INPUT=0", "TF_IN_AUTOMATION=1", "A=1", "B=2"}, fake.config.Env)
	assert.Equal(t, []string{"/tmp/deployments/abc:/workspace"}, fake.host.Binds)
}

func TestRunner_PullsMissingImage(t *testing.T) {
	fake := &fakeDocker{}
	r := newRunner(fake, iac.RunnerOptions{})

	_, err := r.Run(context.Background(), "/tmp/ws", "init")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultImage}, fake.pulled)
}

func TestRunner_NonZeroExit(t *testing.T) {
	fake := &fakeDocker{haveImage: true, exitCode: 1, stderr: "Error: Invalid provider configuration\n"}
	r := newRunner(fake, iac.RunnerOptions{})

	outcome, err := r.Run(context.Background(), "/tmp/ws", "plan")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Contains(t, outcome.Stderr, "Invalid provider configuration")
}

func TestRunner_Timeout(t *testing.T) {
	fake := &fakeDocker{haveImage: true, hang: true}
	r := newRunner(fake, iac.RunnerOptions{Timeout: 50 * time.Millisecond})

	outcome, err := r.Run(context.Background(), "/tmp/ws", "apply")
	require.NoError(t, err)

	assert.Equal(t, iac.TimeoutOutcome(), outcome)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.killed)
	assert.True(t, fake.removed)
}

func TestRunner_TimeoutWhilePulling(t *testing.T) {
	fake := &fakeDocker{pullHang: true}
	r := newRunner(fake, iac.RunnerOptions{Timeout: 50 * time.Millisecond})

	outcome, err := r.Run(context.Background(), "/tmp/ws", "init")
	require.NoError(t, err)

	assert.Equal(t, iac.TimeoutOutcome(), outcome)
	assert.Equal(t, []string{DefaultImage}, fake.pulled)
	assert.Nil(t, fake.config, "no container is created once the deadline has passed")
}

func TestRunner_CancelledWhilePulling(t *testing.T) {
	fake := &fakeDocker{pullHang: true}
	r := newRunner(fake, iac.RunnerOptions{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "/tmp/ws", "init")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_CreateError(t *testing.T) {
	fake := &fakeDocker{haveImage: true, createErr: errors.New("daemon unavailable")}
	r := newRunner(fake, iac.RunnerOptions{})

	_, err := r.Run(context.Background(), "/tmp/ws", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unavailable")
}
