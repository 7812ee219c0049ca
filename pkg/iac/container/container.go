// Package container runs the provisioning tool inside a Docker container with
// the workspace bind-mounted, for hosts that do not have terraform installed.
package container

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/davidthor/vmprov/pkg/iac"
)

func init() {
	iac.Register("docker", func(opts iac.RunnerOptions) (iac.Runner, error) {
		return NewRunner(opts)
	})
}

// DefaultImage is used when no image is configured.
const DefaultImage = "hashicorp/terraform:1.9"

// mountPath is where the workspace appears inside the container.
const mountPath = "/workspace"

// dockerAPI is the subset of the Docker SDK client the runner uses.
type dockerAPI interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Runner implements iac.Runner with one short-lived container per command.
type Runner struct {
	docker  dockerAPI
	image   string
	timeout time.Duration
	env     map[string]string
	user    string
}

// NewRunner creates a runner talking to the Docker daemon from the environment.
func NewRunner(opts iac.RunnerOptions) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newRunner(cli, opts), nil
}

func newRunner(docker dockerAPI, opts iac.RunnerOptions) *Runner {
	img := opts.Image
	if img == "" {
		img = DefaultImage
	}
	return &Runner{
		docker:  docker,
		image:   img,
		timeout: opts.EffectiveTimeout(),
		env:     opts.Environment,
		user:    fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}
}

func (r *Runner) Name() string {
	return "docker"
}

// Run executes the image's entrypoint (the terraform binary) with args.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (*iac.CommandOutcome, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	// The deadline covers pulling the image as well as the run itself.
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.ensureImage(runCtx); err != nil {
		if timedOut(ctx, runCtx) {
			return iac.TimeoutOutcome(), nil
		}
		return nil, err
	}

	resp, err := r.docker.ContainerCreate(runCtx, r.containerConfig(args), &container.HostConfig{
		Binds: []string{absDir + ":" + mountPath},
	}, nil, nil, "")
	if err != nil {
		if timedOut(ctx, runCtx) {
			return iac.TimeoutOutcome(), nil
		}
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		_ = r.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		if timedOut(ctx, runCtx) {
			_ = r.docker.ContainerKill(context.Background(), resp.ID, "KILL")
			return iac.TimeoutOutcome(), nil
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.docker.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-statusCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		if timedOut(ctx, runCtx) {
			_ = r.docker.ContainerKill(context.Background(), resp.ID, "KILL")
			return iac.TimeoutOutcome(), nil
		}
		return nil, fmt.Errorf("failed waiting for container: %w", err)
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("container interrupted: %w", ctx.Err())
		}
		_ = r.docker.ContainerKill(context.Background(), resp.ID, "KILL")
		return iac.TimeoutOutcome(), nil
	}

	stdout, stderr, err := r.collectLogs(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	return &iac.CommandOutcome{
		Success:  exitCode == 0,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: int(exitCode),
	}, nil
}

func (r *Runner) containerConfig(args []string) *container.Config {
	env := []string{"TF_INPUT=0", "TF_IN_AUTOMATION=1"}
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, r.env[k]))
	}

	return &container.Config{
		Image:      r.image,
		Cmd:        args,
		Env:        env,
		WorkingDir: mountPath,
		User:       r.user,
	}
}

// ensureImage pulls the image only when it is not present locally.
func (r *Runner) ensureImage(ctx context.Context) error {
	images, err := r.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", r.image)),
	})
	if err == nil && len(images) > 0 {
		return nil
	}

	reader, err := r.docker.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}
	return nil
}

// timedOut reports whether runCtx hit its own deadline rather than ctx
// being cancelled.
func timedOut(ctx, runCtx context.Context) bool {
	return stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
}

func (r *Runner) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// Ensure we implement the Runner interface
var _ iac.Runner = (*Runner)(nil)
