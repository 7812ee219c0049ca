// Package opentofu runs the OpenTofu/Terraform binary on the local host.
package opentofu

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/davidthor/vmprov/pkg/iac"
)

func init() {
	// Register both opentofu and terraform names
	iac.Register("tofu", func(opts iac.RunnerOptions) (iac.Runner, error) {
		if opts.Binary == "" {
			opts.Binary = "tofu"
		}
		return NewRunner(opts)
	})
	iac.Register("terraform", func(opts iac.RunnerOptions) (iac.Runner, error) {
		if opts.Binary == "" {
			opts.Binary = "terraform"
		}
		return NewRunner(opts)
	})
}

// waitDelay bounds how long Wait blocks on inherited pipes after the process
// has been killed.
const waitDelay = 5 * time.Second

// Runner implements iac.Runner for a local tofu/terraform binary.
type Runner struct {
	// binaryPath is the path to the tofu/terraform binary
	binaryPath string
	// binaryName is "tofu", "terraform" or the configured path
	binaryName string
	timeout    time.Duration
	env        map[string]string
}

// NewRunner resolves the binary and creates a runner. A bare "tofu" or
// "terraform" falls back to the other name when only that one is installed.
func NewRunner(opts iac.RunnerOptions) (*Runner, error) {
	binaryName := opts.Binary
	if binaryName == "" {
		binaryName = "terraform"
	}

	binaryPath, err := exec.LookPath(binaryName)
	if err != nil {
		alternative := ""
		switch binaryName {
		case "tofu":
			alternative = "terraform"
		case "terraform":
			alternative = "tofu"
		}
		if alternative == "" {
			return nil, fmt.Errorf("%s binary not found: %w", binaryName, err)
		}
		binaryPath, err = exec.LookPath(alternative)
		if err != nil {
			return nil, fmt.Errorf("neither tofu nor terraform binary found: %w", err)
		}
		binaryName = alternative
	}

	return &Runner{
		binaryPath: binaryPath,
		binaryName: binaryName,
		timeout:    opts.EffectiveTimeout(),
		env:        opts.Environment,
	}, nil
}

func (r *Runner) Name() string {
	return filepath.Base(r.binaryName)
}

// Run executes the binary with args in dir. The command is killed when the
// runner's timeout elapses.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (*iac.CommandOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binaryPath, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	cmd.Env = os.Environ()
	for k, v := range r.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Disable interactive prompts
	cmd.Env = append(cmd.Env, "TF_INPUT=0")
	cmd.Env = append(cmd.Env, "TF_IN_AUTOMATION=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return iac.TimeoutOutcome(), nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", r.binaryName, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", r.binaryName, ctx.Err())
		}
	}

	return &iac.CommandOutcome{
		Success:  err == nil,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}

// Ensure we implement the Runner interface
var _ iac.Runner = (*Runner)(nil)
