// Package iac defines how vmprov talks to the external provisioning tool.
package iac

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 600 * time.Second

// ExitCodeTimedOut is reported instead of a real exit code when a command is
// killed for exceeding its timeout.
const ExitCodeTimedOut = -1

// TimedOutMessage is the stderr text of a timed out command.
const TimedOutMessage = "Command timed out"

// Runner executes one provisioning tool command inside a working directory.
//
// Expected failures (non-zero exit, timeout) are reported through the
// outcome. An error is only returned when the command could not be run at all.
type Runner interface {
	// Name returns the runner identifier (e.g., "terraform", "docker")
	Name() string

	Run(ctx context.Context, dir string, args ...string) (*CommandOutcome, error)
}

// CommandOutcome is the captured result of one command.
type CommandOutcome struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"returncode"`
}

// TimedOut reports whether the command was killed by the timeout.
func (o *CommandOutcome) TimedOut() bool {
	return !o.Success && o.ExitCode == ExitCodeTimedOut
}

// TimeoutOutcome builds the outcome every runner reports on timeout.
func TimeoutOutcome() *CommandOutcome {
	return &CommandOutcome{
		Success:  false,
		Stdout:   "",
		Stderr:   TimedOutMessage,
		ExitCode: ExitCodeTimedOut,
	}
}

// OutputValue represents a module output.
type OutputValue struct {
	Value     interface{} `json:"value"`
	Sensitive bool        `json:"sensitive"`
}

// RunnerOptions configures a runner created through the registry.
type RunnerOptions struct {
	// Binary is the tool executable (e.g., "terraform", "tofu")
	Binary string

	// Image is the container image used by container runners
	Image string

	// Timeout bounds each command; zero means DefaultTimeout
	Timeout time.Duration

	// Environment is added to the command environment
	Environment map[string]string
}

// EffectiveTimeout returns the configured timeout or the default.
func (o RunnerOptions) EffectiveTimeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}
