// Package pipeline drives the fixed init, plan, apply, output sequence
// against a runner.
package pipeline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/opentofu"
	"github.com/davidthor/vmprov/pkg/workspace"
)

// Stage names a pipeline step.
type Stage string

const (
	StageInit   Stage = "init"
	StagePlan   Stage = "plan"
	StageApply  Stage = "apply"
	StageOutput Stage = "output"
)

// Commands holds the tool arguments for each stage.
type Commands struct {
	Init   []string
	Plan   []string
	Apply  []string
	Output []string
}

// DefaultCommands returns the terraform/tofu arguments. Apply never prompts
// and outputs are read as JSON.
func DefaultCommands() Commands {
	return Commands{
		Init:   []string{"init", "-no-color"},
		Plan:   []string{"plan", "-no-color"},
		Apply:  []string{"apply", "-auto-approve", "-no-color"},
		Output: []string{"output", "-json"},
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Success bool

	// FailedStage and Outcome describe the stage that stopped the pipeline.
	FailedStage Stage
	Outcome     *iac.CommandOutcome

	// Outputs is empty, never nil, when outputs could not be collected.
	Outputs map[string]iac.OutputValue
}

// StageHook is called after every stage that ran.
type StageHook func(stage Stage, elapsed time.Duration, outcome *iac.CommandOutcome)

// Executor runs pipelines. It holds no per-run state and may be shared.
type Executor struct {
	runner   iac.Runner
	commands Commands
	logger   log.FieldLogger
	hook     StageHook
}

// Option configures an Executor.
type Option func(*Executor)

// WithCommands overrides the per-stage arguments.
func WithCommands(c Commands) Option {
	return func(e *Executor) { e.commands = c }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithStageHook registers a hook, e.g. for metrics.
func WithStageHook(h StageHook) Option {
	return func(e *Executor) { e.hook = h }
}

// NewExecutor creates an executor on top of runner.
func NewExecutor(runner iac.Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:   runner,
		commands: DefaultCommands(),
		logger:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the stages in order in ws.
//
// The first failing init, plan or apply stops the run; the result names the
// stage and the returned error is a StageFailure. Output collection is best
// effort: if it fails the run still succeeds with no outputs. Errors from the
// runner itself (tool missing, workspace unusable) are UnexpectedFaults.
func (e *Executor) Execute(ctx context.Context, ws *workspace.Workspace) (*Result, error) {
	logger := e.logger.WithField("deployment_id", ws.ID)

	steps := []struct {
		stage Stage
		args  []string
	}{
		{StageInit, e.commands.Init},
		{StagePlan, e.commands.Plan},
		{StageApply, e.commands.Apply},
	}

	for _, step := range steps {
		outcome, err := e.run(ctx, ws, step.stage, step.args)
		if err != nil {
			return nil, errors.UnexpectedFault("terraform "+string(step.stage), err)
		}
		if !outcome.Success {
			logger.WithFields(log.Fields{
				"stage":     step.stage,
				"exit_code": outcome.ExitCode,
				"timed_out": outcome.TimedOut(),
			}).Error("stage failed")
			return &Result{
				FailedStage: step.stage,
				Outcome:     outcome,
				Outputs:     map[string]iac.OutputValue{},
			}, errors.StageFailure(string(step.stage), outcome)
		}
		logger.WithField("stage", step.stage).Info("stage completed")
	}

	return &Result{
		Success: true,
		Outputs: e.collectOutputs(ctx, ws, logger),
	}, nil
}

func (e *Executor) run(ctx context.Context, ws *workspace.Workspace, stage Stage, args []string) (*iac.CommandOutcome, error) {
	start := time.Now()
	outcome, err := e.runner.Run(ctx, ws.Dir, args...)
	if err == nil && e.hook != nil {
		e.hook(stage, time.Since(start), outcome)
	}
	return outcome, err
}

func (e *Executor) collectOutputs(ctx context.Context, ws *workspace.Workspace, logger log.FieldLogger) map[string]iac.OutputValue {
	logger = logger.WithField("stage", StageOutput)

	outcome, err := e.run(ctx, ws, StageOutput, e.commands.Output)
	if err != nil {
		logger.WithError(err).Warn("could not read outputs")
		return map[string]iac.OutputValue{}
	}
	if !outcome.Success {
		logger.WithField("exit_code", outcome.ExitCode).Warn("could not read outputs")
		return map[string]iac.OutputValue{}
	}

	outputs, err := opentofu.ParseOutputs(outcome.Stdout)
	if err != nil {
		logger.WithError(errors.Wrap(errors.ErrCodeOutputCollection, "unparseable outputs", err)).Warn("ignoring outputs")
		return map[string]iac.OutputValue{}
	}
	return outputs
}
