// Package engine runs deployments in the background and exposes their
// progress.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/pipeline"
	"github.com/davidthor/vmprov/pkg/iac/render"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/state"
	"github.com/davidthor/vmprov/pkg/tracker"
	"github.com/davidthor/vmprov/pkg/workspace"
)

// Progress messages.
const (
	MessageInitializing = "Initializing deployment..."
	MessageGenerating   = "Generating Terraform configuration..."
	MessageDeploying    = "Deploying infrastructure..."
	MessageCompleted    = "Deployment completed successfully!"
	MessageFailedPrefix = "Deployment failed: "
)

// ErrNotFound is returned for unknown deployment ids.
var ErrNotFound = tracker.ErrNotFound

// Pipeline runs the provisioning tool in a workspace.
type Pipeline interface {
	Execute(ctx context.Context, ws *workspace.Workspace) (*pipeline.Result, error)
}

// CredentialResolver replaces credential references with their values.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, creds deployment.Credentials) (deployment.Credentials, error)
}

// Orchestrator starts deployments and answers status queries. Each
// deployment runs in its own goroutine; deployments share nothing but the
// tracker.
type Orchestrator struct {
	tracker    *tracker.Tracker
	renderer   *render.Renderer
	workspaces *workspace.Manager
	pipeline   Pipeline
	resolver   CredentialResolver
	archiver   *state.Archiver
	logger     log.FieldLogger
	newID      func() string
	watchers   *hub

	pipelineOpts []pipeline.Option

	mu   sync.Mutex
	done map[string]chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracker sets the tracker. Observers must be registered on it before
// the first deployment starts.
func WithTracker(t *tracker.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithRenderer sets the renderer.
func WithRenderer(r *render.Renderer) Option {
	return func(o *Orchestrator) { o.renderer = r }
}

// WithPipeline replaces the pipeline built from the runner.
func WithPipeline(p Pipeline) Option {
	return func(o *Orchestrator) { o.pipeline = p }
}

// WithPipelineOptions configures the pipeline built from the runner.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *Orchestrator) { o.pipelineOpts = append(o.pipelineOpts, opts...) }
}

// WithCredentialResolver sets how credential references are resolved.
// Without one, credential values are rendered exactly as submitted.
func WithCredentialResolver(r CredentialResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithArchiver enables archiving of finished workspaces.
func WithArchiver(a *state.Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDGenerator overrides deployment id generation.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// New creates an orchestrator writing workspaces under workspaces and running
// the tool through runner.
func New(workspaces *workspace.Manager, runner iac.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workspaces: workspaces,
		logger:     log.StandardLogger(),
		newID:      uuid.NewString,
		watchers:   newHub(),
		done:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = tracker.New()
	}
	if o.renderer == nil {
		o.renderer = render.NewRenderer()
	}
	if o.pipeline == nil {
		pipelineOpts := append([]pipeline.Option{pipeline.WithLogger(o.logger)}, o.pipelineOpts...)
		o.pipeline = pipeline.NewExecutor(runner, pipelineOpts...)
	}
	o.tracker.Observe(o.watchers.notify)
	return o
}

// StartDeployment registers a new deployment and starts it in the
// background. It returns the deployment id without waiting for any stage;
// configuration problems show up as a failed record.
func (o *Orchestrator) StartDeployment(cfg *deployment.Config) string {
	id := o.newID()

	done := make(chan struct{})
	o.mu.Lock()
	o.done[id] = done
	o.mu.Unlock()

	if _, err := o.tracker.Register(id, MessageInitializing); err != nil {
		// Only a colliding id generator gets here.
		o.logger.WithField("deployment_id", id).WithError(err).Error("could not register deployment")
		close(done)
		return id
	}

	r := &run{
		id:     id,
		cfg:    cfg,
		logger: o.logger.WithField("deployment_id", id),
	}
	go o.run(context.Background(), r, done)

	return id
}

// GetStatus returns the record of a deployment or ErrNotFound.
func (o *Orchestrator) GetStatus(id string) (tracker.Record, error) {
	return o.tracker.Get(id)
}

// ListDeployments returns a summary of every deployment, oldest first.
func (o *Orchestrator) ListDeployments() []tracker.Summary {
	list := o.tracker.List()
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartTime.Before(list[j].StartTime)
	})
	return list
}

// CountByStatus returns the number of deployments in each status.
func (o *Orchestrator) CountByStatus() map[tracker.Status]int {
	return o.tracker.Count()
}

// Wait blocks until the deployment has finished, including archiving, and
// returns its final record.
func (o *Orchestrator) Wait(ctx context.Context, id string) (tracker.Record, error) {
	o.mu.Lock()
	done, ok := o.done[id]
	o.mu.Unlock()
	if !ok {
		return tracker.Record{}, ErrNotFound
	}

	select {
	case <-done:
		return o.tracker.Get(id)
	case <-ctx.Done():
		return tracker.Record{}, ctx.Err()
	}
}

// run carries the state of one deployment through its stages.
type run struct {
	id     string
	cfg    *deployment.Config
	logger log.FieldLogger
	ws     *workspace.Workspace
	result *pipeline.Result
}

func (o *Orchestrator) run(ctx context.Context, r *run, done chan struct{}) {
	defer close(done)
	defer o.guard(ctx, r)

	if err := o.execute(ctx, r); err != nil {
		o.fail(r, err)
		return
	}

	o.advance(r, tracker.Transition{
		Status:  tracker.StatusCompleted,
		Message: MessageCompleted,
		Outputs: r.result.Outputs,
	})
	r.logger.WithField("outputs", len(r.result.Outputs)).Info("deployment completed")
}

// guard makes sure the record ends terminal whatever happened in the run,
// then archives the workspace.
func (o *Orchestrator) guard(ctx context.Context, r *run) {
	if p := recover(); p != nil {
		r.logger.WithField("stack", string(debug.Stack())).Errorf("deployment panicked: %v", p)
		o.fail(r, errors.UnexpectedFault("deployment", fmt.Errorf("panic: %v", p)))
	}

	if rec, err := o.tracker.Get(r.id); err == nil && !rec.Status.Terminal() {
		o.fail(r, errors.UnexpectedFault("deployment", stderrors.New("run ended without a final status")))
	}

	o.archive(ctx, r)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	o.advance(r, tracker.Transition{Status: tracker.StatusGenerating, Message: MessageGenerating})

	cfg, err := o.resolveCredentials(ctx, r.cfg)
	if err != nil {
		return err
	}

	docs, err := o.renderer.Render(cfg)
	if err != nil {
		return err
	}

	ws, err := o.workspaces.Create(r.id)
	if err != nil {
		return errors.UnexpectedFault("create workspace", err)
	}
	r.ws = ws

	if err := o.workspaces.WriteDocuments(ws, docs); err != nil {
		return errors.UnexpectedFault("write documents", err)
	}
	r.logger.WithField("dir", ws.Dir).Debug("documents written")

	o.advance(r, tracker.Transition{Status: tracker.StatusDeploying, Message: MessageDeploying})

	result, err := o.pipeline.Execute(ctx, ws)
	r.result = result
	return err
}

func (o *Orchestrator) resolveCredentials(ctx context.Context, cfg *deployment.Config) (*deployment.Config, error) {
	if cfg == nil || o.resolver == nil {
		return cfg, nil
	}
	creds, err := o.resolver.ResolveCredentials(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	resolved := *cfg
	resolved.Credentials = creds
	return &resolved, nil
}

func (o *Orchestrator) fail(r *run, err error) {
	detail := &tracker.ErrorDetail{Reason: reason(err)}
	if r.result != nil && r.result.Outcome != nil {
		detail.Stage = string(r.result.FailedStage)
		detail.Outcome = r.result.Outcome
	}

	r.logger.WithFields(log.Fields{
		"stage": detail.Stage,
		"code":  errors.CodeOf(err),
	}).WithError(err).Error("deployment failed")

	o.advance(r, tracker.Transition{
		Status:  tracker.StatusFailed,
		Message: MessageFailedPrefix + detail.Reason,
		Error:   detail,
	})
}

func (o *Orchestrator) advance(r *run, tr tracker.Transition) {
	if _, err := o.tracker.Advance(r.id, tr); err != nil {
		r.logger.WithError(err).WithField("status", tr.Status).Warn("transition rejected")
	}
}

func (o *Orchestrator) archive(ctx context.Context, r *run) {
	if o.archiver == nil || r.ws == nil {
		return
	}

	var outputs map[string]iac.OutputValue
	if r.result != nil && r.result.Success {
		outputs = r.result.Outputs
	}
	if err := o.archiver.Archive(ctx, r.ws, outputs); err != nil {
		r.logger.WithError(err).Warn("could not archive workspace")
		return
	}
	r.logger.Debug("workspace archived")
}

// reason renders err for the status message. Coded errors contribute their
// message without the code prefix.
func reason(err error) string {
	var coded *errors.Error
	if !stderrors.As(err, &coded) {
		return err.Error()
	}
	if coded.Cause != nil {
		return fmt.Sprintf("%s: %v", coded.Message, coded.Cause)
	}
	return coded.Message
}
