package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/davidthor/vmprov/pkg/engine"
	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/container"
	"github.com/davidthor/vmprov/pkg/iac/pipeline"
	"github.com/davidthor/vmprov/pkg/metrics"
	"github.com/davidthor/vmprov/pkg/secrets"
	"github.com/davidthor/vmprov/pkg/state"
	"github.com/davidthor/vmprov/pkg/state/backend"
	"github.com/davidthor/vmprov/pkg/tracker"
	"github.com/davidthor/vmprov/pkg/workspace"
)

// Configuration keys, as used in ~/.vmprov/config.yaml. Environment
// variables use the VMPROV_ prefix with dots replaced by underscores.
const (
	KeyWorkspaceRoot  = "workspace_root"
	KeyRunner         = "runner"
	KeyBinary         = "binary"
	KeyDockerImage    = "docker_image"
	KeyCommandTimeout = "command_timeout"
	KeyListen         = "listen"
	KeyMetricsPath    = "metrics_path"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyArchiveBackend = "archive.backend"
	KeyArchiveConfig  = "archive.config"
	KeyAWSSMRegion    = "secrets.awssm_region"

	// KeyAllowReferences lists the reference schemes "vmprov serve" resolves
	// in request credentials. Empty means none.
	KeyAllowReferences = "secrets.allow_references"
)

// Defaults for the configuration keys.
const (
	DefaultWorkspaceRoot  = workspace.DefaultRoot
	DefaultRunner         = "terraform"
	DefaultCommandTimeout = iac.DefaultTimeout
	DefaultListen         = ":5000"
	DefaultMetricsPath    = "/metrics"
	ArchiveNone           = "none"
)

// settableKeys lists the keys "vmprov config set" accepts.
var settableKeys = []string{
	KeyWorkspaceRoot,
	KeyRunner,
	KeyBinary,
	KeyDockerImage,
	KeyCommandTimeout,
	KeyListen,
	KeyMetricsPath,
	KeyLogLevel,
	KeyLogFormat,
	KeyArchiveBackend,
	KeyAWSSMRegion,
	KeyAllowReferences,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyWorkspaceRoot, DefaultWorkspaceRoot)
	v.SetDefault(KeyRunner, DefaultRunner)
	v.SetDefault(KeyDockerImage, container.DefaultImage)
	v.SetDefault(KeyCommandTimeout, DefaultCommandTimeout)
	v.SetDefault(KeyListen, DefaultListen)
	v.SetDefault(KeyMetricsPath, DefaultMetricsPath)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyArchiveBackend, ArchiveNone)
}

// Settings is the resolved configuration of one invocation.
type Settings struct {
	WorkspaceRoot  string
	Runner         string
	Binary         string
	DockerImage    string
	CommandTimeout time.Duration
	Listen         string
	MetricsPath    string
	Archive        backend.Config
	AWSSMRegion    string

	AllowReferences []string
}

// loadSettings reads the settings from v.
func loadSettings(v *viper.Viper) Settings {
	return Settings{
		WorkspaceRoot:  v.GetString(KeyWorkspaceRoot),
		Runner:         v.GetString(KeyRunner),
		Binary:         v.GetString(KeyBinary),
		DockerImage:    v.GetString(KeyDockerImage),
		CommandTimeout: v.GetDuration(KeyCommandTimeout),
		Listen:         v.GetString(KeyListen),
		MetricsPath:    v.GetString(KeyMetricsPath),
		Archive: backend.Config{
			Type:   v.GetString(KeyArchiveBackend),
			Config: v.GetStringMapString(KeyArchiveConfig),
		},
		AWSSMRegion:     v.GetString(KeyAWSSMRegion),
		AllowReferences: splitList(v.GetStringSlice(KeyAllowReferences)),
	}
}

// splitList accepts both YAML lists and comma separated strings, as set
// through "vmprov config set" or the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// RunnerOptions returns the options for the configured runner.
func (s Settings) RunnerOptions() iac.RunnerOptions {
	return iac.RunnerOptions{
		Binary:  s.Binary,
		Image:   s.DockerImage,
		Timeout: s.CommandTimeout,
	}
}

// newArchiver returns nil when archiving is disabled.
func newArchiver(s Settings) (*state.Archiver, error) {
	if s.Archive.Type == "" || s.Archive.Type == ArchiveNone {
		return nil, nil
	}
	return state.NewArchiverFromConfig(s.Archive)
}

// newSecrets returns the env and file providers, plus AWS Secrets Manager
// when an AWS configuration can be loaded.
func newSecrets(ctx context.Context, s Settings, logger log.FieldLogger) *secrets.Manager {
	m := secrets.DefaultManager()

	awssm, err := secrets.NewAWSSecretsManagerProvider(ctx, s.AWSSMRegion)
	if err != nil {
		logger.WithError(err).Warn("awssm:// credential references are unavailable")
		return m
	}
	m.RegisterProvider(awssm)
	return m
}

// newServeResolver returns the resolver for credentials submitted over HTTP.
// Request bodies are untrusted, so only the schemes listed in
// secrets.allow_references are resolved; with none listed, credentials are
// used as submitted.
func newServeResolver(ctx context.Context, s Settings, logger log.FieldLogger) engine.CredentialResolver {
	if len(s.AllowReferences) == 0 {
		return nil
	}
	m := newSecrets(ctx, s, logger).Restrict(s.AllowReferences...)
	logger.WithField("schemes", m.Schemes()).Info("resolving credential references in requests")
	return m
}

// newOrchestrator wires the engine from s. m and resolver may be nil.
func newOrchestrator(s Settings, logger log.FieldLogger, m *metrics.Metrics, resolver engine.CredentialResolver) (*engine.Orchestrator, error) {
	workspaces, err := workspace.NewManager(s.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	runner, err := iac.Create(s.Runner, s.RunnerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s runner (available: %s): %w",
			s.Runner, strings.Join(iac.DefaultRegistry().List(), ", "), err)
	}

	archiver, err := newArchiver(s)
	if err != nil {
		return nil, fmt.Errorf("failed to configure archive: %w", err)
	}

	t := tracker.New()
	opts := []engine.Option{
		engine.WithTracker(t),
		engine.WithLogger(logger),
	}
	if resolver != nil {
		opts = append(opts, engine.WithCredentialResolver(resolver))
	}
	if archiver != nil {
		opts = append(opts, engine.WithArchiver(archiver))
	}
	if m != nil {
		t.Observe(m.Observer())
		opts = append(opts, engine.WithPipelineOptions(pipeline.WithStageHook(m.StageHook())))
	}

	logger.WithFields(log.Fields{
		"workspace_root": workspaces.Root(),
		"runner":         runner.Name(),
		"archive":        s.Archive.Type,
	}).Debug("engine configured")

	return engine.New(workspaces, runner, opts...), nil
}
