// ABOUTME: Pipeline orchestrator that coordinates all components for a run
// ABOUTME: Integrates fetcher, parser, config, resolver, executor, and stores

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/riffml/riff/internal/artifacts"
	"github.com/riffml/riff/internal/config"
	contextManager "github.com/riffml/riff/internal/context"
	"github.com/riffml/riff/internal/executor"
	"github.com/riffml/riff/internal/fetch"
	"github.com/riffml/riff/internal/filesystem"
	"github.com/riffml/riff/internal/history"
	"github.com/riffml/riff/internal/pipeline"
	"github.com/riffml/riff/internal/project"
	"github.com/riffml/riff/internal/step"
	"github.com/riffml/riff/internal/template"
	"github.com/riffml/riff/internal/tracking"
	"github.com/riffml/riff/pkg/types"
)

// Config holds orchestrator configuration
type Config struct {
	DryRun         bool
	MaxConcurrency int
	Logger         types.Logger
	Verbose        bool
	HistoryDir     string // Path or URI; empty means <project>/.riff/history
	ArtifactDir    string // Path or URI; empty means <project>/.riff/artifacts
	CacheDir       string // Remote project cache; empty means the user cache
	FSOptions      *filesystem.Options
}

// Orchestrator coordinates pipeline execution across all system components
type Orchestrator struct {
	parser  *project.Parser
	fetcher *fetch.Fetcher
	logger  types.Logger
	config  *Config
}

// Target describes what to run: a local path or a remote URL with an
// optional version tag
type Target struct {
	Path    string // Local path or repository URL
	Version string // Version tag for remote execution
}

// New creates a new pipeline orchestrator
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	maxConcurrency, err := types.ValidateConcurrency(cfg.MaxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("invalid orchestrator configuration: %w", err)
	}
	cfg.MaxConcurrency = maxConcurrency

	return &Orchestrator{
		parser:  project.New(afero.NewOsFs()),
		fetcher: fetch.New(cfg.CacheDir, cfg.Logger),
		logger:  cfg.Logger,
		config:  cfg,
	}, nil
}

// Run executes the pipeline at the target with the given -P overrides.
// Phase errors land in their Result field; the error return is reserved
// for orchestrator-level failures.
func (o *Orchestrator) Run(ctx context.Context, target Target, paramOverrides []string, triggerType string) (*types.Result, error) {
	result := &types.Result{}
	startTime := time.Now()

	projectDir, err := o.resolveTarget(ctx, target)
	if err != nil {
		result.FetchError = err
		return result, nil
	}

	run, err := o.prepare(projectDir, paramOverrides, result)
	if err != nil || len(result.ValidationErrors) > 0 {
		return result, nil
	}

	o.logf("starting run %s for project '%s'", run.spec.RunID, run.project.Name)

	runResult, execErr := run.executor.ExecuteRun(ctx, run.spec, run.resolver)
	if runResult != nil {
		runResult.Overrides = paramOverrides
	}
	result.RunResult = runResult
	if execErr != nil {
		result.ExecutionError = fmt.Errorf("pipeline execution failed: %w", execErr)
	}

	o.record(result, run.spec.RunID, run.project.Name, projectDir, triggerType, paramOverrides)

	if execErr == nil {
		o.logf("run completed with status %s in %v", runResult.Status, time.Since(startTime))
		if o.config.Verbose {
			o.logRunSummary(runResult)
		}
	}

	return result, nil
}

// Validate parses and validates the target project without executing it
func (o *Orchestrator) Validate(ctx context.Context, target Target) (*types.Result, error) {
	result := &types.Result{}

	projectDir, err := o.resolveTarget(ctx, target)
	if err != nil {
		result.FetchError = err
		return result, nil
	}

	proj, err := o.parser.ParseProject(projectDir)
	if err != nil {
		result.ParseError = err
		return result, nil
	}

	o.validateSteps(proj, projectDir, result)

	resolver := pipeline.New()
	if err := resolver.BuildGraph(proj.Steps); err != nil {
		result.DependencyError = err
		return result, nil
	}
	if err := resolver.ValidateGraph(); err != nil {
		result.DependencyError = err
	}

	return result, nil
}

// ExecutionPlan represents a pipeline execution plan
type ExecutionPlan struct {
	Project   *types.Project
	Layers    []*pipeline.ExecutionLayer
	Commands  map[string]string // Step ID -> rendered command
	Selection []string          // nil means all steps run
	Stats     map[string]interface{}
}

// Plan resolves the target and returns the execution plan without running
// any steps
func (o *Orchestrator) Plan(ctx context.Context, target Target, paramOverrides []string) (*ExecutionPlan, error) {
	projectDir, err := o.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	result := &types.Result{}
	run, err := o.prepare(projectDir, paramOverrides, result)
	if err != nil {
		return nil, firstError(result)
	}
	if len(result.ValidationErrors) > 0 {
		return nil, fmt.Errorf("project validation failed: %v", result.ValidationErrors[0])
	}

	layers, err := run.resolver.GetExecutionLayers()
	if err != nil {
		return nil, err
	}

	// Best-effort command rendering: plans for steps whose parameters
	// reference not-yet-published artifacts still show the template
	commands := make(map[string]string, len(run.project.Steps))
	for i := range run.project.Steps {
		stepConfig := &run.project.Steps[i]
		manifest := run.spec.Manifests[stepConfig.ID]
		entry := manifest.EntryPoints[stepConfig.EntryPoint]

		command := entry.Command
		if params, err := run.contextManager.EvaluateParameters(stepConfig.Parameters); err == nil {
			if resolved, err := project.ResolveParameters(&entry, params); err == nil {
				if rendered, err := step.RenderCommand(entry.Command, resolved); err == nil {
					command = rendered
				}
			}
		}
		commands[stepConfig.ID] = command
	}

	return &ExecutionPlan{
		Project:   run.project,
		Layers:    layers,
		Commands:  commands,
		Selection: run.spec.Selection,
		Stats:     run.resolver.GetStats(),
	}, nil
}

// preparedRun bundles the per-run components
type preparedRun struct {
	project        *types.Project
	spec           *executor.RunSpec
	resolver       *pipeline.Resolver
	executor       *executor.Executor
	contextManager *contextManager.Manager
}

// prepare loads, validates, and wires everything needed for a run.
// Phase errors are recorded in result; a non-nil error means preparation
// stopped.
func (o *Orchestrator) prepare(projectDir string, paramOverrides []string, result *types.Result) (*preparedRun, error) {
	proj, err := o.parser.ParseProject(projectDir)
	if err != nil {
		result.ParseError = err
		return nil, err
	}

	cfg, err := config.Load(afero.NewOsFs(), filepath.Join(projectDir, proj.ConfigFile))
	if err != nil {
		result.ConfigError = err
		return nil, err
	}

	overrides, err := config.ParseOverrides(paramOverrides)
	if err != nil {
		result.ConfigError = err
		return nil, err
	}
	if err := cfg.Apply(overrides); err != nil {
		result.ConfigError = err
		return nil, err
	}

	manifests := o.validateSteps(proj, projectDir, result)
	if len(result.ValidationErrors) > 0 {
		return nil, nil
	}

	selection, hasSelection := cfg.StepSelection()
	if hasSelection {
		known := make(map[string]bool, len(proj.Steps))
		for _, stepConfig := range proj.Steps {
			known[stepConfig.ID] = true
		}
		for _, id := range selection {
			if !known[id] {
				result.ConfigError = types.NewConfigError(config.KeyExecuteSteps,
					fmt.Sprintf("selected step '%s' does not exist", id), nil)
				return nil, result.ConfigError
			}
		}
	} else {
		selection = nil
	}

	resolver := pipeline.New()
	if err := resolver.BuildGraph(proj.Steps); err != nil {
		result.DependencyError = err
		return nil, err
	}
	if err := resolver.ValidateGraph(); err != nil {
		result.DependencyError = err
		return nil, err
	}

	runID := uuid.NewString()

	engine := template.New()
	cm := contextManager.New(engine)
	if err := cm.Initialize(proj, cfg.Tree(), nil); err != nil {
		result.ExecutionError = fmt.Errorf("failed to initialize context: %w", err)
		return nil, result.ExecutionError
	}

	exec, err := executor.New(cm, &executor.Config{
		DryRun:         o.config.DryRun,
		MaxConcurrency: o.config.MaxConcurrency,
		Logger:         o.logger,
	})
	if err != nil {
		result.ExecutionError = err
		return nil, err
	}

	store, err := o.openArtifactStore(projectDir)
	if err != nil {
		result.ExecutionError = err
		return nil, err
	}
	engine.SetArtifactResolver(store)
	exec.SetPublisher(store)

	return &preparedRun{
		project:        proj,
		resolver:       resolver,
		executor:       exec,
		contextManager: cm,
		spec: &executor.RunSpec{
			Project:     proj,
			ProjectDir:  projectDir,
			Config:      cfg,
			Manifests:   manifests,
			Selection:   selection,
			RunID:       runID,
			TrackingEnv: tracking.Exports(cfg, runID),
		},
	}, nil
}

// validateSteps loads step manifests and checks entry points and templates,
// appending problems to result.ValidationErrors
func (o *Orchestrator) validateSteps(proj *types.Project, projectDir string, result *types.Result) map[string]*types.StepManifest {
	manifests := make(map[string]*types.StepManifest, len(proj.Steps))

	for i := range proj.Steps {
		stepConfig := &proj.Steps[i]

		manifest, err := o.parser.ParseStepManifest(filepath.Join(projectDir, stepConfig.Dir))
		if err != nil {
			result.ValidationErrors = append(result.ValidationErrors,
				fmt.Errorf("step '%s': %w", stepConfig.ID, err))
			continue
		}

		if _, exists := manifest.EntryPoints[stepConfig.EntryPoint]; !exists {
			result.ValidationErrors = append(result.ValidationErrors,
				types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
					fmt.Sprintf("entry point not defined by step '%s'", manifest.Name), nil))
			continue
		}

		manifests[stepConfig.ID] = manifest
	}

	result.ValidationErrors = append(result.ValidationErrors,
		template.ValidateStepTemplates(proj.Steps)...)

	return manifests
}

// resolveTarget fetches remote targets and returns the local project directory
func (o *Orchestrator) resolveTarget(ctx context.Context, target Target) (string, error) {
	if fetch.IsRemote(target.Path) {
		return o.fetcher.Fetch(ctx, target.Path, target.Version)
	}

	if target.Version != "" {
		return "", types.NewFetchError(target.Path, target.Version,
			"version tags require a remote repository URL", nil)
	}

	return filepath.Abs(target.Path)
}

// openArtifactStore opens the artifact store for the project
func (o *Orchestrator) openArtifactStore(projectDir string) (*artifacts.Store, error) {
	root := o.config.ArtifactDir
	if root == "" {
		root = filepath.Join(projectDir, ".riff", "artifacts")
	}

	fs, base, err := filesystem.Resolve(root, o.config.FSOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	return artifacts.Open(fs, base)
}

// record persists the run in history, best effort
func (o *Orchestrator) record(result *types.Result, runID, projectName, projectDir, triggerType string, overrides []string) {
	root := o.config.HistoryDir
	if root == "" {
		root = filepath.Join(projectDir, ".riff", "history")
	}

	fs, base, err := filesystem.Resolve(root, o.config.FSOptions)
	if err != nil {
		o.logf("failed to open history store: %v", err)
		return
	}

	store := history.New(fs, base, 10000)
	if err := store.Initialize(); err != nil {
		o.logf("failed to initialize history store: %v", err)
		return
	}

	if _, err := store.Record(result, runID, projectName, projectDir, triggerType, overrides); err != nil {
		o.logf("failed to record run history: %v", err)
	}
}

// HistoryStore opens the history store for a project directory
func (o *Orchestrator) HistoryStore(projectDir string) (*history.Store, error) {
	root := o.config.HistoryDir
	if root == "" {
		root = filepath.Join(projectDir, ".riff", "history")
	}

	fs, base, err := filesystem.Resolve(root, o.config.FSOptions)
	if err != nil {
		return nil, err
	}

	store := history.New(fs, base, 10000)
	if err := store.Initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

// ArtifactStore opens the artifact store for a project directory
func (o *Orchestrator) ArtifactStore(projectDir string) (*artifacts.Store, error) {
	return o.openArtifactStore(projectDir)
}

// ParseProject exposes project parsing for inspection commands
func (o *Orchestrator) ParseProject(projectDir string) (*types.Project, error) {
	return o.parser.ParseProject(projectDir)
}

// StepManifest exposes manifest parsing for inspection commands
func (o *Orchestrator) StepManifest(projectDir string, stepConfig *types.StepConfig) (*types.StepManifest, error) {
	return o.parser.ParseStepManifest(filepath.Join(projectDir, stepConfig.Dir))
}

// firstError returns the first phase error recorded in a result
func firstError(result *types.Result) error {
	switch {
	case result.FetchError != nil:
		return result.FetchError
	case result.ParseError != nil:
		return result.ParseError
	case result.ConfigError != nil:
		return result.ConfigError
	case result.DependencyError != nil:
		return result.DependencyError
	case result.ExecutionError != nil:
		return result.ExecutionError
	case len(result.ValidationErrors) > 0:
		return result.ValidationErrors[0]
	}
	return nil
}

// logf logs a formatted message if logger is available
func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Info().Msgf(format, args...)
	}
}

// logRunSummary logs a summary of run results
func (o *Orchestrator) logRunSummary(result *types.RunResult) {
	if o.logger == nil {
		return
	}

	successCount := 0
	failedCount := 0
	skippedCount := 0

	for _, stepResult := range result.Steps {
		switch stepResult.Status {
		case types.StepSuccess:
			successCount++
		case types.StepFailed:
			failedCount++
		case types.StepSkipped:
			skippedCount++
		}
	}

	o.logger.Info().
		Str("project", result.Project).
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Int("total_steps", len(result.Steps)).
		Int("successful", successCount).
		Int("failed", failedCount).
		Int("skipped", skippedCount).
		Msg("run summary")

	for id, stepResult := range result.Steps {
		if stepResult.Status == types.StepFailed {
			o.logger.Error().
				Str("step", id).
				Str("error", stepResult.Message).
				Msg("step failed")
		}
	}
}
