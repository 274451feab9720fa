// ABOUTME: Core step execution engine with parallel and sequential modes
// ABOUTME: Manages step lifecycle, selection, retries, and artifact publishing

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/riffml/riff/internal/config"
	"github.com/riffml/riff/internal/pipeline"
	"github.com/riffml/riff/internal/project"
	"github.com/riffml/riff/internal/step"
	"github.com/riffml/riff/pkg/types"
)

// Publisher records produced artifacts. Implemented by the artifact store.
type Publisher interface {
	Publish(ref *types.ArtifactRef) (*types.ArtifactRef, error)
}

// Config holds executor configuration
type Config struct {
	DryRun         bool
	MaxConcurrency int
	Logger         types.Logger
}

// RunSpec bundles everything needed to execute a resolved pipeline
type RunSpec struct {
	Project     *types.Project
	ProjectDir  string
	Config      *config.Config
	Manifests   map[string]*types.StepManifest // Step ID -> manifest
	Selection   []string                       // Step IDs to run; nil runs all
	RunID       string
	TrackingEnv map[string]string
}

// Executor handles pipeline execution over resolved dependency layers
type Executor struct {
	contextManager types.ContextManager
	runner         *step.Runner
	publisher      Publisher
	logger         types.Logger
	dryRun         bool
	maxConcurrency int
}

// New creates a new executor with the given context manager
func New(contextManager types.ContextManager, cfg *Config) (*Executor, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	maxConcurrency, err := types.ValidateConcurrency(cfg.MaxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("invalid executor configuration: %w", err)
	}

	return &Executor{
		contextManager: contextManager,
		runner:         step.New(cfg.Logger),
		logger:         cfg.Logger,
		dryRun:         cfg.DryRun,
		maxConcurrency: maxConcurrency,
	}, nil
}

// SetPublisher wires an artifact store into the executor
func (e *Executor) SetPublisher(publisher Publisher) {
	e.publisher = publisher
}

// ExecuteRun executes a resolved pipeline layer by layer.
// Layers run in order; steps within a layer run in parallel unless the
// project requests sequential mode.
func (e *Executor) ExecuteRun(ctx context.Context, spec *RunSpec, resolver *pipeline.Resolver) (*types.RunResult, error) {
	startTime := time.Now()

	layers, err := resolver.GetExecutionLayers()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution layers: %w", err)
	}

	result := &types.RunResult{
		Project:   spec.Project.Name,
		StartTime: startTime,
		Steps:     make(map[string]*types.StepResult),
		Status:    types.RunRunning,
	}

	// Scratch space for materialized config sections, removed after the run
	scratchDir, err := os.MkdirTemp("", "riff-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create run scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	selected := selectionSet(spec.Selection)

	for layerNum, layer := range layers {
		e.logf("executing layer %d with %d steps", layerNum, len(layer.Steps))

		if spec.Project.Mode == types.SequentialMode {
			err = e.executeLayerSequential(ctx, spec, layer, selected, scratchDir, result)
		} else {
			err = e.executeLayerParallel(ctx, spec, layer, selected, scratchDir, result)
		}

		if err != nil {
			result.Status = types.RunFailed
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(startTime)
			return result, err
		}
	}

	result.Status = runStatus(result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	return result, nil
}

// executeLayerSequential executes all steps in a layer one after another
func (e *Executor) executeLayerSequential(ctx context.Context, spec *RunSpec, layer *pipeline.ExecutionLayer, selected map[string]bool, scratchDir string, runResult *types.RunResult) error {
	for _, node := range layer.Steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := e.executeStep(ctx, spec, node.Step, selected, scratchDir)
		runResult.Steps[node.Step.ID] = result

		if result.Status == types.StepFailed && node.Step.IsRequired() {
			return types.NewStepError(node.Step.ID, node.Step.EntryPoint,
				"required step failed", fmt.Errorf("%s", result.Message))
		}
	}

	return nil
}

// executeLayerParallel executes all steps in a layer concurrently,
// bounded by the configured concurrency
func (e *Executor) executeLayerParallel(ctx context.Context, spec *RunSpec, layer *pipeline.ExecutionLayer, selected map[string]bool, scratchDir string, runResult *types.RunResult) error {
	semaphore := make(chan struct{}, e.maxConcurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstError error

	for _, stepNode := range layer.Steps {
		wg.Add(1)

		go func(node *pipeline.StepNode) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			select {
			case <-ctx.Done():
				mu.Lock()
				if firstError == nil {
					firstError = ctx.Err()
				}
				mu.Unlock()
				return
			default:
			}

			result := e.executeStep(ctx, spec, node.Step, selected, scratchDir)

			mu.Lock()
			defer mu.Unlock()

			runResult.Steps[node.Step.ID] = result

			if result.Status == types.StepFailed && node.Step.IsRequired() && firstError == nil {
				firstError = types.NewStepError(node.Step.ID, node.Step.EntryPoint,
					"required step failed", fmt.Errorf("%s", result.Message))
			}
		}(stepNode)
	}

	wg.Wait()
	return firstError
}

// executeStep runs a single step: selection check, parameter resolution,
// retries, and artifact publishing
func (e *Executor) executeStep(ctx context.Context, spec *RunSpec, stepConfig *types.StepConfig, selected map[string]bool, scratchDir string) *types.StepResult {
	if selected != nil && !selected[stepConfig.ID] {
		result := skippedResult(stepConfig,
			fmt.Sprintf("not selected via %s", config.KeyExecuteSteps))
		e.registerResult(result)
		return result
	}

	invocation, err := e.prepareInvocation(spec, stepConfig, scratchDir)
	if err != nil {
		result := failedResult(stepConfig, err.Error())
		e.registerResult(result)
		return result
	}

	if e.dryRun {
		result := skippedResult(stepConfig, "dry run mode - step would be executed")
		if command, renderErr := step.RenderCommand(invocation.Command, invocation.Parameters); renderErr == nil {
			result.Command = command
		}
		e.registerResult(result)
		return result
	}

	result := e.runWithRetries(ctx, stepConfig, invocation)

	if result.Status == types.StepSuccess {
		if err := e.publishOutputs(spec, stepConfig, result); err != nil {
			result.Status = types.StepFailed
			result.Message = err.Error()
		}
	}

	e.registerResult(result)

	if result.Status == types.StepSuccess {
		e.logf("step '%s' completed successfully", stepConfig.ID)
	} else {
		e.logf("step '%s' failed: %s", stepConfig.ID, result.Message)
	}

	return result
}

// prepareInvocation resolves the entry point, parameters, environment, and
// timeout for a step
func (e *Executor) prepareInvocation(spec *RunSpec, stepConfig *types.StepConfig, scratchDir string) (*step.Invocation, error) {
	manifest, exists := spec.Manifests[stepConfig.ID]
	if !exists {
		return nil, types.NewStepError(stepConfig.ID, "", "no step manifest loaded", nil)
	}

	entry, exists := manifest.EntryPoints[stepConfig.EntryPoint]
	if !exists {
		return nil, types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			fmt.Sprintf("entry point not defined by step '%s'", manifest.Name), nil)
	}

	// Template-render the parameter values against the run context
	params, err := e.contextManager.EvaluateParameters(stepConfig.Parameters)
	if err != nil {
		return nil, types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			"failed to evaluate parameters", err)
	}

	// Materialize a config section to a file and expose its path
	if stepConfig.Materialize != nil {
		path, err := e.materializeSection(spec, stepConfig, scratchDir)
		if err != nil {
			return nil, err
		}
		params[stepConfig.Materialize.Param] = path
	}

	resolved, err := project.ResolveParameters(&entry, params)
	if err != nil {
		return nil, types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			"parameter resolution failed", err)
	}

	// Tracking exports, then project-level exports, then step env. Later wins.
	env := make(map[string]string, len(spec.TrackingEnv)+len(stepConfig.Environment))
	for key, value := range spec.TrackingEnv {
		env[key] = value
	}
	for key, value := range e.contextManager.ProjectExports() {
		env[key] = value
	}
	for key, value := range stepConfig.Environment {
		evaluated, err := e.contextManager.EvaluateString(value)
		if err != nil {
			return nil, types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
				fmt.Sprintf("failed to evaluate environment '%s'", key), err)
		}
		env[key] = evaluated
	}

	var timeout time.Duration
	if stepConfig.Timeout != "" {
		timeout, err = time.ParseDuration(stepConfig.Timeout)
		if err != nil {
			return nil, types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
				"invalid timeout", err)
		}
	}

	return &step.Invocation{
		Step:        stepConfig,
		EntryPoint:  stepConfig.EntryPoint,
		Command:     entry.Command,
		Parameters:  resolved,
		WorkDir:     filepath.Join(spec.ProjectDir, stepConfig.Dir),
		Environment: env,
		Timeout:     timeout,
	}, nil
}

// materializeSection writes the configured section to a YAML file in the
// run scratch directory and returns its absolute path
func (e *Executor) materializeSection(spec *RunSpec, stepConfig *types.StepConfig, scratchDir string) (string, error) {
	data, err := spec.Config.MarshalSection(stepConfig.Materialize.Section)
	if err != nil {
		return "", types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			"failed to materialize config section", err)
	}

	filename := stepConfig.Materialize.Filename
	if filename == "" {
		filename = stepConfig.Materialize.Section + ".yml"
	}

	path := filepath.Join(scratchDir, stepConfig.ID+"_"+filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			"failed to write materialized config", err)
	}

	return path, nil
}

// runWithRetries executes the invocation, retrying on failure per the
// step's retry settings
func (e *Executor) runWithRetries(ctx context.Context, stepConfig *types.StepConfig, invocation *step.Invocation) *types.StepResult {
	attempts := stepConfig.RetryCount + 1

	var result *types.StepResult
	for attempt := 1; attempt <= attempts; attempt++ {
		result = e.runner.Run(ctx, invocation)
		result.AttemptCount = attempt

		if result.Status == types.StepSuccess || ctx.Err() != nil {
			break
		}

		if attempt < attempts {
			e.logf("step '%s' failed (attempt %d/%d), retrying", stepConfig.ID, attempt, attempts)
			select {
			case <-ctx.Done():
				return result
			case <-time.After(stepConfig.RetryDelay):
			}
		}
	}

	return result
}

// publishOutputs records the step's declared artifacts in the store
func (e *Executor) publishOutputs(spec *RunSpec, stepConfig *types.StepConfig, result *types.StepResult) error {
	if len(stepConfig.Outputs) == 0 {
		return nil
	}
	if e.publisher == nil {
		return types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
			"step declares outputs but no artifact store is configured", nil)
	}

	for _, output := range stepConfig.Outputs {
		path := output.Path
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(spec.ProjectDir, stepConfig.Dir, path)
		}

		published, err := e.publisher.Publish(&types.ArtifactRef{
			Name:        output.Name,
			Type:        output.Type,
			Description: output.Description,
			Path:        path,
			Step:        stepConfig.ID,
			RunID:       spec.RunID,
		})
		if err != nil {
			return types.NewStepError(stepConfig.ID, stepConfig.EntryPoint,
				fmt.Sprintf("failed to publish artifact '%s'", output.Name), err)
		}

		e.contextManager.RegisterArtifact(published)
		result.Artifacts = append(result.Artifacts, published.Ref())
	}

	return nil
}

// registerResult makes the step result visible to later templates
func (e *Executor) registerResult(result *types.StepResult) {
	if err := e.contextManager.RegisterStepResult(result); err != nil {
		e.logf("warning: failed to register result for '%s': %v", result.ID, err)
	}
}

// selectionSet converts a selection list to a lookup set; nil means all
func selectionSet(selection []string) map[string]bool {
	if selection == nil {
		return nil
	}
	set := make(map[string]bool, len(selection))
	for _, id := range selection {
		set[id] = true
	}
	return set
}

// runStatus derives the final run status from step results
func runStatus(result *types.RunResult) types.RunStatus {
	status := types.RunSuccess
	for _, stepResult := range result.Steps {
		switch stepResult.Status {
		case types.StepFailed:
			return types.RunFailed
		case types.StepSkipped:
			status = types.RunPartialSuccess
		}
	}
	return status
}

// skippedResult builds a skipped step result
func skippedResult(stepConfig *types.StepConfig, message string) *types.StepResult {
	now := time.Now()
	return &types.StepResult{
		ID:         stepConfig.ID,
		EntryPoint: stepConfig.EntryPoint,
		Status:     types.StepSkipped,
		Message:    message,
		StartTime:  now,
		EndTime:    now,
	}
}

// failedResult builds a failed step result for errors before execution
func failedResult(stepConfig *types.StepConfig, message string) *types.StepResult {
	now := time.Now()
	return &types.StepResult{
		ID:         stepConfig.ID,
		EntryPoint: stepConfig.EntryPoint,
		Status:     types.StepFailed,
		Message:    message,
		StartTime:  now,
		EndTime:    now,
	}
}

// logf logs a formatted message if logger is available
func (e *Executor) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Info().Msgf(format, args...)
	}
}
