// ABOUTME: Core types and interfaces for the riff pipeline runner
// ABOUTME: Defines fundamental data structures used throughout the application

package types

import (
	"fmt"
	"time"
)

// RunMode defines how steps are executed within a pipeline
type RunMode string

const (
	// ParallelMode executes steps concurrently when dependencies allow (default)
	ParallelMode RunMode = "parallel"
	// SequentialMode executes all steps one after another
	SequentialMode RunMode = "sequential"
)

// StepStatus represents the current state of a pipeline step
type StepStatus string

const (
	// StepPending indicates the step hasn't started yet
	StepPending StepStatus = "pending"
	// StepRunning indicates the step is currently executing
	StepRunning StepStatus = "running"
	// StepSuccess indicates the step completed successfully
	StepSuccess StepStatus = "success"
	// StepFailed indicates the step failed to complete
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was excluded from this run
	StepSkipped StepStatus = "skipped"
)

// RunStatus represents the overall state of a pipeline run
type RunStatus string

const (
	// RunPending indicates the run hasn't started
	RunPending RunStatus = "pending"
	// RunRunning indicates the run is currently executing
	RunRunning RunStatus = "running"
	// RunSuccess indicates all selected steps completed successfully
	RunSuccess RunStatus = "success"
	// RunPartialSuccess indicates some steps were skipped from the selection
	RunPartialSuccess RunStatus = "partial_success"
	// RunFailed indicates one or more required steps failed
	RunFailed RunStatus = "failed"
)

// Concurrency constraints for pipeline execution
const (
	// MinConcurrency is the minimum allowed concurrent step execution
	MinConcurrency = 1
	// MaxConcurrency is the maximum allowed concurrent step execution
	MaxConcurrency = 64
	// DefaultConcurrency is the default number of concurrent steps
	DefaultConcurrency = 4
)

// Project represents a complete pipeline project definition (riff.yaml)
type Project struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version,omitempty" json:"version,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	ConfigFile  string            `yaml:"config_file,omitempty" json:"config_file,omitempty"`
	Mode        RunMode           `yaml:"mode,omitempty" json:"mode,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Steps       []StepConfig      `yaml:"steps" json:"steps"`
}

// StepConfig represents a single step of the pipeline
type StepConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Dir         string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	EntryPoint  string            `yaml:"entry_point,omitempty" json:"entry_point,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Required    *bool             `yaml:"required,omitempty" json:"required,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Timeout     string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryCount  int               `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	RetryDelay  time.Duration     `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	Outputs     []ArtifactSpec    `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Materialize *MaterializeSpec  `yaml:"materialize,omitempty" json:"materialize,omitempty"`
}

// IsRequired returns whether this step is required for run success
func (sc *StepConfig) IsRequired() bool {
	if sc.Required == nil {
		return true // Steps are required by default
	}
	return *sc.Required
}

// ArtifactSpec declares an artifact produced by a step
type ArtifactSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
}

// MaterializeSpec writes a configuration section to a YAML file before the
// step runs and exposes the file path as the named parameter. Used for model
// sections with too many keys to spell out as individual parameters.
type MaterializeSpec struct {
	Section  string `yaml:"section" json:"section"`
	Param    string `yaml:"param" json:"param"`
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
}

// StepManifest describes an executable step component (step.yaml inside the
// step directory): its entry points and the parameters each one accepts.
type StepManifest struct {
	Name        string                `yaml:"name" json:"name"`
	Description string                `yaml:"description,omitempty" json:"description,omitempty"`
	EntryPoints map[string]EntryPoint `yaml:"entry_points" json:"entry_points"`
}

// EntryPoint is a named command template within a step component
type EntryPoint struct {
	Command    string                   `yaml:"command" json:"command"`
	Parameters map[string]ParameterSpec `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// ParameterSpec declares a parameter accepted by an entry point
type ParameterSpec struct {
	Type        string  `yaml:"type,omitempty" json:"type,omitempty"`
	Default     *string `yaml:"default,omitempty" json:"default,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
}

// HasDefault returns whether the parameter can be omitted
func (ps ParameterSpec) HasDefault() bool {
	return ps.Default != nil
}

// ArtifactRef identifies a published artifact version
type ArtifactRef struct {
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Path        string    `json:"path,omitempty"`
	Step        string    `json:"step,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref returns the canonical name:vN reference for the artifact
func (a *ArtifactRef) Ref() string {
	return fmt.Sprintf("%s:v%d", a.Name, a.Version)
}

// StepResult represents the result of executing a single step
type StepResult struct {
	ID           string        `json:"id"`
	EntryPoint   string        `json:"entry_point"`
	Status       StepStatus    `json:"status"`
	Message      string        `json:"message,omitempty"`
	Command      string        `json:"command,omitempty"`
	Stdout       string        `json:"stdout,omitempty"`
	Stderr       string        `json:"stderr,omitempty"`
	ReturnCode   int           `json:"return_code,omitempty"`
	Error        string        `json:"error,omitempty"`
	Artifacts    []string      `json:"artifacts,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	AttemptCount int           `json:"attempt_count"`
}

// RunResult represents the overall result of executing a pipeline
type RunResult struct {
	Project   string                 `json:"project"`
	Status    RunStatus              `json:"status"`
	Steps     map[string]*StepResult `json:"steps"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
	Overrides []string               `json:"overrides,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RunContext holds the execution context for a pipeline run
type RunContext struct {
	Config      map[string]interface{} // Resolved configuration tree
	Environment map[string]string      // Environment variables (system + exports)
	Steps       map[string]*StepResult // Step results by ID
	Artifacts   map[string]*ArtifactRef
	Metadata    map[string]interface{}
}

// NewRunContext creates a new run context
func NewRunContext() *RunContext {
	return &RunContext{
		Config:      make(map[string]interface{}),
		Environment: make(map[string]string),
		Steps:       make(map[string]*StepResult),
		Artifacts:   make(map[string]*ArtifactRef),
		Metadata:    make(map[string]interface{}),
	}
}

// TemplateEngine evaluates templates within parameter and environment values
type TemplateEngine interface {
	// Evaluate evaluates a template string with the given context
	Evaluate(template string, ctx *RunContext) (string, error)

	// EvaluateAll evaluates all template strings in a map
	EvaluateAll(data map[string]string, ctx *RunContext) (map[string]string, error)
}

// ContextManager manages run context and value resolution
type ContextManager interface {
	// Initialize sets up the initial context from the project, config tree,
	// and key=value environment overrides
	Initialize(project *Project, config map[string]interface{}, envVars []string) error

	// GetContext returns the current run context
	GetContext() *RunContext

	// GetEnvironment returns an environment variable with fallback
	GetEnvironment(name, defaultValue string) string

	// SetEnvironment sets an environment variable after template evaluation
	SetEnvironment(name, value string) error

	// RegisterStepResult registers a step result for use in templates
	RegisterStepResult(result *StepResult) error

	// GetStepResult returns a step result by ID
	GetStepResult(id string) (*StepResult, error)

	// RegisterArtifact records a published artifact as the latest for its name
	RegisterArtifact(ref *ArtifactRef)

	// ProjectExports returns the rendered project-level environment exports
	ProjectExports() map[string]string

	// EvaluateString evaluates a string template with the current context
	EvaluateString(templateStr string) (string, error)

	// EvaluateParameters evaluates all template strings in a parameter map
	EvaluateParameters(params map[string]string) (map[string]string, error)

	// GetTemplateEngine returns the template engine used by this manager
	GetTemplateEngine() TemplateEngine
}

// ArtifactResolver resolves name:version references to published artifacts
type ArtifactResolver interface {
	// Resolve resolves a reference like "raw_data.parquet:latest" or "model:v3"
	Resolve(ref string) (*ArtifactRef, error)
}

// Result represents the complete result of a pipeline invocation
type Result struct {
	RunResult        *RunResult `json:"run_result,omitempty"`
	ValidationErrors []error    `json:"validation_errors,omitempty"`
	FetchError       error      `json:"fetch_error,omitempty"`
	ParseError       error      `json:"parse_error,omitempty"`
	ConfigError      error      `json:"config_error,omitempty"`
	DependencyError  error      `json:"dependency_error,omitempty"`
	ExecutionError   error      `json:"execution_error,omitempty"`
}

// HasErrors reports whether the result contains any failure
func (r *Result) HasErrors() bool {
	if r.FetchError != nil || r.ParseError != nil || r.ConfigError != nil || r.DependencyError != nil || r.ExecutionError != nil {
		return true
	}
	if len(r.ValidationErrors) > 0 {
		return true
	}
	if r.RunResult != nil && r.RunResult.Status == RunFailed {
		return true
	}
	return false
}

// Logger provides structured logging interface
type Logger interface {
	// Debug logs a debug message
	Debug() LogEvent

	// Info logs an info message
	Info() LogEvent

	// Warn logs a warning message
	Warn() LogEvent

	// Error logs an error message
	Error() LogEvent

	// With returns a logger with additional context
	With() LogContext
}

// LogEvent represents a log event being constructed
type LogEvent interface {
	// Str adds a string field
	Str(key, val string) LogEvent

	// Int adds an integer field
	Int(key string, val int) LogEvent

	// Dur adds a duration field
	Dur(key string, val time.Duration) LogEvent

	// Err adds an error field
	Err(err error) LogEvent

	// Bool adds a boolean field
	Bool(key string, val bool) LogEvent

	// Any adds an arbitrary field
	Any(key string, val interface{}) LogEvent

	// Msg logs the event with a message
	Msg(msg string)

	// Msgf logs the event with a formatted message
	Msgf(format string, args ...interface{})
}

// LogContext represents a logger context being constructed
type LogContext interface {
	// Str adds a string field to the context
	Str(key, val string) LogContext

	// Logger returns the logger with the built context
	Logger() Logger
}

// ValidateConcurrency validates a concurrency value and returns a valid value or an error.
// If value is 0, returns DefaultConcurrency.
// If value is negative or exceeds MaxConcurrency, returns an error.
func ValidateConcurrency(value int) (int, error) {
	if value == 0 {
		return DefaultConcurrency, nil
	}
	if value < MinConcurrency {
		return 0, fmt.Errorf("max_concurrency must be at least %d, got %d", MinConcurrency, value)
	}
	if value > MaxConcurrency {
		return 0, fmt.Errorf("max_concurrency cannot exceed %d, got %d", MaxConcurrency, value)
	}
	return value, nil
}
