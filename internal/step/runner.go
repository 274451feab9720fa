// ABOUTME: Step runner that executes entry point commands as subprocesses
// ABOUTME: Renders command templates, injects environment, and captures output

package step

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"text/template"
	"time"

	"github.com/riffml/riff/pkg/types"
)

// DefaultShell is used to run rendered entry point commands
const DefaultShell = "/bin/sh"

// Invocation describes one entry point execution
type Invocation struct {
	Step        *types.StepConfig
	EntryPoint  string
	Command     string            // Entry point command template
	Parameters  map[string]string // Resolved parameter values
	WorkDir     string            // Step directory
	Environment map[string]string // Extra environment (tracking exports, step env)
	Timeout     time.Duration     // Zero means no timeout
}

// Runner executes step entry points
type Runner struct {
	logger types.Logger
	shell  string
}

// New creates a new step runner
func New(logger types.Logger) *Runner {
	return &Runner{
		logger: logger,
		shell:  DefaultShell,
	}
}

// Run executes an invocation and returns the step result.
// The command template is rendered with the parameter map, then handed to
// the shell in the step directory.
func (r *Runner) Run(ctx context.Context, inv *Invocation) *types.StepResult {
	result := &types.StepResult{
		ID:         inv.Step.ID,
		EntryPoint: inv.EntryPoint,
		StartTime:  time.Now(),
		Status:     types.StepRunning,
	}

	command, err := RenderCommand(inv.Command, inv.Parameters)
	if err != nil {
		return r.fail(result, fmt.Sprintf("failed to render command: %v", err))
	}
	result.Command = command

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	r.logf(inv.Step.ID, "running: %s", command)

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = inv.WorkDir
	cmd.Env = mergeEnvironment(os.Environ(), inv.Environment)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
		}

		result.Status = types.StepFailed
		if ctx.Err() == context.DeadlineExceeded {
			result.Message = fmt.Sprintf("step timed out after %s", inv.Timeout)
		} else {
			result.Message = fmt.Sprintf("command failed with exit code %d", result.ReturnCode)
		}
		result.Error = err.Error()
		return result
	}

	result.Status = types.StepSuccess
	result.Message = "completed successfully"
	return result
}

// RenderCommand renders an entry point command template with parameter values.
// Parameters appear as {{.name}} in the template; unknown references fail.
func RenderCommand(commandTemplate string, params map[string]string) (string, error) {
	tmpl, err := template.New("command").Option("missingkey=error").Parse(commandTemplate)
	if err != nil {
		return "", types.NewTemplateError(commandTemplate, "invalid command template", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", types.NewTemplateError(commandTemplate, "failed to render command", err)
	}

	return buf.String(), nil
}

// fail marks a result as failed before the command ever started
func (r *Runner) fail(result *types.StepResult, message string) *types.StepResult {
	result.Status = types.StepFailed
	result.Message = message
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result
}

// mergeEnvironment combines the base environment with overrides.
// Overrides win on key collisions; output order is deterministic.
func mergeEnvironment(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for key, value := range overrides {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(merged))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}

// logf logs a formatted message if a logger is available
func (r *Runner) logf(stepID, format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Info().Str("step", stepID).Msgf(format, args...)
	}
}
