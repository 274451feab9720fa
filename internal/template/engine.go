// ABOUTME: Template engine with Sprig function integration
// ABOUTME: Handles rendering of parameter values, env exports, and entry point commands

package template

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/riffml/riff/pkg/types"
)

// Engine implements the template engine interface
type Engine struct {
	funcMap  template.FuncMap
	resolver types.ArtifactResolver
}

// New creates a new template engine with Sprig functions
func New() *Engine {
	engine := &Engine{
		funcMap: make(template.FuncMap),
	}

	for name, fn := range sprig.TxtFuncMap() {
		engine.funcMap[name] = fn
	}

	engine.addCustomFunctions()

	return engine
}

// SetArtifactResolver wires an artifact store into the `artifact` function
func (e *Engine) SetArtifactResolver(resolver types.ArtifactResolver) {
	e.resolver = resolver
}

// addCustomFunctions adds functions beyond the Sprig set
func (e *Engine) addCustomFunctions() {
	customFuncs := template.FuncMap{
		"env": func(name string, defaultValue ...string) string {
			if value := os.Getenv(name); value != "" {
				return value
			}
			if len(defaultValue) > 0 {
				return defaultValue[0]
			}
			return ""
		},

		"hostname": func() string {
			if hostname, err := os.Hostname(); err == nil {
				return hostname
			}
			return "unknown"
		},

		"timestamp": func() string {
			return time.Now().Format(time.RFC3339)
		},

		"unixTimestamp": func() int64 {
			return time.Now().Unix()
		},
	}

	for name, fn := range customFuncs {
		e.funcMap[name] = fn
	}
}

// Evaluate evaluates a template string with the given run context
func (e *Engine) Evaluate(templateStr string, ctx *types.RunContext) (string, error) {
	if templateStr == "" {
		return "", nil
	}

	// Skip evaluation if no template syntax is present
	if !strings.Contains(templateStr, "{{") || !strings.Contains(templateStr, "}}") {
		return templateStr, nil
	}

	contextFuncMap := e.createContextFuncMap(ctx)

	tmpl, err := template.New("template").Option("missingkey=error").Funcs(contextFuncMap).Parse(templateStr)
	if err != nil {
		return "", types.NewTemplateError(templateStr, "failed to parse template", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e.createTemplateData(ctx)); err != nil {
		return "", types.NewTemplateError(templateStr, "failed to execute template", err)
	}

	return buf.String(), nil
}

// EvaluateAll evaluates all template strings in a map
func (e *Engine) EvaluateAll(data map[string]string, ctx *types.RunContext) (map[string]string, error) {
	result := make(map[string]string, len(data))

	for key, value := range data {
		evaluated, err := e.Evaluate(value, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate '%s': %w", key, err)
		}
		result[key] = evaluated
	}

	return result, nil
}

// createContextFuncMap creates a function map bound to the run context
func (e *Engine) createContextFuncMap(ctx *types.RunContext) template.FuncMap {
	contextFuncMap := make(template.FuncMap, len(e.funcMap)+3)
	for name, fn := range e.funcMap {
		contextFuncMap[name] = fn
	}

	// cfg looks up a dotted path in the configuration tree
	contextFuncMap["cfg"] = func(key string) (interface{}, error) {
		if ctx == nil || ctx.Config == nil {
			return nil, fmt.Errorf("no configuration available")
		}
		value, ok := lookupPath(ctx.Config, key)
		if !ok {
			return nil, fmt.Errorf("config key '%s' not found", key)
		}
		return value, nil
	}

	// step returns a completed step result by ID
	contextFuncMap["step"] = func(id string) interface{} {
		if ctx != nil && ctx.Steps != nil {
			return ctx.Steps[id]
		}
		return nil
	}

	// artifact resolves a name:version reference to its stored path
	contextFuncMap["artifact"] = func(ref string) (string, error) {
		if e.resolver == nil {
			return "", fmt.Errorf("no artifact store available")
		}
		record, err := e.resolver.Resolve(ref)
		if err != nil {
			return "", err
		}
		return record.Path, nil
	}

	return contextFuncMap
}

// createTemplateData creates the data structure available to templates
func (e *Engine) createTemplateData(ctx *types.RunContext) map[string]interface{} {
	data := make(map[string]interface{})

	if ctx != nil {
		if ctx.Config != nil {
			data["config"] = ctx.Config
		}
		if ctx.Environment != nil {
			data["env"] = ctx.Environment
		}
		if ctx.Steps != nil {
			data["steps"] = ctx.Steps
		}
		if ctx.Artifacts != nil {
			data["artifacts"] = ctx.Artifacts
		}
		if ctx.Metadata != nil {
			data["metadata"] = ctx.Metadata
			if project, exists := ctx.Metadata["project"]; exists {
				data["project"] = project
			}
		}
	}

	return data
}

// lookupPath walks a dotted path through nested string-keyed maps
func lookupPath(tree map[string]interface{}, key string) (interface{}, bool) {
	segments := strings.Split(key, ".")
	current := tree

	for i, segment := range segments {
		value, exists := current[segment]
		if !exists {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}

	return nil, false
}

// Validate validates a template string without executing it
func Validate(templateStr string) error {
	if templateStr == "" {
		return nil
	}

	if !strings.Contains(templateStr, "{{") || !strings.Contains(templateStr, "}}") {
		return nil
	}

	engine := New()
	if _, err := template.New("validation").Funcs(engine.createContextFuncMap(nil)).Parse(templateStr); err != nil {
		return types.NewTemplateError(templateStr, "invalid template syntax", err)
	}

	return nil
}

// ValidateStepTemplates validates all templates in step parameter and
// environment maps, collecting one error per offending value
func ValidateStepTemplates(steps []types.StepConfig) []error {
	var errs []error

	for _, step := range steps {
		for name, value := range step.Parameters {
			if err := Validate(value); err != nil {
				errs = append(errs, fmt.Errorf("step '%s' parameter '%s': %w", step.ID, name, err))
			}
		}
		for name, value := range step.Environment {
			if err := Validate(value); err != nil {
				errs = append(errs, fmt.Errorf("step '%s' environment '%s': %w", step.ID, name, err))
			}
		}
	}

	return errs
}
