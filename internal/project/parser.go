// ABOUTME: YAML parser for pipeline project and step manifests
// ABOUTME: Handles parsing, validation, and defaulting of riff.yaml and step.yaml

package project

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/riffml/riff/pkg/types"
)

// ProjectFile is the well-known name of the project manifest
const ProjectFile = "riff.yaml"

// StepFile is the well-known name of a step component manifest
const StepFile = "step.yaml"

// DefaultEntryPoint is used when a step does not name one
const DefaultEntryPoint = "main"

// Parser parses project and step manifests
type Parser struct {
	fs afero.Fs
}

// New creates a new manifest parser
func New(fs afero.Fs) *Parser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Parser{fs: fs}
}

// ParseProject parses the project manifest in the given project directory
func (p *Parser) ParseProject(projectDir string) (*types.Project, error) {
	path := filepath.Join(projectDir, ProjectFile)

	exists, err := afero.Exists(p.fs, path)
	if err != nil {
		return nil, types.NewParseError(path, "failed to check file existence", err)
	}
	if !exists {
		return nil, types.NewParseError(path, "project manifest does not exist", nil)
	}

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, types.NewParseError(path, "failed to read file", err)
	}

	project, err := p.Parse(data)
	if err != nil {
		if parseErr, ok := err.(*types.ParseError); ok {
			parseErr.File = path
			return nil, parseErr
		}
		return nil, types.NewParseError(path, "failed to parse project", err)
	}

	return project, nil
}

// Parse parses a project manifest from YAML bytes
func (p *Parser) Parse(data []byte) (*types.Project, error) {
	var project types.Project

	// Strict mode catches typos in field names
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&project); err != nil {
		return nil, types.NewParseError("", "failed to parse YAML", err)
	}

	p.setDefaults(&project)

	if err := p.Validate(&project); err != nil {
		return nil, err
	}

	return &project, nil
}

// ParseStepManifest parses the step manifest inside a step directory
func (p *Parser) ParseStepManifest(stepDir string) (*types.StepManifest, error) {
	path := filepath.Join(stepDir, StepFile)

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, types.NewParseError(path, "failed to read step manifest", err)
	}

	var manifest types.StepManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&manifest); err != nil {
		return nil, types.NewParseError(path, "failed to parse YAML", err)
	}

	if err := p.validateManifest(&manifest, path); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// Validate validates a project definition
func (p *Parser) Validate(project *types.Project) error {
	if project.Name == "" {
		return types.NewValidationError("name", project.Name, "project name is required")
	}

	if len(project.Steps) == 0 {
		return types.NewValidationError("steps", project.Steps, "project must have at least one step")
	}

	if project.Mode != "" && project.Mode != types.ParallelMode && project.Mode != types.SequentialMode {
		return types.NewValidationError("mode", project.Mode, "mode must be 'parallel' or 'sequential'")
	}

	stepIDs := make(map[string]bool)

	for i := range project.Steps {
		step := &project.Steps[i]
		if err := p.validateStep(step, i); err != nil {
			return err
		}

		if stepIDs[step.ID] {
			return types.NewValidationError("steps", step.ID, fmt.Sprintf("duplicate step ID: %s", step.ID))
		}
		stepIDs[step.ID] = true
	}

	// Dependencies must reference declared steps
	for _, step := range project.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return types.NewDependencyError(step.ID, step.DependsOn, "step cannot depend on itself")
			}
			if !stepIDs[dep] {
				return types.NewDependencyError(step.ID, step.DependsOn,
					fmt.Sprintf("dependency '%s' not found", dep))
			}
		}
	}

	return nil
}

// validateStep validates a single step configuration
func (p *Parser) validateStep(step *types.StepConfig, index int) error {
	if step.ID == "" {
		return types.NewValidationError(fmt.Sprintf("steps[%d].id", index), step.ID, "step ID is required")
	}

	if step.Timeout != "" {
		if _, err := time.ParseDuration(step.Timeout); err != nil {
			return types.NewValidationError(fmt.Sprintf("steps[%d].timeout", index), step.Timeout,
				fmt.Sprintf("invalid timeout: %v", err))
		}
	}

	if step.RetryCount < 0 {
		return types.NewValidationError(fmt.Sprintf("steps[%d].retry_count", index), step.RetryCount,
			"retry_count cannot be negative")
	}

	for j, output := range step.Outputs {
		if output.Name == "" {
			return types.NewValidationError(fmt.Sprintf("steps[%d].outputs[%d].name", index, j), output.Name,
				"artifact name is required")
		}
	}

	if step.Materialize != nil {
		if step.Materialize.Section == "" {
			return types.NewValidationError(fmt.Sprintf("steps[%d].materialize.section", index), "",
				"materialize requires a config section")
		}
		if step.Materialize.Param == "" {
			return types.NewValidationError(fmt.Sprintf("steps[%d].materialize.param", index), "",
				"materialize requires a target parameter name")
		}
	}

	return nil
}

// validateManifest validates a step manifest
func (p *Parser) validateManifest(manifest *types.StepManifest, path string) error {
	if manifest.Name == "" {
		return types.NewValidationError("name", manifest.Name,
			fmt.Sprintf("step manifest '%s' must have a name", path))
	}

	if len(manifest.EntryPoints) == 0 {
		return types.NewValidationError("entry_points", nil,
			fmt.Sprintf("step manifest '%s' must define at least one entry point", path))
	}

	for name, entry := range manifest.EntryPoints {
		if entry.Command == "" {
			return types.NewValidationError(fmt.Sprintf("entry_points.%s.command", name), "",
				"entry point command is required")
		}
	}

	return nil
}

// setDefaults sets default values for project fields
func (p *Parser) setDefaults(project *types.Project) {
	if project.Mode == "" {
		project.Mode = types.ParallelMode
	}

	if project.ConfigFile == "" {
		project.ConfigFile = "config.yaml"
	}

	if project.Environment == nil {
		project.Environment = make(map[string]string)
	}

	for i := range project.Steps {
		step := &project.Steps[i]
		if step.Dir == "" {
			step.Dir = step.ID
		}
		if step.EntryPoint == "" {
			step.EntryPoint = DefaultEntryPoint
		}
		if step.Parameters == nil {
			step.Parameters = make(map[string]string)
		}
	}
}

// ResolveParameters validates provided parameters against an entry point
// declaration and fills in declared defaults. Unknown parameters and missing
// parameters without defaults are errors.
func ResolveParameters(entry *types.EntryPoint, provided map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(entry.Parameters))

	for name, value := range provided {
		if _, declared := entry.Parameters[name]; !declared {
			return nil, types.NewValidationError(name, value,
				fmt.Sprintf("parameter '%s' is not declared by the entry point", name))
		}
		resolved[name] = value
	}

	for name, spec := range entry.Parameters {
		if _, ok := resolved[name]; ok {
			continue
		}
		if !spec.HasDefault() {
			return nil, types.NewValidationError(name, nil,
				fmt.Sprintf("required parameter '%s' was not provided", name))
		}
		resolved[name] = *spec.Default
	}

	return resolved, nil
}
