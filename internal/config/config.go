// ABOUTME: Hierarchical run configuration loaded from the project's config file
// ABOUTME: Provides dotted-path lookup, section extraction, and override merging

package config

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/riffml/riff/pkg/types"
)

// Keys with reserved meaning in the main section
const (
	// KeyExecuteSteps selects a subset of pipeline steps to run
	KeyExecuteSteps = "main.execute_steps"
	// KeyProjectName names the tracking project for the run
	KeyProjectName = "main.project_name"
	// KeyExperimentName groups runs under an experiment
	KeyExperimentName = "main.experiment_name"
)

// Config holds the hierarchical run configuration tree
type Config struct {
	tree map[string]interface{}
}

// New creates an empty configuration
func New() *Config {
	return &Config{tree: make(map[string]interface{})}
}

// Load reads and parses a configuration file through the given filesystem
func Load(fs afero.Fs, path string) (*Config, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, types.NewConfigError("", "failed to check config file", err)
	}
	if !exists {
		return nil, types.NewConfigError("", fmt.Sprintf("config file does not exist: %s", path), nil)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, types.NewConfigError("", fmt.Sprintf("failed to read config file '%s'", path), err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	tree := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, types.NewConfigError("", "failed to parse config YAML", err)
	}
	return &Config{tree: tree}, nil
}

// Tree returns the underlying configuration tree
func (c *Config) Tree() map[string]interface{} {
	return c.tree
}

// Get returns the value at a dotted path like "main.project_name"
func (c *Config) Get(key string) (interface{}, bool) {
	return lookup(c.tree, strings.Split(key, "."))
}

// GetString returns the string form of the value at a dotted path
func (c *Config) GetString(key string) string {
	value, ok := c.Get(key)
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// Section returns the subtree at a dotted path, if it is a mapping
func (c *Config) Section(key string) (map[string]interface{}, bool) {
	value, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	section, ok := value.(map[string]interface{})
	return section, ok
}

// MarshalSection renders the subtree at a dotted path as YAML. Used to
// materialize a config section into a standalone parameter file for a step.
func (c *Config) MarshalSection(key string) ([]byte, error) {
	section, ok := c.Section(key)
	if !ok {
		return nil, types.NewConfigError(key, "section not found or not a mapping", nil)
	}
	data, err := yaml.Marshal(section)
	if err != nil {
		return nil, types.NewConfigError(key, "failed to marshal section", err)
	}
	return data, nil
}

// StepSelection returns the step IDs selected via main.execute_steps.
// The value may be a list or a comma-separated string. The second return
// value is false when no selection is configured, meaning all steps run.
func (c *Config) StepSelection() ([]string, bool) {
	value, ok := c.Get(KeyExecuteSteps)
	if !ok || value == nil {
		return nil, false
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, false
		}
		parts := strings.Split(v, ",")
		steps := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				steps = append(steps, trimmed)
			}
		}
		return steps, true

	case []interface{}:
		steps := make([]string, 0, len(v))
		for _, item := range v {
			steps = append(steps, fmt.Sprintf("%v", item))
		}
		return steps, true

	default:
		return nil, false
	}
}

// Apply merges the given overrides into the configuration tree.
// Override values win over file values.
func (c *Config) Apply(overrides []Override) error {
	for _, override := range overrides {
		patch := override.tree()
		if err := mergo.Merge(&c.tree, patch, mergo.WithOverride); err != nil {
			return types.NewConfigError(override.Key, "failed to merge override", err)
		}
	}
	return nil
}

// lookup walks a map tree along the given path segments
func lookup(tree map[string]interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}

	current := tree
	for i, segment := range path {
		value, exists := current[segment]
		if !exists {
			return nil, false
		}

		if i == len(path)-1 {
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
