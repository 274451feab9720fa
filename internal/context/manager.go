// ABOUTME: Context manager for pipeline run execution and value resolution
// ABOUTME: Handles environment variables, config exposure, and step result sharing

package context

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/riffml/riff/pkg/types"
)

// Manager handles run context and value resolution
type Manager struct {
	context        *types.RunContext
	templateEngine types.TemplateEngine
	exports        map[string]string // Rendered project-level environment exports
	mu             sync.RWMutex      // Protects concurrent access to context
}

// New creates a new context manager
func New(templateEngine types.TemplateEngine) *Manager {
	return &Manager{
		context:        types.NewRunContext(),
		templateEngine: templateEngine,
		exports:        make(map[string]string),
	}
}

// Initialize sets up the initial context from the project, resolved config
// tree, and key=value environment overrides
func (m *Manager) Initialize(project *types.Project, config map[string]interface{}, envVars []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if config != nil {
		m.context.Config = config
	}

	m.loadSystemEnvironment()

	// Project-level environment exports, template-rendered against config.
	// These also travel into every step process.
	for key, value := range project.Environment {
		evaluated, err := m.templateEngine.Evaluate(value, m.context)
		if err != nil {
			return fmt.Errorf("failed to evaluate environment export '%s': %w", key, err)
		}
		m.context.Environment[key] = evaluated
		m.exports[key] = evaluated
	}

	// Command-line environment overrides win
	for _, envVar := range envVars {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid environment variable format '%s' (expected key=value)", envVar)
		}
		m.context.Environment[parts[0]] = parts[1]
		m.exports[parts[0]] = parts[1]
	}

	m.context.Metadata["project"] = map[string]interface{}{
		"name":        project.Name,
		"version":     project.Version,
		"description": project.Description,
		"mode":        string(project.Mode),
	}

	return nil
}

// GetContext returns the current run context
func (m *Manager) GetContext() *types.RunContext {
	return m.context
}

// GetEnvironment returns an environment variable with fallback
func (m *Manager) GetEnvironment(name, defaultValue string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if value, exists := m.context.Environment[name]; exists {
		return value
	}
	if value := os.Getenv(name); value != "" {
		return value
	}
	return defaultValue
}

// SetEnvironment sets an environment variable after template evaluation
func (m *Manager) SetEnvironment(name, value string) error {
	evaluated, err := m.templateEngine.Evaluate(value, m.context)
	if err != nil {
		return fmt.Errorf("failed to evaluate environment variable '%s': %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.Environment[name] = evaluated
	return nil
}

// RegisterStepResult registers a step result for use in templates
func (m *Manager) RegisterStepResult(result *types.StepResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("step result must have an ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.Steps[result.ID] = result
	return nil
}

// GetStepResult returns a step result by ID
func (m *Manager) GetStepResult(id string) (*types.StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, exists := m.context.Steps[id]
	if !exists {
		return nil, fmt.Errorf("step result '%s' not found", id)
	}
	return result, nil
}

// RegisterArtifact records a published artifact as the latest for its name
func (m *Manager) RegisterArtifact(ref *types.ArtifactRef) {
	if ref == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.Artifacts[ref.Name] = ref
}

// ProjectExports returns the rendered project-level environment exports
func (m *Manager) ProjectExports() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exports := make(map[string]string, len(m.exports))
	for key, value := range m.exports {
		exports[key] = value
	}
	return exports
}

// EvaluateString evaluates a string template with the current context
func (m *Manager) EvaluateString(templateStr string) (string, error) {
	return m.templateEngine.Evaluate(templateStr, m.context)
}

// EvaluateParameters evaluates all template strings in a parameter map
func (m *Manager) EvaluateParameters(params map[string]string) (map[string]string, error) {
	return m.templateEngine.EvaluateAll(params, m.context)
}

// GetTemplateEngine returns the template engine used by this manager
func (m *Manager) GetTemplateEngine() types.TemplateEngine {
	return m.templateEngine
}

// loadSystemEnvironment loads environment variables from the system.
// Caller must hold the lock.
func (m *Manager) loadSystemEnvironment() {
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			m.context.Environment[parts[0]] = parts[1]
		}
	}
}
