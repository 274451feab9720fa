// ABOUTME: Dependency resolver with topological sorting for step execution
// ABOUTME: Handles dependency graph construction and parallel execution planning

package pipeline

import (
	"fmt"

	"github.com/riffml/riff/pkg/types"
)

// ExecutionLayer represents a group of steps that can be executed in parallel
type ExecutionLayer struct {
	Steps       []*StepNode
	LayerNumber int
}

// StepNode represents a step with its dependencies and metadata
type StepNode struct {
	Step         *types.StepConfig
	Dependencies []*StepNode
	Dependents   []*StepNode
	InDegree     int // Number of dependencies
	Layer        int // Execution layer (0 = first layer)
}

// Resolver handles dependency resolution and execution planning
type Resolver struct {
	nodes  map[string]*StepNode
	layers []*ExecutionLayer
	steps  []types.StepConfig
}

// New creates a new dependency resolver
func New() *Resolver {
	return &Resolver{
		nodes:  make(map[string]*StepNode),
		layers: make([]*ExecutionLayer, 0),
		steps:  make([]types.StepConfig, 0),
	}
}

// BuildGraph builds the dependency graph from pipeline steps
func (r *Resolver) BuildGraph(steps []types.StepConfig) error {
	r.Clear()
	r.steps = make([]types.StepConfig, len(steps))
	copy(r.steps, steps)

	// First pass: create nodes for all steps
	for i := range r.steps {
		step := &r.steps[i]
		r.nodes[step.ID] = &StepNode{
			Step:         step,
			Dependencies: make([]*StepNode, 0),
			Dependents:   make([]*StepNode, 0),
			InDegree:     0,
			Layer:        -1,
		}
	}

	// Second pass: build dependency relationships
	for i := range r.steps {
		step := &r.steps[i]
		node := r.nodes[step.ID]

		for _, depID := range step.DependsOn {
			depNode, exists := r.nodes[depID]
			if !exists {
				return types.NewDependencyError(step.ID, step.DependsOn,
					fmt.Sprintf("dependency '%s' not found", depID))
			}

			node.Dependencies = append(node.Dependencies, depNode)
			depNode.Dependents = append(depNode.Dependents, node)
			node.InDegree++
		}
	}

	return r.detectCycles()
}

// GetExecutionLayers returns steps organized into parallel execution layers
func (r *Resolver) GetExecutionLayers() ([]*ExecutionLayer, error) {
	if len(r.layers) == 0 {
		if err := r.computeLayers(); err != nil {
			return nil, err
		}
	}
	return r.layers, nil
}

// GetStepOrder returns steps in topological order for sequential execution
func (r *Resolver) GetStepOrder() ([]*StepNode, error) {
	layers, err := r.GetExecutionLayers()
	if err != nil {
		return nil, err
	}

	order := make([]*StepNode, 0, len(r.steps))
	for _, layer := range layers {
		order = append(order, layer.Steps...)
	}
	return order, nil
}

// ValidateGraph performs additional validation on the dependency graph
func (r *Resolver) ValidateGraph() error {
	if len(r.nodes) == 0 {
		return types.NewDependencyError("", nil, "dependency graph is empty")
	}

	// Layer computation doubles as a reachability check
	if _, err := r.GetExecutionLayers(); err != nil {
		return err
	}

	return nil
}

// GetStats returns statistics about the dependency graph
func (r *Resolver) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"total_steps": len(r.steps),
	}

	if layers, err := r.GetExecutionLayers(); err == nil {
		stats["layers"] = len(layers)

		maxWidth := 0
		for _, layer := range layers {
			if len(layer.Steps) > maxWidth {
				maxWidth = len(layer.Steps)
			}
		}
		stats["max_parallelism"] = maxWidth
	}

	return stats
}

// Clear resets the resolver state
func (r *Resolver) Clear() {
	r.nodes = make(map[string]*StepNode)
	r.layers = make([]*ExecutionLayer, 0)
	r.steps = make([]types.StepConfig, 0)
}

// computeLayers uses Kahn's algorithm to compute execution layers
func (r *Resolver) computeLayers() error {
	r.layers = make([]*ExecutionLayer, 0)

	inDegree := make(map[string]int, len(r.nodes))
	for id, node := range r.nodes {
		inDegree[id] = node.InDegree
	}

	// Initial layer: steps with no dependencies
	currentLayer := make([]*StepNode, 0)
	for _, step := range r.steps {
		node := r.nodes[step.ID]
		if inDegree[step.ID] == 0 {
			node.Layer = 0
			currentLayer = append(currentLayer, node)
		}
	}

	layerNum := 0
	processed := 0

	for len(currentLayer) > 0 {
		layer := &ExecutionLayer{
			Steps:       make([]*StepNode, len(currentLayer)),
			LayerNumber: layerNum,
		}
		copy(layer.Steps, currentLayer)
		r.layers = append(r.layers, layer)

		nextLayer := make([]*StepNode, 0)
		for _, node := range currentLayer {
			processed++

			for _, dependent := range node.Dependents {
				inDegree[dependent.Step.ID]--
				if inDegree[dependent.Step.ID] == 0 {
					dependent.Layer = layerNum + 1
					nextLayer = append(nextLayer, dependent)
				}
			}
		}

		currentLayer = nextLayer
		layerNum++
	}

	if processed != len(r.steps) {
		return types.NewDependencyError("", nil,
			fmt.Sprintf("circular dependency detected: processed %d/%d steps", processed, len(r.steps)))
	}

	return nil
}

// detectCycles performs a DFS-based cycle detection with path reporting
func (r *Resolver) detectCycles() error {
	// Color states: 0 = unvisited, 1 = visiting, 2 = visited
	color := make(map[string]int)
	path := make([]string, 0)

	var dfs func(id string) error
	dfs = func(id string) error {
		if color[id] == 1 {
			cycleStart := -1
			for i, pathID := range path {
				if pathID == id {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				cycle := append(path[cycleStart:], id)
				return types.NewDependencyError(id, cycle,
					fmt.Sprintf("circular dependency detected: %v", cycle))
			}
			return types.NewDependencyError(id, nil, "circular dependency detected")
		}

		if color[id] == 2 {
			return nil
		}

		color[id] = 1
		path = append(path, id)

		for _, dep := range r.nodes[id].Dependencies {
			if err := dfs(dep.Step.ID); err != nil {
				return err
			}
		}

		color[id] = 2
		path = path[:len(path)-1]
		return nil
	}

	for _, step := range r.steps {
		if color[step.ID] == 0 {
			if err := dfs(step.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
