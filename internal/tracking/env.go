// ABOUTME: Experiment tracking environment exports for step processes
// ABOUTME: Maps main.project_name and main.experiment_name to tracking env vars

package tracking

import (
	"github.com/riffml/riff/internal/config"
)

// Environment variables exported to every step process so external tracking
// clients group their runs under the configured project and experiment.
const (
	// EnvProject carries main.project_name
	EnvProject = "RIFF_TRACKING_PROJECT"
	// EnvRunGroup carries main.experiment_name
	EnvRunGroup = "RIFF_TRACKING_RUN_GROUP"
	// EnvRunID carries the unique ID of the current pipeline run
	EnvRunID = "RIFF_RUN_ID"
)

// Exports builds the tracking environment for a run from the resolved
// configuration. Only configured values are exported.
func Exports(cfg *config.Config, runID string) map[string]string {
	exports := make(map[string]string)

	if project := cfg.GetString(config.KeyProjectName); project != "" {
		exports[EnvProject] = project
	}
	if experiment := cfg.GetString(config.KeyExperimentName); experiment != "" {
		exports[EnvRunGroup] = experiment
	}
	if runID != "" {
		exports[EnvRunID] = runID
	}

	return exports
}
