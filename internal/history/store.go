// ABOUTME: Run history storage and retrieval for pipeline executions
// ABOUTME: Persists run records as JSON through an Afero-backed store root

package history

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/riffml/riff/pkg/types"
)

// Store handles persistent storage of pipeline run history.
// The backing filesystem may be local, S3, or SFTP (see internal/filesystem).
type Store struct {
	fs         afero.Fs
	dataDir    string
	maxEntries int
}

// RunRecord represents a complete run record
type RunRecord struct {
	ID               string                       `json:"id"`
	Project          string                       `json:"project"`
	ProjectPath      string                       `json:"project_path,omitempty"`
	Status           types.RunStatus              `json:"status"`
	StartTime        time.Time                    `json:"start_time"`
	EndTime          time.Time                    `json:"end_time"`
	Duration         time.Duration                `json:"duration"`
	TriggerType      string                       `json:"trigger_type"` // manual, webhook
	Overrides        []string                     `json:"overrides,omitempty"`
	StepResults      map[string]*types.StepResult `json:"step_results,omitempty"`
	ErrorMessage     string                       `json:"error_message,omitempty"`
	ValidationErrors []string                     `json:"validation_errors,omitempty"`
}

// RunSummary provides a lightweight summary of a run
type RunSummary struct {
	ID           string          `json:"id"`
	Project      string          `json:"project"`
	Status       types.RunStatus `json:"status"`
	StartTime    time.Time       `json:"start_time"`
	Duration     time.Duration   `json:"duration"`
	StepCount    int             `json:"step_count"`
	SuccessSteps int             `json:"success_steps"`
	FailedSteps  int             `json:"failed_steps"`
	TriggerType  string          `json:"trigger_type"`
}

// QueryOptions defines filters for listing run history
type QueryOptions struct {
	Project     string
	Status      types.RunStatus
	TriggerType string
	Limit       int
	Offset      int
}

// Stats provides aggregate information about recorded runs
type Stats struct {
	TotalRuns       int                       `json:"total_runs"`
	SuccessfulRuns  int                       `json:"successful_runs"`
	FailedRuns      int                       `json:"failed_runs"`
	PartialRuns     int                       `json:"partial_runs"`
	SuccessRate     float64                   `json:"success_rate"`
	AverageDuration time.Duration             `json:"average_duration"`
	ProjectCounts   map[string]int            `json:"project_counts"`
	StatusCounts    map[types.RunStatus]int   `json:"status_counts"`
	FirstRun        *time.Time                `json:"first_run,omitempty"`
	LastRun         *time.Time                `json:"last_run,omitempty"`
}

// New creates a new run history store
func New(fs afero.Fs, dataDir string, maxEntries int) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	return &Store{
		fs:         fs,
		dataDir:    dataDir,
		maxEntries: maxEntries,
	}
}

// Initialize creates the data directory if it doesn't exist
func (s *Store) Initialize() error {
	if err := s.fs.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	return nil
}

// Record stores a run result under the given run ID and returns the stored
// record. Runs that failed before an ID was minted get a fresh one.
func (s *Store) Record(result *types.Result, runID, projectName, projectPath, triggerType string, overrides []string) (*RunRecord, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	record := &RunRecord{
		ID:          runID,
		Project:     projectName,
		ProjectPath: projectPath,
		StartTime:   time.Now(),
		EndTime:     time.Now(),
		TriggerType: triggerType,
		Overrides:   overrides,
	}

	if result.RunResult != nil {
		record.Status = result.RunResult.Status
		record.StartTime = result.RunResult.StartTime
		record.EndTime = result.RunResult.EndTime
		record.Duration = result.RunResult.Duration
		record.StepResults = result.RunResult.Steps
	} else {
		record.Status = types.RunFailed
	}

	switch {
	case result.ParseError != nil:
		record.ErrorMessage = result.ParseError.Error()
	case result.ConfigError != nil:
		record.ErrorMessage = result.ConfigError.Error()
	case result.DependencyError != nil:
		record.ErrorMessage = result.DependencyError.Error()
	case result.ExecutionError != nil:
		record.ErrorMessage = result.ExecutionError.Error()
	}

	for _, err := range result.ValidationErrors {
		record.ValidationErrors = append(record.ValidationErrors, err.Error())
	}

	if err := s.write(record); err != nil {
		return nil, err
	}

	s.prune()

	return record, nil
}

// Get returns a run record by ID
func (s *Store) Get(id string) (*RunRecord, error) {
	data, err := afero.ReadFile(s.fs, s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("run record '%s' not found: %w", id, err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse run record '%s': %w", id, err)
	}

	return &record, nil
}

// List returns run summaries matching the query, newest first
func (s *Store) List(opts *QueryOptions) ([]*RunSummary, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}

	records, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	var summaries []*RunSummary
	for _, record := range records {
		if opts.Project != "" && record.Project != opts.Project {
			continue
		}
		if opts.Status != "" && record.Status != opts.Status {
			continue
		}
		if opts.TriggerType != "" && record.TriggerType != opts.TriggerType {
			continue
		}
		summaries = append(summaries, summarize(record))
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(summaries) {
			return nil, nil
		}
		summaries = summaries[opts.Offset:]
	}
	if opts.Limit > 0 && len(summaries) > opts.Limit {
		summaries = summaries[:opts.Limit]
	}

	return summaries, nil
}

// Stats computes aggregate statistics over all recorded runs
func (s *Store) Stats() (*Stats, error) {
	records, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ProjectCounts: make(map[string]int),
		StatusCounts:  make(map[types.RunStatus]int),
	}

	var totalDuration time.Duration
	for _, record := range records {
		stats.TotalRuns++
		stats.ProjectCounts[record.Project]++
		stats.StatusCounts[record.Status]++
		totalDuration += record.Duration

		switch record.Status {
		case types.RunSuccess:
			stats.SuccessfulRuns++
		case types.RunFailed:
			stats.FailedRuns++
		case types.RunPartialSuccess:
			stats.PartialRuns++
		}

		start := record.StartTime
		if stats.FirstRun == nil || start.Before(*stats.FirstRun) {
			first := start
			stats.FirstRun = &first
		}
		if stats.LastRun == nil || start.After(*stats.LastRun) {
			last := start
			stats.LastRun = &last
		}
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRuns+stats.PartialRuns) / float64(stats.TotalRuns)
		stats.AverageDuration = totalDuration / time.Duration(stats.TotalRuns)
	}

	return stats, nil
}

// loadAll reads every record from the store, newest first
func (s *Store) loadAll() ([]*RunRecord, error) {
	entries, err := afero.ReadDir(s.fs, s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var records []*RunRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := afero.ReadFile(s.fs, path.Join(s.dataDir, entry.Name()))
		if err != nil {
			continue // Unreadable records are skipped, not fatal
		}

		var record RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})

	return records, nil
}

// prune removes the oldest records beyond the configured cap
func (s *Store) prune() {
	records, err := s.loadAll()
	if err != nil || len(records) <= s.maxEntries {
		return
	}

	for _, record := range records[s.maxEntries:] {
		_ = s.fs.Remove(s.recordPath(record.ID))
	}
}

// write persists a record as JSON
func (s *Store) write(record *RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	if err := afero.WriteFile(s.fs, s.recordPath(record.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	return nil
}

func (s *Store) recordPath(id string) string {
	return path.Join(s.dataDir, id+".json")
}

// summarize builds a summary from a full record
func summarize(record *RunRecord) *RunSummary {
	summary := &RunSummary{
		ID:          record.ID,
		Project:     record.Project,
		Status:      record.Status,
		StartTime:   record.StartTime,
		Duration:    record.Duration,
		StepCount:   len(record.StepResults),
		TriggerType: record.TriggerType,
	}

	for _, result := range record.StepResults {
		switch result.Status {
		case types.StepSuccess:
			summary.SuccessSteps++
		case types.StepFailed:
			summary.FailedSteps++
		}
	}

	return summary
}
