// ABOUTME: Tests for the run history store
// ABOUTME: Covers recording, querying, filtering, statistics, and pruning

package history

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/riffml/riff/pkg/types"
)

func successResult(start time.Time) *types.Result {
	return &types.Result{
		RunResult: &types.RunResult{
			Project:   "genre_classification",
			Status:    types.RunSuccess,
			StartTime: start,
			EndTime:   start.Add(time.Second),
			Duration:  time.Second,
			Steps: map[string]*types.StepResult{
				"download": {ID: "download", Status: types.StepSuccess},
				"evaluate": {ID: "evaluate", Status: types.StepFailed},
			},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New(afero.NewMemMapFs(), "/history", 100)
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	return store
}

func TestStore_RecordAndGet(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Record(successResult(time.Now()), "", "genre_classification", "/proj", "manual",
		[]string{"main.project_name=test"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if record.ID == "" {
		t.Fatal("Expected a record ID")
	}
	if record.Status != types.RunSuccess {
		t.Errorf("Expected success status, got %s", record.Status)
	}

	loaded, err := store.Get(record.ID)
	if err != nil {
		t.Fatalf("Expected record to be retrievable: %v", err)
	}
	if loaded.Project != "genre_classification" || loaded.TriggerType != "manual" {
		t.Errorf("Unexpected record: %+v", loaded)
	}
	if len(loaded.Overrides) != 1 {
		t.Errorf("Expected recorded overrides, got %v", loaded.Overrides)
	}
}

func TestStore_Record_ReusesRunID(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Record(successResult(time.Now()), "run-abc123", "genre_classification", "/proj", "manual", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if record.ID != "run-abc123" {
		t.Errorf("Expected the run ID to be kept, got '%s'", record.ID)
	}
	if _, err := store.Get("run-abc123"); err != nil {
		t.Errorf("Expected record retrievable by run ID: %v", err)
	}
}

func TestStore_Record_PhaseErrors(t *testing.T) {
	store := newTestStore(t)

	result := &types.Result{
		ParseError: types.NewParseError("riff.yaml", "bad yaml", nil),
	}

	record, err := store.Record(result, "", "broken", "/proj", "manual", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if record.Status != types.RunFailed {
		t.Errorf("Expected failed status without a run result, got %s", record.Status)
	}
	if record.ErrorMessage == "" {
		t.Error("Expected error message to be recorded")
	}
}

func TestStore_Get_Missing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("nonexistent"); err == nil {
		t.Fatal("Expected error for missing record")
	}
}

func TestStore_List_NewestFirstWithFilters(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	_, _ = store.Record(successResult(base), "", "alpha", "/a", "manual", nil)
	_, _ = store.Record(successResult(base.Add(time.Minute)), "", "beta", "/b", "webhook", nil)
	_, _ = store.Record(successResult(base.Add(2*time.Minute)), "", "alpha", "/a", "manual", nil)

	all, err := store.List(nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(all))
	}
	if !all[0].StartTime.After(all[1].StartTime) {
		t.Error("Expected newest-first ordering")
	}

	alphas, _ := store.List(&QueryOptions{Project: "alpha"})
	if len(alphas) != 2 {
		t.Errorf("Expected 2 alpha runs, got %d", len(alphas))
	}

	webhooks, _ := store.List(&QueryOptions{TriggerType: "webhook"})
	if len(webhooks) != 1 || webhooks[0].Project != "beta" {
		t.Errorf("Unexpected webhook runs: %v", webhooks)
	}

	limited, _ := store.List(&QueryOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}

	offset, _ := store.List(&QueryOptions{Offset: 2})
	if len(offset) != 1 {
		t.Errorf("Expected offset to apply, got %d", len(offset))
	}

	summary := all[0]
	if summary.StepCount != 2 || summary.SuccessSteps != 1 || summary.FailedSteps != 1 {
		t.Errorf("Unexpected summary counts: %+v", summary)
	}
}

func TestStore_Stats(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	_, _ = store.Record(successResult(base), "", "alpha", "/a", "manual", nil)

	failed := successResult(base.Add(time.Minute))
	failed.RunResult.Status = types.RunFailed
	_, _ = store.Record(failed, "", "alpha", "/a", "manual", nil)

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if stats.TotalRuns != 2 || stats.SuccessfulRuns != 1 || stats.FailedRuns != 1 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("Expected 50%% success rate, got %f", stats.SuccessRate)
	}
	if stats.ProjectCounts["alpha"] != 2 {
		t.Errorf("Expected project count 2, got %d", stats.ProjectCounts["alpha"])
	}
	if stats.FirstRun == nil || stats.LastRun == nil || !stats.LastRun.After(*stats.FirstRun) {
		t.Error("Expected first/last run timestamps")
	}
}

func TestStore_Prune(t *testing.T) {
	store := New(afero.NewMemMapFs(), "/history", 2)
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		_, _ = store.Record(successResult(base.Add(time.Duration(i)*time.Minute)), "", "p", "/p", "manual", nil)
	}

	all, _ := store.List(nil)
	if len(all) != 2 {
		t.Fatalf("Expected pruning to keep 2 records, got %d", len(all))
	}
	// The newest records survive
	if !all[0].StartTime.After(base.Add(90 * time.Second)) {
		t.Errorf("Expected newest records to survive, got start %v", all[0].StartTime)
	}
}
