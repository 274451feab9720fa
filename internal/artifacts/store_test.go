// ABOUTME: Tests for the versioned artifact store
// ABOUTME: Covers publishing, reference parsing, resolution, and persistence

package artifacts

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/riffml/riff/pkg/types"
)

func TestStore_Publish_AssignsVersions(t *testing.T) {
	store, err := Open(afero.NewMemMapFs(), "/store")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	first, err := store.Publish(&types.ArtifactRef{Name: "raw_data", Path: "/data/v1.parquet", Step: "download"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := store.Publish(&types.ArtifactRef{Name: "raw_data", Path: "/data/v2.parquet", Step: "download"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if first.Version != 1 || second.Version != 2 {
		t.Errorf("Expected versions 1 and 2, got %d and %d", first.Version, second.Version)
	}
	if first.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	if second.Ref() != "raw_data:v2" {
		t.Errorf("Expected ref 'raw_data:v2', got '%s'", second.Ref())
	}
}

func TestStore_Publish_RequiresName(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "/store")

	if _, err := store.Publish(&types.ArtifactRef{}); err == nil {
		t.Fatal("Expected error for unnamed artifact")
	}
}

func TestStore_Resolve(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "/store")
	_, _ = store.Publish(&types.ArtifactRef{Name: "model", Path: "/m/1"})
	_, _ = store.Publish(&types.ArtifactRef{Name: "model", Path: "/m/2"})

	tests := []struct {
		ref      string
		expected string
	}{
		{"model", "/m/2"},
		{"model:latest", "/m/2"},
		{"model:v1", "/m/1"},
		{"model:1", "/m/1"},
		{"model:v2", "/m/2"},
	}

	for _, tt := range tests {
		ref, err := store.Resolve(tt.ref)
		if err != nil {
			t.Errorf("Resolve(%s): unexpected error: %v", tt.ref, err)
			continue
		}
		if ref.Path != tt.expected {
			t.Errorf("Resolve(%s): expected path '%s', got '%s'", tt.ref, tt.expected, ref.Path)
		}
	}
}

func TestStore_Resolve_Errors(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "/store")
	_, _ = store.Publish(&types.ArtifactRef{Name: "model", Path: "/m/1"})

	for _, ref := range []string{"missing", "model:v9", "model:vX", ""} {
		if _, err := store.Resolve(ref); err == nil {
			t.Errorf("Expected error for ref '%s'", ref)
		}
	}
}

func TestStore_PersistsAcrossOpens(t *testing.T) {
	fs := afero.NewMemMapFs()

	store, _ := Open(fs, "/store")
	_, _ = store.Publish(&types.ArtifactRef{Name: "raw_data", Path: "/data/raw.parquet"})

	reopened, err := Open(fs, "/store")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ref, err := reopened.Latest("raw_data")
	if err != nil {
		t.Fatalf("Expected persisted artifact, got: %v", err)
	}
	if ref.Path != "/data/raw.parquet" {
		t.Errorf("Unexpected path: '%s'", ref.Path)
	}
}

func TestStore_NamesAndVersions(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "/store")
	_, _ = store.Publish(&types.ArtifactRef{Name: "b_model"})
	_, _ = store.Publish(&types.ArtifactRef{Name: "a_data"})
	_, _ = store.Publish(&types.ArtifactRef{Name: "a_data"})

	names := store.Names()
	if len(names) != 2 || names[0] != "a_data" || names[1] != "b_model" {
		t.Errorf("Expected sorted names, got %v", names)
	}

	if versions := store.Versions("a_data"); len(versions) != 2 {
		t.Errorf("Expected 2 versions, got %d", len(versions))
	}
	if versions := store.Versions("missing"); len(versions) != 0 {
		t.Errorf("Expected no versions, got %d", len(versions))
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		name    string
		version int
		wantErr bool
	}{
		{"raw_data", "raw_data", 0, false},
		{"raw_data:latest", "raw_data", 0, false},
		{"raw_data:v3", "raw_data", 3, false},
		{"raw_data:3", "raw_data", 3, false},
		{"raw_data.parquet:latest", "raw_data.parquet", 0, false},
		{"", "", 0, true},
		{":latest", "", 0, true},
		{"raw_data:v0", "", 0, true},
		{"raw_data:banana", "", 0, true},
	}

	for _, tt := range tests {
		name, version, err := ParseRef(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRef(%q): expected error", tt.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRef(%q): unexpected error: %v", tt.ref, err)
			continue
		}
		if name != tt.name || version != tt.version {
			t.Errorf("ParseRef(%q): expected (%s, %d), got (%s, %d)",
				tt.ref, tt.name, tt.version, name, version)
		}
	}
}
