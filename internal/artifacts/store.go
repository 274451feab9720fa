// ABOUTME: Versioned artifact registry for pipeline outputs
// ABOUTME: Publishes step outputs and resolves name:latest / name:vN references

package artifacts

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/riffml/riff/pkg/types"
)

// IndexFile is the name of the persisted artifact index
const IndexFile = "index.json"

// LatestVersion is the symbolic reference to the newest artifact version
const LatestVersion = "latest"

// Store handles publishing and resolving versioned artifacts.
// The backing filesystem may be local, S3, or SFTP (see internal/filesystem).
type Store struct {
	fs   afero.Fs
	root string
	mu   sync.RWMutex
	idx  *index
}

type index struct {
	Artifacts map[string][]*types.ArtifactRef `json:"artifacts"`
}

// Open opens (or initializes) an artifact store rooted at the given path
func Open(fs afero.Fs, root string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact store root: %w", err)
	}

	store := &Store{
		fs:   fs,
		root: root,
		idx:  &index{Artifacts: make(map[string][]*types.ArtifactRef)},
	}

	indexPath := path.Join(root, IndexFile)
	exists, err := afero.Exists(fs, indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check artifact index: %w", err)
	}
	if exists {
		data, err := afero.ReadFile(fs, indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact index: %w", err)
		}
		if err := json.Unmarshal(data, store.idx); err != nil {
			return nil, fmt.Errorf("failed to parse artifact index: %w", err)
		}
		if store.idx.Artifacts == nil {
			store.idx.Artifacts = make(map[string][]*types.ArtifactRef)
		}
	}

	return store, nil
}

// Publish records a new version of an artifact and persists the index.
// The version is assigned by the store and returned on the ref.
func (s *Store) Publish(ref *types.ArtifactRef) (*types.ArtifactRef, error) {
	if ref == nil || ref.Name == "" {
		return nil, types.NewArtifactError("", "artifact name is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.idx.Artifacts[ref.Name]

	published := *ref
	published.Version = len(versions) + 1
	published.CreatedAt = time.Now().UTC()

	s.idx.Artifacts[ref.Name] = append(versions, &published)

	if err := s.save(); err != nil {
		// Roll back the in-memory entry so the index stays consistent
		s.idx.Artifacts[ref.Name] = versions
		return nil, types.NewArtifactError(ref.Name, "failed to persist artifact index", err)
	}

	return &published, nil
}

// Resolve resolves a reference like "raw_data.parquet:latest" or "model:v3".
// A bare name resolves to the latest version.
func (s *Store) Resolve(ref string) (*types.ArtifactRef, error) {
	name, version, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, exists := s.idx.Artifacts[name]
	if !exists || len(versions) == 0 {
		return nil, types.NewArtifactError(ref, "artifact not found", nil)
	}

	if version == 0 { // latest
		return versions[len(versions)-1], nil
	}

	if version < 1 || version > len(versions) {
		return nil, types.NewArtifactError(ref,
			fmt.Sprintf("version %d does not exist (available: 1-%d)", version, len(versions)), nil)
	}

	return versions[version-1], nil
}

// Latest returns the newest version of the named artifact
func (s *Store) Latest(name string) (*types.ArtifactRef, error) {
	return s.Resolve(name + ":" + LatestVersion)
}

// Versions returns all recorded versions of the named artifact, oldest first
func (s *Store) Versions(name string) []*types.ArtifactRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.idx.Artifacts[name]
	result := make([]*types.ArtifactRef, len(versions))
	copy(result, versions)
	return result
}

// Names returns all artifact names in the store, sorted
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.idx.Artifacts))
	for name := range s.idx.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// save persists the index. Caller must hold the write lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path.Join(s.root, IndexFile), data, 0644)
}

// ParseRef splits an artifact reference into name and version.
// Version 0 means latest. Accepted forms: "name", "name:latest",
// "name:v3", "name:3".
func ParseRef(ref string) (string, int, error) {
	if ref == "" {
		return "", 0, types.NewArtifactError(ref, "empty artifact reference", nil)
	}

	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return ref, 0, nil
	}

	name := ref[:idx]
	suffix := ref[idx+1:]

	if name == "" {
		return "", 0, types.NewArtifactError(ref, "artifact reference has an empty name", nil)
	}

	if suffix == LatestVersion {
		return name, 0, nil
	}

	version, err := strconv.Atoi(strings.TrimPrefix(suffix, "v"))
	if err != nil || version < 1 {
		return "", 0, types.NewArtifactError(ref,
			fmt.Sprintf("invalid version '%s' (expected latest, vN, or N)", suffix), nil)
	}

	return name, version, nil
}
