// ABOUTME: Remote project retrieval for run-by-URL invocations
// ABOUTME: Clones tagged repository snapshots into a local cache directory

package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/riffml/riff/pkg/types"
)

// execCommand is a seam for tests
var execCommand = exec.CommandContext

// Fetcher retrieves remote pipeline projects
type Fetcher struct {
	cacheDir string
	logger   types.Logger
}

// New creates a new fetcher with the given cache directory.
// An empty cacheDir falls back to the user cache.
func New(cacheDir string, logger types.Logger) *Fetcher {
	if cacheDir == "" {
		if userCache, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(userCache, "riff", "projects")
		} else {
			cacheDir = filepath.Join(os.TempDir(), "riff-projects")
		}
	}

	return &Fetcher{
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// IsRemote reports whether a run target is a remote repository URL
// rather than a local path
func IsRemote(target string) bool {
	if strings.Contains(target, "://") {
		return true
	}
	// scp-like syntax: git@host:org/repo.git
	if strings.HasPrefix(target, "git@") && strings.Contains(target, ":") {
		return true
	}
	return false
}

// ValidTag reports whether a version tag parses as semver.
// Tags with a leading "v" are accepted.
func ValidTag(tag string) bool {
	_, err := semver.NewVersion(tag)
	return err == nil
}

// Fetch retrieves the given version of a remote repository and returns the
// local project directory. Tagged snapshots are cached and reused.
func (f *Fetcher) Fetch(ctx context.Context, url, version string) (string, error) {
	if !IsRemote(url) {
		return "", types.NewFetchError(url, version, "target is not a remote URL", nil)
	}

	if version != "" && !ValidTag(version) {
		// Branch names are allowed, but releases are expected to be tagged
		f.logf("version '%s' is not a semver tag, treating it as a branch or ref", version)
	}

	dest := filepath.Join(f.cacheDir, cacheKey(url, version))

	// Tagged snapshots are immutable, so an existing clone is authoritative.
	// Untagged fetches always re-clone to pick up the default branch head.
	if version != "" {
		if info, err := os.Stat(dest); err == nil && info.IsDir() {
			f.logf("using cached snapshot %s@%s", url, version)
			return dest, nil
		}
	} else {
		if err := os.RemoveAll(dest); err != nil {
			return "", types.NewFetchError(url, version, "failed to clear stale clone", err)
		}
	}

	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return "", types.NewFetchError(url, version, "failed to create cache directory", err)
	}

	if err := f.clone(ctx, url, version, dest); err != nil {
		// A partial clone must not poison the cache
		_ = os.RemoveAll(dest)
		return "", err
	}

	return dest, nil
}

// clone performs a shallow git clone of the requested ref
func (f *Fetcher) clone(ctx context.Context, url, version, dest string) error {
	args := []string{"clone", "--depth", "1"}
	if version != "" {
		args = append(args, "--branch", version)
	}
	args = append(args, url, dest)

	f.logf("cloning %s (version: %s)", url, displayVersion(version))

	cmd := execCommand(ctx, "git", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = "git clone failed"
		}
		return types.NewFetchError(url, version, message, err)
	}

	return nil
}

// cacheKey derives a stable directory name for a url+version pair
func cacheKey(url, version string) string {
	sum := sha256.Sum256([]byte(url + "@" + version))
	return hex.EncodeToString(sum[:8])
}

func displayVersion(version string) string {
	if version == "" {
		return "default branch"
	}
	return version
}

// logf logs a formatted message if a logger is available
func (f *Fetcher) logf(format string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Info().Msgf(format, args...)
	}
}

// CacheDir returns the root of the fetch cache
func (f *Fetcher) CacheDir() string {
	return f.cacheDir
}
