// ABOUTME: Tests for store location parsing and local filesystem resolution
// ABOUTME: Remote backends are exercised only up to configuration errors

package filesystem

import (
	"path/filepath"
	"testing"
)

func TestParse_LocalPath(t *testing.T) {
	loc, err := Parse("./artifacts")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loc.Scheme != "file" || loc.Path != "./artifacts" {
		t.Errorf("Unexpected location: %+v", loc)
	}
}

func TestParse_S3URI(t *testing.T) {
	loc, err := Parse("s3://my-bucket/riff/artifacts")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loc.Scheme != "s3" || loc.Bucket != "my-bucket" || loc.Path != "riff/artifacts" {
		t.Errorf("Unexpected location: %+v", loc)
	}
}

func TestParse_SFTPURI(t *testing.T) {
	loc, err := Parse("sftp://storage.example.com:2222/var/riff")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loc.Scheme != "sftp" || loc.Host != "storage.example.com" || loc.Port != "2222" {
		t.Errorf("Unexpected location: %+v", loc)
	}
	if loc.Path != "/var/riff" {
		t.Errorf("Unexpected path: '%s'", loc.Path)
	}
}

func TestResolve_LocalPath(t *testing.T) {
	dir := t.TempDir()

	fs, base, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if fs == nil {
		t.Fatal("Expected a filesystem")
	}
	if !filepath.IsAbs(base) {
		t.Errorf("Expected absolute base path, got '%s'", base)
	}
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	if _, _, err := Resolve("gopher://host/path", nil); err == nil {
		t.Fatal("Expected error for unsupported scheme")
	}
}

func TestResolve_S3RequiresBucket(t *testing.T) {
	if _, _, err := Resolve("s3:///no-bucket", nil); err == nil {
		t.Fatal("Expected error for missing bucket")
	}
}
